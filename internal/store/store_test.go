package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/db"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/record"
)

var baseMillis = time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC).UnixMilli()

// idAt returns a deterministic id n milliseconds after baseMillis.
func idAt(t *testing.T, n int64) string {
	t.Helper()
	id, err := record.EncodeID(baseMillis + n)
	require.NoError(t, err)
	return id
}

func newFolderStore(t *testing.T) Store {
	t.Helper()
	s, err := NewFolder(t.TempDir(), nil, logging.Nop())
	require.NoError(t, err)
	return s
}

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	s := NewSQLite(database, nil, logging.Nop())
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachBackend runs fn against every Store implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	backends := map[string]func(*testing.T) Store{
		"folder": newFolderStore,
		"sqlite": newSQLiteStore,
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func mustAppend(t *testing.T, s Store, r *record.Record) string {
	t.Helper()
	id, err := s.Append(context.Background(), r)
	require.NoError(t, err)
	return id
}

func ids(res *ScanResult) []string {
	out := make([]string, 0, len(res.Records))
	for _, r := range res.Records {
		out = append(out, r.ID)
	}
	return out
}

func TestAppendAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		in := &record.Record{
			InChannel:  "telegram/chat/42",
			OutChannel: "telegram/chat/42",
			ActorID:    "567",
			Input:      `{"message":{"text":"hi"}}`,
			Output:     "hello!",
			Compacted:  []string{"user greeted"},
			Detailed:   []json.RawMessage{json.RawMessage(`[{"kind":"request"}]`)},
		}

		id, err := s.Append(ctx, in)
		require.NoError(t, err)
		assert.True(t, record.IsValidID(id))
		assert.Empty(t, in.ID, "caller's record must not be mutated")

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "telegram/chat/42", got.InChannel)
		assert.Empty(t, got.OutChannel, "out_channel equal to in_channel is stored as absent")
		assert.Equal(t, "567", got.ActorID)
		assert.Equal(t, in.Input, got.Input)
		assert.Equal(t, in.Output, got.Output)
		assert.Equal(t, []string{"user greeted"}, got.Compacted)
		require.Len(t, got.Detailed, 1)
		assert.NotEmpty(t, got.Writer)

		ts, err := record.TimeFromID(id)
		require.NoError(t, err)
		assert.True(t, got.CreatedAt.Equal(ts), "created_at %v should match id time %v", got.CreatedAt, ts)
	})
}

func TestGet_ReturnsCopy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := mustAppend(t, s, &record.Record{InChannel: "a", Compacted: []string{"x"}})

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		got.Compacted[0] = "mutated"
		got.InChannel = "b"

		again, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "a", again.InChannel)
		assert.Equal(t, []string{"x"}, again.Compacted)
	})
}

func TestGet_Errors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Get(ctx, "zzzzzzzz")
		assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)

		_, err = s.Get(ctx, "bad")
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
	})
}

func TestAppend_SuppliedID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := idAt(t, 0)

		got := mustAppend(t, s, &record.Record{ID: id, InChannel: "a"})
		assert.Equal(t, id, got)

		_, err := s.Append(ctx, &record.Record{ID: id, InChannel: "a"})
		assert.True(t, errors.Is(err, errors.ErrConflict), "duplicate id: got %v", err)

		// Generated ids sort after supplied ones.
		next := mustAppend(t, s, &record.Record{InChannel: "a"})
		assert.Greater(t, next, id)
	})
}

func TestAppend_CreatedAtMustMatchID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.Append(context.Background(), &record.Record{
			ID:        idAt(t, 0),
			CreatedAt: time.UnixMilli(baseMillis + 5000),
			InChannel: "a",
		})
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
	})
}

func TestAppend_Parents(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		parent := mustAppend(t, s, &record.Record{ID: idAt(t, 0), InChannel: "a"})

		child := mustAppend(t, s, &record.Record{InChannel: "a", Parents: []string{parent}})
		got, err := s.Get(ctx, child)
		require.NoError(t, err)
		assert.Equal(t, []string{parent}, got.Parents)

		// Parent records are not rewritten on append.
		p, err := s.Get(ctx, parent)
		require.NoError(t, err)
		assert.Empty(t, p.Children)

		_, err = s.Append(ctx, &record.Record{InChannel: "a", Parents: []string{idAt(t, 1)}})
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "unknown parent: got %v", err)

		// A parent must be strictly older than the new record.
		_, err = s.Append(ctx, &record.Record{ID: idAt(t, -10), InChannel: "a", Parents: []string{parent}})
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "newer parent: got %v", err)
	})
}

func TestAppend_InvalidChannel(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.Append(context.Background(), &record.Record{InChannel: "a//b"})
		assert.True(t, errors.Is(err, errors.ErrInvalidChannel), "got %v", err)
	})
}

func TestScanByPrefix_SegmentExact(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustAppend(t, s, &record.Record{ID: idAt(t, 1), InChannel: "telegram/chat/1"})
		mustAppend(t, s, &record.Record{ID: idAt(t, 2), InChannel: "telegram/chat/12"})
		c := mustAppend(t, s, &record.Record{ID: idAt(t, 3), InChannel: "telegram/chat/1/thread/9"})
		mustAppend(t, s, &record.Record{ID: idAt(t, 4), InChannel: "slack/chat/1"})

		res, err := s.ScanByPrefix(ctx, channel.MustParse("telegram/chat/1"), 0)
		require.NoError(t, err)
		assert.Equal(t, []string{a, c}, ids(res))
		assert.Empty(t, res.Diagnostics)
	})
}

func TestScanByPrefix_LimitKeepsNewestAscending(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var all []string
		for i := int64(0); i < 6; i++ {
			all = append(all, mustAppend(t, s, &record.Record{ID: idAt(t, i*1000), InChannel: "telegram/chat/1"}))
		}

		res, err := s.ScanByPrefix(ctx, channel.MustParse("telegram"), 3)
		require.NoError(t, err)
		assert.Equal(t, all[3:], ids(res))

		res, err = s.ScanByPrefix(ctx, channel.MustParse("telegram"), 0)
		require.NoError(t, err)
		assert.Equal(t, all, ids(res))
	})
}

func TestScanByPrefix_EmptyStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		res, err := s.ScanByPrefix(context.Background(), channel.MustParse("telegram"), 5)
		require.NoError(t, err)
		assert.NotNil(t, res.Records)
		assert.Empty(t, res.Records)
	})
}

func TestScan_InvalidArgs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.ScanByPrefix(ctx, channel.MustParse("a"), -1)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

		_, err = s.ScanByPrefix(ctx, channel.Channel{}, 1)
		assert.True(t, errors.Is(err, errors.ErrInvalidChannel))

		_, err = s.ScanByPredicate(ctx, nil, channel.Channel{}, 1)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	})
}

func TestScanByPredicate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustAppend(t, s, &record.Record{ID: idAt(t, 1), InChannel: "telegram/chat/1/thread/10", ActorID: "567"})
		b := mustAppend(t, s, &record.Record{ID: idAt(t, 2), InChannel: "telegram/chat/1/thread/11", ActorID: "567"})
		mustAppend(t, s, &record.Record{ID: idAt(t, 3), InChannel: "telegram/chat/1/thread/10", ActorID: "999"})
		d := mustAppend(t, s, &record.Record{ID: idAt(t, 4), InChannel: "slack/C1", ActorID: "567"})

		byActor := func(r *record.Record) bool { return r.Actor() == "567" }

		res, err := s.ScanByPredicate(ctx, byActor, channel.MustParse("telegram"), 0)
		require.NoError(t, err)
		assert.Equal(t, []string{a, b}, ids(res))

		// Zero scope covers every record.
		res, err = s.ScanByPredicate(ctx, byActor, channel.Channel{}, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{a, b, d}, ids(res))

		res, err = s.ScanByPredicate(ctx, byActor, channel.Channel{}, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{d}, ids(res))
	})
}

func TestScanByPredicate_SeesCopies(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := mustAppend(t, s, &record.Record{InChannel: "a", Input: "original"})

		_, err := s.ScanByPredicate(ctx, func(r *record.Record) bool {
			r.Input = "mutated"
			return true
		}, channel.Channel{}, 0)
		require.NoError(t, err)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "original", got.Input)
	})
}

func TestDetail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := mustAppend(t, s, &record.Record{
			InChannel: "a",
			Input:     "question",
			Output:    "answer",
			Detailed:  []json.RawMessage{json.RawMessage(`["b1"]`), json.RawMessage(`["b2"]`)},
		})

		lines, err := s.Detail(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{`"question"`, `"answer"`, `["b1"]`, `["b2"]`}, lines)

		_, err = s.Detail(ctx, "zzzzzzzz")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestAppendCompacted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := mustAppend(t, s, &record.Record{InChannel: "a", Compacted: []string{"first"}})

		got, err := s.AppendCompacted(ctx, id, []string{"second", "third"})
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second", "third"}, got)

		rec, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second", "third"}, rec.Compacted)

		_, err = s.AppendCompacted(ctx, "zzzzzzzz", []string{"x"})
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestAppend_ConcurrentUniqueIDs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		const workers, per = 4, 10
		var (
			mu   sync.Mutex
			seen = map[string]bool{}
			wg   sync.WaitGroup
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < per; i++ {
					id, err := s.Append(context.Background(), &record.Record{InChannel: fmt.Sprintf("w/%d", w)})
					if err != nil {
						t.Errorf("Append() error = %v", err)
						return
					}
					mu.Lock()
					seen[id] = true
					mu.Unlock()
				}
			}(w)
		}
		wg.Wait()
		assert.Len(t, seen, workers*per)
	})
}

func TestScan_Cancelled(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		mustAppend(t, s, &record.Record{InChannel: "a"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.ScanByPrefix(ctx, channel.MustParse("a"), 0)
		assert.True(t, errors.Is(err, errors.ErrCancelled), "got %v", err)
	})
}
