package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/config"
	"github.com/hpungsan/kapy/internal/db"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/record"
)

func TestSQLite_CorruptRowBecomesDiagnostic(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	s := NewSQLite(database, nil, logging.Nop())
	defer s.Close()
	ctx := context.Background()

	good := mustAppend(t, s, &record.Record{ID: idAt(t, 1), InChannel: "telegram/chat/1"})
	bad := idAt(t, 2)
	require.NoError(t, db.Insert(ctx, database, &db.Row{
		ID:        bad,
		CreatedAt: baseMillis + 2,
		InChannel: "telegram/chat/1",
		CoreJSON:  `{"id":`,
		Detailed:  "",
	}))

	res, err := s.ScanByPrefix(ctx, channel.MustParse("telegram"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{good}, ids(res))
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, bad, res.Diagnostics[0].ID)

	_, err = s.Get(ctx, bad)
	assert.True(t, errors.Is(err, errors.ErrCorruptRecord), "got %v", err)
}

func TestOpen_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendFolder, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.StoreBackend = backend
			s, err := Open(cfg, t.TempDir(), logging.Nop())
			require.NoError(t, err)
			defer s.Close()

			id := mustAppend(t, s, &record.Record{InChannel: "a"})
			_, err = s.Get(context.Background(), id)
			assert.NoError(t, err)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StoreBackend = "redis"
	_, err := Open(cfg, t.TempDir(), logging.Nop())
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}
