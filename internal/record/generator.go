package record

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// maxStride bounds the collision stride so a retry never jumps far ahead of
// the wall clock.
const maxStride = 32

// Generator hands out strictly increasing ids within a process.
//
// The id spends all 48 bits on the timestamp, so two processes can produce
// the same id in the same millisecond. Stores resolve that with an exclusive
// claim and call Collided, which advances by a stride derived from the
// writer salt so competing writers diverge instead of racing in lockstep.
type Generator struct {
	mu     sync.Mutex
	last   int64
	salt   ulid.ULID
	stride int64
	now    func() time.Time
}

// NewWriterSalt returns a fresh per-writer ULID.
func NewWriterSalt() ulid.ULID {
	return ulid.Make()
}

// NewGenerator creates a generator for the given writer salt.
func NewGenerator(salt ulid.ULID) *Generator {
	return &Generator{
		salt:   salt,
		stride: strideFor(salt),
		now:    time.Now,
	}
}

// strideFor derives a stride in [1, maxStride] from the salt's entropy.
func strideFor(salt ulid.ULID) int64 {
	e := salt.Entropy()
	v := binary.BigEndian.Uint16(e[len(e)-2:])
	return int64(v%maxStride) + 1
}

// Salt returns the writer salt in its canonical string form.
func (g *Generator) Salt() string {
	return g.salt.String()
}

// Stride returns the collision stride in milliseconds.
func (g *Generator) Stride() int64 {
	return g.stride
}

// Next returns the next id and its millisecond payload: max(now, last+1).
func (g *Generator) Next() (string, int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return mustEncode(ms), ms
}

// Collided reports that millis was already claimed elsewhere and returns a
// replacement at least one stride later.
func (g *Generator) Collided(millis int64) (string, int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := millis + g.stride
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return mustEncode(ms), ms
}

// Observe raises the floor so later ids sort after millis.
func (g *Generator) Observe(millis int64) {
	g.mu.Lock()
	if millis > g.last {
		g.last = millis
	}
	g.mu.Unlock()
}

func mustEncode(ms int64) string {
	id, err := EncodeID(ms)
	if err != nil {
		// Only reachable past the year 10889.
		panic(err)
	}
	return id
}
