package model

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator issues time-ordered ULIDs. IDs generated within the same
// millisecond are monotonic.
type IDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewIDGenerator returns a generator seeded from the wall clock.
func NewIDGenerator() *IDGenerator {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &IDGenerator{entropy: ulid.Monotonic(src, 0)}
}

// New returns an ID whose timestamp component is t.
func (g *IDGenerator) New(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}
