// Package nonce issues strictly increasing update ids from event timestamps.
package nonce

import (
	"sync"
	"time"
)

// Generator produces a strictly increasing id stream regardless of timestamp
// jitter. Ids are microsecond timestamps promoted past the previously issued
// id, so snapshot and diff sources draw from one comparable sequence.
type Generator struct {
	mu   sync.Mutex
	last int64
}

// NewGenerator constructs an empty generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the id for an event observed at ts. Safe for concurrent use.
func (g *Generator) Next(ts time.Time) int64 {
	id := ts.UnixMicro()
	g.mu.Lock()
	defer g.mu.Unlock()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
