// Package idgenerator hands out session identifiers.
package idgenerator

import "sync/atomic"

// IdGenerator generates increasing uint32 IDs and is safe for concurrent use.
// Zero is never returned, so callers may use it as "no id"; after the
// counter wraps it continues at 1.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id is startValue+1
// (or 1 if that would be 0).
//
// Parameters:
//   - startValue: Initial counter value
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next ID.
func (g *IdGenerator) Id() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}
