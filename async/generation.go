package async

import "sync/atomic"

// Generation hands out monotonically increasing tokens so that a superseded
// in-flight operation can detect at resolution time that a newer request has
// taken over, and discard its own result instead of overwriting fresher state.
type Generation struct {
	n atomic.Uint64
}

// Next claims a new token, superseding all earlier ones.
func (g *Generation) Next() uint64 {
	return g.n.Add(1)
}

// Current returns the latest claimed token.
func (g *Generation) Current() uint64 {
	return g.n.Load()
}

// Latest reports whether the token is still the most recent one.
func (g *Generation) Latest(token uint64) bool {
	return g.n.Load() == token
}
