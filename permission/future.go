package permission

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Future is the suspended response of a Request. It resolves exactly once.
type Future struct {
	id   string
	done chan struct{}
	once sync.Once

	outcomes []Outcome
	err      error
}

func newFuture() *Future {
	return &Future{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
}

// ID identifies the request in logs
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the future resolves
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has resolved
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx ends. Abandoning a wait does not
// cancel the platform request.
func (f *Future) Wait(ctx context.Context) ([]Outcome, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return append([]Outcome(nil), f.outcomes...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve stores the result; later calls are ignored and return false
func (f *Future) resolve(outcomes []Outcome, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.outcomes, f.err = outcomes, err
		close(f.done)
		resolved = true
	})
	return resolved
}
