package location

import (
	"context"
	"sync"
	"time"

	"github.com/noahxzhu/safealert/internal/model"
)

// Tracker is a Provider fed by fixes the platform pushes in.
type Tracker struct {
	mu      sync.Mutex
	last    model.Location
	hasLast bool
	maxAge  time.Duration
	waiters map[chan model.Location]struct{}
	now     func() time.Time
}

// NewTracker returns a Tracker whose last known fix expires after maxAge.
// A zero maxAge never expires it.
func NewTracker(maxAge time.Duration) *Tracker {
	return &Tracker{
		maxAge:  maxAge,
		waiters: make(map[chan model.Location]struct{}),
		now:     time.Now,
	}
}

// Update records a new fix and wakes every Current caller.
func (t *Tracker) Update(loc model.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if loc.Time.IsZero() {
		loc.Time = t.now()
	}
	t.last = loc
	t.hasLast = true

	for ch := range t.waiters {
		ch <- loc
		delete(t.waiters, ch)
	}
}

func (t *Tracker) LastKnown(ctx context.Context) (model.Location, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Location{}, false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasLast {
		return model.Location{}, false, nil
	}
	if t.maxAge > 0 && t.now().Sub(t.last.Time) > t.maxAge {
		return model.Location{}, false, nil
	}
	return t.last, true, nil
}

func (t *Tracker) Current(ctx context.Context) (model.Location, error) {
	ch := make(chan model.Location, 1)

	t.mu.Lock()
	t.waiters[ch] = struct{}{}
	t.mu.Unlock()

	select {
	case loc := <-ch:
		return loc, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.waiters, ch)
		t.mu.Unlock()
		return model.Location{}, ctx.Err()
	}
}
