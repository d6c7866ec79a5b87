// Package location acquires a position fix under a deadline.
package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/noahxzhu/safealert/internal/model"
)

var (
	ErrTimeout     = errors.New("location fix timed out")
	ErrUnavailable = errors.New("location unavailable")
)

// Provider is the platform location service.
type Provider interface {
	// LastKnown returns the cached fix, if any.
	LastKnown(ctx context.Context) (model.Location, bool, error)
	// Current blocks until a fresh fix arrives or ctx is done.
	Current(ctx context.Context) (model.Location, error)
}

// Acquire returns the last known fix or, failing that, the next fresh one.
// Whichever of the fix and the timeout comes first wins; the loser is
// cancelled and its result discarded.
func Acquire(ctx context.Context, p Provider, timeout time.Duration) (model.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		loc model.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := fix(ctx, p)
		done <- result{loc: loc, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil {
			return model.Location{}, fmt.Errorf("%w: %v", ErrUnavailable, r.err)
		}
		if r.err == nil {
			return r.loc, nil
		}
	case <-ctx.Done():
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.Location{}, ErrTimeout
	}
	return model.Location{}, ctx.Err()
}

func fix(ctx context.Context, p Provider) (model.Location, error) {
	loc, ok, err := p.LastKnown(ctx)
	if err != nil {
		return model.Location{}, err
	}
	if ok {
		return loc, nil
	}
	return p.Current(ctx)
}

// MapsLink renders loc as a Google Maps query link.
func MapsLink(loc model.Location) string {
	return "https://maps.google.com/?q=" +
		strconv.FormatFloat(loc.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
}
