// Package watcher reacts to platform battery and geofence events by texting
// the emergency contacts. Each watcher splits into a pure planner, which
// decides what to send, and a handler, which sends it.
package watcher

import (
	"context"

	"github.com/noahxzhu/safealert/internal/model"
)

type Contacts interface {
	List() []model.Contact
}

type Notifier interface {
	Notify(text string)
}

type FlagStore interface {
	WasSent(ctx context.Context, key string) (bool, error)
	MarkOnce(ctx context.Context, key string) (bool, error)
}
