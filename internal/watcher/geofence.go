package watcher

import (
	"context"
	"log/slog"

	"github.com/noahxzhu/safealert/internal/dispatch"
	"github.com/noahxzhu/safealert/internal/model"
)

// PlanGeofence returns the contacts to text for ev. Only error-free exit
// transitions produce recipients.
func PlanGeofence(ev model.GeofenceEvent, contacts []model.Contact) ([]model.Contact, bool) {
	if ev.ErrorCode != 0 || ev.Transition != model.TransitionExit {
		return nil, false
	}
	return contacts, len(contacts) > 0
}

type Geofence struct {
	Contacts   Contacts
	Sender     dispatch.Sender
	Normalizer dispatch.Normalizer
	Message    string
}

// Handle is subscribed to the geofence feed.
func (g *Geofence) Handle(ctx context.Context, ev model.GeofenceEvent) {
	if ev.ErrorCode != 0 {
		slog.Error("Geofence event error", "code", ev.ErrorCode)
		return
	}

	recipients, ok := PlanGeofence(ev, g.Contacts.List())
	if !ok {
		return
	}
	slog.Info("Left monitored area", "regions", ev.RegionIDs, "contacts", len(recipients))

	bc := &dispatch.Broadcaster{Sender: g.Sender, Normalizer: g.Normalizer}
	bc.Send(ctx, recipients, g.Message)
}
