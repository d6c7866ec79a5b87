// Package dispatch sends one text to every contact in a list.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/noahxzhu/safealert/internal/config"
	"github.com/noahxzhu/safealert/internal/location"
	"github.com/noahxzhu/safealert/internal/model"
)

type Sender interface {
	SendText(ctx context.Context, to, body string) error
}

// Normalizer maps a stored phone number to the form sent to the gateway.
type Normalizer interface {
	Normalize(raw string) (string, bool)
}

// Broadcaster fans a message out to contacts. Each send is independent: a
// failure is logged and reported through OnError, and the batch continues.
type Broadcaster struct {
	Sender     Sender
	Normalizer Normalizer
	// OnInvalid is called for numbers the Normalizer does not recognise.
	// They are still sent as entered.
	OnInvalid func(c model.Contact)
	// OnError is called for every failed send.
	OnError func(c model.Contact, err error)
}

// Send returns the number of contacts the gateway accepted.
func (b *Broadcaster) Send(ctx context.Context, contacts []model.Contact, body string) int {
	sent := 0
	for i, c := range contacts {
		if err := ctx.Err(); err != nil {
			slog.Warn("Broadcast interrupted", "error", err, "remaining", len(contacts)-i)
			return sent
		}

		to := strings.TrimSpace(c.Phone)
		if to == "" {
			slog.Warn("Skipping contact without phone", "name", c.Name)
			continue
		}
		if b.Normalizer != nil {
			n, ok := b.Normalizer.Normalize(to)
			if !ok && b.OnInvalid != nil {
				b.OnInvalid(c)
			}
			to = n
		}

		if err := b.Sender.SendText(ctx, to, body); err != nil {
			slog.Error("Failed to send SMS", "phone", to, "error", err)
			if b.OnError != nil {
				b.OnError(c, err)
			}
			continue
		}
		slog.Info("SMS sent", "phone", to)
		sent++
	}
	return sent
}

// WithLink fills the map link placeholder in template.
func WithLink(template string, loc model.Location) string {
	return strings.ReplaceAll(template, config.LinkPlaceholder, location.MapsLink(loc))
}
