package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/noahxzhu/safealert/internal/dispatch"
	"github.com/noahxzhu/safealert/internal/location"
	"github.com/noahxzhu/safealert/internal/model"
)

const NoticePowerSaver = "Battery level is low. You can enable power saving mode."

// Threshold is a battery level that notifies contacts once per install.
type Threshold struct {
	Level int
	Flag  string
	// WithLocation sends the current position instead of a static warning.
	WithLocation bool
}

var BatteryThresholds = []Threshold{
	{Level: 10, Flag: "battery_10"},
	{Level: 3, Flag: "battery_3", WithLocation: true},
}

type BatteryMessages struct {
	Warning  string
	Critical string // contains config.LinkPlaceholder
}

type BatteryPlan struct {
	Threshold  Threshold
	Body       string
	Recipients []model.Contact
	// SuggestPowerSaver is set when the platform reports power saving off.
	SuggestPowerSaver bool
}

// PlanBattery decides what a battery event should send. It matches a
// threshold only at exactly its level, only on battery power and only if
// the threshold's flag has not been set.
func PlanBattery(ev model.BatteryEvent, contacts []model.Contact, sent func(flag string) bool, msgs BatteryMessages) (BatteryPlan, bool) {
	if ev.Level <= 0 || ev.Charging() {
		return BatteryPlan{}, false
	}
	for _, th := range BatteryThresholds {
		if ev.Level != th.Level || sent(th.Flag) {
			continue
		}
		body := msgs.Warning
		if th.WithLocation {
			body = msgs.Critical
		}
		return BatteryPlan{
			Threshold:         th,
			Body:              body,
			Recipients:        contacts,
			SuggestPowerSaver: !ev.PowerSave,
		}, true
	}
	return BatteryPlan{}, false
}

type Battery struct {
	Contacts        Contacts
	Flags           FlagStore
	Locator         location.Provider
	Sender          dispatch.Sender
	Normalizer      dispatch.Normalizer
	Notices         Notifier
	Messages        BatteryMessages
	LocationTimeout time.Duration
}

// Handle is subscribed to the battery feed.
func (b *Battery) Handle(ctx context.Context, ev model.BatteryEvent) {
	if ev.Level > 0 {
		slog.Debug("Battery level", "level", ev.Level, "charging", ev.Charging())
	}

	sent := func(flag string) bool {
		ok, err := b.Flags.WasSent(ctx, flag)
		if err != nil {
			// Treat unreadable flags as set so a broken store cannot cause repeats.
			slog.Error("Failed to read notification flag", "flag", flag, "error", err)
			return true
		}
		return ok
	}

	plan, ok := PlanBattery(ev, b.Contacts.List(), sent, b.Messages)
	if !ok {
		return
	}

	first, err := b.Flags.MarkOnce(ctx, plan.Threshold.Flag)
	if err != nil {
		slog.Error("Failed to set notification flag", "flag", plan.Threshold.Flag, "error", err)
		return
	}
	if !first {
		return
	}
	slog.Info("Battery threshold reached", "level", plan.Threshold.Level, "flag", plan.Threshold.Flag)

	if plan.SuggestPowerSaver {
		b.Notices.Notify(NoticePowerSaver)
	}

	if len(plan.Recipients) == 0 {
		slog.Info("No saved contacts for battery warning")
		return
	}

	body := plan.Body
	if plan.Threshold.WithLocation {
		loc, err := location.Acquire(ctx, b.Locator, b.LocationTimeout)
		if err != nil {
			slog.Warn("Location unavailable for battery alert", "error", err)
			b.Notices.Notify("Could not get location")
			return
		}
		body = dispatch.WithLink(body, loc)
	}

	bc := &dispatch.Broadcaster{Sender: b.Sender, Normalizer: b.Normalizer}
	bc.Send(ctx, plan.Recipients, body)
}
