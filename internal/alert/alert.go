// Package alert runs the emergency alert sequence: get a location fix, text
// it to every contact, then call the first contact after a short delay.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/noahxzhu/safealert/internal/dispatch"
	"github.com/noahxzhu/safealert/internal/location"
	"github.com/noahxzhu/safealert/internal/model"
)

var (
	ErrNoContacts       = errors.New("no emergency contacts saved")
	ErrPermissionDenied = errors.New("required permissions not granted")
	ErrBusy             = errors.New("an alert is already in progress")
	ErrCooldown         = errors.New("key pressed again too soon")
	ErrIgnoredKey       = errors.New("key does not trigger alerts")
)

const (
	KeyVolumeUp   = "volume_up"
	KeyVolumeDown = "volume_down"
)

const (
	NoticeActivated      = "Emergency alert activated"
	NoticeCanceled       = "Emergency alert canceled"
	NoticeNoContacts     = "Add an emergency contact first"
	NoticePermissions    = "All permissions are required!"
	NoticeNoLocation     = "Could not get location"
	NoticeNoSIM          = "SIM card unavailable"
	NoticeCallPermission = "Call permission needed!"
	NoticeCallFailed     = "Could not place the emergency call"
)

// Permissions the alert sequence needs before it starts.
var required = []model.Permission{model.PermLocation, model.PermSMS, model.PermPhoneState}

type Contacts interface {
	List() []model.Contact
}

type Messenger interface {
	SendText(ctx context.Context, to, body string) error
	SIMReady(ctx context.Context) bool
}

type Dialer interface {
	Call(ctx context.Context, to string) error
}

type Permissions interface {
	Granted(p model.Permission) bool
	All(ps ...model.Permission) bool
}

type Notifier interface {
	Notify(text string)
}

type Deps struct {
	Contacts    Contacts
	Locator     location.Provider
	Messenger   Messenger
	Dialer      Dialer
	Permissions Permissions
	Notices     Notifier
	Normalizer  dispatch.Normalizer
}

type Options struct {
	LocationTimeout time.Duration
	CallDelay       time.Duration
	KeyCooldown     time.Duration
	// Template is the alert text; config.LinkPlaceholder is replaced by the
	// maps link.
	Template string
}

type Status struct {
	Active     bool `json:"active"`
	Processing bool `json:"processing"`
}

// Dispatcher owns the alert toggle. At most one alert attempt runs at a time.
type Dispatcher struct {
	deps    Deps
	opts    Options
	base    context.Context
	limiter *rate.Limiter

	mu         sync.Mutex
	active     bool
	processing bool
	attempt    uint64
	cancel     context.CancelFunc
	callTimer  *time.Timer
	wg         sync.WaitGroup
}

// New returns a Dispatcher whose background work derives from ctx.
func New(ctx context.Context, deps Deps, opts Options) *Dispatcher {
	return &Dispatcher{
		deps:    deps,
		opts:    opts,
		base:    ctx,
		limiter: rate.NewLimiter(rate.Every(opts.KeyCooldown), 1),
	}
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{Active: d.active, Processing: d.processing}
}

// Toggle cancels the running alert if there is one, otherwise starts one.
// It returns whether an alert is active afterwards.
func (d *Dispatcher) Toggle() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		d.stopLocked()
		d.deps.Notices.Notify(NoticeCanceled)
		slog.Info("Emergency alert canceled")
		return false, nil
	}

	if err := d.startLocked(); err != nil {
		return false, err
	}
	d.deps.Notices.Notify(NoticeActivated)
	return true, nil
}

// KeyPress handles a hardware key. Volume keys start an alert unless one is
// already running or the previous accepted press was within the cooldown;
// such presses are dropped, not queued.
func (d *Dispatcher) KeyPress(key string) error {
	if key != KeyVolumeUp && key != KeyVolumeDown {
		return ErrIgnoredKey
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active || d.processing {
		return ErrBusy
	}
	if !d.limiter.Allow() {
		return ErrCooldown
	}
	return d.startLocked()
}

// Close cancels any running alert and waits for its goroutines.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) startLocked() error {
	contacts := d.deps.Contacts.List()
	if len(contacts) == 0 {
		d.deps.Notices.Notify(NoticeNoContacts)
		return ErrNoContacts
	}
	if !d.deps.Permissions.All(required...) {
		d.deps.Notices.Notify(NoticePermissions)
		return ErrPermissionDenied
	}

	ctx, cancel := context.WithCancel(d.base)
	d.active = true
	d.processing = true
	d.attempt++
	d.cancel = cancel

	slog.Info("Emergency alert started", "contacts", len(contacts), "attempt", d.attempt)
	d.wg.Add(1)
	go d.run(ctx, d.attempt, contacts)
	return nil
}

func (d *Dispatcher) stopLocked() {
	d.active = false
	d.processing = false
	d.attempt++
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.callTimer != nil {
		if d.callTimer.Stop() {
			d.wg.Done()
		}
		d.callTimer = nil
	}
}

// current reports whether attempt gen is still the live one. Callers hold mu.
func (d *Dispatcher) current(ctx context.Context, gen uint64) bool {
	return ctx.Err() == nil && d.attempt == gen
}

func (d *Dispatcher) run(ctx context.Context, gen uint64, contacts []model.Contact) {
	defer d.wg.Done()

	loc, err := location.Acquire(ctx, d.deps.Locator, d.opts.LocationTimeout)

	d.mu.Lock()
	if !d.current(ctx, gen) {
		d.mu.Unlock()
		return
	}
	d.processing = false
	d.mu.Unlock()

	if err != nil {
		slog.Warn("Location unavailable, contacts not messaged", "error", err)
		d.deps.Notices.Notify(NoticeNoLocation)
	} else {
		d.sendLocation(ctx, contacts, loc)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.current(ctx, gen) {
		return
	}
	d.wg.Add(1)
	d.callTimer = time.AfterFunc(d.opts.CallDelay, func() {
		defer d.wg.Done()
		d.placeCall(ctx, gen)
	})
	d.deps.Notices.Notify(fmt.Sprintf("Emergency alert sent. Calling in %s.", d.opts.CallDelay))
}

func (d *Dispatcher) sendLocation(ctx context.Context, contacts []model.Contact, loc model.Location) {
	if !d.deps.Messenger.SIMReady(ctx) {
		slog.Error("No usable SIM, alert not sent")
		d.deps.Notices.Notify(NoticeNoSIM)
		return
	}

	b := &dispatch.Broadcaster{
		Sender:     d.deps.Messenger,
		Normalizer: d.deps.Normalizer,
		OnInvalid: func(c model.Contact) {
			d.deps.Notices.Notify("Invalid number: " + c.Phone)
		},
		OnError: func(c model.Contact, err error) {
			d.deps.Notices.Notify(fmt.Sprintf("Error for %s: %v", c.Name, err))
		},
	}
	sent := b.Send(ctx, contacts, dispatch.WithLink(d.opts.Template, loc))
	slog.Info("Emergency alert dispatched", "sent", sent, "contacts", len(contacts))
}

func (d *Dispatcher) placeCall(ctx context.Context, gen uint64) {
	d.mu.Lock()
	if !d.current(ctx, gen) {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.callTimer = nil
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		defer cancel()
	}

	contacts := d.deps.Contacts.List()
	if len(contacts) == 0 {
		return
	}
	if !d.deps.Permissions.Granted(model.PermCall) {
		d.deps.Notices.Notify(NoticeCallPermission)
		return
	}

	to := contacts[0].Phone
	if d.deps.Normalizer != nil {
		to, _ = d.deps.Normalizer.Normalize(to)
	}
	if err := d.deps.Dialer.Call(ctx, to); err != nil {
		slog.Error("Failed to place call", "phone", to, "error", err)
		d.deps.Notices.Notify(NoticeCallFailed)
		return
	}
	slog.Info("Emergency call placed", "phone", to)
}
