package alert

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/noahxzhu/safealert/internal/location"
	"github.com/noahxzhu/safealert/internal/model"
	"github.com/noahxzhu/safealert/internal/phone"
	"github.com/noahxzhu/safealert/internal/platform"
	"github.com/noahxzhu/safealert/internal/storage"
)

type staticContacts struct {
	mu   sync.Mutex
	list []model.Contact
}

func (s *staticContacts) List() []model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Contact, len(s.list))
	copy(out, s.list)
	return out
}

type fakeMessenger struct {
	mu       sync.Mutex
	noSIM    bool
	messages map[string]string
}

func (f *fakeMessenger) SendText(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages == nil {
		f.messages = make(map[string]string)
	}
	f.messages[to] = body
	return nil
}

func (f *fakeMessenger) SIMReady(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.noSIM
}

func (f *fakeMessenger) sent() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.messages))
	for k, v := range f.messages {
		out[k] = v
	}
	return out
}

type fakeDialer struct {
	calls chan string
}

func (f *fakeDialer) Call(_ context.Context, to string) error {
	f.calls <- to
	return nil
}

type recordingNotices struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingNotices) Notify(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recordingNotices) count(text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.texts {
		if t == text {
			n++
		}
	}
	return n
}

type harness struct {
	d         *Dispatcher
	contacts  *staticContacts
	tracker   *location.Tracker
	messenger *fakeMessenger
	dialer    *fakeDialer
	perms     *platform.Permissions
	notices   *recordingNotices
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		contacts: &staticContacts{list: []model.Contact{
			{Name: "Ana", Phone: "0711111111"},
			{Name: "Bogdan", Phone: "0722222222"},
			{Name: "Cris", Phone: "+40733333333"},
		}},
		tracker:   location.NewTracker(0),
		messenger: &fakeMessenger{},
		dialer:    &fakeDialer{calls: make(chan string, 4)},
		perms: platform.NewPermissions(
			model.PermLocation, model.PermSMS, model.PermPhoneState, model.PermCall,
		),
		notices: &recordingNotices{},
	}
	if opts.Template == "" {
		opts.Template = "Emergency! Location: {link}"
	}
	h.d = New(context.Background(), Deps{
		Contacts:    h.contacts,
		Locator:     h.tracker,
		Messenger:   h.messenger,
		Dialer:      h.dialer,
		Permissions: h.perms,
		Notices:     h.notices,
		Normalizer:  phone.Normalizer{CountryCode: "40", NationalDigits: 9},
	}, opts)
	t.Cleanup(h.d.Close)
	return h
}

func (h *harness) waitCall(t *testing.T) string {
	t.Helper()
	select {
	case to := <-h.dialer.calls:
		return to
	case <-time.After(2 * time.Second):
		t.Fatal("expected a call to be placed")
		return ""
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestToggleTextsEveryContactThenCalls(t *testing.T) {
	h := newHarness(t, Options{LocationTimeout: time.Second, CallDelay: 20 * time.Millisecond})
	h.tracker.Update(model.Location{Latitude: 46.5468909, Longitude: 24.569034})

	active, err := h.d.Toggle()
	if err != nil || !active {
		t.Fatalf("expected alert to activate, got %v, %v", active, err)
	}

	if to := h.waitCall(t); to != "+40711111111" {
		t.Fatalf("expected call to first contact, got %q", to)
	}

	sent := h.messenger.sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 texts, got %d: %v", len(sent), sent)
	}
	want := "Emergency! Location: https://maps.google.com/?q=46.5468909,24.569034"
	for _, to := range []string{"+40711111111", "+40722222222", "+40733333333"} {
		if sent[to] != want {
			t.Fatalf("expected %q to %s, got %q", want, to, sent[to])
		}
	}
	if h.d.Status().Active {
		t.Fatal("expected alert to be inactive after the call")
	}
}

func TestLocationTimeoutNotifiesUserOnly(t *testing.T) {
	h := newHarness(t, Options{LocationTimeout: 30 * time.Millisecond, CallDelay: 10 * time.Millisecond})

	if _, err := h.d.Toggle(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	h.waitCall(t)

	if sent := h.messenger.sent(); len(sent) != 0 {
		t.Fatalf("expected no texts on timeout, got %v", sent)
	}
	if n := h.notices.count(NoticeNoLocation); n != 1 {
		t.Fatalf("expected one location fallback notice, got %d", n)
	}
}

func TestNoSIMSkipsBatch(t *testing.T) {
	h := newHarness(t, Options{LocationTimeout: time.Second, CallDelay: 10 * time.Millisecond})
	h.messenger.noSIM = true
	h.tracker.Update(model.Location{Latitude: 1, Longitude: 2})

	if _, err := h.d.Toggle(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	h.waitCall(t)

	if sent := h.messenger.sent(); len(sent) != 0 {
		t.Fatalf("expected no texts without SIM, got %v", sent)
	}
	if h.notices.count(NoticeNoSIM) != 1 {
		t.Fatal("expected SIM notice")
	}
}

func TestToggleCancelsPendingCall(t *testing.T) {
	h := newHarness(t, Options{LocationTimeout: time.Second, CallDelay: time.Hour})
	h.tracker.Update(model.Location{Latitude: 1, Longitude: 2})

	if _, err := h.d.Toggle(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	eventually(t, func() bool { return len(h.messenger.sent()) == 3 })

	active, err := h.d.Toggle()
	if err != nil || active {
		t.Fatalf("expected alert to cancel, got %v, %v", active, err)
	}
	h.d.Close()

	select {
	case to := <-h.dialer.calls:
		t.Fatalf("expected no call after cancel, got %q", to)
	default:
	}
	if h.notices.count(NoticeCanceled) != 1 {
		t.Fatal("expected cancel notice")
	}
}

func TestCancelDuringLocationWait(t *testing.T) {
	h := newHarness(t, Options{LocationTimeout: time.Hour, CallDelay: time.Millisecond})

	if _, err := h.d.Toggle(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !h.d.Status().Processing {
		t.Fatal("expected alert to be waiting for location")
	}
	if _, err := h.d.Toggle(); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	done := make(chan struct{})
	go func() {
		h.d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return after cancel")
	}

	// A late fix must not revive the cancelled attempt.
	h.tracker.Update(model.Location{Latitude: 1, Longitude: 2})
	if sent := h.messenger.sent(); len(sent) != 0 {
		t.Fatalf("expected no texts, got %v", sent)
	}
	if h.notices.count(NoticeNoLocation) != 0 {
		t.Fatal("expected no fallback notice for a cancelled attempt")
	}
}

func TestKeyPressGuards(t *testing.T) {
	h := newHarness(t, Options{LocationTimeout: time.Hour, CallDelay: time.Hour, KeyCooldown: time.Hour})

	if err := h.d.KeyPress("power"); !errors.Is(err, ErrIgnoredKey) {
		t.Fatalf("expected ErrIgnoredKey, got %v", err)
	}
	if err := h.d.KeyPress(KeyVolumeUp); err != nil {
		t.Fatalf("expected first press to start an alert, got %v", err)
	}
	if err := h.d.KeyPress(KeyVolumeDown); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected overlapping press to be dropped, got %v", err)
	}

	if active, _ := h.d.Toggle(); active {
		t.Fatal("expected toggle to cancel the key-started alert")
	}
	if err := h.d.KeyPress(KeyVolumeUp); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected press within cooldown to be dropped, got %v", err)
	}
}

func TestKeyPressAfterCooldown(t *testing.T) {
	h := newHarness(t, Options{LocationTimeout: time.Hour, CallDelay: time.Hour, KeyCooldown: 20 * time.Millisecond})

	if err := h.d.KeyPress(KeyVolumeUp); err != nil {
		t.Fatalf("press: %v", err)
	}
	h.d.Toggle()
	time.Sleep(40 * time.Millisecond)
	if err := h.d.KeyPress(KeyVolumeUp); err != nil {
		t.Fatalf("expected press after cooldown to start an alert, got %v", err)
	}
}

func TestStartPreconditions(t *testing.T) {
	h := newHarness(t, Options{LocationTimeout: time.Hour, CallDelay: time.Hour})

	h.perms.Set(map[model.Permission]bool{model.PermSMS: false})
	if _, err := h.d.Toggle(); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if h.d.Status().Active {
		t.Fatal("expected alert to stay inactive")
	}

	h.perms.Set(map[model.Permission]bool{model.PermSMS: true})
	h.contacts.mu.Lock()
	h.contacts.list = nil
	h.contacts.mu.Unlock()
	if _, err := h.d.Toggle(); !errors.Is(err, ErrNoContacts) {
		t.Fatalf("expected ErrNoContacts, got %v", err)
	}
}

func TestCallNeedsPermission(t *testing.T) {
	h := newHarness(t, Options{LocationTimeout: time.Second, CallDelay: 10 * time.Millisecond})
	h.perms.Set(map[model.Permission]bool{model.PermCall: false})
	h.tracker.Update(model.Location{Latitude: 1, Longitude: 2})

	if _, err := h.d.Toggle(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	eventually(t, func() bool { return h.notices.count(NoticeCallPermission) == 1 })

	select {
	case to := <-h.dialer.calls:
		t.Fatalf("expected no call without permission, got %q", to)
	default:
	}
	h.notices.mu.Lock()
	defer h.notices.mu.Unlock()
	for _, text := range h.notices.texts {
		if strings.HasPrefix(text, "Error for") {
			t.Fatalf("unexpected send error notice %q", text)
		}
	}
}

func TestRemovedContactIsNotMessaged(t *testing.T) {
	norm := phone.Normalizer{CountryCode: "40", NationalDigits: 9}
	path := filepath.Join(t.TempDir(), "contacts.json")
	store := storage.NewContactStore(path, norm.Key)
	for _, c := range []model.Contact{{Name: "Ana", Phone: "0711111111"}, {Name: "Bogdan", Phone: "0722222222"}} {
		if _, err := store.Upsert(c); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := store.Remove("+40711111111"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	reloaded := storage.NewContactStore(path, norm.Key)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	h := newHarness(t, Options{LocationTimeout: time.Second, CallDelay: 10 * time.Millisecond})
	h.d.deps.Contacts = reloaded
	h.tracker.Update(model.Location{Latitude: 1, Longitude: 2})

	if _, err := h.d.Toggle(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if to := h.waitCall(t); to != "+40722222222" {
		t.Fatalf("expected call to remaining contact, got %q", to)
	}
	sent := h.messenger.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one text, got %v", sent)
	}
	if _, ok := sent["+40711111111"]; ok {
		t.Fatal("removed contact was messaged")
	}
}
