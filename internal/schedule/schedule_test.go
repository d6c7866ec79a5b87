package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/noahxzhu/safealert/internal/model"
)

type memoryBackend struct {
	msgs map[string]model.ScheduledMessage
}

func (m *memoryBackend) Enqueue(_ context.Context, msg model.ScheduledMessage) error {
	if m.msgs == nil {
		m.msgs = make(map[string]model.ScheduledMessage)
	}
	m.msgs[msg.ID] = msg
	return nil
}

func (m *memoryBackend) Cancel(_ context.Context, id string) error {
	if _, ok := m.msgs[id]; !ok {
		return ErrNotFound
	}
	delete(m.msgs, id)
	return nil
}

func (m *memoryBackend) Pending(context.Context) ([]model.ScheduledMessage, error) {
	var out []model.ScheduledMessage
	for _, msg := range m.msgs {
		out = append(out, msg)
	}
	return out, nil
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input  string
		hour   int
		minute int
		ok     bool
	}{
		{"08:30", 8, 30, true},
		{"8:05", 8, 5, true},
		{"23:59", 23, 59, true},
		{"00:00", 0, 0, true},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"12:5", 0, 0, false},
		{"noon", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			h, m, err := ParseClock(tt.input)
			if (err == nil) != tt.ok {
				t.Fatalf("ParseClock(%q) error = %v, want ok=%v", tt.input, err, tt.ok)
			}
			if tt.ok && (h != tt.hour || m != tt.minute) {
				t.Fatalf("ParseClock(%q) = %d:%d, want %d:%d", tt.input, h, m, tt.hour, tt.minute)
			}
		})
	}
}

func TestNextFire(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 15, 30, 0, time.UTC)
	tests := []struct {
		name         string
		hour, minute int
		want         time.Time
	}{
		{"later today", 18, 0, time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)},
		{"earlier today rolls over", 9, 0, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)},
		{"current minute already started", 14, 15, time.Date(2026, 3, 11, 14, 15, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextFire(now, tt.hour, tt.minute); !got.Equal(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNextFireMonthEnd(t *testing.T) {
	now := time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC)
	want := time.Date(2027, 1, 1, 7, 0, 0, 0, time.UTC)
	if got := NextFire(now, 7, 0); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestServiceSchedule(t *testing.T) {
	backend := &memoryBackend{}
	svc := NewService(backend, time.UTC)
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC) }
	ids := []string{"b", "a"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	late, err := svc.Schedule(context.Background(), "0712345678", "call me", "9:00")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if late.Time != "09:00" || !late.FireAt.Equal(time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected scheduled message %+v", late)
	}
	if _, err := svc.Schedule(context.Background(), "0712345678", "soon", "15:00"); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	upcoming, err := svc.Upcoming(context.Background())
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(upcoming) != 2 || upcoming[0].ID != "a" || upcoming[1].ID != "b" {
		t.Fatalf("expected soonest first, got %+v", upcoming)
	}

	if err := svc.Cancel(context.Background(), "b"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := svc.Cancel(context.Background(), "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceScheduleValidation(t *testing.T) {
	svc := NewService(&memoryBackend{}, time.UTC)
	if _, err := svc.Schedule(context.Background(), "", "x", "10:00"); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if _, err := svc.Schedule(context.Background(), "1", " ", "10:00"); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if _, err := svc.Schedule(context.Background(), "1", "x", "25:00"); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("expected ErrInvalidTime, got %v", err)
	}
}
