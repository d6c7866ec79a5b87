// Package schedule queues one-time text messages for a time of day.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noahxzhu/safealert/internal/model"
)

var (
	ErrInvalidTime    = errors.New("time must be HH:MM")
	ErrInvalidMessage = errors.New("phone and message are required")
	ErrNotFound       = errors.New("scheduled message not found")
)

// Backend is the work scheduler that owns pending messages. It is the only
// source of truth for what is scheduled.
type Backend interface {
	Enqueue(ctx context.Context, msg model.ScheduledMessage) error
	// Cancel removes a message that has not started. It returns ErrNotFound
	// when id is unknown or already ran.
	Cancel(ctx context.Context, id string) error
	Pending(ctx context.Context) ([]model.ScheduledMessage, error)
}

type Service struct {
	backend Backend
	loc     *time.Location
	now     func() time.Time
	newID   func() string
}

func NewService(backend Backend, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		backend: backend,
		loc:     loc,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// ParseClock parses a 24-hour "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(m) != 2 || len(h) < 1 || len(h) > 2 {
		return 0, 0, ErrInvalidTime
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, ErrInvalidTime
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, ErrInvalidTime
	}
	return hour, minute, nil
}

// NextFire returns today's hour:minute in now's location, or tomorrow's if
// that moment has already passed.
func NextFire(now time.Time, hour, minute int) time.Time {
	y, mo, d := now.Date()
	at := time.Date(y, mo, d, hour, minute, 0, 0, now.Location())
	if at.Before(now) {
		at = time.Date(y, mo, d+1, hour, minute, 0, 0, now.Location())
	}
	return at
}

func (s *Service) Schedule(ctx context.Context, phone, message, clock string) (model.ScheduledMessage, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.TrimSpace(message) == "" {
		return model.ScheduledMessage{}, ErrInvalidMessage
	}
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return model.ScheduledMessage{}, err
	}

	msg := model.ScheduledMessage{
		ID:      s.newID(),
		Phone:   phone,
		Message: message,
		Time:    fmt.Sprintf("%02d:%02d", hour, minute),
		FireAt:  NextFire(s.now().In(s.loc), hour, minute),
	}
	if err := s.backend.Enqueue(ctx, msg); err != nil {
		return model.ScheduledMessage{}, fmt.Errorf("enqueue scheduled message: %w", err)
	}
	return msg, nil
}

// Upcoming lists pending messages, soonest first.
func (s *Service) Upcoming(ctx context.Context) ([]model.ScheduledMessage, error) {
	pending, err := s.backend.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scheduled messages: %w", err)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].FireAt.Before(pending[j].FireAt)
	})
	return pending, nil
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrNotFound
	}
	return s.backend.Cancel(ctx, id)
}
