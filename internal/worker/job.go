package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/noahxzhu/safealert/internal/model"
)

// ErrInvalidMessage marks a job that can never succeed. Backends do not
// retry it.
var ErrInvalidMessage = errors.New("scheduled message is missing phone or text")

// Job delivers one scheduled message.
type Job interface {
	Run(ctx context.Context, msg model.ScheduledMessage) error
}

type Sender interface {
	SendText(ctx context.Context, to, body string) error
}

type Normalizer interface {
	Normalize(raw string) (string, bool)
}

// SendJob texts a scheduled message through the gateway.
type SendJob struct {
	Sender     Sender
	Normalizer Normalizer
}

func (j SendJob) Run(ctx context.Context, msg model.ScheduledMessage) error {
	to := strings.TrimSpace(msg.Phone)
	if to == "" || strings.TrimSpace(msg.Message) == "" {
		return ErrInvalidMessage
	}
	if j.Normalizer != nil {
		to, _ = j.Normalizer.Normalize(to)
	}

	slog.Info("Sending scheduled message", "id", msg.ID, "phone", to, "scheduled", msg.Time)
	if err := j.Sender.SendText(ctx, to, msg.Message); err != nil {
		return fmt.Errorf("send scheduled message %s: %w", msg.ID, err)
	}
	return nil
}
