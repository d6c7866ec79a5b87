// Package worker runs scheduled messages. Worker is the in-process backend
// backed by a JSON queue file; AsynqBackend hands the same job to Redis.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/noahxzhu/safealert/internal/model"
	"github.com/noahxzhu/safealert/internal/schedule"
	"github.com/noahxzhu/safealert/internal/storage"
)

type Worker struct {
	store      *storage.QueueStore
	job        Job
	tag        string
	updateChan chan struct{}
	onUpdate   func() // called after a task changes state
	now        func() time.Time
}

func NewWorker(store *storage.QueueStore, job Job, tag string) *Worker {
	return &Worker{
		store:      store,
		job:        job,
		tag:        tag,
		updateChan: make(chan struct{}, 1),
		now:        time.Now,
	}
}

// SetOnUpdate sets a callback run after a task is sent, fails or is cancelled.
func (w *Worker) SetOnUpdate(fn func()) {
	w.onUpdate = fn
}

// Refresh signals the worker to re-evaluate the schedule immediately
func (w *Worker) Refresh() {
	select {
	case w.updateChan <- struct{}{}:
	default:
		// Channel already has a pending signal, no need to block
	}
}

func (w *Worker) Enqueue(_ context.Context, msg model.ScheduledMessage) error {
	if err := w.store.Add(model.Task{ScheduledMessage: msg, Tag: w.tag}); err != nil {
		return err
	}
	slog.Info("Scheduled message queued", "id", msg.ID, "at", msg.FireAt.Format(time.RFC3339))
	w.Refresh()
	return nil
}

func (w *Worker) Cancel(_ context.Context, id string) error {
	if err := w.store.Cancel(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNotPending) {
			return schedule.ErrNotFound
		}
		return err
	}
	slog.Info("Scheduled message cancelled", "id", id)
	w.Refresh()
	w.notify()
	return nil
}

func (w *Worker) Pending(context.Context) ([]model.ScheduledMessage, error) {
	tasks := w.store.GetPending(w.tag)
	msgs := make([]model.ScheduledMessage, 0, len(tasks))
	for _, t := range tasks {
		msgs = append(msgs, t.ScheduledMessage)
	}
	return msgs, nil
}

// Start runs the timer loop until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("Worker started (Event-Driven)", "tag", w.tag)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun := w.checkAndProcess(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if nextRun.IsZero() {
			slog.Info("No pending scheduled messages. Worker idle.")
		} else {
			duration := nextRun.Sub(w.now())
			if duration < 0 {
				duration = 0
			}
			timer.Reset(duration)
			slog.Info("Next check scheduled", "in", duration, "at", nextRun.Format("15:04:05"))
		}

		select {
		case <-ctx.Done():
			slog.Info("Worker stopped")
			return
		case <-w.updateChan:
		case <-timer.C:
		}
	}
}

// checkAndProcess runs due tasks and returns the fire time of the next one.
func (w *Worker) checkAndProcess(ctx context.Context) time.Time {
	var earliestNext time.Time

	for _, t := range w.store.GetPending(w.tag) {
		if ctx.Err() != nil {
			return time.Time{}
		}
		if w.now().Before(t.FireAt) {
			if earliestNext.IsZero() || t.FireAt.Before(earliestNext) {
				earliestNext = t.FireAt
			}
			continue
		}
		w.process(ctx, t.ID)
	}
	return earliestNext
}

func (w *Worker) process(ctx context.Context, id string) {
	task, err := w.store.Claim(id)
	if err != nil {
		// Cancelled between listing and claiming.
		if !errors.Is(err, storage.ErrNotPending) {
			slog.Error("Failed to claim task", "id", id, "error", err)
		}
		return
	}

	delay := w.now().Sub(task.FireAt)
	sendErr := w.job.Run(ctx, task.ScheduledMessage)
	if sendErr != nil {
		slog.Error("Scheduled message failed", "id", id, "delay", delay, "error", sendErr)
	} else {
		slog.Info("Scheduled message sent", "id", id, "delay", delay)
	}

	if err := w.store.Complete(id, sendErr); err != nil {
		slog.Error("Failed to save store", "error", err)
		return
	}
	w.notify()
}

func (w *Worker) notify() {
	if w.onUpdate != nil {
		w.onUpdate()
	}
}
