package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/noahxzhu/safealert/internal/model"
	"github.com/noahxzhu/safealert/internal/schedule"
)

const TypeSendMessage = "scheduled_message:send"

// pageSize bounds one listing call against the inspector.
const pageSize = 200

// Payload is the task body stored in Redis.
type Payload struct {
	ID            string    `json:"id"`
	Phone         string    `json:"phone"`
	Message       string    `json:"message"`
	ScheduledTime string    `json:"scheduled_time"`
	FireAt        time.Time `json:"fire_at"`
}

func payloadOf(msg model.ScheduledMessage) Payload {
	return Payload{
		ID:            msg.ID,
		Phone:         msg.Phone,
		Message:       msg.Message,
		ScheduledTime: msg.Time,
		FireAt:        msg.FireAt,
	}
}

func (p Payload) ScheduledMessage() model.ScheduledMessage {
	return model.ScheduledMessage{
		ID:      p.ID,
		Phone:   p.Phone,
		Message: p.Message,
		Time:    p.ScheduledTime,
		FireAt:  p.FireAt,
	}
}

// NewSendTask builds the asynq task for msg, due at msg.FireAt. The task ID
// is the message ID so it can be cancelled later.
func NewSendTask(msg model.ScheduledMessage, queue string) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(payloadOf(msg))
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeSendMessage, b)
	opts := []asynq.Option{
		asynq.ProcessAt(msg.FireAt),
		asynq.TaskID(msg.ID),
		asynq.Queue(queue),
	}
	return task, opts, nil
}

func decodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// newHandler adapts job to an asynq handler. Payloads that can never send
// skip asynq's retries.
func newHandler(job Job) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		p, err := decodePayload(task.Payload())
		if err != nil {
			slog.Error("Invalid scheduled message payload", "error", err)
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}

		err = job.Run(ctx, p.ScheduledMessage())
		if errors.Is(err, ErrInvalidMessage) {
			slog.Error("Dropping scheduled message", "id", p.ID, "error", err)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		if err != nil {
			slog.Error("Scheduled message failed", "id", p.ID, "error", err)
			return err
		}
		slog.Info("Scheduled message sent", "id", p.ID)
		return nil
	}
}

type AsynqOptions struct {
	Addr        string
	Password    string
	DB          int
	Queue       string
	Concurrency int
}

// AsynqBackend schedules messages as Redis-backed asynq tasks and runs them
// with an embedded asynq server.
type AsynqBackend struct {
	queue     string
	client    *asynq.Client
	inspector *asynq.Inspector
	server    *asynq.Server
	redis     *redis.Client
	job       Job
}

func NewAsynqBackend(opts AsynqOptions, job Job) *AsynqBackend {
	redisOpt := asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &AsynqBackend{
		queue:     opts.Queue,
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		server: asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{opts.Queue: 1},
			Logger:      slogLogger{},
		}),
		redis: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		job: job,
	}
}

func (b *AsynqBackend) Enqueue(ctx context.Context, msg model.ScheduledMessage) error {
	task, opts, err := NewSendTask(msg, b.queue)
	if err != nil {
		return err
	}
	info, err := b.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	slog.Info("Scheduled message queued", "id", info.ID, "queue", info.Queue, "at", info.NextProcessAt.Format(time.RFC3339))
	return nil
}

func (b *AsynqBackend) Cancel(_ context.Context, id string) error {
	err := b.inspector.DeleteTask(b.queue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return schedule.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	slog.Info("Scheduled message cancelled", "id", id)
	return nil
}

// Pending lists tasks that have not started: scheduled ones and those that
// are due but still waiting for a worker.
func (b *AsynqBackend) Pending(_ context.Context) ([]model.ScheduledMessage, error) {
	var msgs []model.ScheduledMessage
	for _, list := range []func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		b.inspector.ListScheduledTasks,
		b.inspector.ListPendingTasks,
	} {
		infos, err := list(b.queue, asynq.PageSize(pageSize))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return []model.ScheduledMessage{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		for _, info := range infos {
			p, err := decodePayload(info.Payload)
			if err != nil {
				slog.Warn("Skipping undecodable task", "id", info.ID, "error", err)
				continue
			}
			msgs = append(msgs, p.ScheduledMessage())
		}
	}
	if msgs == nil {
		msgs = []model.ScheduledMessage{}
	}
	return msgs, nil
}

// Start launches the asynq server in the background.
func (b *AsynqBackend) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSendMessage, newHandler(b.job))
	if err := b.server.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	slog.Info("Asynq worker started", "queue", b.queue)
	return nil
}

// Ping checks the Redis connection.
func (b *AsynqBackend) Ping(ctx context.Context) error {
	return b.redis.Ping(ctx).Err()
}

// Shutdown waits for running tasks and closes every Redis connection.
func (b *AsynqBackend) Shutdown() {
	b.server.Shutdown()
	for _, c := range []interface{ Close() error }{b.client, b.inspector, b.redis} {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close redis connection", "error", err)
		}
	}
}

// slogLogger routes asynq's logs through slog.
type slogLogger struct{}

func (slogLogger) Debug(args ...any) { slog.Debug(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Info(args ...any)  { slog.Info(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Error(args ...any) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Fatal(args ...any) {
	slog.Error(fmt.Sprint(args...), "component", "asynq")
	os.Exit(1)
}
