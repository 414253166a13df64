package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TypeEventDispatch is the asynq task type carrying one Event.
const TypeEventDispatch = "event:dispatch"

// Enqueuer is the part of *asynq.Client the emitter needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqEmitter queues events for the background dispatcher.
type AsynqEmitter struct {
	client   Enqueuer
	maxRetry int
	timeout  time.Duration
}

func NewAsynqEmitter(client Enqueuer, maxRetry int, timeout time.Duration) *AsynqEmitter {
	return &AsynqEmitter{client: client, maxRetry: maxRetry, timeout: timeout}
}

// NewDispatchTask wraps e as an asynq task. The event id doubles as the task
// id so a re-emitted event is not dispatched twice.
func NewDispatchTask(e Event, maxRetry int, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.Type, err)
	}
	return asynq.NewTask(TypeEventDispatch, payload,
		asynq.TaskID(e.ID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.Queue("default"),
	), nil
}

func (a *AsynqEmitter) Emit(ctx context.Context, e Event) error {
	task, err := NewDispatchTask(e, a.maxRetry, a.timeout)
	if err != nil {
		return err
	}
	if _, err := a.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue event %s (%s): %w", e.Type, e.ID, err)
	}
	return nil
}
