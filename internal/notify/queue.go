package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-pay/internal/payment"
)

// Enqueuer is the part of *asynq.Client the queue needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue implements payment.Notifier by enqueueing email tasks.
type Queue struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	// Retention keeps completed task ids around so a repeated enqueue is dropped.
	Retention time.Duration
}

var _ payment.Notifier = Queue{}

// OrderConfirmed schedules the order confirmation email.
func (q Queue) OrderConfirmed(ctx context.Context, orderID, email string) error {
	return q.enqueue(ctx, TaskOrderConfirmation, "confirm:"+orderID, OrderPayload{OrderID: orderID, Email: email})
}

// OrderUpdated schedules a status update email.
func (q Queue) OrderUpdated(ctx context.Context, orderID, email, status string) error {
	return q.enqueue(ctx, TaskOrderUpdate, "update:"+orderID+":"+status, OrderPayload{OrderID: orderID, Email: email, Status: status})
}

func (q Queue) enqueue(ctx context.Context, kind, id string, p OrderPayload) error {
	if q.Client == nil {
		return errors.New("notify: task client not configured")
	}
	if err := p.validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(id)}
	if q.Queue != "" {
		opts = append(opts, asynq.Queue(q.Queue))
	}
	if q.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(q.MaxRetry))
	}
	retention := q.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	opts = append(opts, asynq.Retention(retention))

	_, err = q.Client.EnqueueContext(ctx, asynq.NewTask(kind, raw), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}
