package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/technoprod/backend-gestion/internal/queue"
	"github.com/technoprod/backend-gestion/internal/store"
)

// TaskKindWebhookDelivery is the queue kind carrying webhook delivery tasks.
const TaskKindWebhookDelivery = "webhook-delivery"

// TaskQueue pushes delivery tasks onto the delayed queue. Optional; without it
// the dispatcher falls back to pure database polling.
type TaskQueue interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

type deliveryTask struct {
	DeliveryID string `json:"delivery_id"`
}

func (d *Dispatcher) enqueueTask(ctx context.Context, del store.WebhookDelivery) error {
	if d.Tasks == nil {
		return nil
	}
	payload, err := json.Marshal(deliveryTask{DeliveryID: store.UUIDString(del.ID)})
	if err != nil {
		return err
	}
	return d.Tasks.Enqueue(ctx, queue.Task{
		Kind:           TaskKindWebhookDelivery,
		Payload:        payload,
		IdempotencyKey: store.UUIDString(del.ID),
		MaxAttempts:    d.maxAttempts(),
	})
}

// HandleTask processes one queued delivery task. Returning an error makes the
// queue retry with backoff; deliveries already settled in the database are
// acknowledged silently.
func (d *Dispatcher) HandleTask(ctx context.Context, t queue.Task) error {
	var task deliveryTask
	if err := json.Unmarshal(t.Payload, &task); err != nil {
		return fmt.Errorf("decode delivery task: %w", err)
	}
	id, err := store.UUIDValue(task.DeliveryID)
	if err != nil {
		return fmt.Errorf("invalid delivery id %q: %w", task.DeliveryID, err)
	}
	del, err := d.Store.GetWebhookDelivery(ctx, id)
	if err != nil {
		return err
	}
	switch del.Status {
	case "delivered", "dead":
		return nil
	}
	deliverErr, storeErr := d.attemptOne(ctx, del)
	if storeErr != nil {
		return storeErr
	}
	return deliverErr
}
