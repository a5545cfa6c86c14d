package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/google/uuid"

	"github.com/mpetrenko/notegen/internal/worker/domain"
)

// setupConsumer caps the channel at one unacknowledged delivery so the
// worker never processes more than one job at a time, then opens the
// consume stream.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := w.rabbitClient.GetChannel().Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set channel QoS: %w", err)
	}

	return w.rabbitClient.Consume(w.workerID)
}

func (w *Worker) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker context canceled, stopping consume loop")
			return ctx.Err()
		case <-w.stopChan:
			w.logger.Info("Worker stopped")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			w.handleDelivery(ctx, delivery)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var action ackAction
	var jobID string

	msg, err := parseJobMessage(delivery)
	if err != nil {
		w.logger.Error("Discarding malformed message",
			slog.String("error", err.Error()),
		)
		// dead-letters to the parking queue, never redelivered
		action = dropMessage
	} else {
		jobID = msg.JobID
		action = w.processDelivery(ctx, msg)
	}

	var ackErr error
	switch action {
	case ackMessage:
		ackErr = delivery.Ack(false)
	case requeueMessage:
		ackErr = delivery.Nack(false, true)
	case dropMessage:
		ackErr = delivery.Nack(false, false)
	}
	if ackErr != nil {
		// the broker will redeliver once the channel recovers; the
		// conditional updates make the replay harmless
		w.logger.Error("Failed to settle delivery",
			slog.String("job_id", jobID),
			slog.String("error", ackErr.Error()),
		)
	}
}

func parseJobMessage(delivery amqp.Delivery) (*domain.JobMessage, error) {
	var msg domain.JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("%w: bad job_id %q", domain.ErrInvalidMessage, msg.JobID)
	}
	msg.DeliveryTag = delivery.DeliveryTag
	return &msg, nil
}
