package worker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/certledger/shared/rabbitmq"
)

// Notifier delivers job-ready messages. Messages only wake idle workers;
// the job store stays the source of truth for what can be claimed.
type Notifier interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// setupConsumer starts consuming job-ready messages
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.notifier.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Job notification consumer started",
		slog.String("consumer_tag", w.workerID),
	)

	return deliveries, nil
}

// startMessageDispatcher turns job-ready deliveries into wake-ups
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopChan:
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed, falling back to polling")
				return
			}
			w.dispatch(delivery)
		}
	}
}

func (w *Worker) dispatch(delivery amqp.Delivery) {
	msg, err := rabbitmq.DecodeJobReady(delivery.Body)
	if err != nil {
		w.logger.Error("Discarding invalid job notification",
			slog.String("body", string(delivery.Body)),
			slog.Any("error", err),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK invalid message",
				slog.Any("error", nackErr),
			)
		}
		return
	}

	w.notify()

	if ackErr := delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("job_id", msg.JobID),
			slog.Any("error", ackErr),
		)
		return
	}

	w.logger.Debug("Job notification received",
		slog.String("job_id", msg.JobID),
	)
}
