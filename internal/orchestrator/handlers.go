package orchestrator

import (
	"context"
	"log/slog"

	"github.com/shaiso/Verista/internal/mq"
)

// CallCompletedHandler возвращает обработчик событий calls.completed.
//
// Некорректный payload не ретраится: сообщение подтверждается и
// выбрасывается, иначе оно крутилось бы в очереди вечно.
func (o *Orchestrator) CallCompletedHandler(logger *slog.Logger) mq.Handler {
	return func(ctx context.Context, d *mq.Delivery) error {
		payload, err := mq.ParsePayload[mq.CallCompletedPayload](&d.Message)
		if err != nil {
			logger.Error("malformed call.completed payload",
				"message_id", d.Message.ID, "error", err)
			return nil
		}
		return o.CallCompleted(ctx, payload.CallID, payload.Transcript)
	}
}

// CallFailedHandler возвращает обработчик событий calls.failed.
func (o *Orchestrator) CallFailedHandler(logger *slog.Logger) mq.Handler {
	return func(ctx context.Context, d *mq.Delivery) error {
		payload, err := mq.ParsePayload[mq.CallFailedPayload](&d.Message)
		if err != nil {
			logger.Error("malformed call.failed payload",
				"message_id", d.Message.ID, "error", err)
			return nil
		}
		return o.CallFailed(ctx, payload.CallID, payload.Reason)
	}
}
