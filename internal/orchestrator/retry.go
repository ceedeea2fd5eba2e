package orchestrator

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/shaiso/Verista/internal/coord"
	"github.com/shaiso/Verista/internal/domain"
	"github.com/shaiso/Verista/internal/telemetry"
)

// handleFailure — retry-машина.
//
// Пока лимит попыток не исчерпан, звонок возвращается в очередь с
// экспоненциальной задержкой: delay = base * multiplier^retry_count,
// где retry_count — число уже сделанных попыток. Пониженный score
// (-retry_count) ставит повторы позади свежих звонков. Ошибки
// retry-бухгалтерии логируются и глотаются: потерянный retry хуже
// упавшего процесса не делает, reconcile доберёт звонок позже.
//
// После исчерпания лимита звонок фейлится терминально.
func (o *Orchestrator) handleFailure(ctx context.Context, call *domain.Call, reason string) {
	if call.RetryCount >= o.maxRetries {
		o.failTerminal(ctx, call, reason)
		return
	}

	delay := time.Duration(float64(o.backoffBase) * math.Pow(o.backoffMultiplier, float64(call.RetryCount)))
	readyAt := time.Now().UTC().Add(delay)

	call.MarkRequeued(reason)

	if err := o.calls.Update(ctx, call); err != nil {
		o.logger.Warn("failed to persist retry bookkeeping",
			"call_id", call.ID, "error", err)
	}

	if err := o.coord.UpdateState(ctx, call.ID, map[string]string{
		"status":       string(domain.CallStatusQueued),
		"retry_count":  strconv.Itoa(call.RetryCount),
		"last_failure": reason,
		"ready_at":     strconv.FormatInt(readyAt.Unix(), 10),
	}); err != nil {
		o.logger.Warn("failed to update retry state",
			"call_id", call.ID, "error", err)
	}

	score := coord.Score(-float64(call.RetryCount), call.CreatedAt)
	if err := o.coord.Enqueue(ctx, call.ID, score); err != nil {
		o.logger.Warn("failed to re-enqueue call",
			"call_id", call.ID, "error", err)
		return
	}

	telemetry.CallRetries.Inc()
	o.logger.Info("call re-queued for retry",
		"call_id", call.ID,
		"retry_count", call.RetryCount,
		"delay", delay,
		"reason", reason,
	)
}

// failTerminal закрывает звонок терминальным FAILED.
func (o *Orchestrator) failTerminal(ctx context.Context, call *domain.Call, reason string) {
	call.MarkFailed(reason)

	applied, err := o.calls.Finalize(ctx, call)
	if err != nil {
		o.logger.Error("failed to finalize failed call",
			"call_id", call.ID, "error", err)
	}

	o.cleanupCoordination(ctx, call.ID)

	if applied {
		telemetry.CallsFailed.Inc()
		o.logger.Info("call failed terminally",
			"call_id", call.ID,
			"retry_count", call.RetryCount,
			"reason", reason,
		)
	}
}
