package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Verista/internal/coord"
	"github.com/shaiso/Verista/internal/domain"
	"github.com/shaiso/Verista/internal/repo"
	"github.com/shaiso/Verista/internal/telemetry"
)

const reconcileBatchSize = 100

// ReasonMaxDuration — причина принудительного провала зависшего звонка.
const ReasonMaxDuration = "call exceeded maximum duration"

// Reconcile — страховочный проход по зависшим звонкам.
//
// Сигнал о завершении может потеряться (упал процесс сессии, порвалась
// очередь). Два источника правды сверяются:
//
//  1. durable-записи, висящие в DISPATCHED дольше maxDuration,
//     принудительно фейлятся через обычный retry-путь;
//  2. члены множества активных, чья durable-запись уже терминальна
//     или отсутствует, убираются из координационного хранилища.
//
// Без этого прохода потерянный сигнал навсегда занимал бы слот
// лимита конкурентности.
func (o *Orchestrator) Reconcile(ctx context.Context, maxDuration time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxDuration)

	stale, err := o.calls.ListStale(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		return err
	}

	for i := range stale {
		call := &stale[i]
		o.logger.Warn("reconciling stuck call",
			"call_id", call.ID,
			"started_at", call.StartedAt,
		)
		if err := o.CallFailed(ctx, call.ID, ReasonMaxDuration); err != nil {
			o.logger.Error("failed to reconcile call",
				"call_id", call.ID, "error", err)
			continue
		}
		telemetry.ReconciledCalls.Inc()
	}

	return o.cleanActiveSet(ctx)
}

// cleanActiveSet убирает из множества активных звонки, которые по
// durable-записи уже закончились или вовсе не существуют. Запись,
// которая по БД всё ещё QUEUED, слот не занимает — возвращается в
// очередь.
func (o *Orchestrator) cleanActiveSet(ctx context.Context) error {
	members, err := o.coord.ActiveMembers(ctx)
	if err != nil {
		return err
	}

	for _, id := range members {
		call, err := o.calls.GetByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			o.logger.Warn("active member without call record, removing", "call_id", id)
			o.cleanupCoordination(ctx, id)
			continue
		}
		if err != nil {
			return err
		}
		switch {
		case call.IsFinished():
			o.logger.Warn("active member already terminal, removing",
				"call_id", id, "status", call.Status)
			o.cleanupCoordination(ctx, id)
		case call.Status == domain.CallStatusQueued:
			o.logger.Warn("active member still queued, returning to queue", "call_id", id)
			if err := o.coord.ActiveRemove(ctx, id); err != nil {
				o.logger.Warn("failed to remove call from active set",
					"call_id", id, "error", err)
				continue
			}
			score := coord.Score(-float64(call.RetryCount), call.CreatedAt)
			if err := o.coord.Enqueue(ctx, id, score); err != nil {
				o.logger.Warn("failed to re-enqueue call",
					"call_id", id, "error", err)
			}
		}
	}

	return nil
}
