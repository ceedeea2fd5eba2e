package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shaiso/Verista/internal/domain"
)

const sweepBatchSize = 50

// sweepPriority — приоритет плановых верификационных звонков.
// Ниже любого ручного приоритета из API: плановый обзвон не должен
// задерживать явно заказанные звонки.
const sweepPriority = 0.0

// CallScheduler — часть оркестратора, нужная плановому обзвону.
type CallScheduler interface {
	Schedule(ctx context.Context, specialistID uuid.UUID, priority float64, metadata map[string]string) (*domain.Call, error)
}

// SpecialistSource — выборка специалистов с устаревшей верификацией.
type SpecialistSource interface {
	ListDueForVerification(ctx context.Context, cutoff time.Time, limit int) ([]domain.Specialist, error)
}

// PendingCallSource — проверка незавершённых звонков специалиста.
type PendingCallSource interface {
	HasPendingCall(ctx context.Context, specialistID uuid.UUID) (bool, error)
}

// SweepConfig — конфигурация планового обзвона.
type SweepConfig struct {
	Scheduler   CallScheduler
	Specialists SpecialistSource
	Calls       PendingCallSource
	Logger      *slog.Logger

	// CronSpec — расписание запусков (стандартный 5-польный cron).
	// По умолчанию рабочие часы: каждый час с 9 до 17 по будням.
	CronSpec string

	// ReverifyAfter — возраст верификации, после которого специалисту
	// пора звонить снова.
	ReverifyAfter time.Duration
}

// Sweep ставит верификационные звонки по расписанию.
type Sweep struct {
	scheduler     CallScheduler
	specialists   SpecialistSource
	calls         PendingCallSource
	logger        *slog.Logger
	schedule      cron.Schedule
	reverifyAfter time.Duration
}

// NewSweep создаёт Sweep, валидируя cron-выражение.
func NewSweep(cfg SweepConfig) (*Sweep, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.CronSpec)
	if err != nil {
		return nil, fmt.Errorf("parse call window cron %q: %w", cfg.CronSpec, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweep{
		scheduler:     cfg.Scheduler,
		specialists:   cfg.Specialists,
		calls:         cfg.Calls,
		logger:        logger,
		schedule:      schedule,
		reverifyAfter: cfg.ReverifyAfter,
	}, nil
}

// Run крутит расписание до отмены контекста.
func (s *Sweep) Run(ctx context.Context) {
	for {
		next := s.schedule.Next(time.Now())
		s.logger.Debug("next verification sweep", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("verification sweep failed", "error", err)
		}
	}
}

// RunOnce выполняет один проход: найти специалистов с устаревшей
// верификацией и поставить на каждого звонок.
func (s *Sweep) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.reverifyAfter)

	due, err := s.specialists.ListDueForVerification(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("list due specialists: %w", err)
	}

	scheduled := 0
	for i := range due {
		sp := &due[i]
		if sp.Phone == "" {
			// Без номера звонок провалит валидацию; пропускаем сразу.
			continue
		}

		// Выборка уже отсеивает специалистов с незавершённым звонком,
		// но между выборкой и постановкой конкурирует API — проверяем
		// ещё раз перед постановкой.
		pending, err := s.calls.HasPendingCall(ctx, sp.ID)
		if err != nil {
			s.logger.Error("failed to check pending call",
				"specialist_id", sp.ID, "error", err)
			continue
		}
		if pending {
			continue
		}

		_, err = s.scheduler.Schedule(ctx, sp.ID, sweepPriority, map[string]string{
			"trigger": "scheduled_sweep",
		})
		if err != nil {
			s.logger.Error("failed to schedule sweep call",
				"specialist_id", sp.ID, "error", err)
			continue
		}
		scheduled++
	}

	if scheduled > 0 {
		s.logger.Info("verification sweep scheduled calls",
			"due", len(due), "scheduled", scheduled)
	}

	return nil
}
