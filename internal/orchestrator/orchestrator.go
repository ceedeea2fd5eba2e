package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Verista/internal/coord"
	"github.com/shaiso/Verista/internal/domain"
	"github.com/shaiso/Verista/internal/gateway"
	"github.com/shaiso/Verista/internal/repo"
	"github.com/shaiso/Verista/internal/telemetry"
)

// CallStore — durable-хранилище записей звонков.
type CallStore interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Call, error)
	Update(ctx context.Context, call *domain.Call) error
	Finalize(ctx context.Context, call *domain.Call) (bool, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Call, error)
}

// SpecialistStore — справочник специалистов.
type SpecialistStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Specialist, error)
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error
}

// CoordStore — координационное хранилище: очередь, активные, состояние.
type CoordStore interface {
	Enqueue(ctx context.Context, callID uuid.UUID, score float64) error
	GatedPop(ctx context.Context, maxActive int) (uuid.UUID, bool, error)
	QueueDepth(ctx context.Context) (int64, error)
	RemoveQueued(ctx context.Context, callID uuid.UUID) error

	ActiveAdd(ctx context.Context, callID uuid.UUID) error
	ActiveRemove(ctx context.Context, callID uuid.UUID) error
	ActiveCount(ctx context.Context) (int64, error)
	ActiveMembers(ctx context.Context) ([]uuid.UUID, error)

	SaveState(ctx context.Context, st *coord.CallState) error
	GetState(ctx context.Context, callID uuid.UUID) (*coord.CallState, error)
	UpdateState(ctx context.Context, callID uuid.UUID, fields map[string]string) error
	DropState(ctx context.Context, callID uuid.UUID) error
}

// Config — конфигурация Orchestrator.
type Config struct {
	Calls       CallStore
	Specialists SpecialistStore
	Coord       CoordStore
	Dialer      gateway.Dialer
	Logger      *slog.Logger

	// MaxConcurrent — максимум одновременно активных звонков.
	MaxConcurrent int

	// MaxRetries — максимум повторных попыток на звонок.
	MaxRetries int

	// BackoffBase — базовая задержка retry.
	BackoffBase time.Duration

	// BackoffMultiplier — множитель экспоненциального backoff.
	BackoffMultiplier float64

	// TrunkID — исходящий SIP-транк.
	TrunkID string

	// CallerID — номер, отображаемый вызываемому.
	CallerID string
}

// Orchestrator управляет жизненным циклом верификационных звонков.
type Orchestrator struct {
	calls       CallStore
	specialists SpecialistStore
	coord       CoordStore
	dialer      gateway.Dialer
	logger      *slog.Logger

	maxConcurrent     int
	maxRetries        int
	backoffBase       time.Duration
	backoffMultiplier float64
	trunkID           string
	callerID          string
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		calls:             cfg.Calls,
		specialists:       cfg.Specialists,
		coord:             cfg.Coord,
		dialer:            cfg.Dialer,
		logger:            logger,
		maxConcurrent:     cfg.MaxConcurrent,
		maxRetries:        cfg.MaxRetries,
		backoffBase:       cfg.BackoffBase,
		backoffMultiplier: cfg.BackoffMultiplier,
		trunkID:           cfg.TrunkID,
		callerID:          cfg.CallerID,
	}
}

// Schedule ставит новый верификационный звонок в очередь.
//
// Сначала создаётся durable-запись, и только потом координационное
// состояние и позиция в очереди: если durable-запись не создалась,
// звонка не существует — ошибка возвращается вызывающему, очередь
// не трогается.
func (o *Orchestrator) Schedule(ctx context.Context, specialistID uuid.UUID, priority float64, metadata map[string]string) (*domain.Call, error) {
	call := domain.NewCall(specialistID)

	if err := o.calls.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("create call record: %w", err)
	}

	st := &coord.CallState{
		CallID:       call.ID,
		SpecialistID: specialistID,
		Status:       domain.CallStatusQueued,
		ScheduledAt:  call.CreatedAt,
		Metadata:     metadata,
	}
	if err := o.coord.SaveState(ctx, st); err != nil {
		return nil, fmt.Errorf("save call state: %w", err)
	}

	score := coord.Score(priority, call.CreatedAt)
	if err := o.coord.Enqueue(ctx, call.ID, score); err != nil {
		return nil, fmt.Errorf("enqueue call: %w", err)
	}

	o.logger.Info("call scheduled",
		"call_id", call.ID,
		"specialist_id", specialistID,
		"priority", priority,
	)

	return call, nil
}

// GetNextCall атомарно снимает следующий звонок из очереди, если лимит
// конкурентности позволяет.
//
// Возвращает (nil, nil), когда отдавать нечего: очередь пуста, лимит
// достигнут или верхние записи ждут backoff. Звонок с потерянным
// состоянием пропускается, и выборка повторяется.
func (o *Orchestrator) GetNextCall(ctx context.Context) (*coord.CallState, error) {
	for {
		callID, ok, err := o.coord.GatedPop(ctx, o.maxConcurrent)
		if err != nil {
			return nil, fmt.Errorf("pop next call: %w", err)
		}
		if !ok {
			return nil, nil
		}

		st, err := o.coord.GetState(ctx, callID)
		if errors.Is(err, coord.ErrStateMissing) {
			// Состояние потеряно (flush Redis или рассинхрон). Запись
			// уже снята из очереди; пробуем следующую.
			o.logger.Warn("dropping call with missing state", "call_id", callID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load call state: %w", err)
		}

		return st, nil
	}
}

// DispatchCall выполняет одну попытку dispatch: валидация специалиста,
// создание голосовой сессии и набор исходящей ноги.
//
// Валидационные ошибки (нет специалиста, нет номера) терминальны —
// звонок фейлится без обращения к шлюзу. Ошибки шлюза транзиентны и
// уходят в retry-машину.
func (o *Orchestrator) DispatchCall(ctx context.Context, callID uuid.UUID) error {
	call, err := o.calls.GetByID(ctx, callID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("call %s: %w", callID, ErrCallNotFound)
	}
	if err != nil {
		return fmt.Errorf("load call: %w", err)
	}

	if call.IsFinished() {
		o.logger.Warn("dispatch of finished call ignored",
			"call_id", callID, "status", call.Status)
		return nil
	}

	sp, err := o.specialists.GetByID(ctx, call.SpecialistID)
	if errors.Is(err, repo.ErrNotFound) {
		telemetry.DispatchAttempts.WithLabelValues("validation_error").Inc()
		o.failTerminal(ctx, call, ErrSpecialistMissing.Error())
		return ErrSpecialistMissing
	}
	if err != nil {
		return fmt.Errorf("load specialist: %w", err)
	}

	if sp.Phone == "" {
		telemetry.DispatchAttempts.WithLabelValues("validation_error").Inc()
		o.failTerminal(ctx, call, ErrNoDestination.Error())
		return ErrNoDestination
	}

	var metadata map[string]string
	st, err := o.coord.GetState(ctx, callID)
	if err == nil {
		metadata = st.Metadata
	} else if !errors.Is(err, coord.ErrStateMissing) {
		return fmt.Errorf("load call state: %w", err)
	}

	sessionID := "verify-" + call.ID.String()

	if err := o.placeCall(ctx, call, sp, sessionID, metadata); err != nil {
		telemetry.DispatchAttempts.WithLabelValues("gateway_error").Inc()
		o.logger.Warn("dispatch attempt failed",
			"call_id", call.ID,
			"retry_count", call.RetryCount,
			"error", err,
		)
		o.handleFailure(ctx, call, err.Error())
		return nil
	}

	// Сначала durable-запись, потом множество активных: слот гейта
	// нельзя занимать записью, которая по БД всё ещё QUEUED — reconcile
	// такую не видит и слот не вернёт. Если Update упал, сессия уже
	// живёт в шлюзе и её исход финализирует запись обычным вебхуком.
	call.MarkDispatched(sessionID)
	if err := o.calls.Update(ctx, call); err != nil {
		return fmt.Errorf("update dispatched call: %w", err)
	}

	if err := o.coord.ActiveAdd(ctx, call.ID); err != nil {
		o.logger.Warn("failed to mark call active",
			"call_id", call.ID, "error", err)
	}

	if err := o.coord.UpdateState(ctx, call.ID, map[string]string{
		"status":     string(domain.CallStatusDispatched),
		"session_id": sessionID,
	}); err != nil {
		o.logger.Warn("failed to update coordination state",
			"call_id", call.ID, "error", err)
	}

	telemetry.DispatchAttempts.WithLabelValues("ok").Inc()
	o.logger.Info("call dispatched",
		"call_id", call.ID,
		"specialist_id", sp.ID,
		"session_id", sessionID,
	)

	return nil
}

// placeCall — оба вызова шлюза, образующие одну попытку dispatch.
func (o *Orchestrator) placeCall(ctx context.Context, call *domain.Call, sp *domain.Specialist, sessionID string, metadata map[string]string) error {
	timer := time.Now()
	defer func() {
		telemetry.DispatchDuration.Observe(time.Since(timer).Seconds())
	}()

	sessionMeta := map[string]string{
		"call_id":         call.ID.String(),
		"specialist_id":   sp.ID.String(),
		"specialist_name": sp.Name,
		"caller_id":       o.callerID,
	}
	for k, v := range metadata {
		sessionMeta[k] = v
	}

	if err := o.dialer.CreateSession(ctx, sessionID, sessionMeta); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	req := gateway.LegRequest{
		SessionID:           sessionID,
		TrunkID:             o.trunkID,
		Destination:         sp.Phone,
		ParticipantIdentity: "phone-" + sp.ID.String()[:8],
	}
	if err := o.dialer.PlaceOutboundLeg(ctx, req); err != nil {
		return fmt.Errorf("place outbound leg: %w", err)
	}

	return nil
}

// CallCompleted обрабатывает сигнал об успешном завершении звонка.
//
// Идемпотентна: повторный сигнал и сигнал после failed — no-op.
// Первый терминальный переход побеждает на уровне durable-хранилища.
func (o *Orchestrator) CallCompleted(ctx context.Context, callID uuid.UUID, transcript string) error {
	call, err := o.calls.GetByID(ctx, callID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("call %s: %w", callID, ErrCallNotFound)
	}
	if err != nil {
		return fmt.Errorf("load call: %w", err)
	}

	if call.IsFinished() {
		o.cleanupCoordination(ctx, callID)
		return nil
	}

	call.MarkCompleted(transcript)

	applied, err := o.calls.Finalize(ctx, call)
	if err != nil {
		return fmt.Errorf("finalize call: %w", err)
	}
	if !applied {
		// Конкурирующий терминальный сигнал успел раньше.
		o.cleanupCoordination(ctx, callID)
		return nil
	}

	o.cleanupCoordination(ctx, callID)
	telemetry.CallsCompleted.Inc()

	// Верификация специалиста — best effort: провал отметки не делает
	// завершённый звонок незавершённым.
	if err := o.specialists.MarkVerified(ctx, call.SpecialistID, time.Now().UTC()); err != nil {
		o.logger.Warn("failed to mark specialist verified",
			"specialist_id", call.SpecialistID, "error", err)
	}

	o.logger.Info("call completed",
		"call_id", callID,
		"specialist_id", call.SpecialistID,
		"transcript_len", len(transcript),
	)

	return nil
}

// CallFailed обрабатывает сигнал о провале попытки звонка.
//
// Если лимит retry не исчерпан, звонок возвращается в очередь с
// backoff; иначе фейлится терминально. Сигнал по уже завершённому
// звонку — no-op.
func (o *Orchestrator) CallFailed(ctx context.Context, callID uuid.UUID, reason string) error {
	call, err := o.calls.GetByID(ctx, callID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("call %s: %w", callID, ErrCallNotFound)
	}
	if err != nil {
		return fmt.Errorf("load call: %w", err)
	}

	if call.IsFinished() {
		o.cleanupCoordination(ctx, callID)
		return nil
	}

	// Активным звонок быть перестал в любом исходе: retry вернёт его
	// через очередь, терминальный провал закроет совсем.
	if err := o.coord.ActiveRemove(ctx, callID); err != nil {
		o.logger.Warn("failed to remove call from active set",
			"call_id", callID, "error", err)
	}

	o.handleFailure(ctx, call, reason)
	return nil
}

// cleanupCoordination убирает следы звонка из координационного
// хранилища: позицию в очереди, членство в множестве активных и Hash
// состояния. Терминальный звонок не должен остаться ни в одном из них.
// Ошибки логируются и глотаются: reconcile подчистит.
func (o *Orchestrator) cleanupCoordination(ctx context.Context, callID uuid.UUID) {
	if err := o.coord.RemoveQueued(ctx, callID); err != nil {
		o.logger.Warn("failed to remove call from queue",
			"call_id", callID, "error", err)
	}
	if err := o.coord.ActiveRemove(ctx, callID); err != nil {
		o.logger.Warn("failed to remove call from active set",
			"call_id", callID, "error", err)
	}
	if err := o.coord.DropState(ctx, callID); err != nil {
		o.logger.Warn("failed to drop call state",
			"call_id", callID, "error", err)
	}
}

// Stats — сводка по очереди и активным звонкам.
type Stats struct {
	QueueDepth  int64 `json:"queue_depth"`
	ActiveCalls int64 `json:"active_calls"`
}

// QueueStats возвращает текущую сводку координационного хранилища.
func (o *Orchestrator) QueueStats(ctx context.Context) (*Stats, error) {
	depth, err := o.coord.QueueDepth(ctx)
	if err != nil {
		return nil, err
	}
	active, err := o.coord.ActiveCount(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{QueueDepth: depth, ActiveCalls: active}, nil
}
