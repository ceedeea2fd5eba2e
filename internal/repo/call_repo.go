package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Verista/internal/domain"
)

// CallRepo — репозиторий для работы с записями звонков.
type CallRepo struct {
	pool *pgxpool.Pool
}

// NewCallRepo создаёт новый CallRepo.
func NewCallRepo(pool *pgxpool.Pool) *CallRepo {
	return &CallRepo{pool: pool}
}

const callColumns = `
	id, specialist_id, direction, status, retry_count, session_id,
	transcript, failure_reason, started_at, ended_at, created_at
`

// Create создаёт новую запись звонка.
func (r *CallRepo) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO verification_calls
			(id, specialist_id, direction, status, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		call.ID,
		call.SpecialistID,
		call.Direction,
		call.Status,
		call.RetryCount,
		call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// GetByID возвращает запись звонка по ID.
func (r *CallRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM verification_calls WHERE id = $1`
	return scanCall(r.pool.QueryRow(ctx, query, id))
}

// Update обновляет изменяемые поля записи звонка.
func (r *CallRepo) Update(ctx context.Context, call *domain.Call) error {
	query := `
		UPDATE verification_calls
		SET status = $2, retry_count = $3, session_id = $4, transcript = $5,
		    failure_reason = $6, started_at = $7, ended_at = $8
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		call.ID,
		call.Status,
		call.RetryCount,
		nullString(call.SessionID),
		nullString(call.Transcript),
		nullString(call.FailureReason),
		call.StartedAt,
		call.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Finalize применяет терминальный переход (COMPLETED/FAILED) условно:
// запись обновляется только если она ещё не терминальна.
//
// Возвращает true, если переход применён. false означает, что другой
// сигнал (completed/failed) успел раньше — вызывающий обязан считать
// это no-op, а не ошибкой.
func (r *CallRepo) Finalize(ctx context.Context, call *domain.Call) (bool, error) {
	if !call.Status.IsTerminal() {
		return false, fmt.Errorf("finalize with non-terminal status %q: %w", call.Status, ErrInvalidState)
	}

	query := `
		UPDATE verification_calls
		SET status = $2, retry_count = $3, transcript = $4,
		    failure_reason = $5, ended_at = $6
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`
	result, err := r.pool.Exec(ctx, query,
		call.ID,
		call.Status,
		call.RetryCount,
		nullString(call.Transcript),
		nullString(call.FailureReason),
		call.EndedAt,
	)
	if err != nil {
		return false, fmt.Errorf("finalize call: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListByStatus возвращает звонки в указанном статусе (новые первыми).
func (r *CallRepo) ListByStatus(ctx context.Context, status domain.CallStatus, limit, offset int) ([]domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM verification_calls
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, nullString(string(status)), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var calls []domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

// HasPendingCall сообщает, есть ли у специалиста незавершённый
// верификационный звонок (queued или dispatched).
func (r *CallRepo) HasPendingCall(ctx context.Context, specialistID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM verification_calls
			WHERE specialist_id = $1 AND status IN ('queued', 'dispatched')
		)
	`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, specialistID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pending call: %w", err)
	}
	return exists, nil
}

// ListStale возвращает звонки, зависшие в DISPATCHED дольше cutoff.
// Используется reconcile-проходом: сигнал о завершении потерян,
// звонок надо принудительно зафейлить.
func (r *CallRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM verification_calls
		WHERE status = 'dispatched' AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale calls: %w", err)
	}
	defer rows.Close()

	var calls []domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

// scanCall сканирует одну строку в Call.
// pgx.Row и pgx.Rows оба реализуют Scan, поэтому хватает одного хелпера.
func scanCall(row pgx.Row) (*domain.Call, error) {
	var call domain.Call
	var sessionID, transcript, failureReason *string

	err := row.Scan(
		&call.ID,
		&call.SpecialistID,
		&call.Direction,
		&call.Status,
		&call.RetryCount,
		&sessionID,
		&transcript,
		&failureReason,
		&call.StartedAt,
		&call.EndedAt,
		&call.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan call: %w", err)
	}

	if sessionID != nil {
		call.SessionID = *sessionID
	}
	if transcript != nil {
		call.Transcript = *transcript
	}
	if failureReason != nil {
		call.FailureReason = *failureReason
	}

	return &call, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
