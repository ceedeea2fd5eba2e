package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Verista/internal/domain"
)

// SpecialistRepo — репозиторий для работы со специалистами справочника.
type SpecialistRepo struct {
	pool *pgxpool.Pool
}

// NewSpecialistRepo создаёт новый SpecialistRepo.
func NewSpecialistRepo(pool *pgxpool.Pool) *SpecialistRepo {
	return &SpecialistRepo{pool: pool}
}

const specialistColumns = `
	id, name, phone, specialty, clinic, verified, last_verified_at, created_at
`

// Create создаёт нового специалиста.
func (r *SpecialistRepo) Create(ctx context.Context, sp *domain.Specialist) error {
	query := `
		INSERT INTO specialists (id, name, phone, specialty, clinic, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		sp.ID,
		sp.Name,
		nullString(sp.Phone),
		nullString(sp.Specialty),
		nullString(sp.Clinic),
		sp.Verified,
		sp.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert specialist: %w", err)
	}
	return nil
}

// GetByID возвращает специалиста по ID.
func (r *SpecialistRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Specialist, error) {
	query := `SELECT ` + specialistColumns + ` FROM specialists WHERE id = $1`
	return scanSpecialist(r.pool.QueryRow(ctx, query, id))
}

// Update обновляет данные специалиста.
func (r *SpecialistRepo) Update(ctx context.Context, sp *domain.Specialist) error {
	query := `
		UPDATE specialists
		SET name = $2, phone = $3, specialty = $4, clinic = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		sp.ID,
		sp.Name,
		nullString(sp.Phone),
		nullString(sp.Specialty),
		nullString(sp.Clinic),
	)
	if err != nil {
		return fmt.Errorf("update specialist: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает специалистов постранично.
func (r *SpecialistRepo) List(ctx context.Context, limit, offset int) ([]domain.Specialist, error) {
	query := `
		SELECT ` + specialistColumns + `
		FROM specialists
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list specialists: %w", err)
	}
	defer rows.Close()

	var specialists []domain.Specialist
	for rows.Next() {
		sp, err := scanSpecialist(rows)
		if err != nil {
			return nil, err
		}
		specialists = append(specialists, *sp)
	}
	return specialists, rows.Err()
}

// ListDueForVerification возвращает специалистов, которым пора звонить:
// неверифицированных или с верификацией старше cutoff. Специалисты с
// незавершённым звонком (queued/dispatched) не выбираются — повторный
// проход не должен ставить дубликат, пока предыдущий звонок в очереди,
// на backoff или в активной сессии.
func (r *SpecialistRepo) ListDueForVerification(ctx context.Context, cutoff time.Time, limit int) ([]domain.Specialist, error) {
	query := `
		SELECT ` + specialistColumns + `
		FROM specialists
		WHERE (verified = false
		   OR last_verified_at IS NULL
		   OR last_verified_at < $1)
		  AND NOT EXISTS (
			SELECT 1 FROM verification_calls vc
			WHERE vc.specialist_id = specialists.id
			  AND vc.status IN ('queued', 'dispatched')
		  )
		ORDER BY last_verified_at ASC NULLS FIRST
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list due specialists: %w", err)
	}
	defer rows.Close()

	var specialists []domain.Specialist
	for rows.Next() {
		sp, err := scanSpecialist(rows)
		if err != nil {
			return nil, err
		}
		specialists = append(specialists, *sp)
	}
	return specialists, rows.Err()
}

// MarkVerified отмечает успешную верификацию специалиста.
func (r *SpecialistRepo) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE specialists
		SET verified = true, last_verified_at = $2
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanSpecialist сканирует одну строку в Specialist.
func scanSpecialist(row pgx.Row) (*domain.Specialist, error) {
	var sp domain.Specialist
	var phone, specialty, clinic *string

	err := row.Scan(
		&sp.ID,
		&sp.Name,
		&phone,
		&specialty,
		&clinic,
		&sp.Verified,
		&sp.LastVerifiedAt,
		&sp.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan specialist: %w", err)
	}

	if phone != nil {
		sp.Phone = *phone
	}
	if specialty != nil {
		sp.Specialty = *specialty
	}
	if clinic != nil {
		sp.Clinic = *clinic
	}

	return &sp, nil
}
