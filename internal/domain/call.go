package domain

import (
	"time"

	"github.com/google/uuid"
)

// DirectionOutbound — единственное поддерживаемое направление звонка.
// Поле оставлено в записи на случай входящих callback-звонков.
const DirectionOutbound = "outbound"

// Call — durable запись о верификационном звонке.
//
// Запись создаётся при постановке звонка в очередь и живёт вечно —
// это исторический источник правды, переживающий рестарты. Мутирует
// её только Orchestrator; записи никогда не удаляются.
type Call struct {
	// ID — уникальный идентификатор звонка.
	ID uuid.UUID `json:"id"`

	// SpecialistID — специалист, данные которого проверяет звонок.
	SpecialistID uuid.UUID `json:"specialist_id"`

	// Direction — направление звонка ("outbound").
	Direction string `json:"direction"`

	// Status — текущий статус жизненного цикла.
	Status CallStatus `json:"status"`

	// RetryCount — количество сделанных повторных попыток.
	// Монотонно растёт и не превышает max_retry_attempts.
	RetryCount int `json:"retry_count"`

	// SessionID — идентификатор голосовой сессии у шлюза.
	// Непустой для любого звонка, дошедшего до DISPATCHED.
	SessionID string `json:"session_id,omitempty"`

	// Transcript — итоговый транскрипт разговора.
	// Пустая строка допустима (разговор не состоялся, но сессия закрылась штатно).
	Transcript string `json:"transcript,omitempty"`

	// FailureReason — причина последней (или окончательной) неудачи.
	FailureReason string `json:"failure_reason,omitempty"`

	// StartedAt — время dispatch (когда статус стал DISPATCHED).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt — время терминального перехода (COMPLETED или FAILED).
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// CreatedAt — время постановки в очередь.
	CreatedAt time.Time `json:"created_at"`
}

// NewCall создаёт новую запись звонка в статусе QUEUED.
func NewCall(specialistID uuid.UUID) *Call {
	return &Call{
		ID:           uuid.New(),
		SpecialistID: specialistID,
		Direction:    DirectionOutbound,
		Status:       CallStatusQueued,
		CreatedAt:    time.Now().UTC(),
	}
}

// Duration возвращает продолжительность звонка.
// Возвращает 0, если звонок ещё не завершён.
func (c *Call) Duration() time.Duration {
	if c.StartedAt == nil || c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(*c.StartedAt)
}

// IsFinished возвращает true, если звонок в терминальном статусе.
func (c *Call) IsFinished() bool {
	return c.Status.IsTerminal()
}

// MarkDispatched переводит звонок в статус DISPATCHED с идентификатором сессии.
func (c *Call) MarkDispatched(sessionID string) {
	now := time.Now().UTC()
	c.Status = CallStatusDispatched
	c.SessionID = sessionID
	c.StartedAt = &now
}

// MarkCompleted переводит звонок в статус COMPLETED с транскриптом.
func (c *Call) MarkCompleted(transcript string) {
	now := time.Now().UTC()
	c.Status = CallStatusCompleted
	c.Transcript = transcript
	c.EndedAt = &now
}

// MarkFailed переводит звонок в терминальный статус FAILED.
func (c *Call) MarkFailed(reason string) {
	now := time.Now().UTC()
	c.Status = CallStatusFailed
	c.FailureReason = reason
	c.EndedAt = &now
}

// MarkRequeued возвращает звонок в QUEUED после неудачной попытки.
// Терминальные поля не трогаем — звонок ещё живой.
func (c *Call) MarkRequeued(reason string) {
	c.Status = CallStatusQueued
	c.FailureReason = reason
	c.RetryCount++
}
