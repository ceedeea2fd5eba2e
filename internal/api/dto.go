package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Verista/internal/domain"
)

// Specialist DTOs

// CreateSpecialistRequest — запрос на создание специалиста.
type CreateSpecialistRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	Clinic    string `json:"clinic,omitempty"`
}

// UpdateSpecialistRequest — запрос на обновление специалиста.
type UpdateSpecialistRequest struct {
	Name      *string `json:"name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Specialty *string `json:"specialty,omitempty"`
	Clinic    *string `json:"clinic,omitempty"`
}

// SpecialistResponse — ответ со специалистом.
type SpecialistResponse struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone,omitempty"`
	Specialty      string     `json:"specialty,omitempty"`
	Clinic         string     `json:"clinic,omitempty"`
	Verified       bool       `json:"verified"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SpecialistFromDomain конвертирует domain.Specialist в SpecialistResponse.
func SpecialistFromDomain(s domain.Specialist) SpecialistResponse {
	return SpecialistResponse{
		ID:             s.ID,
		Name:           s.Name,
		Phone:          s.Phone,
		Specialty:      s.Specialty,
		Clinic:         s.Clinic,
		Verified:       s.Verified,
		LastVerifiedAt: s.LastVerifiedAt,
		CreatedAt:      s.CreatedAt,
	}
}

// Call DTOs

// ScheduleCallRequest — запрос на постановку верификационного звонка.
type ScheduleCallRequest struct {
	SpecialistID uuid.UUID         `json:"specialist_id"`
	Priority     float64           `json:"priority,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CallResponse — ответ со звонком.
type CallResponse struct {
	ID            uuid.UUID  `json:"id"`
	SpecialistID  uuid.UUID  `json:"specialist_id"`
	Direction     string     `json:"direction"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	SessionID     string     `json:"session_id,omitempty"`
	Transcript    string     `json:"transcript,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CallFromDomain конвертирует domain.Call в CallResponse.
func CallFromDomain(c domain.Call) CallResponse {
	return CallResponse{
		ID:            c.ID,
		SpecialistID:  c.SpecialistID,
		Direction:     c.Direction,
		Status:        string(c.Status),
		RetryCount:    c.RetryCount,
		SessionID:     c.SessionID,
		Transcript:    c.Transcript,
		FailureReason: c.FailureReason,
		StartedAt:     c.StartedAt,
		EndedAt:       c.EndedAt,
		CreatedAt:     c.CreatedAt,
	}
}

// Event DTOs

// CallCompletedEvent — сигнал об успешном завершении от голосовой сессии.
type CallCompletedEvent struct {
	CallID     uuid.UUID `json:"call_id"`
	Transcript string    `json:"transcript,omitempty"`
}

// CallFailedEvent — сигнал о провале попытки звонка.
type CallFailedEvent struct {
	CallID uuid.UUID `json:"call_id"`
	Reason string    `json:"reason,omitempty"`
}
