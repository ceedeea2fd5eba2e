package coord

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Verista/internal/domain"
)

// CallState — эфемерный снимок состояния звонка (один Hash на call_id).
//
// Зеркалит координационно-значимые поля durable-записи. Существует
// только пока звонок живой или ждёт retry; после рестарта Redis
// может быть восстановлен из durable-хранилища, но для корректности
// новых звонков это не требуется.
type CallState struct {
	// CallID — идентификатор звонка.
	CallID uuid.UUID

	// SpecialistID — специалист, которому звоним.
	SpecialistID uuid.UUID

	// Status — текущий статус (зеркало durable-записи).
	Status domain.CallStatus

	// RetryCount — количество сделанных повторных попыток.
	RetryCount int

	// SessionID — идентификатор голосовой сессии. Непустой для DISPATCHED.
	SessionID string

	// LastFailure — причина последней неудачи.
	LastFailure string

	// ReadyAt — момент, раньше которого звонок не подлежит dequeue.
	// Ненулевой только для retry (backoff): до ReadyAt gated pop
	// пропускает запись, возвращая её в очередь.
	ReadyAt time.Time

	// ScheduledAt — время постановки в очередь.
	ScheduledAt time.Time

	// Metadata — плоская карта строковых значений, передаваемая
	// голосовой сессии как контекст диалога. Вложенных структур нет:
	// контракт хранилища остаётся типизированным.
	Metadata map[string]string
}

// toMap сериализует CallState в поля Redis Hash.
func (s *CallState) toMap() (map[string]any, error) {
	fields := map[string]any{
		"call_id":       s.CallID.String(),
		"specialist_id": s.SpecialistID.String(),
		"status":        string(s.Status),
		"retry_count":   strconv.Itoa(s.RetryCount),
		"scheduled_at":  strconv.FormatInt(s.ScheduledAt.Unix(), 10),
	}
	if s.SessionID != "" {
		fields["session_id"] = s.SessionID
	}
	if s.LastFailure != "" {
		fields["last_failure"] = s.LastFailure
	}
	if !s.ReadyAt.IsZero() {
		fields["ready_at"] = strconv.FormatInt(s.ReadyAt.Unix(), 10)
	}
	if len(s.Metadata) > 0 {
		raw, err := json.Marshal(s.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		fields["metadata"] = string(raw)
	}
	return fields, nil
}

// stateFromMap восстанавливает CallState из полей Redis Hash.
func stateFromMap(fields map[string]string) (*CallState, error) {
	callID, err := uuid.Parse(fields["call_id"])
	if err != nil {
		return nil, fmt.Errorf("parse call_id: %w", err)
	}
	specialistID, err := uuid.Parse(fields["specialist_id"])
	if err != nil {
		return nil, fmt.Errorf("parse specialist_id: %w", err)
	}

	st := &CallState{
		CallID:       callID,
		SpecialistID: specialistID,
		Status:       domain.CallStatus(fields["status"]),
		SessionID:    fields["session_id"],
		LastFailure:  fields["last_failure"],
	}

	if v := fields["retry_count"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse retry_count: %w", err)
		}
		st.RetryCount = n
	}
	if v := fields["ready_at"]; v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ready_at: %w", err)
		}
		st.ReadyAt = time.Unix(sec, 0).UTC()
	}
	if v := fields["scheduled_at"]; v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse scheduled_at: %w", err)
		}
		st.ScheduledAt = time.Unix(sec, 0).UTC()
	}
	if raw := fields["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return st, nil
}
