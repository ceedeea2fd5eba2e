package domain

import (
	"time"

	"github.com/google/uuid"
)

// Specialist — запись справочника, которую проверяют звонками.
//
// Источник данных — внешний импорт справочника; сервис только
// верифицирует поля и обновляет отметку о верификации.
type Specialist struct {
	// ID — уникальный идентификатор специалиста.
	ID uuid.UUID `json:"id"`

	// Name — полное имя.
	Name string `json:"name"`

	// Phone — номер для исходящего звонка в формате E.164.
	// Пустой номер делает dispatch невозможным (терминальная ошибка валидации).
	Phone string `json:"phone"`

	// Specialty — специализация (для контекста диалога).
	Specialty string `json:"specialty,omitempty"`

	// Clinic — название клиники.
	Clinic string `json:"clinic,omitempty"`

	// Verified — прошёл ли специалист верификацию хотя бы раз.
	Verified bool `json:"verified"`

	// LastVerifiedAt — время последнего успешного верификационного звонка.
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// NeedsVerification возвращает true, если специалисту пора звонить:
// он ещё не верифицирован или верификация устарела.
func (s *Specialist) NeedsVerification(maxAge time.Duration, now time.Time) bool {
	if !s.Verified || s.LastVerifiedAt == nil {
		return true
	}
	return now.Sub(*s.LastVerifiedAt) > maxAge
}
