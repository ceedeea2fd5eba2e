package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrSpecialistMissing — специалист не найден в справочнике.
	// Валидационная ошибка: звонок фейлится терминально, без retry.
	ErrSpecialistMissing = errors.New("specialist not found")

	// ErrNoDestination — у специалиста нет номера телефона.
	// Валидационная ошибка: звонить некуда, retry бессмысленен.
	ErrNoDestination = errors.New("specialist has no phone number")

	// ErrCallNotFound — запись звонка отсутствует в durable-хранилище.
	ErrCallNotFound = errors.New("call not found")
)
