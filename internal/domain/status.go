package domain

// CallStatus — статус верификационного звонка.
//
// Жизненный цикл:
//
//	QUEUED → DISPATCHED → COMPLETED
//	                    ↘ FAILED (retryable → обратно в QUEUED,
//	                              иначе терминальный)
type CallStatus string

const (
	// CallStatusQueued — звонок в очереди, ожидает dispatch.
	CallStatusQueued CallStatus = "queued"

	// CallStatusDispatched — исходящая нога набрана, сессия создана.
	CallStatusDispatched CallStatus = "dispatched"

	// CallStatusCompleted — звонок успешно завершён, транскрипт сохранён.
	CallStatusCompleted CallStatus = "completed"

	// CallStatusFailed — звонок провален окончательно (retry исчерпаны
	// или непроходимая ошибка валидации).
	CallStatusFailed CallStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный (звонок завершён).
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed:
		return true
	default:
		return false
	}
}
