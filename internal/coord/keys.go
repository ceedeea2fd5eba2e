package coord

// Ключи Redis.
const (
	// keyQueue — Sorted Set приоритетной очереди: member = call_id,
	// score = приоритет (больше = раньше).
	keyQueue = "calls:queue"

	// keyActive — Set активных (dispatched, не терминальных) call_id.
	keyActive = "calls:active"

	// keyStatePrefix — префикс Hash с состоянием звонка: calls:state:<call_id>.
	keyStatePrefix = "calls:state:"
)

func stateKey(callID string) string {
	return keyStatePrefix + callID
}
