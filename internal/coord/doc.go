// Package coord — эфемерное координационное хранилище на Redis.
//
// Хранит живое состояние обзвона:
//   - Приоритетную очередь звонков (Sorted Set, score = приоритет)
//   - Множество активных звонков (Set, ограничивает конкурентность)
//   - Снимок состояния каждого звонка (Hash на call_id)
//
// Источник правды для живой координации. Может быть потерян при
// рестарте Redis — история живёт в durable-хранилище (internal/repo),
// новые звонки корректны и без восстановления.
//
// Композитная операция "проверить лимит активных → снять максимум из
// очереди" выполняется одним Lua-скриптом, поэтому лимит конкурентности
// не может быть превышен даже при нескольких конкурирующих вызовах.
package coord
