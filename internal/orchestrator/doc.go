// Package orchestrator — ядро оркестрации верификационных звонков.
//
// Orchestrator владеет жизненным циклом звонка: постановка в очередь,
// выдача следующего кандидата с учётом лимита конкурентности, dispatch
// через голосовой шлюз, обработка завершения и провала, retry с
// экспоненциальным backoff и reconcile зависших звонков.
//
// Durable-запись в Postgres — источник правды об истории; Redis через
// coord.Store — эфемерная координация (очередь, активные, состояние).
// Порядок записи фиксированный: сначала durable, потом координация.
package orchestrator
