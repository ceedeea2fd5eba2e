// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go            — Handler с DI (репозитории, оркестратор, publisher)
//   - routes.go             — регистрация маршрутов
//   - middleware.go         — middleware (logging, recovery)
//   - response.go           — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                — Data Transfer Objects (request/response)
//   - specialist_handler.go — обработчики для /specialists
//   - call_handler.go       — обработчики для /calls и /queue
//   - event_handler.go      — приём сигналов завершения от голосовой сессии
//
// API предоставляет REST endpoints для управления справочником
// специалистов и верификационными звонками.
package api
