package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Specialists
	mux.Handle("GET /api/v1/specialists", chain(http.HandlerFunc(h.ListSpecialists)))
	mux.Handle("POST /api/v1/specialists", chain(http.HandlerFunc(h.CreateSpecialist)))
	mux.Handle("GET /api/v1/specialists/{id}", chain(http.HandlerFunc(h.GetSpecialist)))
	mux.Handle("PUT /api/v1/specialists/{id}", chain(http.HandlerFunc(h.UpdateSpecialist)))

	// Calls
	mux.Handle("GET /api/v1/calls", chain(http.HandlerFunc(h.ListCalls)))
	mux.Handle("POST /api/v1/calls", chain(http.HandlerFunc(h.ScheduleCall)))
	mux.Handle("GET /api/v1/calls/{id}", chain(http.HandlerFunc(h.GetCall)))

	// Queue
	mux.Handle("GET /api/v1/queue/stats", chain(http.HandlerFunc(h.GetQueueStats)))

	// Events от голосовой сессии
	mux.Handle("POST /api/v1/events/call-completed", chain(http.HandlerFunc(h.ReportCallCompleted)))
	mux.Handle("POST /api/v1/events/call-failed", chain(http.HandlerFunc(h.ReportCallFailed)))
}
