package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Verista/internal/domain"
)

// ListCalls возвращает список звонков с фильтрацией по статусу.
// GET /api/v1/calls?status=...&limit=...&offset=...
func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	status := domain.CallStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	calls, err := h.callRepo.ListByStatus(r.Context(), status, limit, offset)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]CallResponse, len(calls))
	for i, c := range calls {
		result[i] = CallFromDomain(c)
	}

	List(w, result, len(result))
}

// ScheduleCall ставит верификационный звонок в очередь.
// POST /api/v1/calls
func (h *Handler) ScheduleCall(w http.ResponseWriter, r *http.Request) {
	var req ScheduleCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.SpecialistID == uuid.Nil {
		BadRequest(w, "specialist_id is required")
		return
	}

	// Явно заказанный звонок на несуществующего специалиста — ошибка
	// клиента, а не терминальный провал при dispatch.
	if _, err := h.specialistRepo.GetByID(r.Context(), req.SpecialistID); HandleRepoError(w, h.logger, err, "specialist not found") {
		return
	}

	call, err := h.orch.Schedule(r.Context(), req.SpecialistID, req.Priority, req.Metadata)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, CallFromDomain(*call))
}

// GetCall возвращает звонок по ID.
// GET /api/v1/calls/{id}
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid call id")
		return
	}

	call, err := h.callRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "call not found") {
		return
	}

	Success(w, CallFromDomain(*call))
}

// GetQueueStats возвращает сводку по очереди и активным звонкам.
// GET /api/v1/queue/stats
func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orch.QueueStats(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, stats)
}
