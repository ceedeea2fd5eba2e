package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Verista/internal/orchestrator"
)

// ReportCallCompleted принимает сигнал об успешном завершении звонка.
// POST /api/v1/events/call-completed
//
// Сигнал уходит в RabbitMQ и обрабатывается dialer-процессом; при
// недоступном publisher оркестратор вызывается напрямую, чтобы не
// терять сигнал.
func (h *Handler) ReportCallCompleted(w http.ResponseWriter, r *http.Request) {
	var ev CallCompletedEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if ev.CallID == uuid.Nil {
		BadRequest(w, "call_id is required")
		return
	}

	if h.publisher != nil {
		err := h.publisher.PublishCallCompleted(r.Context(), ev.CallID, ev.Transcript)
		if err == nil {
			Accepted(w, ev)
			return
		}
		h.logger.Warn("publish call.completed failed, applying directly",
			"call_id", ev.CallID, "error", err)
	}

	if err := h.orch.CallCompleted(r.Context(), ev.CallID, ev.Transcript); err != nil {
		if errors.Is(err, orchestrator.ErrCallNotFound) {
			NotFound(w, "call not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Success(w, ev)
}

// ReportCallFailed принимает сигнал о провале попытки звонка.
// POST /api/v1/events/call-failed
func (h *Handler) ReportCallFailed(w http.ResponseWriter, r *http.Request) {
	var ev CallFailedEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if ev.CallID == uuid.Nil {
		BadRequest(w, "call_id is required")
		return
	}

	if h.publisher != nil {
		err := h.publisher.PublishCallFailed(r.Context(), ev.CallID, ev.Reason)
		if err == nil {
			Accepted(w, ev)
			return
		}
		h.logger.Warn("publish call.failed failed, applying directly",
			"call_id", ev.CallID, "error", err)
	}

	if err := h.orch.CallFailed(r.Context(), ev.CallID, ev.Reason); err != nil {
		if errors.Is(err, orchestrator.ErrCallNotFound) {
			NotFound(w, "call not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Success(w, ev)
}
