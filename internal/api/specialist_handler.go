package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Verista/internal/domain"
)

// ListSpecialists возвращает список специалистов постранично.
// GET /api/v1/specialists?limit=...&offset=...
func (h *Handler) ListSpecialists(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	specialists, err := h.specialistRepo.List(r.Context(), limit, offset)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]SpecialistResponse, len(specialists))
	for i, sp := range specialists {
		result[i] = SpecialistFromDomain(sp)
	}

	List(w, result, len(result))
}

// CreateSpecialist создаёт нового специалиста.
// POST /api/v1/specialists
func (h *Handler) CreateSpecialist(w http.ResponseWriter, r *http.Request) {
	var req CreateSpecialistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	sp := &domain.Specialist{
		ID:        uuid.New(),
		Name:      req.Name,
		Phone:     req.Phone,
		Specialty: req.Specialty,
		Clinic:    req.Clinic,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.specialistRepo.Create(r.Context(), sp); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, SpecialistFromDomain(*sp))
}

// GetSpecialist возвращает специалиста по ID.
// GET /api/v1/specialists/{id}
func (h *Handler) GetSpecialist(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid specialist id")
		return
	}

	sp, err := h.specialistRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "specialist not found") {
		return
	}

	Success(w, SpecialistFromDomain(*sp))
}

// UpdateSpecialist обновляет данные специалиста.
// PUT /api/v1/specialists/{id}
func (h *Handler) UpdateSpecialist(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid specialist id")
		return
	}

	var req UpdateSpecialistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sp, err := h.specialistRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "specialist not found") {
		return
	}

	if req.Name != nil {
		sp.Name = *req.Name
	}
	if req.Phone != nil {
		sp.Phone = *req.Phone
	}
	if req.Specialty != nil {
		sp.Specialty = *req.Specialty
	}
	if req.Clinic != nil {
		sp.Clinic = *req.Clinic
	}

	if err := h.specialistRepo.Update(r.Context(), sp); HandleRepoError(w, h.logger, err, "specialist not found") {
		return
	}

	Success(w, SpecialistFromDomain(*sp))
}

// queryInt парсит целочисленный query-параметр с дефолтным значением.
func queryInt(r *http.Request, name string, defaultVal int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
