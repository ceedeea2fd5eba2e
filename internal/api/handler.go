package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Verista/internal/domain"
	"github.com/shaiso/Verista/internal/mq"
	"github.com/shaiso/Verista/internal/orchestrator"
	"github.com/shaiso/Verista/internal/repo"
)

// Orchestration — часть оркестратора, доступная через API.
type Orchestration interface {
	Schedule(ctx context.Context, specialistID uuid.UUID, priority float64, metadata map[string]string) (*domain.Call, error)
	CallCompleted(ctx context.Context, callID uuid.UUID, transcript string) error
	CallFailed(ctx context.Context, callID uuid.UUID, reason string) error
	QueueStats(ctx context.Context) (*orchestrator.Stats, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	callRepo       *repo.CallRepo
	specialistRepo *repo.SpecialistRepo
	orch           Orchestration
	publisher      *mq.Publisher
	logger         *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	CallRepo       *repo.CallRepo
	SpecialistRepo *repo.SpecialistRepo
	Orchestration  Orchestration
	Publisher      *mq.Publisher
	Logger         *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		callRepo:       cfg.CallRepo,
		specialistRepo: cfg.SpecialistRepo,
		orch:           cfg.Orchestration,
		publisher:      cfg.Publisher,
		logger:         cfg.Logger,
	}
}
