package dialer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Verista/internal/coord"
	"github.com/shaiso/Verista/internal/orchestrator"
	"github.com/shaiso/Verista/internal/telemetry"
)

// Dispatcher — часть оркестратора, нужная циклу обзвона.
type Dispatcher interface {
	GetNextCall(ctx context.Context) (*coord.CallState, error)
	DispatchCall(ctx context.Context, callID uuid.UUID) error
	Reconcile(ctx context.Context, maxDuration time.Duration) error
	QueueStats(ctx context.Context) (*orchestrator.Stats, error)
}

// Config — конфигурация Worker.
type Config struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger

	// PollInterval — пауза, когда очередь пуста или гейт закрыт.
	PollInterval time.Duration

	// DispatchInterval — пауза между последовательными dispatch,
	// чтобы не захлебнуть шлюз пачкой одновременных звонков.
	DispatchInterval time.Duration

	// ReconcileInterval — период страховочного прохода.
	ReconcileInterval time.Duration

	// MaxCallDuration — порог, после которого активный звонок
	// считается зависшим.
	MaxCallDuration time.Duration
}

// Worker — одиночный цикл обзвона.
type Worker struct {
	dispatcher Dispatcher
	logger     *slog.Logger

	pollInterval      time.Duration
	dispatchInterval  time.Duration
	reconcileInterval time.Duration
	maxCallDuration   time.Duration

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reconcile := cfg.ReconcileInterval
	if reconcile <= 0 {
		reconcile = time.Minute
	}

	return &Worker{
		dispatcher:        cfg.Dispatcher,
		logger:            logger,
		pollInterval:      cfg.PollInterval,
		dispatchInterval:  cfg.DispatchInterval,
		reconcileInterval: reconcile,
		maxCallDuration:   cfg.MaxCallDuration,
	}
}

// Start запускает фоновые циклы Worker.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.wg.Add(3)
	go func() {
		defer w.wg.Done()
		w.dispatchLoop(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.reconcileLoop(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.statsLoop(ctx)
	}()

	w.logger.Info("dialer worker started",
		"poll_interval", w.pollInterval,
		"dispatch_interval", w.dispatchInterval,
	)
}

// Stop останавливает Worker и дожидается завершения циклов.
func (w *Worker) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
	w.logger.Info("dialer worker stopped")
}

// dispatchLoop — основной цикл: снять следующий звонок, сделать dispatch.
//
// Ошибка dispatch не убивает цикл: оркестратор сам решил судьбу звонка
// (retry или терминальный провал), циклу остаётся идти дальше.
func (w *Worker) dispatchLoop(ctx context.Context) {
	for {
		st, err := w.dispatcher.GetNextCall(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to get next call", "error", err)
			if !w.sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}

		if st == nil {
			if !w.sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}

		if err := w.dispatcher.DispatchCall(ctx, st.CallID); err != nil {
			w.logger.Warn("dispatch rejected",
				"call_id", st.CallID, "error", err)
		}

		if !w.sleep(ctx, w.dispatchInterval) {
			return
		}
	}
}

// reconcileLoop периодически закрывает зависшие звонки.
func (w *Worker) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(w.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.dispatcher.Reconcile(ctx, w.maxCallDuration); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// statsLoop экспортирует размер очереди и число активных звонков.
func (w *Worker) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := w.dispatcher.QueueStats(ctx)
			if err != nil {
				continue
			}
			telemetry.QueueDepth.Set(float64(stats.QueueDepth))
			telemetry.ActiveCalls.Set(float64(stats.ActiveCalls))
		}
	}
}

// sleep ждёт d или отмены контекста. false — пора выходить.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
