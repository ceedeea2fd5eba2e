// Verista API — HTTP API управления справочником и звонками.
//
// API:
//   - CRUD справочника специалистов
//   - Постановка верификационных звонков в очередь
//   - Приём сигналов завершения/провала от голосовой сессии
//   - Сводка по очереди
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaiso/Verista/internal/api"
	"github.com/shaiso/Verista/internal/config"
	"github.com/shaiso/Verista/internal/coord"
	"github.com/shaiso/Verista/internal/gateway"
	"github.com/shaiso/Verista/internal/mq"
	"github.com/shaiso/Verista/internal/orchestrator"
	"github.com/shaiso/Verista/internal/repo"
	"github.com/shaiso/Verista/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verista_api_http_requests_total",
		Help: "Total HTTP requests handled by verista_api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting verista-api")

	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	callRepo := repo.NewCallRepo(pool)
	specialistRepo := repo.NewSpecialistRepo(pool)

	// Координационный Redis
	store, err := coord.New(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("connected to redis")

	// RabbitMQ — опционально: без него сигналы завершения применяются
	// напрямую, минуя очередь событий.
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(cfg.RabbitURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, applying call events directly", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	orch := orchestrator.New(orchestrator.Config{
		Calls:             callRepo,
		Specialists:       specialistRepo,
		Coord:             store,
		Dialer:            gateway.NewHTTPClient(cfg.GatewayURL),
		Logger:            logger,
		MaxConcurrent:     cfg.MaxConcurrentCalls,
		MaxRetries:        cfg.MaxRetryAttempts,
		BackoffBase:       cfg.BackoffBase,
		BackoffMultiplier: cfg.BackoffMultiplier,
		TrunkID:           cfg.SIPTrunkID,
		CallerID:          cfg.CallerID,
	})

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		CallRepo:       callRepo,
		SpecialistRepo: specialistRepo,
		Orchestration:  orch,
		Publisher:      publisher,
		Logger:         logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
