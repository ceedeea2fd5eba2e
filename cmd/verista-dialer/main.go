// Verista Dialer — фоновый процесс обзвона.
//
// Dialer:
//   - Единственным циклом снимает звонки из очереди и делает dispatch
//   - Потребляет события calls.completed / calls.failed из RabbitMQ
//   - Периодически закрывает зависшие активные звонки (reconcile)
//   - По расписанию ставит плановые верификационные звонки (sweep)
//
// Dialer намеренно не масштабируется горизонтально: лимит
// конкурентности держат активные звонки, а не потоки.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Verista/internal/config"
	"github.com/shaiso/Verista/internal/coord"
	"github.com/shaiso/Verista/internal/dialer"
	"github.com/shaiso/Verista/internal/gateway"
	"github.com/shaiso/Verista/internal/mq"
	"github.com/shaiso/Verista/internal/orchestrator"
	"github.com/shaiso/Verista/internal/repo"
	"github.com/shaiso/Verista/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting verista-dialer")

	cfg := config.Load()

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	callRepo := repo.NewCallRepo(pool)
	specialistRepo := repo.NewSpecialistRepo(pool)

	// Координационный Redis
	store, err := coord.New(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("redis connected")

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

	var consumerWg sync.WaitGroup

	// RabbitMQ — события о судьбе звонков от голосовой сессии.
	mqConn, err := mq.NewConnection(cfg.RabbitURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, relying on direct API events", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		consumers := []*mq.Consumer{
			mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
				Queue:   string(mq.QueueCallsCompleted),
				Handler: orch.CallCompletedHandler(logger),
			}),
			mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
				Queue:   string(mq.QueueCallsFailed),
				Handler: orch.CallFailedHandler(logger),
			}),
		}
		for _, c := range consumers {
			consumerWg.Add(1)
			go func(c *mq.Consumer) {
				defer consumerWg.Done()
				if err := c.Start(ctx); err != nil && ctx.Err() == nil {
					logger.Error("consumer stopped", "error", err)
				}
			}(c)
		}
	}

	// Цикл обзвона
	w := dialer.New(dialer.Config{
		Dispatcher:       orch,
		Logger:           logger,
		PollInterval:     cfg.PollInterval,
		DispatchInterval: cfg.DispatchInterval,
		MaxCallDuration:  cfg.MaxCallDuration,
	})
	w.Start(ctx)

	// Плановый обзвон в окне рабочих часов
	sweep, err := dialer.NewSweep(dialer.SweepConfig{
		Scheduler:     orch,
		Specialists:   specialistRepo,
		Calls:         callRepo,
		Logger:        logger,
		CronSpec:      cfg.CallWindowCron,
		ReverifyAfter: cfg.ReverifyAfter,
	})
	if err != nil {
		logger.Error("invalid call window cron", "error", err)
		os.Exit(1)
	}
	go sweep.Run(ctx)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("DIALER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	w.Stop()
	consumerWg.Wait()
	logger.Info("verista-dialer stopped")
}
