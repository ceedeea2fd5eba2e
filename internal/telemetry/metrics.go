package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики оркестрации обзвона.
var (
	// DispatchAttempts — попытки dispatch по результату:
	// "ok", "gateway_error", "validation_error".
	DispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verista_dispatch_attempts_total",
		Help: "Outbound dispatch attempts by result",
	}, []string{"result"})

	// CallRetries — повторные постановки в очередь после неудач.
	CallRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verista_call_retries_total",
		Help: "Calls re-queued after a retryable failure",
	})

	// CallsCompleted — звонки, дошедшие до COMPLETED.
	CallsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verista_calls_completed_total",
		Help: "Calls that reached the COMPLETED state",
	})

	// CallsFailed — терминальные провалы (retry исчерпаны или валидация).
	CallsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verista_calls_failed_total",
		Help: "Calls that reached the terminal FAILED state",
	})

	// ReconciledCalls — активные звонки, принудительно закрытые
	// reconcile-проходом (потерян сигнал завершения).
	ReconciledCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verista_reconciled_calls_total",
		Help: "Stuck active calls force-failed by the reconcile sweep",
	})

	// ActiveCalls — текущее число активных звонков.
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verista_active_calls",
		Help: "Currently dispatched, non-terminal calls",
	})

	// QueueDepth — текущий размер очереди.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verista_queue_depth",
		Help: "Calls waiting in the priority queue",
	})

	// DispatchDuration — длительность попытки dispatch (оба вызова шлюза).
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verista_dispatch_duration_seconds",
		Help:    "Duration of a dispatch attempt against the voice gateway",
		Buckets: prometheus.DefBuckets,
	})
)
