// Package telemetry — structured logging и Prometheus-метрики.
//
// Логгер настраивается один раз при старте процесса (SetupLogger) и
// передаётся компонентам через их Config. Метрики — package-level
// коллекторы в default registry, отдаются через /metrics (promhttp)
// в каждом процессе.
package telemetry
