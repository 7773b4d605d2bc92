package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/akriventsev/conveyor/core"
)

// Config конфигурация экспорта метрик
type Config struct {
	// Enabled включает экспорт метрик
	Enabled bool
	// Port порт HTTP-сервера с endpoint /metrics
	Port int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Port:    9464,
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.Enabled && (c.Port <= 0 || c.Port > 65535) {
		return core.NewError(core.ErrInvalidConfig, "metrics port must be in range 1-65535")
	}
	return nil
}

// Exporter экспортер метрик в формате Prometheus.
// Регистрирует глобальный MeterProvider и отдает метрики по HTTP.
type Exporter struct {
	config   Config
	provider *sdkmetric.MeterProvider
	server   *http.Server
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewExporter создает экспортер метрик
func NewExporter(config Config, logger *zap.Logger) (*Exporter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, core.Wrap(err, "failed to create prometheus exporter")
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return &Exporter{
		config:   config,
		provider: provider,
		logger:   logger,
	}, nil
}

// Name возвращает имя компонента
func (e *Exporter) Name() string {
	return "metrics-exporter"
}

// Type возвращает тип компонента
func (e *Exporter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// IsRunning проверяет, запущен ли экспортер
func (e *Exporter) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start запускает HTTP-сервер с endpoint /metrics
func (e *Exporter) Start(ctx context.Context) error {
	if !e.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	e.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", e.config.Port),
		Handler: mux,
	}

	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	e.logger.Info("metrics exporter started", zap.Int("port", e.config.Port))
	return nil
}

// Stop останавливает HTTP-сервер и MeterProvider
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	if e.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := e.server.Shutdown(shutdownCtx); err != nil {
			return core.Wrap(err, "failed to shutdown metrics server")
		}
	}
	if err := e.provider.Shutdown(ctx); err != nil {
		return core.Wrap(err, "failed to shutdown meter provider")
	}
	return nil
}
