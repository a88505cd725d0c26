package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/AntonStoeckl/contention-simulator/anomaly/engine"
	"github.com/AntonStoeckl/contention-simulator/anomaly/oteladapters"
	"github.com/AntonStoeckl/contention-simulator/anomaly/promadapters"
	"github.com/AntonStoeckl/contention-simulator/scenario"
)

const (
	metricsExportInterval = 5 * time.Second
	shutdownTimeout       = 5 * time.Second
	readHeaderTimeout     = 5 * time.Second
)

var version = "dev"

// observabilityProviders holds the OpenTelemetry providers of the process.
type observabilityProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// newObservabilityProviders sets up OTLP gRPC exporters for traces and metrics and installs the
// providers globally.
func newObservabilityProviders(ctx context.Context, endpoint string) (*observabilityProviders, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricExporter, err := otlpmetricgrpc.New(
		ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(metricsExportInterval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &observabilityProviders{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
	}, nil
}

// Shutdown flushes and stops both providers.
func (p *observabilityProviders) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.TracerProvider.Shutdown(ctx),
		p.MeterProvider.Shutdown(ctx),
	)
}

// observability is the engine wiring derived from the configuration, plus what has to be
// shut down when the command returns.
type observability struct {
	options   []engine.Option
	shutdowns []func(context.Context) error
}

// setupObservability wires OTLP tracing and the metrics sink. A Prometheus endpoint takes
// precedence over OTLP metrics when both are configured.
func setupObservability(ctx context.Context, cfg scenario.FileConfig, logger *slog.Logger) (*observability, error) {
	o := &observability{options: []engine.Option{engine.WithLogger(logger)}}

	if cfg.ObservabilityEnabled {
		providers, err := newObservabilityProviders(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return nil, err
		}

		o.shutdowns = append(o.shutdowns, providers.Shutdown)
		o.options = append(o.options,
			engine.WithTracing(oteladapters.NewTracingCollector(providers.TracerProvider.Tracer(serviceName))),
			engine.WithContextualLogger(oteladapters.NewSlogBridgeLoggerWithHandler(logger.Handler())),
		)

		if cfg.MetricsAddr == "" {
			o.options = append(o.options,
				engine.WithMetrics(oteladapters.NewMetricsCollector(providers.MeterProvider.Meter(serviceName))))
		}
	}

	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		o.options = append(o.options,
			engine.WithMetrics(promadapters.NewMetricsCollector(registry, promadapters.DefaultDurationBuckets)))
		o.shutdowns = append(o.shutdowns, serveMetrics(cfg.MetricsAddr, registry, logger))
	}

	return o, nil
}

// Shutdown runs every registered shutdown with a shared timeout.
func (o *observability) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, shutdown := range o.shutdowns {
		errs = append(errs, shutdown(ctx))
	}

	return errors.Join(errs...)
}

// serveMetrics exposes registry on addr under /metrics until the returned function is called.
func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err.Error())
		}
	}()

	return server.Shutdown
}
