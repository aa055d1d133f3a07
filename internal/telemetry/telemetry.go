// Package telemetry sets up OpenTelemetry export for reconcile runs.
//
// A run is a short-lived process: spans and metrics are exported on a
// short interval and flushed by Providers.Shutdown before exit.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// BatchNameKey identifies the batch a process reconciles.
const BatchNameKey = attribute.Key("batch.name")

// DefaultExportInterval is used when Options.ExportInterval is not positive.
const DefaultExportInterval = 2 * time.Second

// Options configures telemetry for one batch process.
type Options struct {
	// Endpoint is the OTLP/HTTP collector address. Empty disables export.
	Endpoint string
	Insecure bool

	ServiceName string
	Version     string
	BatchName   string
	// Driver is the storage driver name ("sqlite" or "postgres").
	Driver string

	// ExportInterval bounds the span batch timeout and the metric period.
	ExportInterval time.Duration
}

// Providers holds the tracer and meter providers of a batch process.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	shutdown []func(context.Context) error
}

// Meter returns a meter for the given instrumentation scope.
func (p *Providers) Meter(name string) metric.Meter {
	return p.MeterProvider.Meter(name)
}

// Shutdown flushes pending spans and metrics, then stops the exporters.
// It is a no-op when export is disabled.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, p.shutdown[i](ctx))
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

// Resource describes the batch process: service identity, batch name and
// the database system it writes to.
func Resource(ctx context.Context, opts Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(opts.ServiceName),
		semconv.ServiceVersionKey.String(opts.Version),
	}
	if opts.BatchName != "" {
		attrs = append(attrs, BatchNameKey.String(opts.BatchName))
	}
	if system := dbSystem(opts.Driver); system != "" {
		attrs = append(attrs, semconv.DBSystemKey.String(system))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithProcessPID(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}
	return res, nil
}

func dbSystem(driver string) string {
	switch driver {
	case "sqlite":
		return "sqlite"
	case "postgres":
		return "postgresql"
	default:
		return ""
	}
}

// Init builds exporting providers and installs them globally. With an empty
// endpoint the current global providers are returned unchanged.
func Init(ctx context.Context, opts Options) (*Providers, error) {
	if opts.Endpoint == "" {
		return &Providers{
			TracerProvider: otel.GetTracerProvider(),
			MeterProvider:  otel.GetMeterProvider(),
		}, nil
	}
	interval := opts.ExportInterval
	if interval <= 0 {
		interval = DefaultExportInterval
	}

	res, err := Resource(ctx, opts)
	if err != nil {
		return nil, err
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(interval)),
		sdktrace.WithResource(res),
	)

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		shutdown:       []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}
