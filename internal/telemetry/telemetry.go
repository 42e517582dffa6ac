package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the metric instruments and tracer for the transfer
// daemon. The zero value (and a nil pointer) is a no-op, so call sites
// never need to guard on telemetry being enabled.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter

	transfersTotal    metric.Int64Counter
	transfersActive   metric.Int64UpDownCounter
	transferDuration  metric.Float64Histogram
	transferredBytes  metric.Int64Counter
	queuePending      metric.Int64Gauge
	dbOperationsTotal metric.Int64Counter
	dbOperationTime   metric.Float64Histogram
	systemErrors      metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint switches metric export from the Prometheus pull
	// endpoint to OTLP/gRPC push when set.
	OTLPEndpoint string
}

// New creates a telemetry instance and starts runtime metric collection.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	var reader sdkmetric.Reader

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		reader = sdkmetric.NewPeriodicReader(exporter)
	} else {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}

		reader = exporter
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	return t, nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.transfersTotal, err = t.meter.Int64Counter("transfers_total",
		metric.WithDescription("Total number of transfers by direction and status")); err != nil {
		return err
	}

	if t.transfersActive, err = t.meter.Int64UpDownCounter("transfers_active",
		metric.WithDescription("Number of currently active transfers")); err != nil {
		return err
	}

	if t.transferDuration, err = t.meter.Float64Histogram("transfer_duration_seconds",
		metric.WithDescription("Transfer duration in seconds")); err != nil {
		return err
	}

	if t.transferredBytes, err = t.meter.Int64Counter("transferred_bytes_total",
		metric.WithDescription("Total bytes moved by completed transfers")); err != nil {
		return err
	}

	if t.queuePending, err = t.meter.Int64Gauge("queue_pending_items",
		metric.WithDescription("Number of items waiting for admission")); err != nil {
		return err
	}

	if t.dbOperationsTotal, err = t.meter.Int64Counter("db_operations_total",
		metric.WithDescription("Total database operations")); err != nil {
		return err
	}

	if t.dbOperationTime, err = t.meter.Float64Histogram("db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds")); err != nil {
		return err
	}

	if t.systemErrors, err = t.meter.Int64Counter("system_errors_total",
		metric.WithDescription("Total system errors by component")); err != nil {
		return err
	}

	return nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return nil
	}

	return t.tracer
}

// RecordTransfer records one finished transfer.
func (t *Telemetry) RecordTransfer(direction, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("status", status),
	)

	if t.transfersTotal != nil {
		t.transfersTotal.Add(context.Background(), 1, attrs)
	}

	if t.transferDuration != nil {
		t.transferDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// AddActiveTransfers moves the active-transfer gauge by delta.
func (t *Telemetry) AddActiveTransfers(direction string, delta int64) {
	if t == nil || t.transfersActive == nil {
		return
	}

	t.transfersActive.Add(context.Background(), delta,
		metric.WithAttributes(attribute.String("direction", direction)))
}

// AddTransferredBytes accumulates bytes moved for a direction.
func (t *Telemetry) AddTransferredBytes(direction string, n int64) {
	if t == nil || t.transferredBytes == nil || n <= 0 {
		return
	}

	t.transferredBytes.Add(context.Background(), n,
		metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordQueueDepth records the current pending backlog for a direction.
func (t *Telemetry) RecordQueueDepth(direction string, pending int64) {
	if t == nil || t.queuePending == nil {
		return
	}

	t.queuePending.Record(context.Background(), pending,
		metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.dbOperationTime != nil {
		t.dbOperationTime.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordSystemError records an error for a component.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t == nil || t.systemErrors == nil {
		return
	}

	t.systemErrors.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("error_type", errorType),
		))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}
