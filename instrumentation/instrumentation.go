package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when no service name is configured
	DefaultServiceName = "hhrelay"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// scopeName is the instrumentation scope for meters and tracers
	scopeName = "hhrelay"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (e.g., "hhrelay")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used (zero overhead).
	Enabled bool
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics
}

// New creates a new instrumentation instance.
// When enabled, the globally registered OpenTelemetry providers are used,
// so the binary decides which exporters (if any) back the data.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	inst := &Instrumentation{config: config}

	if config.Enabled {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
		inst.resource = res
		inst.meterProvider = otel.GetMeterProvider()
		inst.tracerProvider = otel.GetTracerProvider()
	} else {
		inst.meterProvider = metricnoop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	metrics, err := newMetrics(inst.meterProvider.Meter(scopeName))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	inst.metrics = metrics

	return inst, nil
}

var (
	disabledOnce sync.Once
	disabledInst *Instrumentation
)

// Disabled returns a shared no-op instrumentation instance.
// Components accept it in place of nil so call sites never guard.
func Disabled() *Instrumentation {
	disabledOnce.Do(func() {
		inst, err := New(Config{Enabled: false})
		if err != nil {
			// noop providers cannot fail to create instruments
			panic(err)
		}
		disabledInst = inst
	})
	return disabledInst
}

// Metrics returns the pre-configured metric instruments
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Tracer returns a tracer from the configured tracer provider
func (i *Instrumentation) Tracer() trace.Tracer {
	return i.tracerProvider.Tracer(scopeName)
}

// Resource returns the OpenTelemetry resource describing this service,
// or nil when instrumentation is disabled. Binaries use it to construct
// exporters.
func (i *Instrumentation) Resource() *resource.Resource {
	return i.resource
}
