package instrumentation

import (
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the relay
type Metrics struct {
	// Callback / flow metrics
	CallbacksReceived metric.Int64Counter
	CodeExchanged     metric.Int64Counter
	TokenRefreshed    metric.Int64Counter
	TokenDeleted      metric.Int64Counter

	// Security metrics
	AuthFailures metric.Int64Counter

	// Persistence metrics
	SnapshotWrites        metric.Int64Counter
	SnapshotWriteDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.CallbacksReceived, err = meter.Int64Counter(
		"relay.callbacks.received",
		metric.WithDescription("Total number of provider redirect callbacks received"),
	)
	if err != nil {
		return nil, err
	}

	m.CodeExchanged, err = meter.Int64Counter(
		"relay.code.exchanged",
		metric.WithDescription("Total number of authorization code exchanges"),
	)
	if err != nil {
		return nil, err
	}

	m.TokenRefreshed, err = meter.Int64Counter(
		"relay.token.refreshed",
		metric.WithDescription("Total number of refresh exchanges"),
	)
	if err != nil {
		return nil, err
	}

	m.TokenDeleted, err = meter.Int64Counter(
		"relay.token.deleted",
		metric.WithDescription("Total number of token record deletions"),
	)
	if err != nil {
		return nil, err
	}

	m.AuthFailures, err = meter.Int64Counter(
		"relay.auth.failures",
		metric.WithDescription("Total number of rejected admin or bot requests"),
	)
	if err != nil {
		return nil, err
	}

	m.SnapshotWrites, err = meter.Int64Counter(
		"relay.snapshot.writes",
		metric.WithDescription("Total number of durable snapshot writes"),
	)
	if err != nil {
		return nil, err
	}

	m.SnapshotWriteDuration, err = meter.Float64Histogram(
		"relay.snapshot.write.duration",
		metric.WithDescription("Snapshot write duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
