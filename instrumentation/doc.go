// Package instrumentation provides OpenTelemetry instrumentation for the relay.
//
// Metrics cover the callback flow (callbacks received, codes exchanged,
// tokens refreshed and deleted), auth rejections, and durable snapshot
// writes. A tracer is exposed for the provider exchange paths.
//
// When disabled, no-op providers are used and instrumentation has zero
// overhead. When enabled, the globally registered OpenTelemetry meter and
// tracer providers are used; the binary decides which exporters back them.
//
// Token values, codes, and secrets are never recorded as attributes.
package instrumentation
