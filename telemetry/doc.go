/*
Package telemetry adapts OpenTelemetry's OTLP/HTTP exporters to core.Telemetry.

EnableTelemetry builds an OTelProvider bound to a service name and a
collector endpoint; the provider implements core.Telemetry (StartSpan,
RecordMetric) and core.Span, so it plugs directly into core.NewRuntime and
every constructor that takes a core.Telemetry. Shutdown flushes the
trace and metric exporters within the deadline of the context it is given.

A self-contained TelemetryLogger reports the provider's own lifecycle
(exporter setup, shutdown failures) independently of core.Logger, rate
limiting error lines so a stuck collector can't flood stdout.

Usage:

	tel, err := telemetry.EnableTelemetry("pml-gateway", otlpEndpoint)
	if err != nil {
		// fall back to core.NoOpTelemetry{}
	}
	defer tel.(*telemetry.OTelProvider).Shutdown(ctx)
*/
package telemetry
