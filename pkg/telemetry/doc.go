// Package telemetry configures OpenTelemetry for the monitor itself.
//
// Setup installs global tracer and meter providers. Spans emitted by the
// pipeline (gcpmonitor.run, gcpmonitor.project, gcpmonitor.topology,
// gcpmonitor.fetch_metric, gcpmonitor.push) and the otelhttp client spans are
// exported over OTLP gRPC when OTEL_EXPORTER_OTLP_ENDPOINT is set, printed to
// stdout in development mode, and dropped otherwise.
//
// MeterSink is a self-monitoring sink that records each flushed series as an
// OpenTelemetry gauge:
//
//	provider, err := telemetry.Setup(ctx, telemetry.Settings{TelemetryConfig: cfg.Telemetry})
//	if err != nil {
//	    return err
//	}
//	defer provider.Shutdown(context.Background())
//	sink := telemetry.NewMeterSink(provider.Meter)
package telemetry
