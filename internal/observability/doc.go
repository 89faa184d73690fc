// Package observability provides monitoring and debugging support for the
// reply loop through metrics, structured logging, and distributed tracing.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics track provider request latency and outcome, token usage, tool
// execution latency, permission outcomes, truncation retries and turn
// outcomes. They register with a caller-supplied prometheus.Registerer:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordTurn("complete")
//
// All recording methods accept a nil receiver.
//
// # Logging
//
// Components take a *slog.Logger. NewLogger builds one whose handler redacts
// API keys, bearer tokens and passwords and adds session_id and turn_id from
// the context:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug"})
//	ctx = observability.AddTurnID(ctx, turnID)
//	logger.Slog().InfoContext(ctx, "turn started")
//
// # Tracing
//
// NewTracer exports spans over OTLP/gRPC when an endpoint is configured and
// falls back to a no-op tracer otherwise:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "conductor",
//	    Endpoint:    "localhost:4317",
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceProviderRequest(ctx, "anthropic", model)
//	defer span.End()
package observability
