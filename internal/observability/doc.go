// Package observability provides the client's structured logging, Prometheus
// metrics and OpenTelemetry tracing.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts session tokens,
// cookies and JWTs from attribute values, error strings and messages. Request,
// conversation and document ids stored with AddRequestID, AddConversationID
// and AddDocumentID are lifted into every record logged with a context:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json"})
//	ctx := observability.AddConversationID(ctx, 42)
//	logger.InfoContext(ctx, "channel open")
//
// # Metrics
//
// NewMetrics registers websocket frame, connection, send and REST latency
// metrics with the given registry. A nil *Metrics records nothing, so tests
// and commands that do not expose metrics can skip it.
//
// # Tracing
//
// NewTracer exports spans over OTLP/gRPC when an endpoint is configured and
// falls back to a no-op tracer otherwise. InjectHeaders propagates the trace
// context onto outgoing REST requests.
package observability
