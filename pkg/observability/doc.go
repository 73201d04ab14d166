// Package observability provides the service's logging, metrics, health, and
// tracing plumbing: a JSON logrus logger, Prometheus metrics under the
// backoffice_ prefix, liveness and readiness probes over the database and
// Redis, OpenTelemetry trace export, and graceful shutdown coordination.
package observability

// Version is the service version reported by the readiness probe. Overridden
// at build time with -ldflags.
var Version = "dev"
