// Package telemetry provides OpenTelemetry tracing for the generation
// pipeline. The global tracer provider is a no-op unless the embedding
// process installs a real one.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/exprlab/condcoach"

// Tracer returns the tracer for this module's instrumentation scope.
func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}
