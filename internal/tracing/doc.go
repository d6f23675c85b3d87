// Package tracing installs the OpenTelemetry SDK tracer provider used for session spans.
// Spans are written as JSON by the stdout exporter to a console stream or a file.
package tracing
