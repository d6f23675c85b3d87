package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/skypro1111/udp-quote-service/internal/config"
)

// Provider is an SDK tracer provider that also owns its output file
type Provider struct {
	*sdktrace.TracerProvider
	out io.Closer
}

// New creates a tracer provider exporting spans to cfg.Output
func New(cfg config.TracingConfig, serviceName, serviceVersion string) (*Provider, error) {
	out, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		)),
	)

	return &Provider{TracerProvider: tp, out: closer}, nil
}

// Shutdown flushes pending spans and closes the output file, if any
func (p *Provider) Shutdown(ctx context.Context) error {
	err := p.TracerProvider.Shutdown(ctx)
	if p.out != nil {
		if cerr := p.out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trace output %s: %w", output, err)
	}
	return file, file, nil
}
