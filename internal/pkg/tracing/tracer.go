// internal/pkg/tracing/tracer.go
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
)

// Provider 是对 TracerProvider 的最小抽象，便于在未配置 Jaeger 时返回 noop 实现。
type Provider interface {
	Tracer(name string, opts ...trace.TracerOption) trace.Tracer
	Shutdown(ctx context.Context) error
}

type noopProvider struct {
	noop.TracerProvider
}

func (noopProvider) Shutdown(context.Context) error { return nil }

// InitTracerProvider 初始化并注册全局 TracerProvider。endpoint 为空时使用 noop 实现。
func InitTracerProvider(serviceName, jaegerEndpoint string, sampleRatio float64) (Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if jaegerEndpoint == "" {
		p := noopProvider{TracerProvider: noop.NewTracerProvider()}
		otel.SetTracerProvider(p)
		logger.L().Info().Str("service", serviceName).Msg("tracing disabled, no jaeger endpoint configured")
		return p, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))
	if sampleRatio >= 1 {
		sampler = sdktrace.AlwaysSample()
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)

	logger.L().Info().Str("endpoint", jaegerEndpoint).Msgf("Tracing initialized for service '%s'", serviceName)
	return tp, nil
}
