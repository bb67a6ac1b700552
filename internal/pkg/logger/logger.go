// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DefaultContextLogger = &base
}

// Init 根据配置初始化全局日志。format 为 "console" 时输出人类可读格式，其余一律为 JSON。
func Init(service, level, format string) {
	InitWithWriter(service, level, format, os.Stdout)
}

// InitWithWriter 与 Init 相同，但允许指定输出目标（测试中使用）。
func InitWithWriter(service, level, format string, w io.Writer) {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	base = zerolog.New(w).Level(ParseLevel(level)).With().
		Timestamp().
		Str("service", service).
		Logger()
	zerolog.DefaultContextLogger = &base
}

// ParseLevel 将文本级别转换为 zerolog.Level，未知值回退到 info。
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// L 返回全局基础 logger。
func L() *zerolog.Logger {
	return &base
}

// Ctx 从 context 中取出 logger；如果 context 中带有有效的 span，则自动附加 traceID。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	withTrace := l.With().
		Str("traceID", sc.TraceID().String()).
		Str("spanID", sc.SpanID().String()).
		Logger()
	return &withTrace
}

// WithContext 把一个 logger 绑定到 context 上，后续 Ctx(ctx) 会取到它。
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}
