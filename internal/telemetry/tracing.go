package telemetry

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName はハーネスの計装名
const TracerName = "hwstress"

// TraceConfig はトレーサーの設定
type TraceConfig struct {
	ServiceName string
	Version     string
	Exporter    string    // "stdout" | "none"
	Writer      io.Writer // stdout exporter の出力先（nil で os.Stderr）
}

// DefaultTraceConfig はデフォルト設定を返す
func DefaultTraceConfig() TraceConfig {
	return TraceConfig{
		ServiceName: "hwstress",
		Version:     "dev",
		Exporter:    "none",
	}
}

// InitTracer はグローバルなトレーサープロバイダを設定する
// 戻り値の関数でフラッシュと停止を行う
func InitTracer(cfg TraceConfig) (func(context.Context) error, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	)

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	switch strings.ToLower(cfg.Exporter) {
	case "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, errors.Wrap(err, "create stdout trace exporter")
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case "none", "":
	default:
		return nil, errors.Errorf("unknown trace exporter: %s", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer はコンポーネント用のトレーサーを返す
func Tracer(component string) trace.Tracer {
	return otel.Tracer(TracerName + "/" + component)
}
