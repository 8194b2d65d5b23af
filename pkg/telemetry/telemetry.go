// Package telemetry provides OpenTelemetry metrics for the bot.
//
// Metrics are disabled by default and cost nothing when off.
//
//	DUCKSLACK_OTEL_ENABLED=true        enable metrics (default: off)
//	DUCKSLACK_OTEL_STDOUT=true         print metrics to stdout periodically
//	OTEL_EXPORTER_OTLP_ENDPOINT=...    OTLP/HTTP endpoint (e.g. localhost:4318)
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const scopeName = "github.com/walkure/duckdb-acp-slack"

func Enabled() bool {
	return os.Getenv("DUCKSLACK_OTEL_ENABLED") == "true"
}

// Init installs the global meter provider and returns its shutdown func.
// When telemetry is disabled a no-op provider is installed.
func Init(ctx context.Context, serviceName, version string) (func(context.Context) error, error) {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if os.Getenv("DUCKSLACK_OTEL_STDOUT") == "true" {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second)),
		))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

func Meter() metric.Meter {
	return otel.Meter(scopeName)
}
