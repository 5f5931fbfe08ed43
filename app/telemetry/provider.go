// Package telemetry wires OpenTelemetry for a contribution node: spans are
// exported over OTLP/HTTP and instruments are bridged into the Prometheus
// registry served on /metrics.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricsdk "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

const instrumentationName = "github.com/paw-chain/poc"

// Config configures tracing export and the metrics bridge.
type Config struct {
	// Enabled turns on span export. Off, every span is a no-op.
	Enabled      bool    `mapstructure:"enabled" json:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate" json:"sample_rate"`
	Environment  string  `mapstructure:"environment" json:"environment"`
	NodeID       string  `mapstructure:"node_id" json:"node_id"`

	PrometheusEnabled bool   `mapstructure:"prometheus_enabled" json:"prometheus_enabled"`
	MetricsAddr       string `mapstructure:"metrics_addr" json:"metrics_addr"`
}

// DefaultConfig returns telemetry defaults: tracing off, Prometheus on.
func DefaultConfig() Config {
	return Config{
		OTLPEndpoint:      "localhost:4318",
		SampleRate:        0.1,
		Environment:       "devnet",
		PrometheusEnabled: true,
		MetricsAddr:       "127.0.0.1:26660",
	}
}

// Validate checks the export settings. A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.OTLPEndpoint == "" {
		return fmt.Errorf("otlp endpoint is required")
	}
	if _, err := url.Parse(c.OTLPEndpoint); err != nil {
		return fmt.Errorf("invalid otlp endpoint: %w", err)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1")
	}
	return nil
}

// Provider owns the tracer and meter providers of a node.
type Provider struct {
	config Config
	traces *tracesdk.TracerProvider
	meters *metricsdk.MeterProvider
}

// NewProvider installs the global providers when tracing is enabled.
func NewProvider(cfg Config) (*Provider, error) {
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName("pocd"),
		semconv.ServiceInstanceID(cfg.NodeID),
		semconv.DeploymentEnvironment(cfg.Environment),
		attribute.String("poc.node_id", cfg.NodeID),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if p.traces, err = newTracerProvider(cfg, res); err != nil {
		return nil, err
	}
	otel.SetTracerProvider(p.traces)

	if cfg.PrometheusEnabled {
		if p.meters, err = newMeterProvider(res); err != nil {
			return nil, errors.Join(err, p.traces.Shutdown(context.Background()))
		}
		otel.SetMeterProvider(p.meters)
	}
	return p, nil
}

func newTracerProvider(cfg Config, res *resource.Resource) (*tracesdk.TracerProvider, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.OTLPEndpoint, "http://"), "https://")
	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithURLPath("/v1/traces"),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	return tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter,
			tracesdk.WithMaxExportBatchSize(512),
			tracesdk.WithBatchTimeout(5*time.Second),
		),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	), nil
}

// newMeterProvider bridges instruments into the default Prometheus registry.
func newMeterProvider(res *resource.Resource) (*metricsdk.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	return metricsdk.NewMeterProvider(
		metricsdk.WithResource(res),
		metricsdk.WithReader(exporter),
	), nil
}

// Meter returns the node meter; a no-op meter while telemetry is disabled.
func (p *Provider) Meter() metric.Meter {
	if p.meters == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meters.Meter(instrumentationName)
}

// Check reports whether the configured providers are installed.
func (p *Provider) Check() error {
	if !p.config.Enabled {
		return nil
	}
	if p.traces == nil {
		return fmt.Errorf("tracer provider not initialized")
	}
	if p.config.PrometheusEnabled && p.meters == nil {
		return fmt.Errorf("meter provider not initialized but Prometheus is enabled")
	}
	return nil
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.meters != nil {
		if err := p.meters.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
