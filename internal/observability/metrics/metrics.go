package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes settlement instruments.
type Metrics struct {
	eventsPosted     metric.Int64Counter
	eventsDuplicate  metric.Int64Counter
	grossMinor       metric.Int64Counter
	reversals        metric.Int64Counter
	refundDecisions  metric.Int64Counter
	payoutBatches    metric.Int64Counter
	payoutAmount     metric.Int64Counter
	bankReviews      metric.Int64Counter
	integrityAlerts  metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	gatewayEvents    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the settlement instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "playgroundx-settlement"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.eventsPosted, "settlement_events_posted_total", "Ledger events posted by type."},
		{&m.eventsDuplicate, "settlement_events_duplicate_total", "Ingress submissions short-circuited by the idempotency gate."},
		{&m.grossMinor, "settlement_gross_minor_total", "Gross amount posted in minor units."},
		{&m.reversals, "settlement_reversals_total", "Ledger events reversed."},
		{&m.refundDecisions, "settlement_refund_decisions_total", "Refund and dispute decisions by outcome."},
		{&m.payoutBatches, "settlement_payout_batches_total", "Payout batch transitions by status."},
		{&m.payoutAmount, "settlement_payout_amount_minor_total", "Amount moved to held by payout batches."},
		{&m.bankReviews, "settlement_bank_reviews_total", "Bank-transfer reviews by decision."},
		{&m.integrityAlerts, "settlement_integrity_alerts_total", "Integrity alerts raised by kind."},
		{&m.rateLimitAllowed, "settlement_rate_limit_allowed_total", "Ingress requests admitted by the rate limiter."},
		{&m.rateLimitDenied, "settlement_rate_limit_denied_total", "Ingress requests rejected by the rate limiter."},
		{&m.gatewayEvents, "settlement_gateway_events_total", "Payment gateway callbacks processed by provider."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, counter metric.Int64Counter, value int64, attrs ...attribute.KeyValue) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(FilterAttributes(attrs...)...))
}

// RecordEventPosted counts a posted ledger event and its gross amount.
func (m *Metrics) RecordEventPosted(ctx context.Context, source, eventType, currency string, gross int64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	}
	m.add(ctx, m.eventsPosted, 1, attrs...)
	if gross > 0 {
		m.add(ctx, m.grossMinor, gross, append(attrs, attribute.String("currency", currency))...)
	}
}

// RecordDuplicate counts an idempotent replay.
func (m *Metrics) RecordDuplicate(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.add(ctx, m.eventsDuplicate, 1, attribute.String("source", strings.TrimSpace(source)))
}

// RecordReversal counts a reversal posted against an event.
func (m *Metrics) RecordReversal(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.add(ctx, m.reversals, 1, attribute.String("event_type", strings.TrimSpace(eventType)))
}

// RecordRefundDecision counts refund and dispute outcomes.
func (m *Metrics) RecordRefundDecision(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.add(ctx, m.refundDecisions, 1,
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
}

// RecordPayoutBatch counts a payout batch transition.
func (m *Metrics) RecordPayoutBatch(ctx context.Context, status, currency string, amount int64) {
	if m == nil {
		return
	}
	m.add(ctx, m.payoutBatches, 1, attribute.String("status", status))
	if amount > 0 {
		m.add(ctx, m.payoutAmount, amount,
			attribute.String("status", status),
			attribute.String("currency", currency),
		)
	}
}

// RecordBankReview counts a bank-transfer review decision.
func (m *Metrics) RecordBankReview(ctx context.Context, purpose, decision string) {
	if m == nil {
		return
	}
	m.add(ctx, m.bankReviews, 1,
		attribute.String("purpose", purpose),
		attribute.String("decision", decision),
	)
}

// RecordIntegrityAlert counts an integrity alert.
func (m *Metrics) RecordIntegrityAlert(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.add(ctx, m.integrityAlerts, 1, attribute.String("kind", kind))
}

// RecordGatewayEvent counts a processed gateway callback.
func (m *Metrics) RecordGatewayEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	m.add(ctx, m.gatewayEvents, 1,
		attribute.String("provider", provider),
		attribute.String("event_type", eventType),
	)
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, source, endpoint string) {
	if m == nil {
		return
	}
	m.add(ctx, m.rateLimitAllowed, 1,
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, source, endpoint, reason string) {
	if m == nil {
		return
	}
	m.add(ctx, m.rateLimitDenied, 1,
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// User, creator and event ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"source":      {},
	"endpoint":    {},
	"status_code": {},
	"event_type":  {},
	"currency":    {},
	"kind":        {},
	"outcome":     {},
	"status":      {},
	"purpose":     {},
	"decision":    {},
	"provider":    {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
