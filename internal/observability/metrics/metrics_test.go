package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("source", "stripe"),
		attribute.String("creator_id", "456"),
		attribute.String("event_type", "tip"),
	)
	require.Len(t, attrs, 2)
	require.Equal(t, attribute.Key("source"), attrs[0].Key)
	require.Equal(t, attribute.Key("event_type"), attrs[1].Key)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordEventPosted(context.Background(), "stripe", "tip", "USD", 1000)
		m.RecordIntegrityAlert(context.Background(), "insufficient_funds")
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "test"}, noop.NewMeterProvider())
	require.NoError(t, err)
	require.NotNil(t, m.eventsPosted)
	require.NotPanics(t, func() {
		m.RecordPayoutBatch(context.Background(), "ready", "USD", 5000)
	})
}
