package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSecrets(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/v1/events"),
		attribute.String("receipt_url", "https://bucket/receipt.png"),
		attribute.String("webhook_secret", "whsec"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorKeepsCode(t *testing.T) {
	err := fmt.Errorf("insufficient_funds: creator:42 available=10 claim=20")
	assert.EqualError(t, SafeError(err), "insufficient_funds")
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(errors.New("not_found")), "not_found")
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 1.0, clampRatio(3))
	assert.Equal(t, 0.25, clampRatio(0.25))
}
