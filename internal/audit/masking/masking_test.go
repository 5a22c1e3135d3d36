package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecretKeepsPrefixAndSuffix(t *testing.T) {
	assert.Equal(t, "whsec_****wxyz", MaskSecret("whsec_abcdefwxyz"))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskMetadataOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskMetadata(map[string]any{
		"amount":      int64(5000),
		"receipt_url": "https://files.example/receipts/9981.png",
		"gateway": map[string]any{
			"webhook_secret": "whsec_abcdefwxyz",
			"provider":       "stripe",
		},
	})

	assert.Equal(t, int64(5000), out["amount"])
	assert.Equal(t, "****.png", out["receipt_url"])
	nested := out["gateway"].(map[string]any)
	assert.Equal(t, "stripe", nested["provider"])
	assert.Equal(t, "whsec_****wxyz", nested["webhook_secret"])
}
