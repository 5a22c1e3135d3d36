package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// RequestHash fingerprints a payload. encoding/json sorts map keys, so equal maps
// hash equally.
func RequestHash(payload any) (string, error) {
	if payload == nil {
		return "", nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
