package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ComputeHash chains an entry to its predecessor. Metadata is hashed in its
// JSON form, which orders map keys.
func ComputeHash(prev string, entry AuditLog) string {
	h := sha256.New()
	_, _ = h.Write([]byte(prev))
	_, _ = h.Write([]byte("|" + entry.ID.String()))
	_, _ = h.Write([]byte("|" + entry.CreatedAt.UTC().Format(time.RFC3339Nano)))
	_, _ = h.Write([]byte("|" + entry.ActorType + "|" + deref(entry.ActorID)))
	_, _ = h.Write([]byte("|" + entry.Action + "|" + entry.TargetType + "|" + deref(entry.TargetID)))
	metadata, _ := json.Marshal(map[string]any(entry.Metadata))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write(metadata)
	return hex.EncodeToString(h.Sum(nil))
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
