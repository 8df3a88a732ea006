package idempotency

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hasher computes a stable digest of a payload document. Marshalling goes
// through encoding/json, which emits map keys in sorted order, so two
// payloads with the same content always produce the same hash.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

func (h *Hasher) ComputeHash(payload map[string]interface{}) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload cannot be nil")
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload for hashing: %w", err)
	}

	switch h.algorithm {
	case "md5":
		sum := md5.Sum(canonical)
		return hex.EncodeToString(sum[:]), nil
	default:
		sum := sha256.Sum256(canonical)
		return hex.EncodeToString(sum[:]), nil
	}
}
