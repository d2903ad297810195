package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const fingerprintLen = 16

// Key identifies a cached answer. Two questions that normalize to the same
// text under the same schema version and requester scope share one entry.
type Key struct {
	Question      string
	SchemaVersion string
	Scope         string
}

// NormalizeQuestion lowercases the question, collapses whitespace runs into
// single spaces, and strips trailing punctuation so trivial rephrasings map
// to the same cache entry.
func NormalizeQuestion(question string) string {
	normalized := strings.ToLower(question)
	normalized = strings.Join(strings.Fields(normalized), " ")
	normalized = strings.TrimRight(normalized, ".?! ")

	return normalized
}

// Fingerprint returns the content hash that names this key's entry. The hash
// covers the normalized question, the schema version, and the scope, so a
// schema change or a different requester scope can never surface a stale
// answer.
func (k Key) Fingerprint() string {
	payload := NormalizeQuestion(k.Question) + "|" + k.SchemaVersion + "|" + k.Scope

	hasher := sha256.New()
	hasher.Write([]byte(payload))

	return hex.EncodeToString(hasher.Sum(nil))[:fingerprintLen]
}
