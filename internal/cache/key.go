package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// keyPrefix namespaces all cache keys in the shared KV store.
const keyPrefix = "venn:cache:"

// pointNamespace seeds deterministic point IDs so repeated writes for the
// same question overwrite the existing vector point instead of duplicating it.
var pointNamespace = uuid.MustParse("9f2c1e9e-5a1f-4c43-b5d7-3e6a2f0d8c11")

// NormalizeQuestion collapses whitespace runs and lowercases the text, so
// trivially re-phrased whitespace/case variants of the same question share
// one exact key.
func NormalizeQuestion(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}

// DeriveExactKey derives the KV key for a question within a tenant scope.
// The scope participates in the hash as well as the key prefix, so equal
// questions never collide across tenants.
func DeriveExactKey(question, scope string) string {
	normalized := NormalizeQuestion(question)
	sum := sha256.Sum256([]byte(scope + "\x00" + normalized))
	return keyPrefix + scope + ":" + hex.EncodeToString(sum[:])
}

// ScopePattern returns the KV glob matching every key in a tenant scope.
func ScopePattern(scope string) string {
	return keyPrefix + scope + ":*"
}

// KeyInScope reports whether an exact key belongs to the given scope.
// Used as a final guard against cross-tenant reads even if the vector
// filter were misconfigured.
func KeyInScope(key, scope string) bool {
	return strings.HasPrefix(key, keyPrefix+scope+":")
}

// PointID derives the deterministic vector point ID for an exact key.
func PointID(exactKey string) string {
	return uuid.NewSHA1(pointNamespace, []byte(exactKey)).String()
}
