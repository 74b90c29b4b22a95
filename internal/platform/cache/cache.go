// Package cache stores short-lived derived values such as shipping quotes.
// Nothing in it is a source of truth; a miss only costs a recomputation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Store is a TTL key/value store. Get reports a miss with ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key joins a namespace and an operation with a digest of the parts, keeping
// keys short whatever the input.
func Key(namespace, operation string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return strings.Join([]string{namespace, operation, hex.EncodeToString(h.Sum(nil))[:32]}, ":")
}
