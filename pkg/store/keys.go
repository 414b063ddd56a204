package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultTTL is the session lifetime applied when no explicit TTL is
// configured.
const DefaultTTL = 3600 * time.Second

// NewSessionKey generates a globally unique session key from the current
// timestamp and a random suffix.
func NewSessionKey() string {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand failing means the process is in serious trouble;
		// fall back to a timestamp-only key rather than panic.
		return fmt.Sprintf("call_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("call_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(suffix))
}
