package domain

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// DeriveKey builds a deterministic key from caller-stable business fields.
// Server-assigned values and wall-clock time must never be passed in, or
// retries of the same command would stop deduplicating.
func DeriveKey(operation string, fields ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(operation))
	for _, field := range fields {
		b.WriteByte(0x1f)
		b.WriteString(strings.TrimSpace(field))
	}
	sum := blake3.Sum256([]byte(b.String()))
	return "drv_" + hex.EncodeToString(sum[:16])
}
