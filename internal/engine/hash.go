package engine

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash computes a collision-resistant hash over the task fields
// that matter for re-analysis. The NUL separator keeps ("ab","c") and
// ("a","bc") distinct.
func ContentHash(title, description string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(description))
	return hex.EncodeToString(h.Sum(nil))
}
