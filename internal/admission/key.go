package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// IdempotencyKey derives the job id from the logical job identity. Same
// (action, entity, version) in, same id out — resubmitting a logical job
// before it is consumed collides on this key instead of duplicating work.
// NUL separators keep ("a","bc") and ("ab","c") from colliding.
func IdempotencyKey(action, entityID string, version int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", action, entityID, version)))
	return "op-" + hex.EncodeToString(sum[:])[:24]
}
