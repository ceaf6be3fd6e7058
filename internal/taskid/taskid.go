// Package taskid derives short, stable task identifiers.
//
// The id is a truncated digest of (task name, source URL, clock
// reading). It is deterministic for fixed inputs; uniqueness across
// runs comes from the timestamp component.
package taskid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Length is the number of hex characters in a task id.
const Length = 12

// Generate returns the task id for the given inputs.
func Generate(taskName, sourceURL string, now time.Time) string {
	combined := fmt.Sprintf("%s_%s_%s", taskName, sourceURL, now.Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])[:Length]
}
