package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// cloidNamespace seeds the deterministic UUID used to derive client order
// ids. Using a fixed namespace makes BuildCloid pure: the same (symbol,
// action, qty, minute-bucket) always yields the same id, so a retried
// attempt within the same cycle reuses the original id instead of minting a
// new one the exchange would treat as a distinct order.
var cloidNamespace = uuid.MustParse("6f3f9d2e-7b7a-4c2a-9e21-9a6f0c6e0f01")

// BuildCloid derives a client order id that is stable across retries of the
// same attempt (symbol, action, rounded size, minute bucket) and distinct
// across attempts. Hyperliquid requires a 0x-prefixed 128-bit hex string;
// uuid.NewSHA1 supplies exactly that width deterministically, succeeding the
// teacher's pipe-delimited buildCloid which did not satisfy that format.
func BuildCloid(symbol, action string, qty float64, now time.Time) string {
	bucket := now.UTC().Format("200601021504")
	seed := fmt.Sprintf("%s|%s|%.6f|%s", strings.ToUpper(symbol), action, qty, bucket)
	id := uuid.NewSHA1(cloidNamespace, []byte(seed))
	return "0x" + strings.ReplaceAll(id.String(), "-", "")
}
