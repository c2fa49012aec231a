package expense

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/fund"
)

// DedupHash fingerprints an expense by card, calendar date, amount and
// quantity. Decimals use their canonical string form, so "12.50" and
// "12.5" hash identically. Fields are joined with a separator that cannot
// appear in any of them.
func DedupHash(card fund.CardID, date time.Time, amount, quantity decimal.Decimal) string {
	key := strings.Join([]string{
		string(card),
		date.Format(time.DateOnly),
		amount.String(),
		quantity.String(),
	}, "\x1f")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
