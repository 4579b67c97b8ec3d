package tools

import (
	"time"

	"github.com/shopspring/decimal"
)

// Round2 rounds to two decimal places, half away from zero, the rounding
// the USD ledger uses everywhere.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func MsToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func TimeToMs(t time.Time) int64 {
	return t.UnixMilli()
}
