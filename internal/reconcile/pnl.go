package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/alexkukunis/tradingtracker/internal/model"
)

// GrossPnl derives the realized USD profit/loss of a closed position. The
// order feed never reports realized P&L, so the whole engine rests on this
// formula: price difference × quantity × contract multiplier, rounded to
// 2 decimals. A sell position profits when price falls.
func GrossPnl(side model.Side, entryPrice, exitPrice, quantity, multiplier float64) float64 {
	if quantity == 0 {
		return 0
	}

	entry := decimal.NewFromFloat(entryPrice)
	exit := decimal.NewFromFloat(exitPrice)

	diff := exit.Sub(entry)
	if side == model.Sell {
		diff = entry.Sub(exit)
	}

	return diff.
		Mul(decimal.NewFromFloat(quantity)).
		Mul(decimal.NewFromFloat(multiplier)).
		Round(2).
		InexactFloat64()
}
