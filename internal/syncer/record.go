package syncer

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alexkukunis/tradingtracker/internal/model"
	"github.com/alexkukunis/tradingtracker/internal/tools"
)

// buildRecord projects a reconciled position onto the persisted trade
// shape, deriving the journal fields the UI consumes. openingBalance is the
// running balance before this trade; the caller advances it afterwards.
func buildRecord(accountID string, p model.Position, openingBalance, closingBalance decimal.Decimal) model.TradeRecord {
	rec := model.TradeRecord{
		AccountID:      accountID,
		ExternalID:     p.ExternalID(),
		PositionID:     p.PositionID,
		ClosingOrderID: p.ClosingOrderID,
		Symbol:         p.Symbol,
		Side:           p.Side,
		Quantity:       p.Quantity,
		EntryPrice:     p.EntryPrice,
		ExitPrice:      p.ExitPrice,
		StopLoss:       p.StopLoss,
		TakeProfit:     p.TakeProfit,
		OpenedAt:       tools.MsToTime(p.EntryAtMs),
		ClosedAt:       tools.MsToTime(p.ExitAtMs),
		GrossPnl:       p.GrossPnl,
		OpeningBalance: openingBalance.Round(2).InexactFloat64(),
		ClosingBalance: closingBalance.Round(2).InexactFloat64(),
		Result:         classify(p.GrossPnl),
	}

	if opening := rec.OpeningBalance; opening != 0 {
		rec.PercentGain = tools.Round2(p.GrossPnl / opening * 100)
	}

	if p.StopLoss != nil {
		risk := tools.Round2(math.Abs(p.EntryPrice-*p.StopLoss) * p.Quantity * p.Multiplier)
		rec.RiskDollar = &risk
		if risk > 0 {
			rr := tools.Round2(p.GrossPnl / risk)
			rec.RRAchieved = &rr
		}
	}
	if p.TakeProfit != nil {
		target := tools.Round2(math.Abs(*p.TakeProfit-p.EntryPrice) * p.Quantity * p.Multiplier)
		rec.TargetDollar = &target
		rec.TargetHit = targetHit(p)
	}

	return rec
}

func targetHit(p model.Position) bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Side == model.Sell {
		return p.ExitPrice <= *p.TakeProfit
	}
	return p.ExitPrice >= *p.TakeProfit
}

func classify(grossPnl float64) string {
	switch {
	case grossPnl > 0:
		return model.ResultWin
	case grossPnl < 0:
		return model.ResultLoss
	default:
		return model.ResultBreakeven
	}
}
