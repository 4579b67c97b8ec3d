package reconcile

import (
	"sort"

	"github.com/alexkukunis/tradingtracker/internal/instrument"
	"github.com/alexkukunis/tradingtracker/internal/logger"
	"github.com/alexkukunis/tradingtracker/internal/model"
)

const _gtc = "GTC"

// Reconciler groups normalized orders into closed positions. It is pure:
// malformed groups are skipped, never raised.
type Reconciler struct {
	catalog *instrument.Catalog
	logger  logger.Logger
}

func NewReconciler(catalog *instrument.Catalog, logger logger.Logger) *Reconciler {
	return &Reconciler{
		catalog: catalog,
		logger:  logger,
	}
}

// Reconcile pairs opening and closing fills sharing a position id into
// Positions, recovers stop-loss/take-profit, prices the gross P&L and
// returns the result sorted ascending by exit time. Groups without both a
// filled opening and a filled closing order are incomplete round trips and
// produce nothing.
func (r *Reconciler) Reconcile(orders []model.RawOrder) []model.Position {
	groups := make(map[string][]model.RawOrder)
	for _, o := range orders {
		if o.PositionID == "" {
			continue
		}
		groups[o.PositionID] = append(groups[o.PositionID], o)
	}

	positions := make([]model.Position, 0, len(groups))
	for positionID, group := range groups {
		p, ok := r.buildPosition(positionID, group)
		if !ok {
			continue
		}
		positions = append(positions, p)
	}

	sort.Slice(positions, func(i, j int) bool {
		if positions[i].ExitAtMs != positions[j].ExitAtMs {
			return positions[i].ExitAtMs < positions[j].ExitAtMs
		}
		return positions[i].PositionID < positions[j].PositionID
	})

	return positions
}

func (r *Reconciler) buildPosition(positionID string, group []model.RawOrder) (model.Position, bool) {
	opening, ok := earliestOpeningFill(group)
	if !ok {
		return model.Position{}, false
	}
	closing, ok := latestClosingFill(group)
	if !ok {
		return model.Position{}, false
	}

	symbol := opening.InstrumentID
	class := model.ClassOther
	if instr, found := r.catalog.Resolve(opening.InstrumentID); found {
		symbol = instr.Symbol
		class = instr.Class
	} else {
		r.logger.Warnf("unknown instrument %s for position %s, pricing with multiplier 1", opening.InstrumentID, positionID)
	}
	multiplier := r.catalog.Multiplier(symbol, class)

	quantity := opening.FilledQuantity
	if quantity == 0 {
		quantity = opening.Quantity
	}

	stopLoss, takeProfit := resolveBrackets(opening, group)

	p := model.Position{
		PositionID:     positionID,
		ClosingOrderID: closing.OrderID,
		InstrumentID:   opening.InstrumentID,
		Symbol:         symbol,
		Side:           opening.Side,
		Quantity:       quantity,
		StopLoss:       stopLoss,
		TakeProfit:     takeProfit,
		EntryAtMs:      opening.CreatedAtMs,
		ExitAtMs:       closing.CreatedAtMs,
		Multiplier:     multiplier,
	}

	// Missing prices degrade to zero P&L instead of erroring.
	if opening.AvgFillPrice != nil && closing.AvgFillPrice != nil {
		p.EntryPrice = *opening.AvgFillPrice
		p.ExitPrice = *closing.AvgFillPrice
		p.GrossPnl = GrossPnl(p.Side, p.EntryPrice, p.ExitPrice, quantity, multiplier)
	} else {
		if opening.AvgFillPrice != nil {
			p.EntryPrice = *opening.AvgFillPrice
		}
		if closing.AvgFillPrice != nil {
			p.ExitPrice = *closing.AvgFillPrice
		}
	}

	return p, true
}

// earliestOpeningFill picks the opening fill with the smallest creation
// timestamp. Multiple opening fills per position are a known upstream
// ambiguity; the tie-break is a policy, with order id as a stable secondary
// key so reruns pick the same order.
func earliestOpeningFill(group []model.RawOrder) (model.RawOrder, bool) {
	var best model.RawOrder
	found := false
	for _, o := range group {
		if o.Status != model.StatusFilled || !o.IsOpeningFill {
			continue
		}
		if !found ||
			o.CreatedAtMs < best.CreatedAtMs ||
			(o.CreatedAtMs == best.CreatedAtMs && o.OrderID < best.OrderID) {
			best = o
			found = true
		}
	}
	return best, found
}

func latestClosingFill(group []model.RawOrder) (model.RawOrder, bool) {
	var best model.RawOrder
	found := false
	for _, o := range group {
		if o.Status != model.StatusFilled || o.IsOpeningFill {
			continue
		}
		if !found ||
			o.CreatedAtMs > best.CreatedAtMs ||
			(o.CreatedAtMs == best.CreatedAtMs && o.OrderID > best.OrderID) {
			best = o
			found = true
		}
	}
	return best, found
}

// resolveBrackets takes stop-loss/take-profit from the opening order's
// dedicated fields, and recovers whichever is absent from sibling bracket
// orders: opposite side, cancelled/pending/empty status, GTC. A stop-kind
// bracket supplies the stop-loss, a limit-kind bracket the take-profit.
func resolveBrackets(opening model.RawOrder, group []model.RawOrder) (stopLoss, takeProfit *float64) {
	stopLoss = opening.StopLossPrice
	takeProfit = opening.TakeProfitPrice
	if stopLoss != nil && takeProfit != nil {
		return stopLoss, takeProfit
	}

	for _, o := range group {
		if !isBracket(opening, o) {
			continue
		}
		price := o.TriggerPrice
		if price == nil {
			price = o.StopTriggerPrice
		}
		if price == nil {
			continue
		}
		switch o.Kind {
		case model.StopOrder:
			if stopLoss == nil {
				stopLoss = price
			}
		case model.LimitOrder:
			if takeProfit == nil {
				takeProfit = price
			}
		}
	}

	return stopLoss, takeProfit
}

func isBracket(opening, o model.RawOrder) bool {
	if o.OrderID == opening.OrderID || o.Side == opening.Side {
		return false
	}
	switch o.Status {
	case model.StatusCancelled, model.StatusPending, "":
	default:
		return false
	}
	return o.TimeInForce == _gtc
}
