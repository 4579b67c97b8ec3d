package model

// Position is one reconciled open→close round trip. It exists only when
// both an opening fill and a closing fill were found for the position id,
// and is immutable once constructed.
type Position struct {
	PositionID     string
	ClosingOrderID string
	InstrumentID   string
	Symbol         string
	Side           Side
	Quantity       float64
	EntryPrice     float64
	ExitPrice      float64
	StopLoss       *float64
	TakeProfit     *float64
	EntryAtMs      int64
	ExitAtMs       int64
	Multiplier     float64
	GrossPnl       float64 // USD, rounded to 2 decimals
}

// ExternalID is the identifier used for deduplication against the
// persisted ledger: position id, falling back to the closing order id for
// records imported before position ids were adopted.
func (p Position) ExternalID() string {
	if p.PositionID != "" {
		return p.PositionID
	}
	return p.ClosingOrderID
}
