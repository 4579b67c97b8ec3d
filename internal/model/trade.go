package model

import "time"

const (
	ResultWin       = "Win"
	ResultLoss      = "Loss"
	ResultBreakeven = "Breakeven"
)

// TradeRecord is the persisted projection of a Position, extended with the
// running balance sequence and the derived journal fields the UI consumes.
type TradeRecord struct {
	AccountID      string     `db:"account_id"`
	ExternalID     string     `db:"external_id"`
	PositionID     string     `db:"position_id"`
	ClosingOrderID string     `db:"closing_order_id"`
	Symbol         string     `db:"symbol"`
	Side           Side       `db:"side"`
	Quantity       float64    `db:"quantity"`
	EntryPrice     float64    `db:"entry_price"`
	ExitPrice      float64    `db:"exit_price"`
	StopLoss       *float64   `db:"stop_loss"`
	TakeProfit     *float64   `db:"take_profit"`
	OpenedAt       time.Time  `db:"opened_at"`
	ClosedAt       time.Time  `db:"closed_at"`
	GrossPnl       float64    `db:"gross_pnl"`
	OpeningBalance float64    `db:"opening_balance"`
	ClosingBalance float64    `db:"closing_balance"`
	PercentGain    float64    `db:"percent_gain"`
	RiskDollar     *float64   `db:"risk_dollar"`
	TargetDollar   *float64   `db:"target_dollar"`
	RRAchieved     *float64   `db:"rr_achieved"`
	TargetHit      bool       `db:"target_hit"`
	Result         string     `db:"result"`
	ImportedAt     *time.Time `db:"imported_at"`
}
