package model

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type OrderKind string

const (
	MarketOrder OrderKind = "market"
	LimitOrder  OrderKind = "limit"
	StopOrder   OrderKind = "stop"
)

type OrderStatus string

const (
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusPending   OrderStatus = "pending"
)

// RawOrder is the canonical form of one broker order record. Optional
// prices are pointers so "not set" stays distinguishable from "set to zero".
type RawOrder struct {
	OrderID          string
	InstrumentID     string
	RouteID          string
	Quantity         float64
	Side             Side
	Kind             OrderKind
	Status           OrderStatus
	FilledQuantity   float64
	AvgFillPrice     *float64
	TriggerPrice     *float64
	StopTriggerPrice *float64
	TimeInForce      string
	ExpireAtMs       int64
	CreatedAtMs      int64
	LastModifiedMs   int64
	IsOpeningFill    bool
	PositionID       string
	StopLossPrice    *float64
	StopLossKind     string
	TakeProfitPrice  *float64
	TakeProfitKind   string
	StrategyID       string
}
