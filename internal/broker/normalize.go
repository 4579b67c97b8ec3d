package broker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alexkukunis/tradingtracker/internal/model"
)

var ErrNoPositionID = errors.New("order has no position id")

// The broker's order-history feed comes in two encodings: a dense array
// indexed by documented position, and a sparse object whose key names vary
// between API revisions. Both decode into the same canonical RawOrder here;
// nothing downstream ever branches on the encoding.

// Dense encoding: documented field positions 0-21.
const (
	_posOrderID = iota
	_posInstrumentID
	_posRouteID
	_posQuantity
	_posSide
	_posKind
	_posStatus
	_posFilledQuantity
	_posAvgFillPrice
	_posTriggerPrice
	_posStopTriggerPrice
	_posTimeInForce
	_posExpireAt
	_posCreatedAt
	_posLastModified
	_posIsOpeningFill
	_posPositionID
	_posStopLoss
	_posStopLossKind
	_posTakeProfit
	_posTakeProfitKind
	_posStrategyID

	_denseFieldCount
)

// Sparse encoding: the ordered source-field list per canonical field. The
// first key present wins; this table is the only place aliases are allowed.
var _sparseAliases = map[string][]string{
	"orderId":          {"id", "orderId"},
	"instrumentId":     {"tradableInstrumentId", "instrumentId"},
	"routeId":          {"routeId"},
	"quantity":         {"qty", "quantity", "amount"},
	"side":             {"side"},
	"kind":             {"type", "orderType"},
	"status":           {"status"},
	"filledQuantity":   {"filledQty", "filledQuantity"},
	"avgFillPrice":     {"avgPrice", "avgFillPrice", "averagePrice"},
	"triggerPrice":     {"price", "triggerPrice"},
	"stopTriggerPrice": {"stopPrice", "stopTriggerPrice"},
	"timeInForce":      {"validity", "timeInForce", "tif"},
	"expireAt":         {"expireDate", "expireAt"},
	"createdAt":        {"createdDate", "createdAt", "createdDateTime"},
	"lastModified":     {"lastModified", "updatedDate"},
	"isOpeningFill":    {"isOpen", "isOpening"},
	"positionId":       {"positionId", "positionID"},
	"stopLoss":         {"stopLoss", "stopLossPrice", "slPrice"},
	"stopLossKind":     {"stopLossType", "stopLossKind"},
	"takeProfit":       {"takeProfit", "takeProfitPrice", "tpPrice"},
	"takeProfitKind":   {"takeProfitType", "takeProfitKind"},
	"strategyId":       {"strategyId"},
}

// NormalizeOrder parses one raw order record of either encoding. An order
// without a position id is not part of a tradeable round trip and comes
// back as ErrNoPositionID; the caller drops it with a warning.
func NormalizeOrder(raw any) (model.RawOrder, error) {
	var order model.RawOrder
	switch v := raw.(type) {
	case []any:
		order = normalizeDense(denseSlice(v))
	case map[string]any:
		if dense, ok := denseFromIntKeyedObject(v); ok {
			order = normalizeDense(dense)
		} else {
			order = normalizeSparse(v)
		}
	default:
		return model.RawOrder{}, fmt.Errorf("unsupported order record type %T", raw)
	}

	if order.PositionID == "" {
		return model.RawOrder{}, fmt.Errorf("%w: order %s", ErrNoPositionID, order.OrderID)
	}
	return order, nil
}

func normalizeDense(get func(int) any) model.RawOrder {
	return model.RawOrder{
		OrderID:          asString(get(_posOrderID)),
		InstrumentID:     asString(get(_posInstrumentID)),
		RouteID:          asString(get(_posRouteID)),
		Quantity:         asFloat(get(_posQuantity)),
		Side:             asSide(get(_posSide)),
		Kind:             asKind(get(_posKind)),
		Status:           asStatus(get(_posStatus)),
		FilledQuantity:   asFloat(get(_posFilledQuantity)),
		AvgFillPrice:     asFloatPtr(get(_posAvgFillPrice)),
		TriggerPrice:     asFloatPtr(get(_posTriggerPrice)),
		StopTriggerPrice: asFloatPtr(get(_posStopTriggerPrice)),
		TimeInForce:      strings.ToUpper(asString(get(_posTimeInForce))),
		ExpireAtMs:       asMillis(get(_posExpireAt)),
		CreatedAtMs:      asMillis(get(_posCreatedAt)),
		LastModifiedMs:   asMillis(get(_posLastModified)),
		IsOpeningFill:    asBool(get(_posIsOpeningFill)),
		PositionID:       asString(get(_posPositionID)),
		StopLossPrice:    asFloatPtr(get(_posStopLoss)),
		StopLossKind:     asString(get(_posStopLossKind)),
		TakeProfitPrice:  asFloatPtr(get(_posTakeProfit)),
		TakeProfitKind:   asString(get(_posTakeProfitKind)),
		StrategyID:       asString(get(_posStrategyID)),
	}
}

func normalizeSparse(obj map[string]any) model.RawOrder {
	get := func(field string) any {
		for _, key := range _sparseAliases[field] {
			if v, ok := obj[key]; ok && v != nil {
				return v
			}
		}
		return nil
	}

	return model.RawOrder{
		OrderID:          asString(get("orderId")),
		InstrumentID:     asString(get("instrumentId")),
		RouteID:          asString(get("routeId")),
		Quantity:         asFloat(get("quantity")),
		Side:             asSide(get("side")),
		Kind:             asKind(get("kind")),
		Status:           asStatus(get("status")),
		FilledQuantity:   asFloat(get("filledQuantity")),
		AvgFillPrice:     asFloatPtr(get("avgFillPrice")),
		TriggerPrice:     asFloatPtr(get("triggerPrice")),
		StopTriggerPrice: asFloatPtr(get("stopTriggerPrice")),
		TimeInForce:      strings.ToUpper(asString(get("timeInForce"))),
		ExpireAtMs:       asMillis(get("expireAt")),
		CreatedAtMs:      asMillis(get("createdAt")),
		LastModifiedMs:   asMillis(get("lastModified")),
		IsOpeningFill:    asBool(get("isOpeningFill")),
		PositionID:       asString(get("positionId")),
		StopLossPrice:    asFloatPtr(get("stopLoss")),
		StopLossKind:     asString(get("stopLossKind")),
		TakeProfitPrice:  asFloatPtr(get("takeProfit")),
		TakeProfitKind:   asString(get("takeProfitKind")),
		StrategyID:       asString(get("strategyId")),
	}
}

func denseSlice(arr []any) func(int) any {
	return func(i int) any {
		if i < 0 || i >= len(arr) {
			return nil
		}
		return arr[i]
	}
}

// denseFromIntKeyedObject detects the dense form serialized as an object:
// every key a small non-negative integer, with at least 15 of them.
func denseFromIntKeyedObject(obj map[string]any) (func(int) any, bool) {
	if len(obj) < 15 {
		return nil, false
	}
	byIndex := make(map[int]any, len(obj))
	for k, v := range obj {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= 2*_denseFieldCount {
			return nil, false
		}
		byIndex[i] = v
	}
	return func(i int) any { return byIndex[i] }, true
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func asFloat(v any) float64 {
	if p := asFloatPtr(v); p != nil {
		return *p
	}
	return 0
}

// asFloatPtr keeps "not set" distinguishable from "set to zero": empty and
// unparsable values come back nil, never 0.
func asFloatPtr(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int64:
		f := float64(n)
		return &f
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func asMillis(v any) int64 {
	if p := asFloatPtr(v); p != nil {
		return int64(*p)
	}
	return 0
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s == "true" || s == "1" || s == "yes"
	case float64:
		return b != 0
	default:
		return false
	}
}

func asSide(v any) model.Side {
	switch strings.ToLower(asString(v)) {
	case "buy", "b", "long":
		return model.Buy
	case "sell", "s", "short":
		return model.Sell
	default:
		return ""
	}
}

func asKind(v any) model.OrderKind {
	switch strings.ToLower(asString(v)) {
	case "market":
		return model.MarketOrder
	case "limit":
		return model.LimitOrder
	case "stop":
		return model.StopOrder
	default:
		return model.OrderKind(strings.ToLower(asString(v)))
	}
}

func asStatus(v any) model.OrderStatus {
	switch strings.ToLower(asString(v)) {
	case "filled", "executed":
		return model.StatusFilled
	case "cancelled", "canceled":
		return model.StatusCancelled
	case "pending", "new", "working":
		return model.StatusPending
	default:
		return model.OrderStatus(strings.ToLower(asString(v)))
	}
}
