package model

type InstrumentClass string

const (
	ClassForex    InstrumentClass = "forex"
	ClassMetal    InstrumentClass = "metal"
	ClassIndexEUR InstrumentClass = "index-eur"
	ClassIndexGBP InstrumentClass = "index-gbp"
	ClassOther    InstrumentClass = "other"
)

// Instrument is one entry of the broker's tradeable catalog, refreshed
// once per sync run and never mutated mid-run.
type Instrument struct {
	ID      string
	Symbol  string
	Type    string // broker's own type tag, e.g. "FOREX"
	RouteID string
	Class   InstrumentClass
}

// FXRateTable maps currency-pair codes (e.g. "EURUSD") to mid rates.
// Spreads holds the observed bid/ask spread per symbol and is used for
// diagnostics only.
type FXRateTable struct {
	Rates   map[string]float64
	Spreads map[string]float64
}

func NewFXRateTable() FXRateTable {
	return FXRateTable{
		Rates:   make(map[string]float64),
		Spreads: make(map[string]float64),
	}
}

func (t FXRateTable) Rate(pair string) (float64, bool) {
	r, ok := t.Rates[pair]
	return r, ok
}
