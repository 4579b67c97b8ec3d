package instrument

import (
	"strings"

	"github.com/alexkukunis/tradingtracker/internal/logger"
	"github.com/alexkukunis/tradingtracker/internal/model"
)

const (
	_metalMultiplier = 100
	_indexMultiplier = 100
	_forexLotSize    = 100000
)

var (
	_metalMarkers = []string{"XAU", "XAG", "GOLD", "SILVER"}

	// European index families quoted in EUR.
	_eurIndexMarkers = []string{
		"DAX", "DE40", "DE30", "GER40", "GER30",
		"CAC", "FRA40", "F40",
		"ESP35", "SPA35",
		"EU50", "EUSTX", "STOXX",
		"AEX", "SMI", "IBEX", "MIB", "ITA40",
	}

	// UK index families quoted in GBP.
	_gbpIndexMarkers = []string{"UK100", "FTSE", "UKX"}
)

// Classify resolves a symbol (and the broker's optional type tag) into an
// instrument class. First match wins: metals, EUR indices, GBP indices,
// forex, everything else.
func Classify(symbol, typeTag string) model.InstrumentClass {
	s := strings.ToUpper(symbol)

	for _, m := range _metalMarkers {
		if strings.Contains(s, m) {
			return model.ClassMetal
		}
	}
	for _, m := range _eurIndexMarkers {
		if strings.Contains(s, m) {
			return model.ClassIndexEUR
		}
	}
	for _, m := range _gbpIndexMarkers {
		if strings.Contains(s, m) {
			return model.ClassIndexGBP
		}
	}
	if isForexSymbol(s) || strings.EqualFold(typeTag, "FOREX") {
		return model.ClassForex
	}

	return model.ClassOther
}

// PairCode extracts the bare 6-letter currency-pair code from a broker
// symbol, dropping feed suffixes like ".X" or ".PRO". The FX table is keyed
// by this code, never by the raw symbol.
func PairCode(symbol string) (string, bool) {
	s := strings.ToUpper(symbol)
	if len(s) < 6 {
		return "", false
	}
	pair := s[:6]
	for _, r := range pair {
		if r < 'A' || r > 'Z' {
			return "", false
		}
	}
	return pair, true
}

func isForexSymbol(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Catalog resolves instrument ids to symbols and classes for one sync run,
// and prices the contract multiplier against that run's FX snapshot.
type Catalog struct {
	byID map[string]model.Instrument
	fx   model.FXRateTable

	logger logger.Logger
}

func NewCatalog(instruments []model.Instrument, fx model.FXRateTable, logger logger.Logger) *Catalog {
	byID := make(map[string]model.Instrument, len(instruments))
	for _, i := range instruments {
		if i.Class == "" {
			i.Class = Classify(i.Symbol, i.Type)
		}
		byID[i.ID] = i
	}
	return &Catalog{
		byID:   byID,
		fx:     fx,
		logger: logger,
	}
}

func (c *Catalog) Resolve(instrumentID string) (model.Instrument, bool) {
	i, ok := c.byID[instrumentID]
	return i, ok
}

func (c *Catalog) FX() model.FXRateTable {
	return c.fx
}

// Multiplier is the USD value of one price-unit move for one unit of
// quantity. Unknown FX rates degrade to 1.0 with a warning so pricing never
// blocks a run.
func (c *Catalog) Multiplier(symbol string, class model.InstrumentClass) float64 {
	return MultiplierWith(symbol, class, c.fx, c.logger)
}

func MultiplierWith(symbol string, class model.InstrumentClass, fx model.FXRateTable, logger logger.Logger) float64 {
	switch class {
	case model.ClassMetal:
		return _metalMultiplier
	case model.ClassIndexEUR:
		rate, ok := fx.Rate("EURUSD")
		if !ok {
			warnMissingRate(logger, symbol, "EURUSD")
			rate = 1
		}
		return _indexMultiplier * rate
	case model.ClassIndexGBP:
		rate, ok := fx.Rate("GBPUSD")
		if !ok {
			warnMissingRate(logger, symbol, "GBPUSD")
			rate = 1
		}
		return _indexMultiplier * rate
	case model.ClassForex:
		return _forexLotSize * quoteToUSD(symbol, fx, logger)
	default:
		return 1
	}
}

// quoteToUSD converts the quote currency of a forex pair to USD. The
// conversion divides by the first matching rate in either pair orientation;
// this mirrors the ledger's observed behavior and is covered by tests, so
// don't "fix" it without revalidating against real fills.
func quoteToUSD(symbol string, fx model.FXRateTable, logger logger.Logger) float64 {
	pair, ok := PairCode(symbol)
	if !ok {
		return 1
	}
	quote := pair[3:]
	if quote == "USD" {
		return 1
	}

	if r, ok := fx.Rate(quote + "USD"); ok && r != 0 {
		return 1 / r
	}
	if r, ok := fx.Rate("USD" + quote); ok && r != 0 {
		return 1 / r
	}

	warnMissingRate(logger, symbol, quote+"USD")
	return 1
}

func warnMissingRate(logger logger.Logger, symbol, pair string) {
	if logger != nil {
		logger.Warnf("no fx rate %s for %s, pricing with rate 1.0", pair, symbol)
	}
}
