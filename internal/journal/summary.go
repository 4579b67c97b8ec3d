package journal

import (
	"sort"

	"github.com/alexkukunis/tradingtracker/internal/model"
	"github.com/alexkukunis/tradingtracker/internal/tools"
)

// DailySummary is the computed per-day feed for the calendar and equity
// views.
type DailySummary struct {
	Date       string  `json:"date"` // YYYY-MM-DD, UTC
	TradeCount int     `json:"tradeCount"`
	GrossPnl   float64 `json:"grossPnl"`
	Winners    int     `json:"winners"`
	Losers     int     `json:"losers"`
	WinRate    float64 `json:"winRate"` // winners / decided trades, 0..1
}

// Summarize folds trade records into per-day summaries sorted by date.
// Breakeven trades count toward volume but not toward the win rate.
func Summarize(trades []model.TradeRecord) []DailySummary {
	byDay := make(map[string]*DailySummary)
	for _, t := range trades {
		day := t.ClosedAt.UTC().Format("2006-01-02")
		s, ok := byDay[day]
		if !ok {
			s = &DailySummary{Date: day}
			byDay[day] = s
		}

		s.TradeCount++
		s.GrossPnl = tools.Round2(s.GrossPnl + t.GrossPnl)
		switch {
		case t.GrossPnl > 0:
			s.Winners++
		case t.GrossPnl < 0:
			s.Losers++
		}
	}

	summaries := make([]DailySummary, 0, len(byDay))
	for _, s := range byDay {
		if decided := s.Winners + s.Losers; decided > 0 {
			s.WinRate = float64(s.Winners) / float64(decided)
		}
		summaries = append(summaries, *s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Date < summaries[j].Date
	})
	return summaries
}
