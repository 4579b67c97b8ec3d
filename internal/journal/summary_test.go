package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexkukunis/tradingtracker/internal/model"
)

func TestSummarize(t *testing.T) {
	day1 := time.Date(2024, 7, 8, 14, 30, 0, 0, time.UTC)
	day2 := time.Date(2024, 7, 9, 9, 15, 0, 0, time.UTC)

	trades := []model.TradeRecord{
		{ClosedAt: day2, GrossPnl: -20},
		{ClosedAt: day1, GrossPnl: 100.10},
		{ClosedAt: day1.Add(2 * time.Hour), GrossPnl: -40.05},
		{ClosedAt: day1.Add(3 * time.Hour), GrossPnl: 0}, // breakeven
		{ClosedAt: day1.Add(4 * time.Hour), GrossPnl: 25.50},
	}

	summaries := Summarize(trades)
	require.Len(t, summaries, 2)

	first := summaries[0]
	assert.Equal(t, "2024-07-08", first.Date)
	assert.Equal(t, 4, first.TradeCount)
	assert.InDelta(t, 85.55, first.GrossPnl, 1e-9)
	assert.Equal(t, 2, first.Winners)
	assert.Equal(t, 1, first.Losers)
	// Breakeven counts toward volume but not toward the win rate.
	assert.InDelta(t, 2.0/3.0, first.WinRate, 1e-9)

	second := summaries[1]
	assert.Equal(t, "2024-07-09", second.Date)
	assert.Equal(t, 1, second.TradeCount)
	assert.InDelta(t, 0, second.WinRate, 1e-9)
}

func TestSummarizeUsesUTCDayBoundary(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	// 01:30 local on July 9 is 22:30 UTC on July 8.
	trades := []model.TradeRecord{
		{ClosedAt: time.Date(2024, 7, 9, 1, 30, 0, 0, loc), GrossPnl: 10},
	}

	summaries := Summarize(trades)
	require.Len(t, summaries, 1)
	assert.Equal(t, "2024-07-08", summaries[0].Date)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Empty(t, Summarize(nil))
}
