package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexkukunis/tradingtracker/internal/broker"
	"github.com/alexkukunis/tradingtracker/internal/logger"
	"github.com/alexkukunis/tradingtracker/internal/model"
	"github.com/alexkukunis/tradingtracker/internal/tools"
)

type nopLogger struct{}

func (n nopLogger) With(args ...interface{}) logger.Logger      { return n }
func (n nopLogger) Debugf(template string, args ...interface{}) {}
func (n nopLogger) Infof(template string, args ...interface{})  {}
func (n nopLogger) Warnf(template string, args ...interface{})  {}
func (n nopLogger) Errorf(template string, args ...interface{}) {}
func (n nopLogger) Fatalf(template string, args ...interface{}) {}
func (n nopLogger) Sync() error                                 { return nil }

type fakeAPI struct {
	orders      []model.RawOrder
	ordersErr   error
	gotStart    *int64
	accounts    []model.BrokerAccount
	accountsErr error
}

func (a *fakeAPI) Accounts(ctx context.Context, accessToken string) ([]model.BrokerAccount, error) {
	return a.accounts, a.accountsErr
}

func (a *fakeAPI) OrdersHistory(ctx context.Context, accessToken, brokerAccountID string, startTimeMs *int64) ([]model.RawOrder, error) {
	a.gotStart = startTimeMs
	if a.ordersErr != nil {
		return nil, a.ordersErr
	}
	return a.orders, nil
}

func (a *fakeAPI) Instruments(ctx context.Context, accessToken, brokerAccountID string) ([]model.Instrument, error) {
	return nil, nil
}

func (a *fakeAPI) FXRates(ctx context.Context, accessToken, brokerAccountID string, instruments []model.Instrument) (model.FXRateTable, error) {
	return model.NewFXRateTable(), nil
}

type fakeTokens struct {
	err error
}

func (t *fakeTokens) AccessToken(ctx context.Context, acct *model.Account) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	return "tok", nil
}

type fakeLedger struct {
	existing    map[string]struct{}
	last        *time.Time
	upserted    []model.TradeRecord
	upsertErr   error
	failIDs     map[string]struct{}
	balances    []float64
	checkpoints []time.Time
}

func (l *fakeLedger) LastSyncedTrade(ctx context.Context, accountID string) (*time.Time, error) {
	return l.last, nil
}

func (l *fakeLedger) ExistingExternalIDs(ctx context.Context, accountID string) (map[string]struct{}, error) {
	if l.existing == nil {
		return map[string]struct{}{}, nil
	}
	return l.existing, nil
}

func (l *fakeLedger) UpsertTrade(ctx context.Context, t model.TradeRecord) (bool, error) {
	if l.upsertErr != nil {
		return false, l.upsertErr
	}
	if _, fail := l.failIDs[t.ExternalID]; fail {
		return false, errors.New("insert failed")
	}
	l.upserted = append(l.upserted, t)
	return true, nil
}

func (l *fakeLedger) SaveBalance(ctx context.Context, accountID string, balance float64) error {
	l.balances = append(l.balances, balance)
	return nil
}

func (l *fakeLedger) AdvanceSyncCheckpoint(ctx context.Context, accountID string, ts time.Time) error {
	l.checkpoints = append(l.checkpoints, ts)
	return nil
}

func fp(v float64) *float64 { return &v }

// roundTrip is one buy-then-sell fill pair for a position; quantity 1 so the
// gross P&L equals exit−entry.
func roundTrip(pos string, entry, exit float64, exitAtMs int64) []model.RawOrder {
	return []model.RawOrder{
		{OrderID: pos + "-o", PositionID: pos, Side: model.Buy, Status: model.StatusFilled, IsOpeningFill: true, FilledQuantity: 1, AvgFillPrice: fp(entry), CreatedAtMs: exitAtMs - 60_000},
		{OrderID: pos + "-c", PositionID: pos, Side: model.Sell, Status: model.StatusFilled, FilledQuantity: 1, AvgFillPrice: fp(exit), CreatedAtMs: exitAtMs},
	}
}

func newTestOrchestrator(api *fakeAPI, tokens *fakeTokens, ledger *fakeLedger, cap int) *Orchestrator {
	o := NewOrchestrator(api, tokens, ledger, cap, nopLogger{})
	o.now = func() time.Time { return time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC) }
	return o
}

func TestRunBalanceSequencing(t *testing.T) {
	var orders []model.RawOrder
	orders = append(orders, roundTrip("p1", 100, 200, 1000)...)
	orders = append(orders, roundTrip("p2", 200, 150, 2000)...)

	ledger := &fakeLedger{}
	o := newTestOrchestrator(&fakeAPI{orders: orders}, &fakeTokens{}, ledger, 100)

	result, err := o.Run(context.Background(), &model.Account{ID: "a1", Balance: 10000}, Refresh)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	require.Len(t, ledger.upserted, 2)

	first, second := ledger.upserted[0], ledger.upserted[1]
	assert.InDelta(t, 10000, first.OpeningBalance, 1e-9)
	assert.InDelta(t, 10100, first.ClosingBalance, 1e-9)
	// Each opening balance is the previous closing balance.
	assert.InDelta(t, first.ClosingBalance, second.OpeningBalance, 1e-9)
	assert.InDelta(t, 10050, second.ClosingBalance, 1e-9)

	// The sequenced balance is persisted for the next run to continue from.
	require.Len(t, ledger.balances, 1)
	assert.InDelta(t, 10050, ledger.balances[0], 1e-9)
}

func TestRunBalanceContinuityAcrossRuns(t *testing.T) {
	acct := &model.Account{ID: "a1", Balance: 10000}

	first := &fakeLedger{}
	o := newTestOrchestrator(&fakeAPI{orders: roundTrip("p1", 100, 150, 1000)}, &fakeTokens{}, first, 100)
	_, err := o.Run(context.Background(), acct, Refresh)
	require.NoError(t, err)
	require.Len(t, first.upserted, 1)
	assert.InDelta(t, 10050, first.upserted[0].ClosingBalance, 1e-9)
	assert.InDelta(t, 10050, acct.Balance, 1e-9)

	// Second run with one new position: its opening balance continues from
	// the first run's closing balance, not the original seed.
	var orders []model.RawOrder
	orders = append(orders, roundTrip("p1", 100, 150, 1000)...)
	orders = append(orders, roundTrip("p2", 100, 120, 2000)...)

	second := &fakeLedger{existing: map[string]struct{}{"p1": {}}}
	o = newTestOrchestrator(&fakeAPI{orders: orders}, &fakeTokens{}, second, 100)
	_, err = o.Run(context.Background(), acct, Refresh)
	require.NoError(t, err)
	require.Len(t, second.upserted, 1)
	assert.InDelta(t, 10050, second.upserted[0].OpeningBalance, 1e-9)
	assert.InDelta(t, 10070, second.upserted[0].ClosingBalance, 1e-9)
}

func TestRunFirstSyncSeedsFromBrokerBalance(t *testing.T) {
	// Broker reports the balance after all history; the seed backs out the
	// P&L about to be imported so the sequence lands on the broker's number.
	api := &fakeAPI{
		orders:   roundTrip("p1", 100, 200, 1000),
		accounts: []model.BrokerAccount{{AccountID: "b1", Balance: 10100}},
	}
	ledger := &fakeLedger{}
	o := newTestOrchestrator(api, &fakeTokens{}, ledger, 100)

	_, err := o.Run(context.Background(), &model.Account{ID: "a1", BrokerAccountID: "b1"}, Refresh)
	require.NoError(t, err)
	require.Len(t, ledger.upserted, 1)
	assert.InDelta(t, 10000, ledger.upserted[0].OpeningBalance, 1e-9)
	assert.InDelta(t, 10100, ledger.upserted[0].ClosingBalance, 1e-9)
}

func TestRunDedupByPositionAndClosingOrder(t *testing.T) {
	var orders []model.RawOrder
	orders = append(orders, roundTrip("p1", 100, 200, 1000)...)
	orders = append(orders, roundTrip("p2", 100, 200, 2000)...)
	orders = append(orders, roundTrip("p3", 100, 200, 3000)...)

	ledger := &fakeLedger{existing: map[string]struct{}{
		"p1":   {}, // known position id
		"p2-c": {}, // known closing order id from a pre-position-id import
	}}
	o := newTestOrchestrator(&fakeAPI{orders: orders}, &fakeTokens{}, ledger, 100)

	result, err := o.Run(context.Background(), &model.Account{ID: "a1"}, Refresh)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 2, result.Skipped)
	require.Len(t, ledger.upserted, 1)
	assert.Equal(t, "p3", ledger.upserted[0].PositionID)
}

func TestRunRefreshIsIdempotent(t *testing.T) {
	var orders []model.RawOrder
	orders = append(orders, roundTrip("p1", 100, 200, 1000)...)
	orders = append(orders, roundTrip("p2", 200, 150, 2000)...)

	first := &fakeLedger{}
	o := newTestOrchestrator(&fakeAPI{orders: orders}, &fakeTokens{}, first, 100)
	result, err := o.Run(context.Background(), &model.Account{ID: "a1"}, Refresh)
	require.NoError(t, err)
	require.Equal(t, 2, result.Created)

	// Same upstream orders, ledger now contains both external ids.
	second := &fakeLedger{existing: map[string]struct{}{"p1": {}, "p2": {}}}
	o = newTestOrchestrator(&fakeAPI{orders: orders}, &fakeTokens{}, second, 100)
	result, err = o.Run(context.Background(), &model.Account{ID: "a1"}, Refresh)
	require.NoError(t, err)
	assert.Zero(t, result.Created)
	assert.Equal(t, 2, result.Skipped)
	assert.Empty(t, second.upserted)
}

func TestRunInitialCapKeepsMostRecent(t *testing.T) {
	var orders []model.RawOrder
	orders = append(orders, roundTrip("p1", 100, 200, 1000)...)
	orders = append(orders, roundTrip("p2", 100, 200, 2000)...)
	orders = append(orders, roundTrip("p3", 100, 200, 3000)...)

	ledger := &fakeLedger{}
	o := newTestOrchestrator(&fakeAPI{orders: orders}, &fakeTokens{}, ledger, 2)

	result, err := o.Run(context.Background(), &model.Account{ID: "a1"}, Initial)
	require.NoError(t, err)
	assert.Equal(t, 3, result.PositionsInWindow)
	assert.Equal(t, 2, result.Created)
	require.Len(t, ledger.upserted, 2)
	assert.Equal(t, "p2", ledger.upserted[0].PositionID)
	assert.Equal(t, "p3", ledger.upserted[1].PositionID)
}

func TestRunRefreshWindowRefilter(t *testing.T) {
	cutoff := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	cutoffMs := tools.TimeToMs(cutoff)

	var orders []model.RawOrder
	orders = append(orders, roundTrip("p-old", 100, 200, cutoffMs-1)...)
	orders = append(orders, roundTrip("p-new", 100, 200, cutoffMs+1)...)

	api := &fakeAPI{orders: orders}
	// Non-empty dedup set so the first-sync cap does not apply.
	ledger := &fakeLedger{last: &cutoff, existing: map[string]struct{}{"p-seen": {}}}
	o := newTestOrchestrator(api, &fakeTokens{}, ledger, 100)

	result, err := o.Run(context.Background(), &model.Account{ID: "a1"}, Refresh)
	require.NoError(t, err)

	// The checkpoint was passed upstream AND re-applied locally.
	require.NotNil(t, api.gotStart)
	assert.Equal(t, cutoffMs, *api.gotStart)
	assert.Equal(t, 1, result.PositionsInWindow)
	require.Len(t, ledger.upserted, 1)
	assert.Equal(t, "p-new", ledger.upserted[0].PositionID)
}

func TestRunRateLimitedCompletesEmpty(t *testing.T) {
	ledger := &fakeLedger{}
	o := newTestOrchestrator(&fakeAPI{ordersErr: broker.ErrRateLimited}, &fakeTokens{}, ledger, 100)

	result, err := o.Run(context.Background(), &model.Account{ID: "a1"}, Refresh)
	require.NoError(t, err)
	assert.Zero(t, result.Created)
	// The run still completed, so the checkpoint advanced.
	assert.Len(t, ledger.checkpoints, 1)
}

func TestRunFetchFailureAborts(t *testing.T) {
	ledger := &fakeLedger{}
	o := newTestOrchestrator(&fakeAPI{ordersErr: errors.New("boom")}, &fakeTokens{}, ledger, 100)

	_, err := o.Run(context.Background(), &model.Account{ID: "a1"}, Refresh)
	require.Error(t, err)
	assert.Empty(t, ledger.checkpoints)
}

func TestRunPersistFailureKeepsCheckpoint(t *testing.T) {
	ledger := &fakeLedger{upsertErr: errors.New("insert failed")}
	o := newTestOrchestrator(&fakeAPI{orders: roundTrip("p1", 100, 200, 1000)}, &fakeTokens{}, ledger, 100)

	_, err := o.Run(context.Background(), &model.Account{ID: "a1"}, Refresh)
	require.Error(t, err)
	assert.Empty(t, ledger.checkpoints)
	assert.Empty(t, ledger.balances)
}

func TestRunPersistFailureToleratesOtherRows(t *testing.T) {
	var orders []model.RawOrder
	orders = append(orders, roundTrip("p1", 100, 200, 1000)...)
	orders = append(orders, roundTrip("p2", 100, 200, 2000)...)
	orders = append(orders, roundTrip("p3", 100, 200, 3000)...)

	ledger := &fakeLedger{failIDs: map[string]struct{}{"p2": {}}}
	o := newTestOrchestrator(&fakeAPI{orders: orders}, &fakeTokens{}, ledger, 100)

	result, err := o.Run(context.Background(), &model.Account{ID: "a1"}, Refresh)
	require.Error(t, err)

	// The rows around the failure still land; only the checkpoint and the
	// balance seed are withheld so p2 retries next run.
	assert.Equal(t, 2, result.Created)
	require.Len(t, ledger.upserted, 2)
	assert.Equal(t, "p1", ledger.upserted[0].PositionID)
	assert.Equal(t, "p3", ledger.upserted[1].PositionID)
	assert.Empty(t, ledger.checkpoints)
	assert.Empty(t, ledger.balances)
}

func TestRunTokenFailureAborts(t *testing.T) {
	o := newTestOrchestrator(&fakeAPI{}, &fakeTokens{err: errors.New("denied")}, &fakeLedger{}, 100)

	_, err := o.Run(context.Background(), &model.Account{ID: "a1"}, Refresh)
	require.Error(t, err)
}

func TestBuildRecordDerivedFields(t *testing.T) {
	p := model.Position{
		PositionID:     "p1",
		ClosingOrderID: "c1",
		Symbol:         "EURUSD",
		Side:           model.Buy,
		Quantity:       0.5,
		EntryPrice:     1.0800,
		ExitPrice:      1.0900,
		StopLoss:       fp(1.0750),
		TakeProfit:     fp(1.0880),
		EntryAtMs:      1000,
		ExitAtMs:       2000,
		Multiplier:     100000,
		GrossPnl:       500,
	}

	rec := buildRecord("a1", p, decimal.NewFromInt(10000), decimal.NewFromInt(10500))

	assert.Equal(t, "p1", rec.ExternalID)
	assert.InDelta(t, 5, rec.PercentGain, 1e-9)

	require.NotNil(t, rec.RiskDollar)
	assert.InDelta(t, 250, *rec.RiskDollar, 1e-9) // 0.005 × 0.5 × 100000
	require.NotNil(t, rec.RRAchieved)
	assert.InDelta(t, 2, *rec.RRAchieved, 1e-9)

	require.NotNil(t, rec.TargetDollar)
	assert.InDelta(t, 400, *rec.TargetDollar, 1e-9)
	assert.True(t, rec.TargetHit) // buy, exit 1.0900 >= tp 1.0880

	assert.Equal(t, model.ResultWin, rec.Result)
}

func TestTargetHitBySide(t *testing.T) {
	sell := model.Position{Side: model.Sell, ExitPrice: 90, TakeProfit: fp(95)}
	assert.True(t, targetHit(sell))
	sell.ExitPrice = 96
	assert.False(t, targetHit(sell))

	buy := model.Position{Side: model.Buy, ExitPrice: 105, TakeProfit: fp(100)}
	assert.True(t, targetHit(buy))
	buy.ExitPrice = 99
	assert.False(t, targetHit(buy))

	assert.False(t, targetHit(model.Position{Side: model.Buy, ExitPrice: 105}))
}

func TestClassifyResult(t *testing.T) {
	assert.Equal(t, model.ResultWin, classify(0.01))
	assert.Equal(t, model.ResultLoss, classify(-0.01))
	assert.Equal(t, model.ResultBreakeven, classify(0))
}
