package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alexkukunis/tradingtracker/internal/broker"
	"github.com/alexkukunis/tradingtracker/internal/instrument"
	"github.com/alexkukunis/tradingtracker/internal/logger"
	"github.com/alexkukunis/tradingtracker/internal/model"
	"github.com/alexkukunis/tradingtracker/internal/reconcile"
	"github.com/alexkukunis/tradingtracker/internal/tools"
)

type Mode string

const (
	Initial Mode = "initial"
	Refresh Mode = "refresh"
)

// Result is what one sync run produced.
type Result struct {
	Created           int
	Skipped           int
	PositionsInWindow int
	LastSyncedAt      time.Time
}

type BrokerAPI interface {
	Accounts(ctx context.Context, accessToken string) ([]model.BrokerAccount, error)
	OrdersHistory(ctx context.Context, accessToken, brokerAccountID string, startTimeMs *int64) ([]model.RawOrder, error)
	Instruments(ctx context.Context, accessToken, brokerAccountID string) ([]model.Instrument, error)
	FXRates(ctx context.Context, accessToken, brokerAccountID string, instruments []model.Instrument) (model.FXRateTable, error)
}

type TokenSource interface {
	AccessToken(ctx context.Context, acct *model.Account) (string, error)
}

type Ledger interface {
	LastSyncedTrade(ctx context.Context, accountID string) (*time.Time, error)
	ExistingExternalIDs(ctx context.Context, accountID string) (map[string]struct{}, error)
	UpsertTrade(ctx context.Context, t model.TradeRecord) (bool, error)
	SaveBalance(ctx context.Context, accountID string, balance float64) error
	AdvanceSyncCheckpoint(ctx context.Context, accountID string, ts time.Time) error
}

// Orchestrator drives one synchronization run per account: window, fetch,
// reconcile, re-filter, cap, dedup, balance sequencing, persist, checkpoint.
// A run for a given account must not overlap another run for that account;
// exclusivity is owned by the caller.
type Orchestrator struct {
	api    BrokerAPI
	tokens TokenSource
	ledger Ledger

	firstSyncCap int
	logger       logger.Logger
	now          func() time.Time
}

func NewOrchestrator(api BrokerAPI, tokens TokenSource, ledger Ledger, firstSyncCap int, logger logger.Logger) *Orchestrator {
	if firstSyncCap <= 0 {
		firstSyncCap = 100
	}
	return &Orchestrator{
		api:          api,
		tokens:       tokens,
		ledger:       ledger,
		firstSyncCap: firstSyncCap,
		logger:       logger,
		now:          time.Now,
	}
}

// Run executes one sync. Running refresh twice against an unchanged
// upstream order set creates zero records on the second run.
func (o *Orchestrator) Run(ctx context.Context, acct *model.Account, mode Mode) (Result, error) {
	log := o.logger.With("account", acct.ID, "mode", mode, "run", uuid.NewString()[:8])

	accessToken, err := o.tokens.AccessToken(ctx, acct)
	if err != nil {
		return Result{}, fmt.Errorf("%w: can't obtain access token", err)
	}

	existing, err := o.ledger.ExistingExternalIDs(ctx, acct.ID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: can't load dedup set", err)
	}
	firstSync := len(existing) == 0

	// The incremental window has no buffer below the last persisted close
	// time; dedup by id is the real safety net, not the time filter.
	var lowerBoundMs *int64
	if mode == Refresh {
		last, err := o.ledger.LastSyncedTrade(ctx, acct.ID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: can't load last synced trade", err)
		}
		if last != nil {
			ms := tools.TimeToMs(*last)
			lowerBoundMs = &ms
		}
	}

	orders, err := o.api.OrdersHistory(ctx, accessToken, acct.BrokerAccountID, lowerBoundMs)
	if err != nil {
		if !errors.Is(err, broker.ErrRateLimited) {
			return Result{}, fmt.Errorf("%w: can't fetch orders history", err)
		}
		// Rate limited after the single retry: this fetch yields zero new
		// orders, the run itself still completes.
		log.Warnf("orders history rate limited, proceeding with zero new orders")
		orders = nil
	}

	positions := o.reconcile(ctx, log, accessToken, acct.BrokerAccountID, orders)

	// The remote time filter is not trusted: re-apply the window locally.
	if lowerBoundMs != nil {
		kept := positions[:0]
		for _, p := range positions {
			if p.ExitAtMs >= *lowerBoundMs {
				kept = append(kept, p)
			}
		}
		positions = kept
	}

	result := Result{PositionsInWindow: len(positions)}

	if (firstSync || mode == Initial) && len(positions) > o.firstSyncCap {
		// Positions are sorted ascending by exit time; keep the most recent.
		positions = positions[len(positions)-o.firstSyncCap:]
	}

	selected := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		if _, dup := existing[p.PositionID]; dup {
			result.Skipped++
			continue
		}
		if _, dup := existing[p.ClosingOrderID]; dup {
			result.Skipped++
			continue
		}
		selected = append(selected, p)
	}

	balance := o.seedBalance(ctx, log, accessToken, acct, firstSync, selected)
	records := make([]model.TradeRecord, 0, len(selected))
	for _, p := range selected {
		opening := balance
		balance = balance.Add(decimal.NewFromFloat(p.GrossPnl)).Round(2)
		records = append(records, buildRecord(acct.ID, p, opening, balance))
	}

	// Nothing has been written up to here; aborting before this point has
	// no side effects.
	var persistErr error
	for _, rec := range records {
		created, err := o.ledger.UpsertTrade(ctx, rec)
		if err != nil {
			// Failed rows stay undeduplicated and retry on the next run;
			// the rest of the batch still lands.
			log.Errorf("%s: can't persist trade %s", err, rec.ExternalID)
			persistErr = err
			continue
		}
		if created {
			result.Created++
		} else {
			result.Skipped++
		}
	}
	if persistErr != nil {
		// Checkpoint and balance seed stay put so the next run retries the
		// failed rows.
		return result, fmt.Errorf("%w: not all trades were persisted", persistErr)
	}

	if len(records) > 0 {
		sequenced := balance.InexactFloat64()
		if err := o.ledger.SaveBalance(ctx, acct.ID, sequenced); err != nil {
			return result, fmt.Errorf("%w: can't save balance", err)
		}
		acct.Balance = sequenced
	}

	result.LastSyncedAt = o.now().UTC()
	if err := o.ledger.AdvanceSyncCheckpoint(ctx, acct.ID, result.LastSyncedAt); err != nil {
		return result, fmt.Errorf("%w: can't advance checkpoint", err)
	}

	log.Infof("sync complete: created=%d skipped=%d positions_in_window=%d",
		result.Created, result.Skipped, result.PositionsInWindow)
	return result, nil
}

// seedBalance is the running balance the oldest new record opens from.
// After the first sync it continues from the balance persisted at the end of
// the previous run, keeping each opening balance equal to the prior closing
// balance. On the first sync it is derived from the broker's reported
// balance minus the P&L about to be imported, so the sequenced ledger lands
// exactly on the broker's current number. Broker listing failures degrade to
// the stored ledger balance with a warning.
func (o *Orchestrator) seedBalance(ctx context.Context, log logger.Logger, accessToken string, acct *model.Account, firstSync bool, selected []model.Position) decimal.Decimal {
	seed := decimal.NewFromFloat(acct.Balance)
	if !firstSync {
		return seed
	}

	accounts, err := o.api.Accounts(ctx, accessToken)
	if err != nil {
		log.Warnf("%s: can't list broker accounts, seeding balance from ledger", err)
		return seed
	}
	for _, a := range accounts {
		if a.AccountID != acct.BrokerAccountID {
			continue
		}
		total := decimal.Zero
		for _, p := range selected {
			total = total.Add(decimal.NewFromFloat(p.GrossPnl))
		}
		return decimal.NewFromFloat(a.Balance).Sub(total).Round(2)
	}

	log.Warnf("broker account %s not in listing, seeding balance from ledger", acct.BrokerAccountID)
	return seed
}

// reconcile loads the per-run instrument catalog and FX snapshot and folds
// the fetched orders into closed positions. Catalog or FX failures degrade
// to multiplier 1 pricing with a warning; they never block the run.
func (o *Orchestrator) reconcile(ctx context.Context, log logger.Logger, accessToken, brokerAccountID string, orders []model.RawOrder) []model.Position {
	instruments, err := o.api.Instruments(ctx, accessToken, brokerAccountID)
	if err != nil {
		log.Warnf("%s: can't load instruments, pricing accuracy degraded", err)
	}

	fx := model.NewFXRateTable()
	if len(instruments) > 0 {
		if fetched, err := o.api.FXRates(ctx, accessToken, brokerAccountID, instruments); err != nil {
			log.Warnf("%s: can't load fx rates, pricing accuracy degraded", err)
		} else {
			fx = fetched
			for symbol, spread := range fx.Spreads {
				log.Debugf("fx %s spread %.5f", symbol, spread)
			}
		}
	}

	catalog := instrument.NewCatalog(instruments, fx, log)
	return reconcile.NewReconciler(catalog, log).Reconcile(orders)
}
