package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alexkukunis/tradingtracker/internal/model"
)

// Store is the persisted trade ledger and account registry. Trades are
// keyed by (account_id, external_id); inserting an existing key is a no-op
// so concurrent imports racing the dedup set stay harmless.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const _schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                TEXT PRIMARY KEY,
	email             TEXT NOT NULL,
	password_enc      TEXT NOT NULL,
	server            TEXT NOT NULL,
	broker_account_id TEXT NOT NULL,
	account_number    TEXT NOT NULL DEFAULT '',
	balance           DOUBLE PRECISION NOT NULL DEFAULT 0,
	access_token      TEXT NOT NULL DEFAULT '',
	refresh_token     TEXT NOT NULL DEFAULT '',
	token_expires_at  TIMESTAMPTZ,
	last_synced_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS trades (
	account_id       TEXT NOT NULL REFERENCES accounts (id),
	external_id      TEXT NOT NULL,
	position_id      TEXT NOT NULL DEFAULT '',
	closing_order_id TEXT NOT NULL DEFAULT '',
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	quantity         DOUBLE PRECISION NOT NULL,
	entry_price      DOUBLE PRECISION NOT NULL,
	exit_price       DOUBLE PRECISION NOT NULL,
	stop_loss        DOUBLE PRECISION,
	take_profit      DOUBLE PRECISION,
	opened_at        TIMESTAMPTZ NOT NULL,
	closed_at        TIMESTAMPTZ NOT NULL,
	gross_pnl        DOUBLE PRECISION NOT NULL,
	opening_balance  DOUBLE PRECISION NOT NULL,
	closing_balance  DOUBLE PRECISION NOT NULL,
	percent_gain     DOUBLE PRECISION NOT NULL,
	risk_dollar      DOUBLE PRECISION,
	target_dollar    DOUBLE PRECISION,
	rr_achieved      DOUBLE PRECISION,
	target_hit       BOOLEAN NOT NULL DEFAULT FALSE,
	result           TEXT NOT NULL,
	imported_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (account_id, external_id)
);

CREATE INDEX IF NOT EXISTS trades_account_closed_at_idx ON trades (account_id, closed_at);
`

func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, _schema); err != nil {
		return fmt.Errorf("%w: can't init schema", err)
	}
	return nil
}

const _upsertTrade = `INSERT INTO trades (
			account_id,
			external_id,
			position_id,
			closing_order_id,
			symbol,
			side,
			quantity,
			entry_price,
			exit_price,
			stop_loss,
			take_profit,
			opened_at,
			closed_at,
			gross_pnl,
			opening_balance,
			closing_balance,
			percent_gain,
			risk_dollar,
			target_dollar,
			rr_achieved,
			target_hit,
			result
		) VALUES (
			:account_id, :external_id, :position_id, :closing_order_id,
			:symbol, :side, :quantity, :entry_price, :exit_price,
			:stop_loss, :take_profit, :opened_at, :closed_at, :gross_pnl,
			:opening_balance, :closing_balance, :percent_gain,
			:risk_dollar, :target_dollar, :rr_achieved, :target_hit, :result
		)
		ON CONFLICT (account_id, external_id) DO NOTHING;`

// UpsertTrade inserts the record, reporting whether a row was created.
// A duplicate key is the expected dedup race, not an error.
func (s *Store) UpsertTrade(ctx context.Context, t model.TradeRecord) (bool, error) {
	res, err := s.db.NamedExecContext(ctx, _upsertTrade, t)
	if err != nil {
		return false, fmt.Errorf("%w: can't upsert trade %s", err, t.ExternalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: can't read upsert result", err)
	}
	return n > 0, nil
}

const _queryLastSyncedTrade = `SELECT closed_at FROM trades WHERE account_id = $1 ORDER BY closed_at DESC LIMIT 1`

// LastSyncedTrade returns the close time of the most recently persisted
// trade, or nil when the account has no trades yet.
func (s *Store) LastSyncedTrade(ctx context.Context, accountID string) (*time.Time, error) {
	var closedAt time.Time
	if err := s.db.GetContext(ctx, &closedAt, _queryLastSyncedTrade, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't query last synced trade", err)
	}
	return &closedAt, nil
}

const _queryExternalIDs = `SELECT external_id, closing_order_id FROM trades WHERE account_id = $1`

// ExistingExternalIDs returns every identifier already bound to a persisted
// trade: the external id plus the closing order id, covering historical
// records keyed by order id before position ids were adopted.
func (s *Store) ExistingExternalIDs(ctx context.Context, accountID string) (map[string]struct{}, error) {
	var rows []struct {
		ExternalID     string `db:"external_id"`
		ClosingOrderID string `db:"closing_order_id"`
	}
	if err := s.db.SelectContext(ctx, &rows, _queryExternalIDs, accountID); err != nil {
		return nil, fmt.Errorf("%w: can't query existing external ids", err)
	}

	ids := make(map[string]struct{}, 2*len(rows))
	for _, r := range rows {
		if r.ExternalID != "" {
			ids[r.ExternalID] = struct{}{}
		}
		if r.ClosingOrderID != "" {
			ids[r.ClosingOrderID] = struct{}{}
		}
	}
	return ids, nil
}

const _advanceCheckpoint = `UPDATE accounts SET last_synced_at = $1 WHERE id = $2`

func (s *Store) AdvanceSyncCheckpoint(ctx context.Context, accountID string, ts time.Time) error {
	if _, err := s.db.ExecContext(ctx, _advanceCheckpoint, ts, accountID); err != nil {
		return fmt.Errorf("%w: can't advance sync checkpoint", err)
	}
	return nil
}

const _saveToken = `UPDATE accounts SET access_token = $1, refresh_token = $2, token_expires_at = $3 WHERE id = $4`

func (s *Store) SaveToken(ctx context.Context, accountID string, tok model.BrokerToken) error {
	if _, err := s.db.ExecContext(ctx, _saveToken, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt, accountID); err != nil {
		return fmt.Errorf("%w: can't save token", err)
	}
	return nil
}

const _saveBalance = `UPDATE accounts SET balance = $1 WHERE id = $2`

func (s *Store) SaveBalance(ctx context.Context, accountID string, balance float64) error {
	if _, err := s.db.ExecContext(ctx, _saveBalance, balance, accountID); err != nil {
		return fmt.Errorf("%w: can't save balance", err)
	}
	return nil
}

const (
	_queryAccount  = `SELECT * FROM accounts WHERE id = $1`
	_queryAccounts = `SELECT * FROM accounts ORDER BY id`
)

func (s *Store) Account(ctx context.Context, id string) (*model.Account, error) {
	var acct model.Account
	if err := s.db.GetContext(ctx, &acct, _queryAccount, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't query account", err)
	}
	return &acct, nil
}

func (s *Store) Accounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	if err := s.db.SelectContext(ctx, &accounts, _queryAccounts); err != nil {
		return nil, fmt.Errorf("%w: can't query accounts", err)
	}
	return accounts, nil
}

const _queryTrades = `SELECT * FROM trades WHERE account_id = $1 ORDER BY closed_at DESC LIMIT $2`

func (s *Store) Trades(ctx context.Context, accountID string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	var trades []model.TradeRecord
	if err := s.db.SelectContext(ctx, &trades, _queryTrades, accountID, limit); err != nil {
		return nil, fmt.Errorf("%w: can't query trades", err)
	}
	return trades, nil
}
