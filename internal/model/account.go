package model

import "time"

// Account is one connected journal account: the broker binding, the
// encrypted credential and the cached token the sync engine works with.
type Account struct {
	ID              string     `db:"id"`
	Email           string     `db:"email"`
	PasswordEnc     string     `db:"password_enc"` // ENC:v1: storage format
	Server          string     `db:"server"`
	BrokerAccountID string     `db:"broker_account_id"`
	AccountNumber   string     `db:"account_number"`
	Balance         float64    `db:"balance"`
	AccessToken     string     `db:"access_token"`
	RefreshToken    string     `db:"refresh_token"`
	TokenExpiresAt  *time.Time `db:"token_expires_at"`
	LastSyncedAt    *time.Time `db:"last_synced_at"`
}

// BrokerAccount is the broker-side account listing entry.
type BrokerAccount struct {
	AccountID     string  `json:"id"`
	AccountNumber string  `json:"accNum"`
	Balance       float64 `json:"accountBalance"`
	Equity        float64 `json:"equity"`
	Currency      string  `json:"currency"`
}

type BrokerCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

type BrokerToken struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expireDate"`
}

func (t BrokerToken) Valid(now time.Time) bool {
	return t.AccessToken != "" && t.ExpiresAt.After(now)
}
