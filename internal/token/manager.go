package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexkukunis/tradingtracker/internal/logger"
	"github.com/alexkukunis/tradingtracker/internal/model"
)

// ErrReconnectRequired marks stale stored credentials: the account owner
// has to reconnect. Callers rely on it being distinguishable from transient
// network failures.
var ErrReconnectRequired = errors.New("stale credentials, reconnect required")

// _expirySkew keeps a token from being reused right at its expiry edge.
const _expirySkew = 30 * time.Second

type API interface {
	IssueToken(ctx context.Context, creds model.BrokerCredentials) (model.BrokerToken, error)
	RefreshToken(ctx context.Context, refreshToken string) (model.BrokerToken, error)
}

type Store interface {
	SaveToken(ctx context.Context, accountID string, tok model.BrokerToken) error
}

// Manager keeps a valid access credential for broker calls:
// reuse-if-valid → refresh-token → full reauthentication from the stored
// (encrypted) credential. Every transition is persisted immediately so
// subsequent runs reuse the token instead of re-authenticating.
type Manager struct {
	api    API
	store  Store
	cipher *Cipher
	logger logger.Logger

	now func() time.Time
}

func NewManager(api API, store Store, cipher *Cipher, logger logger.Logger) *Manager {
	return &Manager{
		api:    api,
		store:  store,
		cipher: cipher,
		logger: logger,
		now:    time.Now,
	}
}

// AccessToken returns a valid access token for the account, updating the
// account's cached token fields in place on every transition.
func (m *Manager) AccessToken(ctx context.Context, acct *model.Account) (string, error) {
	if cached := m.cachedToken(acct); cached.Valid(m.now().Add(_expirySkew)) {
		return cached.AccessToken, nil
	}

	if acct.RefreshToken != "" {
		tok, err := m.api.RefreshToken(ctx, acct.RefreshToken)
		if err == nil {
			return tok.AccessToken, m.persist(ctx, acct, tok)
		}
		m.logger.Warnf("%s: token refresh failed for account %s, re-authenticating", err, acct.ID)
	}

	return m.reauthenticate(ctx, acct)
}

func (m *Manager) reauthenticate(ctx context.Context, acct *model.Account) (string, error) {
	password, err := m.cipher.Decrypt(acct.PasswordEnc)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrReconnectRequired, err)
	}

	tok, err := m.api.IssueToken(ctx, model.BrokerCredentials{
		Email:    acct.Email,
		Password: password,
		Server:   acct.Server,
	})
	if err != nil {
		return "", fmt.Errorf("%w: can't re-authenticate account %s", err, acct.ID)
	}

	return tok.AccessToken, m.persist(ctx, acct, tok)
}

func (m *Manager) persist(ctx context.Context, acct *model.Account, tok model.BrokerToken) error {
	acct.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acct.RefreshToken = tok.RefreshToken
	}
	expiresAt := tok.ExpiresAt
	acct.TokenExpiresAt = &expiresAt

	if err := m.store.SaveToken(ctx, acct.ID, tok); err != nil {
		return fmt.Errorf("%w: can't persist token for account %s", err, acct.ID)
	}
	return nil
}

func (m *Manager) cachedToken(acct *model.Account) model.BrokerToken {
	tok := model.BrokerToken{
		AccessToken:  acct.AccessToken,
		RefreshToken: acct.RefreshToken,
	}
	if acct.TokenExpiresAt != nil {
		tok.ExpiresAt = *acct.TokenExpiresAt
	}
	return tok
}
