package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexkukunis/tradingtracker/internal/logger"
	"github.com/alexkukunis/tradingtracker/internal/model"
)

type nopLogger struct{}

func (n nopLogger) With(args ...interface{}) logger.Logger      { return n }
func (n nopLogger) Debugf(template string, args ...interface{}) {}
func (n nopLogger) Infof(template string, args ...interface{})  {}
func (n nopLogger) Warnf(template string, args ...interface{})  {}
func (n nopLogger) Errorf(template string, args ...interface{}) {}
func (n nopLogger) Fatalf(template string, args ...interface{}) {}
func (n nopLogger) Sync() error                                 { return nil }

type fakeBrokerAPI struct {
	issued     model.BrokerToken
	issueErr   error
	issueCreds model.BrokerCredentials
	issueCalls int

	refreshed    model.BrokerToken
	refreshErr   error
	refreshCalls int
}

func (a *fakeBrokerAPI) IssueToken(ctx context.Context, creds model.BrokerCredentials) (model.BrokerToken, error) {
	a.issueCalls++
	a.issueCreds = creds
	return a.issued, a.issueErr
}

func (a *fakeBrokerAPI) RefreshToken(ctx context.Context, refreshToken string) (model.BrokerToken, error) {
	a.refreshCalls++
	return a.refreshed, a.refreshErr
}

type fakeTokenStore struct {
	saved     []model.BrokerToken
	accountID string
	saveErr   error
}

func (s *fakeTokenStore) SaveToken(ctx context.Context, accountID string, tok model.BrokerToken) error {
	s.accountID = accountID
	s.saved = append(s.saved, tok)
	return s.saveErr
}

var _testNow = time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, api *fakeBrokerAPI, store *fakeTokenStore) *Manager {
	t.Helper()
	cipher, err := NewCipher("journal-secret")
	require.NoError(t, err)
	m := NewManager(api, store, cipher, nopLogger{})
	m.now = func() time.Time { return _testNow }
	return m
}

func encrypted(t *testing.T, plaintext string) string {
	t.Helper()
	cipher, err := NewCipher("journal-secret")
	require.NoError(t, err)
	enc, err := cipher.Encrypt(plaintext)
	require.NoError(t, err)
	return enc
}

func TestAccessTokenReusesValidCached(t *testing.T) {
	api := &fakeBrokerAPI{}
	store := &fakeTokenStore{}
	m := newTestManager(t, api, store)

	expires := _testNow.Add(time.Hour)
	acct := &model.Account{ID: "a1", AccessToken: "cached", TokenExpiresAt: &expires}

	tok, err := m.AccessToken(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, "cached", tok)
	assert.Zero(t, api.refreshCalls)
	assert.Zero(t, api.issueCalls)
	assert.Empty(t, store.saved)
}

func TestAccessTokenSkipsTokenNearExpiry(t *testing.T) {
	api := &fakeBrokerAPI{
		refreshed: model.BrokerToken{AccessToken: "fresh", RefreshToken: "r2", ExpiresAt: _testNow.Add(time.Hour)},
	}
	store := &fakeTokenStore{}
	m := newTestManager(t, api, store)

	// Expires in 10s: inside the reuse skew, must not be handed out.
	expires := _testNow.Add(10 * time.Second)
	acct := &model.Account{ID: "a1", AccessToken: "stale", RefreshToken: "r1", TokenExpiresAt: &expires}

	tok, err := m.AccessToken(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, 1, api.refreshCalls)
}

func TestAccessTokenRefreshPersists(t *testing.T) {
	api := &fakeBrokerAPI{
		refreshed: model.BrokerToken{AccessToken: "fresh", RefreshToken: "r2", ExpiresAt: _testNow.Add(time.Hour)},
	}
	store := &fakeTokenStore{}
	m := newTestManager(t, api, store)

	acct := &model.Account{ID: "a1", RefreshToken: "r1"}

	tok, err := m.AccessToken(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Zero(t, api.issueCalls)

	// The account's cached fields track the transition.
	assert.Equal(t, "fresh", acct.AccessToken)
	assert.Equal(t, "r2", acct.RefreshToken)
	require.NotNil(t, acct.TokenExpiresAt)

	require.Len(t, store.saved, 1)
	assert.Equal(t, "a1", store.accountID)
	assert.Equal(t, "fresh", store.saved[0].AccessToken)
}

func TestAccessTokenFallsBackToReauth(t *testing.T) {
	api := &fakeBrokerAPI{
		refreshErr: errors.New("refresh token revoked"),
		issued:     model.BrokerToken{AccessToken: "reissued", RefreshToken: "r3", ExpiresAt: _testNow.Add(time.Hour)},
	}
	store := &fakeTokenStore{}
	m := newTestManager(t, api, store)

	acct := &model.Account{
		ID:           "a1",
		Email:        "trader@example.com",
		PasswordEnc:  encrypted(t, "hunter2"),
		Server:       "demo",
		RefreshToken: "r1",
	}

	tok, err := m.AccessToken(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, "reissued", tok)
	assert.Equal(t, 1, api.refreshCalls)
	assert.Equal(t, 1, api.issueCalls)

	// Reauth used the decrypted stored credential.
	assert.Equal(t, "trader@example.com", api.issueCreds.Email)
	assert.Equal(t, "hunter2", api.issueCreds.Password)
	assert.Equal(t, "demo", api.issueCreds.Server)
	require.Len(t, store.saved, 1)
}

func TestAccessTokenStaleCredentialsNeedReconnect(t *testing.T) {
	api := &fakeBrokerAPI{refreshErr: errors.New("refresh token revoked")}
	store := &fakeTokenStore{}
	m := newTestManager(t, api, store)

	// Stored credential is not in the encrypted format, e.g. written by an
	// older build or with a different key.
	acct := &model.Account{ID: "a1", PasswordEnc: "not-encrypted", RefreshToken: "r1"}

	_, err := m.AccessToken(context.Background(), acct)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconnectRequired)
	assert.Zero(t, api.issueCalls)
}

func TestAccessTokenReauthFailure(t *testing.T) {
	api := &fakeBrokerAPI{issueErr: errors.New("bad credentials")}
	store := &fakeTokenStore{}
	m := newTestManager(t, api, store)

	acct := &model.Account{ID: "a1", PasswordEnc: encrypted(t, "hunter2")}

	_, err := m.AccessToken(context.Background(), acct)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReconnectRequired)
	assert.Empty(t, store.saved)
}
