package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/ratelimit"
	"resty.dev/v3"

	"github.com/alexkukunis/tradingtracker/internal/config"
	"github.com/alexkukunis/tradingtracker/internal/instrument"
	"github.com/alexkukunis/tradingtracker/internal/logger"
	"github.com/alexkukunis/tradingtracker/internal/model"
)

const (
	_tokenURL         = "/auth/token"
	_refreshURL       = "/auth/refresh"
	_accountsURL      = "/accounts"
	_ordersHistoryURL = "/accounts/{accountId}/ordersHistory"
	_instrumentsURL   = "/accounts/{accountId}/instruments"
	_quotesURL        = "/accounts/{accountId}/quotes"
)

var ErrRateLimited = errors.New("broker rate limit exceeded")

type errorResponse struct {
	Message string `json:"message"`
}

type tokenResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Client talks to the broker's REST API. It holds no per-account auth
// state; callers pass the access token so accounts can sync concurrently.
type Client struct {
	c *resty.Client

	historyLimiter ratelimit.Limiter
	quoteLimiter   ratelimit.Limiter
	backoff        time.Duration

	logger logger.Logger
}

func NewClient(cfg config.BrokerConfig, logger logger.Logger) *Client {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	return &Client{
		c:              client,
		historyLimiter: ratelimit.New(cfg.HistoryRatePerMinute, ratelimit.Per(time.Minute)),
		quoteLimiter:   ratelimit.New(cfg.QuoteRatePerMinute, ratelimit.Per(time.Minute)),
		backoff:        cfg.RateLimitBackoff,
		logger:         logger,
	}
}

func (c *Client) IssueToken(ctx context.Context, creds model.BrokerCredentials) (model.BrokerToken, error) {
	resp, err := c.c.R().
		SetContext(ctx).
		SetBody(creds).
		SetResult(&tokenResponse{}).
		SetError(&errorResponse{}).
		Post(_tokenURL)
	if err != nil {
		return model.BrokerToken{}, fmt.Errorf("%w: can't request token", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return model.BrokerToken{}, fmt.Errorf("token request failed: %s", respErrMessage(resp))
	}

	tok := resp.Result().(*tokenResponse)
	return model.BrokerToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}, nil
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (model.BrokerToken, error) {
	resp, err := c.c.R().
		SetContext(ctx).
		SetBody(map[string]string{"refreshToken": refreshToken}).
		SetResult(&tokenResponse{}).
		SetError(&errorResponse{}).
		Post(_refreshURL)
	if err != nil {
		return model.BrokerToken{}, fmt.Errorf("%w: can't request token refresh", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return model.BrokerToken{}, fmt.Errorf("token refresh failed: %s", respErrMessage(resp))
	}

	tok := resp.Result().(*tokenResponse)
	return model.BrokerToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}, nil
}

func (c *Client) Accounts(ctx context.Context, accessToken string) ([]model.BrokerAccount, error) {
	resp, err := c.c.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetError(&errorResponse{}).
		Get(_accountsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: can't request accounts", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("accounts request failed: %s", respErrMessage(resp))
	}

	var payload struct {
		Accounts []struct {
			ID       any     `json:"id"`
			AccNum   any     `json:"accNum"`
			Balance  float64 `json:"accountBalance"`
			Equity   float64 `json:"equity"`
			Currency string  `json:"currency"`
		} `json:"accounts"`
	}
	if err := sonic.Unmarshal(resp.Bytes(), &payload); err != nil {
		return nil, fmt.Errorf("%w: can't unmarshal accounts", err)
	}

	accounts := make([]model.BrokerAccount, 0, len(payload.Accounts))
	for _, a := range payload.Accounts {
		accounts = append(accounts, model.BrokerAccount{
			AccountID:     asString(a.ID),
			AccountNumber: asString(a.AccNum),
			Balance:       a.Balance,
			Equity:        a.Equity,
			Currency:      a.Currency,
		})
	}
	return accounts, nil
}

// OrdersHistory fetches the raw order records for the account, normalizing
// each one. Malformed records are dropped with a warning, never failing the
// fetch. A 429 is retried once after a fixed backoff; if the retry is also
// rate limited the call gives up with ErrRateLimited.
func (c *Client) OrdersHistory(ctx context.Context, accessToken, brokerAccountID string, startTimeMs *int64) ([]model.RawOrder, error) {
	resp, err := c.ordersHistoryOnce(ctx, accessToken, brokerAccountID, startTimeMs)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		resp.Body.Close()
		c.logger.Warnf("orders history rate limited, retrying in %s", c.backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff):
		}
		if resp, err = c.ordersHistoryOnce(ctx, accessToken, brokerAccountID, startTimeMs); err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, ErrRateLimited
		}
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("orders history request failed: %s", respErrMessage(resp))
	}

	var payload struct {
		Data struct {
			OrdersHistory []any `json:"ordersHistory"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(resp.Bytes(), &payload); err != nil {
		return nil, fmt.Errorf("%w: can't unmarshal orders history", err)
	}

	orders := make([]model.RawOrder, 0, len(payload.Data.OrdersHistory))
	for _, raw := range payload.Data.OrdersHistory {
		order, err := NormalizeOrder(raw)
		if err != nil {
			c.logger.Warnf("%s: dropping order record", err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (c *Client) ordersHistoryOnce(ctx context.Context, accessToken, brokerAccountID string, startTimeMs *int64) (*resty.Response, error) {
	c.historyLimiter.Take()

	req := c.c.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetError(&errorResponse{}).
		SetPathParam("accountId", brokerAccountID)
	if startTimeMs != nil {
		req.SetQueryParam("startTime", strconv.FormatInt(*startTimeMs, 10))
	}

	resp, err := req.Get(_ordersHistoryURL)
	if err != nil {
		return nil, fmt.Errorf("%w: can't request orders history", err)
	}
	return resp, nil
}

func (c *Client) Instruments(ctx context.Context, accessToken, brokerAccountID string) ([]model.Instrument, error) {
	c.quoteLimiter.Take()

	resp, err := c.c.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetError(&errorResponse{}).
		SetPathParam("accountId", brokerAccountID).
		Get(_instrumentsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: can't request instruments", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("instruments request failed: %s", respErrMessage(resp))
	}

	var payload struct {
		Data struct {
			Instruments []struct {
				ID      any    `json:"tradableInstrumentId"`
				Name    string `json:"name"`
				Type    string `json:"type"`
				RouteID any    `json:"routeId"`
			} `json:"instruments"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(resp.Bytes(), &payload); err != nil {
		return nil, fmt.Errorf("%w: can't unmarshal instruments", err)
	}

	instruments := make([]model.Instrument, 0, len(payload.Data.Instruments))
	for _, i := range payload.Data.Instruments {
		instruments = append(instruments, model.Instrument{
			ID:      asString(i.ID),
			Symbol:  i.Name,
			Type:    i.Type,
			RouteID: asString(i.RouteID),
			Class:   instrument.Classify(i.Name, i.Type),
		})
	}
	return instruments, nil
}

// FXRates builds the per-run FX snapshot by quoting every USD-linked forex
// instrument in the catalog. Individual quote failures degrade to a missing
// rate (priced downstream as 1.0), never fail the run.
func (c *Client) FXRates(ctx context.Context, accessToken, brokerAccountID string, instruments []model.Instrument) (model.FXRateTable, error) {
	table := model.NewFXRateTable()

	for _, i := range instruments {
		if i.Class != model.ClassForex {
			continue
		}
		// Keyed by the bare pair code: suffixed feed symbols ("EURUSD.X")
		// must land under the key lookups use.
		pair, ok := instrument.PairCode(i.Symbol)
		if !ok || !strings.Contains(pair, "USD") {
			continue
		}

		bid, ask, err := c.quote(ctx, accessToken, brokerAccountID, i)
		if err != nil {
			c.logger.Warnf("%s: can't quote %s, fx rate unavailable", err, i.Symbol)
			continue
		}
		table.Rates[pair] = (bid + ask) / 2
		table.Spreads[pair] = ask - bid
	}

	return table, nil
}

func (c *Client) quote(ctx context.Context, accessToken, brokerAccountID string, i model.Instrument) (bid, ask float64, err error) {
	c.quoteLimiter.Take()

	resp, err := c.c.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetError(&errorResponse{}).
		SetPathParam("accountId", brokerAccountID).
		SetQueryParams(map[string]string{
			"instrumentId": i.ID,
			"routeId":      i.RouteID,
		}).
		Get(_quotesURL)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: can't request quote", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, 0, fmt.Errorf("quote request failed: %s", respErrMessage(resp))
	}

	var payload struct {
		Data struct {
			Bid float64 `json:"bp"`
			Ask float64 `json:"ap"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(resp.Bytes(), &payload); err != nil {
		return 0, 0, fmt.Errorf("%w: can't unmarshal quote", err)
	}
	return payload.Data.Bid, payload.Data.Ask, nil
}

func respErrMessage(resp *resty.Response) string {
	if e, ok := resp.Error().(*errorResponse); ok && e.Message != "" {
		return fmt.Sprintf("%s (%s)", e.Message, resp.Status())
	}
	return resp.Status()
}
