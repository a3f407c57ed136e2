// Package publicapi provides the Public.com brokerage client used as the live
// option-chain source
package publicapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chainwatch/internal/config"
	"chainwatch/internal/core"
	apperrors "chainwatch/pkg/errors"
	chttp "chainwatch/pkg/http"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	tokenPath    = "/userapiauthservice/personal/access-tokens"
	accountsPath = "/userapigateway/trading/account"

	// Tokens are refreshed this long before they expire.
	tokenSkew = time.Minute

	// Largest number of contracts per greeks request.
	greeksBatch = 250
)

// Client talks to the Public.com trading gateway
type Client struct {
	auth *chttp.Client // token exchange, unsigned
	api  *chttp.Client // everything else, signed with the bearer token

	secret     config.Secret
	validity   time.Duration
	withGreeks bool
	logger     core.ILogger
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	accountID string
}

// NewClient creates a client from the brokerage configuration
func NewClient(cfg config.PublicConfig, logger core.ILogger) (*Client, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: secret is required", apperrors.ErrAuthenticationFailed)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasPrefix(base, "https://") {
		// Allow http for local testing
		if !strings.Contains(base, "127.0.0.1") && !strings.Contains(base, "localhost") {
			return nil, fmt.Errorf("public base URL must start with https://: %s", cfg.BaseURL)
		}
	}

	validity := cfg.TokenValidityMinutes
	if validity <= 0 {
		validity = 60
	}
	timeout := time.Duration(cfg.RequestTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		secret:     cfg.Secret,
		validity:   time.Duration(validity) * time.Minute,
		withGreeks: cfg.WithGreeks,
		accountID:  cfg.AccountID,
		logger:     logger.WithField("component", "public_api"),
		now:        time.Now,
	}
	// a rejected token is handled by withAuthRetry, so the exchange itself
	// retries only once
	c.auth = chttp.New(base, chttp.Options{Timeout: timeout, MaxRetries: 1})
	c.api = chttp.New(base, chttp.Options{
		Timeout:           timeout,
		Signer:            c,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             4,
	})
	return c, nil
}

// SignRequest adds the bearer token, exchanging the secret first when the
// cached token is missing or about to expire.
func (c *Client) SignRequest(req *http.Request) error {
	token, err := c.Token(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Token returns a valid access token.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(tokenSkew).Before(c.expiresAt) {
		return c.token, nil
	}

	var resp tokenResponse
	err := c.auth.PostJSON(ctx, tokenPath, tokenRequest{
		ValidityInMinutes: int(c.validity / time.Minute),
		Secret:            c.secret.Reveal(),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}

	token := resp.AccessToken
	if token == "" {
		token = resp.Token
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty token in response", apperrors.ErrAuthenticationFailed)
	}

	c.token = token
	c.expiresAt = c.now().Add(c.validity)
	c.logger.Debug("Access token refreshed", "valid_until", c.expiresAt.Format(time.RFC3339))
	return token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// withAuthRetry runs call once more with a fresh token when the gateway
// rejects the cached one.
func (c *Client) withAuthRetry(call func() error) error {
	err := call()
	if errors.Is(err, apperrors.ErrAuthenticationFailed) {
		var apiErr *chttp.APIError
		if errors.As(err, &apiErr) {
			c.logger.Warn("Access token rejected, refreshing", "status", apiErr.StatusCode)
			c.invalidateToken()
			return call()
		}
	}
	return err
}

// Accounts lists the brokerage accounts of the user.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var resp accountsResponse
	err := c.withAuthRetry(func() error {
		return c.api.GetJSON(ctx, accountsPath, nil, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return resp.Accounts, nil
}

// AccountID returns the configured account, or the first account of the user.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.accountID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	accounts, err := c.Accounts(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range accounts {
		if a.AccountID != "" {
			c.mu.Lock()
			c.accountID = a.AccountID
			c.mu.Unlock()
			c.logger.Info("Using discovered account", "account", config.MaskString(a.AccountID), "type", a.AccountType)
			return a.AccountID, nil
		}
	}
	return "", apperrors.ErrAccountNotFound
}

func (c *Client) marketDataPath(ctx context.Context, endpoint string) (string, error) {
	acct, err := c.AccountID(ctx)
	if err != nil {
		return "", err
	}
	return "/userapigateway/marketdata/" + url.PathEscape(acct) + "/" + endpoint, nil
}

// Quotes returns the quotes of the given instruments.
func (c *Client) Quotes(ctx context.Context, instruments ...Instrument) ([]Quote, error) {
	path, err := c.marketDataPath(ctx, "quotes")
	if err != nil {
		return nil, err
	}
	var resp quotesResponse
	err = c.withAuthRetry(func() error {
		return c.api.PostJSON(ctx, path, quotesRequest{Instruments: instruments}, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get quotes: %w", err)
	}
	return resp.Quotes, nil
}

// LastPrice returns the last trade price of the underlying. The result is
// invalid when the gateway has no price for it.
func (c *Client) LastPrice(ctx context.Context, symbol, instrumentType string) (decimal.NullDecimal, error) {
	quotes, err := c.Quotes(ctx, Instrument{Symbol: symbol, Type: instrumentType})
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	for _, q := range quotes {
		if strings.EqualFold(q.Instrument.Symbol, symbol) && q.Last.Valid {
			return q.Last, nil
		}
	}
	return decimal.NullDecimal{}, nil
}

// Expirations returns the listed option expirations of symbol, sorted as the
// gateway returns them.
func (c *Client) Expirations(ctx context.Context, symbol, instrumentType string) ([]time.Time, error) {
	path, err := c.marketDataPath(ctx, "option-expirations")
	if err != nil {
		return nil, err
	}
	var resp expirationsResponse
	err = c.withAuthRetry(func() error {
		return c.api.PostJSON(ctx, path, expirationsRequest{
			Instrument: Instrument{Symbol: symbol, Type: instrumentType},
		}, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get expirations: %w", err)
	}

	out := make([]time.Time, 0, len(resp.Expirations))
	for _, e := range resp.Expirations {
		d, err := time.Parse(dateLayout, firstN(e, len(dateLayout)))
		if err != nil {
			c.logger.Warn("Skipping unparsable expiration", "symbol", symbol, "value", e)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// OptionChain returns calls and puts for one expiration.
func (c *Client) OptionChain(ctx context.Context, symbol, instrumentType string, expiration time.Time) (*OptionChain, error) {
	path, err := c.marketDataPath(ctx, "option-chain")
	if err != nil {
		return nil, err
	}
	var resp OptionChain
	err = c.withAuthRetry(func() error {
		return c.api.PostJSON(ctx, path, chainRequest{
			Instrument:     Instrument{Symbol: symbol, Type: instrumentType},
			ExpirationDate: expiration.Format(dateLayout),
		}, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get option chain: %w", err)
	}
	return &resp, nil
}

// Greeks returns the greeks of the given contracts keyed by OSI symbol.
// Large requests are split into batches fetched concurrently.
func (c *Client) Greeks(ctx context.Context, osiSymbols []string) (map[string]Greeks, error) {
	out := make(map[string]Greeks, len(osiSymbols))
	if len(osiSymbols) == 0 {
		return out, nil
	}
	acct, err := c.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	path := "/userapigateway/option-details/" + url.PathEscape(acct) + "/greeks"

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(osiSymbols); start += greeksBatch {
		end := start + greeksBatch
		if end > len(osiSymbols) {
			end = len(osiSymbols)
		}
		batch := osiSymbols[start:end]
		g.Go(func() error {
			var resp greeksResponse
			err := c.withAuthRetry(func() error {
				return c.api.GetJSON(gctx, path, map[string]string{
					"osiSymbols": strings.Join(batch, ","),
				}, &resp)
			})
			if err != nil {
				return err
			}
			mu.Lock()
			for _, e := range resp.Greeks {
				out[e.Symbol] = e.Greeks
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to get greeks: %w", err)
	}
	return out, nil
}

func firstN(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
