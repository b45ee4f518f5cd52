package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	AccessKey  string
	SecretKey  string
	RateRPS    int
	Timeout    time.Duration
}

// Client is the ExchangeClient: signed REST calls with a blocking token-bucket rate limiter and
// uniform retry/backoff. Shaped after the Binance spot client's Config/Client/doSigned pattern,
// generalized away from Binance's symbol/kline vocabulary to the spec's market/ticker vocabulary.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *limiter
	ts         *timeSync

	marketsMu    sync.Mutex
	marketsCache []Market
	marketsAt    time.Time
}

// New creates a Client. The secret is held only in cfg and is never logged.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newLimiter(cfg.RateRPS),
	}
	c.ts = newTimeSync(func(ctx context.Context) (int64, error) {
		return time.Now().UnixMilli(), nil // no unauthenticated server-time endpoint assumed
	})
	return c
}

// Start runs the initial clock sync and its periodic refresh in the background. Call once after
// New, before issuing any signed request, matching balance.Manager's Start(ctx) convention.
func (c *Client) Start(ctx context.Context) {
	c.ts.Start(ctx)
}

// GetMarkets returns tradable markets, cached for 60s since the set changes rarely.
func (c *Client) GetMarkets(ctx context.Context) ([]Market, error) {
	c.marketsMu.Lock()
	if time.Since(c.marketsAt) < 60*time.Second && c.marketsCache != nil {
		cached := c.marketsCache
		c.marketsMu.Unlock()
		return cached, nil
	}
	c.marketsMu.Unlock()

	var markets []Market
	err := c.doWithRetry(ctx, "GetMarkets", 5, func() error {
		body, err := c.do(ctx, http.MethodGet, "/v1/market/all", nil, false)
		if err != nil {
			return err
		}
		var raw []struct {
			Market string `json:"market"`
			IsHalt bool   `json:"is_halt"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return &ExchangeError{Kind: ErrKindAmbiguous, Op: "GetMarkets", Err: err}
		}
		markets = make([]Market, 0, len(raw))
		for _, r := range raw {
			markets = append(markets, Market{Code: r.Market, IsHalted: r.IsHalt})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.marketsMu.Lock()
	c.marketsCache = markets
	c.marketsAt = time.Now()
	c.marketsMu.Unlock()
	return markets, nil
}

// GetBalance returns the available/locked balance for currency.
func (c *Client) GetBalance(ctx context.Context, currency string) (Balance, error) {
	var bal Balance
	err := c.doWithRetry(ctx, "GetBalance", 5, func() error {
		body, err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, true)
		if err != nil {
			return err
		}
		var raw []struct {
			Currency string `json:"currency"`
			Balance  string `json:"balance"`
			Locked   string `json:"locked"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return &ExchangeError{Kind: ErrKindAmbiguous, Op: "GetBalance", Err: err}
		}
		for _, r := range raw {
			if r.Currency != currency {
				continue
			}
			bal.Currency = r.Currency
			bal.Available, _ = strconv.ParseFloat(r.Balance, 64)
			bal.Locked, _ = strconv.ParseFloat(r.Locked, 64)
			return nil
		}
		bal = Balance{Currency: currency}
		return nil
	})
	return bal, err
}

// SubmitOrder submits an order once, without retrying. The returned error carries
// ErrKindAmbiguous when the outcome could not be determined (network error, timeout, 5xx, rate
// limit, unparseable body). Such an error carries no exchange id, and GetOrder looks orders up by
// exchange id only, so intent.ClientID is sent to the exchange but cannot be used to reconcile.
func (c *Client) SubmitOrder(ctx context.Context, intent OrderIntent) (SubmitResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return SubmitResult{}, &ExchangeError{Kind: ErrKindTransient, Op: "SubmitOrder", Err: err, Retryable: true}
	}

	params := url.Values{}
	params.Set("market", intent.Market)
	params.Set("side", string(intent.Side))
	params.Set("client_id", intent.ClientID)
	if intent.Volume > 0 {
		params.Set("volume", strconv.FormatFloat(intent.Volume, 'f', -1, 64))
	}
	if intent.Price > 0 {
		params.Set("price", strconv.FormatFloat(intent.Price, 'f', -1, 64))
	}
	if intent.QuoteAmount > 0 {
		params.Set("quote_amount", strconv.FormatFloat(intent.QuoteAmount, 'f', -1, 64))
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/v1/orders", params)
	if err != nil {
		var exErr *ExchangeError
		if asExchangeError(err, &exErr) && exErr.Kind != ErrKindTransient {
			return SubmitResult{}, exErr // auth/semantic rejection: the order was not placed
		}
		// Network error, timeout, 5xx or rate limit around a mutating call: outcome is treated as unknown.
		return SubmitResult{}, &ExchangeError{Kind: ErrKindAmbiguous, Op: "SubmitOrder", Err: err}
	}

	var raw struct {
		UUID  string `json:"uuid"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return SubmitResult{}, &ExchangeError{Kind: ErrKindAmbiguous, Op: "SubmitOrder", Err: err}
	}
	return SubmitResult{ExchangeID: raw.UUID, Status: mapStatus(raw.State)}, nil
}

// GetOrder queries a single order by exchange id. Idempotent; safe to poll.
func (c *Client) GetOrder(ctx context.Context, exchangeID string) (Order, error) {
	var o Order
	err := c.doWithRetry(ctx, "GetOrder", 5, func() error {
		params := url.Values{}
		params.Set("uuid", exchangeID)
		body, err := c.do(ctx, http.MethodGet, "/v1/order?"+params.Encode(), nil, true)
		if err != nil {
			return err
		}
		var raw struct {
			UUID           string `json:"uuid"`
			Market         string `json:"market"`
			Side           string `json:"side"`
			State          string `json:"state"`
			Price          string `json:"price"`
			Volume         string `json:"volume"`
			ExecutedVolume string `json:"executed_volume"`
			ExecutedFunds  string `json:"executed_funds"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return &ExchangeError{Kind: ErrKindAmbiguous, Op: "GetOrder", Err: err}
		}
		o = Order{
			ExchangeID: raw.UUID,
			Market:     raw.Market,
			Side:       Side(raw.Side),
			Status:     mapStatus(raw.State),
		}
		o.Price, _ = strconv.ParseFloat(raw.Price, 64)
		o.Volume, _ = strconv.ParseFloat(raw.Volume, 64)
		o.ExecutedVolume, _ = strconv.ParseFloat(raw.ExecutedVolume, 64)
		o.ExecutedQuote, _ = strconv.ParseFloat(raw.ExecutedFunds, 64)
		return nil
	})
	return o, err
}

func mapStatus(state string) OrderStatus {
	switch state {
	case "wait":
		return StatusWaiting
	case "watch":
		return StatusWaiting
	case "done":
		return StatusExecuted
	case "cancel":
		return StatusCanceled
	default:
		return StatusWaiting
	}
}

// doWithRetry retries op on transient ExchangeErrors up to maxAttempts with exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, op string, maxAttempts int, fn func() error) error {
	base := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return &ExchangeError{Kind: ErrKindTransient, Op: op, Err: err}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		var exErr *ExchangeError
		if !asExchangeError(err, &exErr) || !exErr.Retryable {
			return err
		}
		delay := base * time.Duration(1<<attempt)
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, signed bool) ([]byte, error) {
	if signed {
		return c.doSignedGet(ctx, method, path)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &ExchangeError{Kind: ErrKindAuth, Op: path, Err: err}
	}
	return c.execute(req, path)
}

func (c *Client) doSignedGet(ctx context.Context, method, path string) ([]byte, error) {
	sr := newSignedRequest(c.cfg.AccessKey, c.cfg.SecretKey, path, c.ts.Now())
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, &ExchangeError{Kind: ErrKindAuth, Op: path, Err: err}
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s.%s", sr.AccessKey, sr.Signature))
	return c.execute(req, path)
}

// doSigned issues a signed mutating request with form-encoded params.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	canonical := params.Encode()
	sr := newSignedRequest(c.cfg.AccessKey, c.cfg.SecretKey, canonical, c.ts.Now())

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewBufferString(canonical))
	if err != nil {
		return nil, &ExchangeError{Kind: ErrKindAuth, Op: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s.%s", sr.AccessKey, sr.Signature))
	return c.execute(req, path)
}

func (c *Client) execute(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ExchangeError{Kind: ErrKindTransient, Op: op, Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExchangeError{Kind: ErrKindTransient, Op: op, Err: err, Retryable: true}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.limiter.EnterCooldown(req.Context(), 5*time.Second, 60*time.Second)
		log.Printf("exchange: %s rate limited (key=%s)", op, maskSecret(c.cfg.AccessKey))
		return nil, &ExchangeError{Kind: ErrKindTransient, Op: op, Err: fmt.Errorf("rate limited"), Retryable: true}
	case resp.StatusCode >= 500:
		return nil, &ExchangeError{Kind: ErrKindTransient, Op: op, Err: fmt.Errorf("server error %d", resp.StatusCode), Retryable: true}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &ExchangeError{Kind: ErrKindAuth, Op: op, Err: fmt.Errorf("auth error %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &ExchangeError{Kind: ErrKindSemantic, Op: op, Err: fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))}
	}
	return body, nil
}

func asExchangeError(err error, target **ExchangeError) bool {
	ee, ok := err.(*ExchangeError)
	if ok {
		*target = ee
	}
	return ok
}
