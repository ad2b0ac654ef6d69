package hyperliquid

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Retry configuration for read calls. Order submissions are never retried.
const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// Per-call timeouts.
const (
	stateTimeout = 10 * time.Second
	metaTimeout  = 20 * time.Second
	midsTimeout  = 10 * time.Second
	orderTimeout = 30 * time.Second
)

// HTTPClient implements Client against the venue's info/exchange HTTP API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *RateLimiter
	log        zerolog.Logger
}

// NewHTTPClient creates a venue client. Keys are trimmed; whitespace in a
// secret breaks signature generation.
func NewHTTPClient(baseURL, apiKey, apiSecret string, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		apiSecret:  strings.TrimSpace(apiSecret),
		httpClient: &http.Client{Timeout: 35 * time.Second},
		limiter:    NewRateLimiter(),
		log:        logger,
	}
}

// ==================== INFO ====================

// Meta retrieves the instrument universe.
func (c *HTTPClient) Meta(ctx context.Context) (*Meta, error) {
	ctx, cancel := context.WithTimeout(ctx, metaTimeout)
	defer cancel()

	body, err := c.info(ctx, map[string]any{"type": "meta"}, weightMeta)
	if err != nil {
		return nil, fmt.Errorf("error fetching meta: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("error parsing meta: %w", err)
	}
	return &meta, nil
}

// AllMids retrieves mid-prices for all instruments. The venue returns
// string-encoded prices keyed by symbol.
func (c *HTTPClient) AllMids(ctx context.Context) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, midsTimeout)
	defer cancel()

	body, err := c.info(ctx, map[string]any{"type": "allMids"}, weightMids)
	if err != nil {
		return nil, fmt.Errorf("error fetching mids: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing mids: %w", err)
	}

	mids := make(map[string]float64, len(raw))
	for symbol, px := range raw {
		f, err := strconv.ParseFloat(px, 64)
		if err != nil || math.IsNaN(f) {
			continue
		}
		mids[symbol] = f
	}
	return mids, nil
}

// ClearinghouseState retrieves account equity, withdrawable and positions.
func (c *HTTPClient) ClearinghouseState(ctx context.Context, account string) (*ClearinghouseState, error) {
	ctx, cancel := context.WithTimeout(ctx, stateTimeout)
	defer cancel()

	body, err := c.info(ctx, map[string]any{"type": "clearinghouseState", "user": account}, weightState)
	if err != nil {
		return nil, fmt.Errorf("error fetching clearinghouse state for %s: %w", account, err)
	}

	var state ClearinghouseState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("error parsing clearinghouse state: %w", err)
	}
	return &state, nil
}

// ==================== EXCHANGE ====================

// UpdateLeverage sets cross or isolated leverage for an asset.
func (c *HTTPClient) UpdateLeverage(ctx context.Context, assetIndex int, cross bool, leverage int) error {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	action := leverageAction{
		Type:     "updateLeverage",
		Asset:    assetIndex,
		IsCross:  cross,
		Leverage: leverage,
	}

	body, err := c.exchange(ctx, action)
	if err != nil {
		return fmt.Errorf("error updating leverage for asset %d: %w", assetIndex, err)
	}

	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("error parsing leverage response: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("leverage update rejected: %s", resp.Status)
	}
	return nil
}

// SubmitMarketOrder places an aggressive IOC limit order.
func (c *HTTPClient) SubmitMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	action := orderAction{
		Type: "order",
		Orders: []wireOrder{{
			Asset:      req.AssetIndex,
			IsBuy:      req.IsBuy,
			Price:      formatFloat(req.LimitPrice),
			Size:       formatFloat(req.Size),
			ReduceOnly: req.ReduceOnly,
			OrderType:  wireOType{Limit: wireLimit{Tif: "Ioc"}},
		}},
	}

	body, err := c.exchange(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("error submitting order for %s: %w", req.Symbol, err)
	}

	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("order rejected: %s", resp.Status)
	}
	if len(resp.Response.Data.Statuses) == 0 {
		return nil, fmt.Errorf("order response carried no status")
	}

	st := resp.Response.Data.Statuses[0]
	switch {
	case st.Error != "":
		return nil, fmt.Errorf("order rejected: %s", st.Error)
	case st.Filled != nil:
		return &OrderResult{
			OrderID:    st.Filled.OID,
			Status:     "filled",
			FilledSize: st.Filled.TotalSz,
			AvgPrice:   st.Filled.AvgPx,
		}, nil
	case st.Resting != nil:
		return &OrderResult{OrderID: st.Resting.OID, Status: "resting"}, nil
	default:
		return nil, fmt.Errorf("order response carried an empty status")
	}
}

// ==================== TRANSPORT ====================

// info issues a read call with bounded retries on transient failures.
func (c *HTTPClient) info(ctx context.Context, payload map[string]any, weight int) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error encoding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Acquire(ctx, weight); err != nil {
			return nil, err
		}

		resp, err := c.post(ctx, "/info", body, false)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("info call failed, retrying")
	}
	return nil, lastErr
}

// exchange issues a signed write call. Never retried: a timed-out order may
// still have been accepted by the venue.
func (c *HTTPClient) exchange(ctx context.Context, action any) ([]byte, error) {
	nonce := time.Now().UnixMilli()
	actionJSON, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("error encoding action: %w", err)
	}

	envelope := map[string]any{
		"action":    json.RawMessage(actionJSON),
		"nonce":     nonce,
		"signature": c.sign(actionJSON, nonce),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("error encoding request: %w", err)
	}

	if err := c.limiter.Acquire(ctx, weightOrder); err != nil {
		return nil, err
	}
	return c.post(ctx, "/exchange", body, true)
}

// sign computes an HMAC-SHA256 signature over the canonical action bytes and
// the nonce.
func (c *HTTPClient) sign(actionJSON []byte, nonce int64) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write(actionJSON)
	mac.Write([]byte(strconv.FormatInt(nonce, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte, signed bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.NoteRateLimited()
		return nil, &transportError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return nil, &transportError{err: fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(data, 200))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(data, 200))
	}
	return data, nil
}

// transportError marks network-level failures that read calls may retry.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// formatFloat renders a price or size without exponent notation or trailing
// zeros, the form the venue accepts.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
