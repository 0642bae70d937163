// Package stellarrpc is a JSON-RPC 2.0 client for a Soroban RPC endpoint. It
// covers the methods the transaction lifecycle needs: health, ledger state,
// ledger entry reads, simulation, submission and settlement queries.
package stellarrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/stellar/go/xdr"

	"github.com/kalefi/forwards/internal/logz"
	"github.com/kalefi/forwards/internal/metrics"
)

// Client talks JSON-RPC 2.0 to a single Soroban RPC endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *logz.Logger
	metrics    *metrics.Metrics

	maxRetries int
	retryDelay time.Duration

	nextID uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *logz.Logger) Option {
	return func(c *Client) { c.logger = logger.WithPrefix("stellarrpc") }
}

// WithMetrics sets the instrument set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRetries overrides the transport retry policy. Retries apply to
// transport failures only; a well-formed JSON-RPC error is returned as-is.
func WithRetries(maxRetries int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// NewClient creates a client for the given endpoint URL.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logz.Default().WithPrefix("stellarrpc"),
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// call performs one JSON-RPC call with bounded transport retry and decodes
// the result into out.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	started := time.Now()
	err := c.callOnce(ctx, method, params, out)
	for attempt := 1; err != nil && attempt <= c.maxRetries; attempt++ {
		if _, ok := err.(*rpcError); ok {
			break // endpoint answered; retrying will not change its mind
		}
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("%s failed (attempt %d/%d), retrying in %v: %v",
			method, attempt, c.maxRetries, c.retryDelay, err)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(c.retryDelay):
			err = c.callOnce(ctx, method, params, out)
		}
	}
	c.metrics.ObserveRPC(method, err, time.Since(started))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (c *Client) callOnce(ctx context.Context, method string, params, out interface{}) error {
	id := atomic.AddUint64(&c.nextID, 1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status %d: %s", resp.StatusCode, truncate(data, 256))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}

// GetHealth queries endpoint health.
func (c *Client) GetHealth(ctx context.Context) (*GetHealthResponse, error) {
	var resp GetHealthResponse
	if err := c.call(ctx, "getHealth", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetLatestLedger returns the latest ledger known to the endpoint.
func (c *Client) GetLatestLedger(ctx context.Context) (*GetLatestLedgerResponse, error) {
	var resp GetLatestLedgerResponse
	if err := c.call(ctx, "getLatestLedger", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetLedgerEntries fetches ledger entries by their base64 XDR keys. Keys
// absent from the ledger are simply missing from the response.
func (c *Client) GetLedgerEntries(ctx context.Context, keys []string) (*GetLedgerEntriesResponse, error) {
	params := struct {
		Keys []string `json:"keys"`
	}{Keys: keys}
	var resp GetLedgerEntriesResponse
	if err := c.call(ctx, "getLedgerEntries", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SimulateTransaction runs the envelope against current ledger state without
// submitting it.
func (c *Client) SimulateTransaction(ctx context.Context, envelopeXDR string) (*SimulateResponse, error) {
	params := struct {
		Transaction string `json:"transaction"`
	}{Transaction: envelopeXDR}
	var resp SimulateResponse
	if err := c.call(ctx, "simulateTransaction", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendTransaction submits a signed envelope. The response is an
// acknowledgment only; settlement is decided by GetTransaction.
func (c *Client) SendTransaction(ctx context.Context, signedXDR string) (*SendResponse, error) {
	params := struct {
		Transaction string `json:"transaction"`
	}{Transaction: signedXDR}
	var resp SendResponse
	if err := c.call(ctx, "sendTransaction", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTransaction queries a submitted transaction by hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*GetTransactionResponse, error) {
	params := struct {
		Hash string `json:"hash"`
	}{Hash: hash}
	var resp GetTransactionResponse
	if err := c.call(ctx, "getTransaction", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAccount reads an account's current sequence number from ledger state.
func (c *Client) GetAccount(ctx context.Context, address string) (*Account, error) {
	accountID, err := xdr.AddressToAccountId(address)
	if err != nil {
		return nil, fmt.Errorf("invalid account address %s: %w", address, err)
	}
	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode account key: %w", err)
	}

	resp, err := c.GetLedgerEntries(ctx, []string{keyB64})
	if err != nil {
		return nil, err
	}
	if len(resp.Entries) == 0 {
		return nil, fmt.Errorf("account %s not found", address)
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(resp.Entries[0].DataXDR, &data); err != nil {
		return nil, fmt.Errorf("failed to decode account entry: %w", err)
	}
	if data.Type != xdr.LedgerEntryTypeAccount || data.Account == nil {
		return nil, fmt.Errorf("ledger entry for %s is not an account", address)
	}

	return &Account{
		Address:  address,
		Sequence: int64(data.Account.SeqNum),
	}, nil
}
