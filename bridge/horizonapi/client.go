// Package horizonapi is a minimal Horizon REST client. It exists for account
// lookups on networks where the Soroban RPC endpoint does not serve ledger
// entries, and as a cross-check for the RPC-based account provider.
package horizonapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/internal/logz"
)

// Client queries a Horizon instance over REST.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logz.Logger
}

// NewClient creates a client for the given Horizon base URL.
func NewClient(baseURL string, logger *logz.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.WithPrefix("horizon"),
	}
}

type accountResponse struct {
	AccountID string `json:"account_id"`
	Sequence  string `json:"sequence"`
}

// GetAccount fetches an account record and returns its current sequence
// number. A 404 means the account does not exist (unfunded).
func (c *Client) GetAccount(ctx context.Context, address string) (*stellarrpc.Account, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("horizon request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read horizon response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("account %s not found", address)
	default:
		return nil, fmt.Errorf("unexpected horizon status %d", resp.StatusCode)
	}

	var record accountResponse
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("failed to decode account record: %w", err)
	}

	seq, err := strconv.ParseInt(record.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sequence %q for %s: %w", record.Sequence, address, err)
	}

	c.logger.Debug("account %s at sequence %d", address, seq)
	return &stellarrpc.Account{Address: address, Sequence: seq}, nil
}
