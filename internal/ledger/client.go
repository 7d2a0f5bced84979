// Package ledger talks to the account service, which owns user balances.
// Every call is a single atomic operation on the remote record; nothing here
// retries, that is the account service's concern.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/Domenick1991/flightbooking/internal/metrics"
	"github.com/shopspring/decimal"
)

var ErrUserNotFound = errors.New("user not found in account service")

// StatusError is returned when the account service answers with a non-2xx status.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("account service %s: unexpected status %d: %s", e.Operation, e.StatusCode, e.Body)
}

type Client struct {
	baseURL string
	client  *http.Client
	metrics *metrics.Metrics
}

func NewClient(cfg config.LedgerConfig, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		metrics: m,
	}
}

type userResponse struct {
	User struct {
		ID             int64           `json:"id"`
		AccountBalance decimal.Decimal `json:"account_balance"`
	} `json:"user"`
}

type amountRequest struct {
	Amount json.Number `json:"amount"`
}

func (c *Client) Balance(ctx context.Context, userID int64) (balance decimal.Decimal, err error) {
	defer func(started time.Time) { c.metrics.ObserveLedgerCall(metrics.LedgerOpBalance, started, err) }(time.Now())

	var resp userResponse
	if err = c.do(ctx, metrics.LedgerOpBalance, http.MethodGet, fmt.Sprintf("/api/users/%d", userID), nil, &resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return decimal.Zero, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
		}
		return decimal.Zero, err
	}
	return resp.User.AccountBalance, nil
}

func (c *Client) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (err error) {
	defer func(started time.Time) { c.metrics.ObserveLedgerCall(metrics.LedgerOpDebit, started, err) }(time.Now())

	return c.do(ctx, metrics.LedgerOpDebit, http.MethodPost, fmt.Sprintf("/api/users/%d/deduct", userID), amountBody(amount), nil)
}

func (c *Client) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (err error) {
	defer func(started time.Time) { c.metrics.ObserveLedgerCall(metrics.LedgerOpCredit, started, err) }(time.Now())

	return c.do(ctx, metrics.LedgerOpCredit, http.MethodPost, fmt.Sprintf("/api/users/%d/refund", userID), amountBody(amount), nil)
}

func amountBody(amount decimal.Decimal) amountRequest {
	return amountRequest{Amount: json.Number(amount.StringFixed(2))}
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("account service %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("account service %s: read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("account service %s: decode response: %w", op, err)
		}
	}
	return nil
}
