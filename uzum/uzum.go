// Package uzum fetches seller orders from the Uzum marketplace API.
package uzum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"uzum-order-notifier/pkg/orders"
)

const (
	defaultBaseURL = "https://api-seller.uzum.uz/api/seller/v1"
	pageSize       = 50

	// maxPages bounds a single fetch so a misbehaving API that never returns
	// an empty page cannot wedge a pass forever.
	maxPages = 200
)

// AuthError indicates the seller API rejected the configured credentials.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("seller auth failed: HTTP %d", e.Status)
}

// IsAuthError checks if an error is a seller authentication failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Client authenticates against the seller API and pages through orders.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a seller API client.
func New(username, password string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  defaultBaseURL,
		username: username,
		password: password,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// authenticate obtains a fresh bearer token. Tokens are not cached across
// passes; each fetch re-authenticates.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{Username: c.username, Password: c.password})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/account/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Status: resp.StatusCode}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	return tok.AccessToken, nil
}

type ordersPage struct {
	Data []orders.Order `json:"data"`
}

// OrdersSince fetches every order created at or after from, oldest first,
// following pagination until the API returns an empty page. A page that
// answers with a non-OK status ends pagination with the orders collected so
// far; transport and authentication errors are returned to the caller.
func (c *Client) OrdersSince(ctx context.Context, from time.Time) ([]orders.Order, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	var all []orders.Order
	for page := 0; ; page++ {
		if page >= maxPages {
			c.logger.Warn("stopping pagination at page limit", "pages", page, "orders", len(all))
			break
		}

		batch, ok, err := c.fetchPage(ctx, token, from, page)
		if err != nil {
			return nil, err
		}
		if !ok || len(batch) == 0 {
			break
		}
		all = append(all, batch...)
	}

	c.logger.Info("orders fetched", "count", len(all), "from", from.Format(time.RFC3339))
	return all, nil
}

// fetchPage returns one page of orders. ok is false when the page response
// signals end of stream (non-OK status).
func (c *Client) fetchPage(ctx context.Context, token string, from time.Time, page int) (batch []orders.Order, ok bool, err error) {
	q := url.Values{}
	q.Set("from", fmt.Sprintf("%d", from.UnixMilli()))
	q.Set("size", fmt.Sprintf("%d", pageSize))
	q.Set("sort", "createdAt,asc")
	q.Set("page", fmt.Sprintf("%d", page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("create orders request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("orders request failed",
			"page", page,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, false, fmt.Errorf("fetch orders page %d: %w", page, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("orders request returned non-OK status, stopping pagination",
			"status_code", resp.StatusCode,
			"page", page)
		return nil, false, nil
	}

	var pg ordersPage
	if err := json.NewDecoder(resp.Body).Decode(&pg); err != nil {
		return nil, false, fmt.Errorf("decode orders page %d: %w", page, err)
	}

	c.logger.Debug("orders page fetched",
		"page", page,
		"count", len(pg.Data),
		"duration_ms", duration.Milliseconds())

	return pg.Data, true, nil
}
