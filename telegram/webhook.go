package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

type setWebhookRequest struct {
	URL            string   `json:"url"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// RegisterWebhook points the bot's webhook at baseURL/webhook. Runs once at
// startup; registration is retried because the Bot API is flaky right after
// a deploy.
func (s *Sender) RegisterWebhook(ctx context.Context, baseURL string) error {
	hookURL := strings.TrimSuffix(baseURL, "/") + "/webhook"

	body, err := json.Marshal(setWebhookRequest{
		URL:            hookURL,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("marshal webhook request: %w", err)
	}

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				s.methodURL("setWebhook"), bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("create webhook request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := s.client.Do(req)
			if err != nil {
				return fmt.Errorf("set webhook: %w", err)
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("setWebhook: HTTP %d", resp.StatusCode)
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("retrying webhook registration", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("register webhook after retries: %w", err)
	}

	s.logger.Info("webhook registered", "url", hookURL)
	return nil
}

// DeleteWebhook removes any registered webhook. Long polling conflicts with
// an active webhook, so this runs before the update poller starts.
func (s *Sender) DeleteWebhook(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.methodURL("deleteWebhook"), http.NoBody)
	if err != nil {
		return fmt.Errorf("create delete webhook request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deleteWebhook: HTTP %d", resp.StatusCode)
	}
	return nil
}
