// Package telegram delivers order notifications to a single authorized chat
// and receives command messages from it over the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"uzum-order-notifier/pkg/orders"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// Sender sends messages to the configured chat.
type Sender struct {
	apiBase string
	token   string
	chatID  int64
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSender creates a sender for one bot token and one chat.
func NewSender(token string, chatID int64, logger *slog.Logger) *Sender {
	return &Sender{
		apiBase: defaultAPIBaseURL,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 15 * time.Second},
		// The Bot API allows roughly one message per second per chat.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger,
	}
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage delivers one HTML-formatted message to the authorized chat.
// Sends are single-shot; a failed send is reported to the caller, not
// retried.
func (s *Sender) SendMessage(ctx context.Context, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    s.chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.methodURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		s.logger.Warn("telegram send failed",
			"chat_id", s.chatID,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return fmt.Errorf("send message: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sendMessage: HTTP %d", resp.StatusCode)
	}

	s.logger.Info("telegram message sent",
		"chat_id", s.chatID,
		"duration_ms", duration.Milliseconds())
	return nil
}

// NotifyOrder formats and delivers the notification for one order.
func (s *Sender) NotifyOrder(ctx context.Context, o orders.Order) error {
	return s.SendMessage(ctx, FormatOrder(o))
}

func (s *Sender) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", s.apiBase, s.token, method)
}
