package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Update is one inbound Bot API event.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound chat message.
type Message struct {
	Chat Chat   `json:"chat"`
	Text string `json:"text"`
}

// Chat identifies the conversation a message came from.
type Chat struct {
	ID int64 `json:"id"`
}

// Handler consumes inbound updates.
type Handler interface {
	HandleUpdate(ctx context.Context, upd Update)
}

const (
	longPollSeconds  = 30
	pollErrorBackoff = 5 * time.Second
)

// Poller receives updates via long-polling getUpdates, for deployments
// without a public URL to register a webhook on.
type Poller struct {
	sender  *Sender
	handler Handler
	client  *http.Client
	logger  *slog.Logger
	offset  int64
}

// NewPoller creates an update poller feeding handler.
func NewPoller(sender *Sender, handler Handler, logger *slog.Logger) *Poller {
	return &Poller{
		sender:  sender,
		handler: handler,
		// Timeout must outlast the server-side long-poll window.
		client: &http.Client{Timeout: (longPollSeconds + 10) * time.Second},
		logger: logger,
	}
}

// Run polls for updates until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("update poller started")

	for {
		updates, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("update poller stopped", "error", ctx.Err())
				return
			}
			p.logger.Warn("get updates failed", "error", err)
			select {
			case <-ctx.Done():
				p.logger.Info("update poller stopped", "error", ctx.Err())
				return
			case <-time.After(pollErrorBackoff):
			}
			continue
		}

		for _, upd := range updates {
			// Acknowledge before handling: a command that crashes the handler
			// must not be redelivered forever.
			p.offset = upd.UpdateID + 1
			p.handler.HandleUpdate(ctx, upd)
		}
	}
}

type getUpdatesResponse struct {
	OK     bool     `json:"ok"`
	Result []Update `json:"result"`
}

func (p *Poller) fetch(ctx context.Context) ([]Update, error) {
	q := url.Values{}
	q.Set("timeout", fmt.Sprintf("%d", longPollSeconds))
	q.Set("offset", fmt.Sprintf("%d", p.offset))
	q.Set("allowed_updates", `["message"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.sender.methodURL("getUpdates")+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create updates request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getUpdates: HTTP %d", resp.StatusCode)
	}

	var parsed getUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("getUpdates: ok=false")
	}

	return parsed.Result, nil
}
