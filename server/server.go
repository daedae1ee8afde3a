// Package server exposes the command gateway: the webhook endpoint for
// inbound chat events and a health check.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"uzum-order-notifier/telegram"
)

// Checker triggers an on-demand sync pass.
type Checker interface {
	Check(ctx context.Context) error
}

// Store reads sync state for status reporting.
type Store interface {
	Cursor(ctx context.Context) (time.Time, error)
	NotifiedCount(ctx context.Context) (int64, error)
}

// Replier sends command responses to the authorized chat.
type Replier interface {
	SendMessage(ctx context.Context, text string) error
}

// Server handles inbound chat events and dispatches commands. Only the one
// configured chat is authorized; everything else is rejected without side
// effects.
type Server struct {
	checker Checker
	store   Store
	replier Replier
	chatID  int64
	logger  *slog.Logger
}

// Config holds server dependencies.
type Config struct {
	Checker Checker
	Store   Store
	Replier Replier
	ChatID  int64
	Logger  *slog.Logger
}

// New creates the command gateway.
func New(cfg *Config) *Server {
	return &Server{
		checker: cfg.Checker,
		store:   cfg.Store,
		replier: cfg.Replier,
		chatID:  cfg.ChatID,
		logger:  cfg.Logger,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAndServe starts the HTTP server on the given port.
func (s *Server) ListenAndServe(port string) error {
	// Timeouts prevent slow clients from exhausting connections.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting HTTP server", "port", port)
	return srv.ListenAndServe()
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.logger.Warn("malformed webhook payload", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if upd.Message == nil {
		writeJSON(w, http.StatusOK, `{"status":"ok"}`)
		return
	}

	if upd.Message.Chat.ID != s.chatID {
		s.logger.Warn("unauthorized chat", "chat_id", upd.Message.Chat.ID)
		writeJSON(w, http.StatusForbidden, `{"status":"unauthorized"}`)
		return
	}

	s.dispatch(r.Context(), upd.Message)
	writeJSON(w, http.StatusOK, `{"status":"ok"}`)
}

// HandleUpdate processes one update from the long-poll receiver. The same
// authorization applies as on the webhook path.
func (s *Server) HandleUpdate(ctx context.Context, upd telegram.Update) {
	if upd.Message == nil {
		return
	}
	if upd.Message.Chat.ID != s.chatID {
		s.logger.Warn("unauthorized chat", "chat_id", upd.Message.Chat.ID)
		return
	}
	s.dispatch(ctx, upd.Message)
}

func (s *Server) dispatch(ctx context.Context, msg *telegram.Message) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}
	// Commands in group chats arrive as /cmd@botname.
	command, _, _ := strings.Cut(fields[0], "@")

	switch command {
	case "/start":
		s.reply(ctx, "✅ Bot is active and monitoring your Uzum orders!")

	case "/status":
		cursor, err := s.store.Cursor(ctx)
		if err != nil {
			s.logger.Error("status query failed", "error", err)
			s.reply(ctx, "⚠️ Status unavailable, see logs.")
			return
		}
		count, err := s.store.NotifiedCount(ctx)
		if err != nil {
			s.logger.Error("status query failed", "error", err)
			s.reply(ctx, "⚠️ Status unavailable, see logs.")
			return
		}
		s.reply(ctx, fmt.Sprintf(
			"📊 <b>Status</b>\nLast sync: %s\nOrders notified: %d",
			cursor.Format("2006-01-02 15:04:05 MST"), count))

	case "/check":
		s.logger.Info("manual order check requested")
		if err := s.checker.Check(ctx); err != nil {
			s.logger.Error("manual order check failed", "error", err)
			s.reply(ctx, "⚠️ Order check failed, see logs.")
			return
		}
		s.reply(ctx, "✅ Order check completed.")

	default:
		// Unknown commands and plain text are ignored.
	}
}

func (s *Server) reply(ctx context.Context, text string) {
	if err := s.replier.SendMessage(ctx, text); err != nil {
		s.logger.Warn("command reply failed", "error", err)
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	LastSync string `json:"last_sync,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{Status: "healthy"}
	if cursor, err := s.store.Cursor(r.Context()); err != nil {
		s.logger.Warn("health cursor query failed", "error", err)
	} else {
		resp.LastSync = cursor.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to write health response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}
