package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"salesbot/internal/config"
	"salesbot/internal/logbus"
	"salesbot/internal/model"
	"salesbot/internal/ws"
)

const maxSalesLimit = 200

// PollerState reports the live state of the sales poller.
type PollerState interface {
	State() model.PollerState
}

type SaleLog interface {
	ListSentSales(ctx context.Context, limit int) ([]model.SentSale, error)
}

type Options struct {
	Cfg    config.Config
	Bus    *logbus.Bus
	Poller PollerState
	Sales  SaleLog
	// ChatReady reports whether the chat client is paired and connected.
	ChatReady func() bool
}

type Server struct {
	cfg       config.Config
	bus       *logbus.Bus
	poller    PollerState
	sales     SaleLog
	chatReady func() bool
	ws        *ws.Handler
	started   time.Time
}

func New(opts Options) *Server {
	return &Server{
		cfg:       opts.Cfg,
		bus:       opts.Bus,
		poller:    opts.Poller,
		sales:     opts.Sales,
		chatReady: opts.ChatReady,
		ws:        ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
		started:   time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/state", s.handleState)
	api.HandleFunc("/api/v1/sales", s.handleSales)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type stateView struct {
	Poller    model.PollerState `json:"poller"`
	ChatReady bool              `json:"chatReady"`
	SellerID  string            `json:"sellerId"`
	GroupID   string            `json:"groupId"`
	Uptime    string            `json:"uptime"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	view := stateView{
		SellerID: s.cfg.Marketplace.SellerID,
		GroupID:  s.cfg.Chat.GroupID,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	}
	if s.poller != nil {
		view.Poller = s.poller.State()
	}
	if s.chatReady != nil {
		view.ChatReady = s.chatReady()
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": view})
}

func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	limit, err := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if err != nil || limit <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
		return
	}
	if limit > maxSalesLimit {
		limit = maxSalesLimit
	}
	if s.sales == nil {
		writeJSON(w, http.StatusOK, map[string]any{"data": []model.SentSale{}})
		return
	}
	rows, err := s.sales.ListSentSales(r.Context(), limit)
	if err != nil {
		s.bus.Log("error", "list sent sales failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []model.SentSale{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

func parseIntDefault(v string, def int) (int, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return strconv.Atoi(strings.TrimSpace(v))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
