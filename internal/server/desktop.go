package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DesktopBridge is the loopback HTTP server the desktop app talks to: a
// websocket for live chat plus history, settings, profile, metrics and health
// endpoints.
type DesktopBridge struct {
	hub      *Hub
	cfg      Config
	metrics  *Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	profiles *ProfileStore
	settings *Settings
}

// DesktopOption customizes a DesktopBridge.
type DesktopOption func(*DesktopBridge)

// WithSessionState shares the phone-facing server's profiles and settings
// with the bridge.
func WithSessionState(profiles *ProfileStore, settings *Settings) DesktopOption {
	return func(d *DesktopBridge) {
		d.profiles = profiles
		d.settings = settings
	}
}

// historyEntry is one message as listed by /history.
type historyEntry struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	Name   *string   `json:"name,omitempty"`
	Avatar *string   `json:"avatar,omitempty"`
	Time   time.Time `json:"time"`
}

// NewDesktopBridge returns a bridge serving hub on cfg.DesktopAddr.
func NewDesktopBridge(hub *Hub, cfg Config, metrics *Metrics, logger *zap.Logger, opts ...DesktopOption) *DesktopBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = sanitizeConfig(cfg)
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	d := &DesktopBridge{
		hub:     hub,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.profiles == nil {
		d.profiles = NewProfileStore()
	}
	if d.settings == nil {
		d.settings = NewSettings()
	}
	d.server = CreateServer(cfg.DesktopAddr, d.Handler())
	return d
}

// Handler returns the bridge's routes.
func (d *DesktopBridge) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", d.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/history", d.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/metrics", d.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/settings", d.handleSettings).Methods(http.MethodGet)
	r.HandleFunc("/profiles/{sessionID}", d.handleProfile).Methods(http.MethodGet)
	r.HandleFunc("/health", d.handleHealth).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves the bridge until Shutdown.
func (d *DesktopBridge) ListenAndServe() error {
	d.logger.Info("Desktop bridge listening", zap.String("addr", d.server.Addr))
	if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the bridge's HTTP server. Open websockets are closed by the
// hub's shutdown.
func (d *DesktopBridge) Shutdown(ctx context.Context) error {
	d.logger.Info("Shutting down desktop bridge...")
	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn("Desktop bridge shutdown error", zap.Error(err))
		return err
	}
	return nil
}

// handleWebSocket upgrades the request and serves the desktop client until it
// disconnects.
func (d *DesktopBridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, d.hub, r.RemoteAddr, d.cfg, d.metrics, d.logger)
	client.Run(r.Context())
}

func (d *DesktopBridge) handleHistory(w http.ResponseWriter, _ *http.Request) {
	messages := d.hub.History()
	entries := make([]historyEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, historyEntry{
			Sender: string(m.Sender),
			Text:   m.Text,
			Name:   m.Name,
			Avatar: m.Avatar,
			Time:   m.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := writeJSON(w, entries); err != nil {
		d.logger.Warn("Error writing history", zap.Error(err))
	}
}

func (d *DesktopBridge) handleSettings(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := writeJSON(w, d.settings.Snapshot()); err != nil {
		d.logger.Warn("Error writing settings", zap.Error(err))
	}
}

func (d *DesktopBridge) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := d.profiles.Get(mux.Vars(r)["sessionID"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := writeJSON(w, profile); err != nil {
		d.logger.Warn("Error writing profile", zap.Error(err))
	}
}

func (d *DesktopBridge) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	d.metrics.WriteJSON(w)
}

func (d *DesktopBridge) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}
