package admin

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WatcherConfig tunes the dashboard event stream.
type WatcherConfig struct {
	BaseURL       string
	ReconnectBase time.Duration
	MaxAttempts   int
}

// DefaultWatcherConfig returns the production tuning.
func DefaultWatcherConfig(baseURL string) WatcherConfig {
	return WatcherConfig{
		BaseURL:       baseURL,
		ReconnectBase: time.Second,
		MaxAttempts:   5,
	}
}

// Watcher consumes server-pushed dashboard events and invokes the
// re-fetch callbacks registered for each event type. It reconnects
// with doubling backoff up to an attempt ceiling; a successful
// connection resets the counter.
type Watcher struct {
	cfg    WatcherConfig
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	callbacks map[string][]func()
	onLost    func()
	cancel    context.CancelFunc
	conn      *websocket.Conn
}

// NewWatcher creates a watcher. Nothing is dialed until Start.
func NewWatcher(cfg WatcherConfig, log zerolog.Logger) *Watcher {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Watcher{
		cfg:       cfg,
		log:       log.With().Str("component", "admin-watch").Logger(),
		dialer:    websocket.DefaultDialer,
		callbacks: map[string][]func(){},
	}
}

// On registers a callback for one event type. Registration order is
// invocation order.
func (w *Watcher) On(eventType string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks[eventType] = append(w.callbacks[eventType], fn)
}

// OnConnectionLost registers a callback fired once when the watcher
// gives up reconnecting.
func (w *Watcher) OnConnectionLost(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onLost = fn
}

// Start begins consuming events until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	go w.run(runCtx)
}

// Stop tears down the stream. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	conn := w.conn
	w.cancel = nil
	w.conn = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

func (w *Watcher) run(ctx context.Context) {
	delay := w.cfg.ReconnectBase
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		dialed, err := w.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if dialed {
			failures = 0
			delay = w.cfg.ReconnectBase
		}

		failures++
		w.log.Warn().Err(err).Int("attempt", failures).Msg("dashboard stream dropped")

		if failures >= w.cfg.MaxAttempts {
			w.log.Error().Int("attempts", failures).Msg("dashboard stream gave up")
			w.mu.Lock()
			lost := w.onLost
			w.mu.Unlock()
			if lost != nil {
				lost()
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (w *Watcher) connect(ctx context.Context) (bool, error) {
	u, err := url.Parse(w.cfg.BaseURL)
	if err != nil {
		return false, err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/admin/ws"

	conn, resp, err := w.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.log.Info().Msg("dashboard stream connected")

	defer func() {
		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		w.handle(payload)
	}
}

func (w *Watcher) handle(payload []byte) {
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Type == "" {
		w.log.Warn().Msg("malformed dashboard event")
		return
	}

	w.mu.Lock()
	fns := append([]func(){}, w.callbacks[ev.Type]...)
	w.mu.Unlock()

	w.log.Debug().Str("type", ev.Type).Int("callbacks", len(fns)).Msg("dashboard event")
	for _, fn := range fns {
		fn()
	}
}
