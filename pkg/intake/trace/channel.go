// Package trace streams agent pipeline audit records from the backend
// into the session store over a per-session WebSocket.
//
// The channel reconnects with exponential backoff up to an attempt
// ceiling. A successful connection resets the counter; exhausting the
// ceiling dispatches a single terminal connection-lost notification
// and stops.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/GhananilShirpurkar/medisync-intake/pkg/intake/store"
)

// Config tunes the trace channel.
type Config struct {
	// BaseURL is the backend origin, http(s) or ws(s) scheme.
	BaseURL string
	// ReconnectBase is the delay before the first reconnect attempt.
	// It doubles on every consecutive failure.
	ReconnectBase time.Duration
	// MaxAttempts is the consecutive-failure ceiling before the
	// channel gives up for good.
	MaxAttempts int
}

// DefaultConfig returns the production tuning.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		ReconnectBase: time.Second,
		MaxAttempts:   5,
	}
}

// record is the wire shape of one trace event pushed by the backend.
type record struct {
	Agent     string                    `json:"agent"`
	Step      string                    `json:"step"`
	Type      string                    `json:"type,omitempty"`
	Status    string                    `json:"status,omitempty"`
	Message   string                    `json:"message,omitempty"`
	Details   string                    `json:"details,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
	Severity  *store.SeverityAssessment `json:"severity_assessment,omitempty"`
}

// Channel maintains one live trace connection per session and feeds
// every inbound record into the store.
type Channel struct {
	cfg    Config
	st     *store.Store
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	sessionID string
	conn      *websocket.Conn
	cancel    context.CancelFunc
	connected bool
}

// New creates a trace channel. Nothing is dialed until Open.
func New(cfg Config, st *store.Store, log zerolog.Logger) *Channel {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Channel{
		cfg:    cfg,
		st:     st,
		log:    log.With().Str("component", "trace").Logger(),
		dialer: websocket.DefaultDialer,
	}
}

// Open starts streaming trace records for the session. Any previous
// connection, for this or another session, is closed first.
func (c *Channel) Open(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("trace: empty session id")
	}

	c.closeCurrent()

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.sessionID = sessionID
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx, sessionID)
	return nil
}

// Close tears down the current connection. Safe to call repeatedly and
// before Open.
func (c *Channel) Close() {
	c.closeCurrent()
}

// Connected reports whether a live connection is up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) closeCurrent() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.connected = false
	c.sessionID = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// run dials and reads until the context dies or the failure ceiling is
// reached.
func (c *Channel) run(ctx context.Context, sessionID string) {
	delay := c.cfg.ReconnectBase
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		dialed, err := c.connect(ctx, sessionID)
		if ctx.Err() != nil {
			// Deliberate close, not a failure.
			return
		}

		if dialed {
			// The connection was up and then dropped. Start the
			// failure accounting over.
			failures = 0
			delay = c.cfg.ReconnectBase
		}

		failures++
		c.log.Warn().
			Err(err).
			Int("attempt", failures).
			Str("session_id", sessionID).
			Msg("trace connection dropped")

		if failures >= c.cfg.MaxAttempts {
			c.log.Error().
				Str("session_id", sessionID).
				Int("attempts", failures).
				Msg("trace channel gave up")
			c.st.Dispatch(store.TraceConnectionLost{Reason: "reconnect attempts exhausted"})
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

// connect dials once and pumps records until the connection breaks.
// The returned bool reports whether the dial itself succeeded.
func (c *Channel) connect(ctx context.Context, sessionID string) (bool, error) {
	endpoint, err := c.endpoint(sessionID)
	if err != nil {
		return false, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Info().Str("session_id", sessionID).Msg("trace channel connected")

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.connected = false
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		c.handle(payload)
	}
}

// handle parses one inbound record and forwards it into the store.
// Malformed payloads are logged and skipped.
func (c *Channel) handle(payload []byte) {
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		c.log.Warn().Err(err).Msg("malformed trace record")
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	c.st.Dispatch(store.TraceEventReceived{Step: store.TraceStep{
		Agent:     rec.Agent,
		Step:      rec.Step,
		Type:      rec.Type,
		Status:    rec.Status,
		Message:   rec.Message,
		Details:   rec.Details,
		Timestamp: rec.Timestamp,
	}})

	if rec.Severity == nil {
		return
	}

	sev := rec.Severity
	c.st.Dispatch(store.AmbienceUpdated{
		Severity:   sev.Severity,
		IsConflict: sev.IsConflict,
		IsHalted:   sev.IsHalted,
	})
	c.st.Dispatch(store.ShelfCardUpdated{Card: store.ShelfCard{
		Kind:     store.CardTriage,
		Title:    "Triage Assessment",
		Body:     sev.Rationale,
		Severity: sev.Severity,
	}})
}

// endpoint builds ws(s)://<host>/ws/trace/{session_id} from the
// configured base URL.
func (c *Channel) endpoint(sessionID string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/trace/" + sessionID
	return u.String(), nil
}
