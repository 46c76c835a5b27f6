package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/GhananilShirpurkar/medisync-intake/pkg/intake/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testChannel(t *testing.T, baseURL string, maxAttempts int) (*Channel, *store.Store) {
	t.Helper()
	st := store.New()
	cfg := Config{
		BaseURL:       baseURL,
		ReconnectBase: 5 * time.Millisecond,
		MaxAttempts:   maxAttempts,
	}
	ch := New(cfg, st, zerolog.Nop())
	t.Cleanup(ch.Close)
	return ch, st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestChannel_StreamsRecordsIntoStore(t *testing.T) {
	var gotPath string
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"agent":"triage","step":"assess","type":"tool_call","details":"checking"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"agent":"triage","step":"final_response","type":"response","message":"Take rest.",`+
				`"severity_assessment":{"severity":7.5,"rationale":"elevated"}}`))

		// Hold the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch, st := testChannel(t, srv.URL, 5)
	if err := ch.Open(context.Background(), "S1"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(st.Get().TraceSteps) == 2 }, "records never reached the store")

	mu.Lock()
	path := gotPath
	mu.Unlock()
	if path != "/ws/trace/S1" {
		t.Errorf("dialed %q, want /ws/trace/S1", path)
	}

	s := st.Get()
	if s.TraceSteps[0].Agent != "triage" || s.TraceSteps[0].Step != "assess" {
		t.Errorf("first record mangled: %+v", s.TraceSteps[0])
	}

	// The response-typed record synthesizes one assistant message.
	var aiTexts []string
	for _, m := range s.Messages {
		if m.Sender == store.SenderAI {
			aiTexts = append(aiTexts, m.Text)
		}
	}
	if len(aiTexts) != 1 || aiTexts[0] != "Take rest." {
		t.Errorf("expected one synthesized assistant message, got %v", aiTexts)
	}

	// The severity payload drives ambience and the triage card.
	if s.Ambient != store.AmbientWarn {
		t.Errorf("ambient = %v, want warn", s.Ambient)
	}
	card, ok := s.ShelfCards[store.CardTriage]
	if !ok || card.Severity != 7.5 {
		t.Errorf("triage card missing or wrong: %+v", card)
	}
}

func TestChannel_CeilingEmitsTerminalLossOnce(t *testing.T) {
	// A plain HTTP handler refuses every upgrade.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch, st := testChannel(t, srv.URL, 3)
	if err := ch.Open(context.Background(), "S1"); err != nil {
		t.Fatal(err)
	}

	lost := func() int {
		n := 0
		for _, m := range st.Get().Messages {
			if m.Sender == store.SenderSystem && strings.Contains(m.Text, "connection") {
				n++
			}
		}
		return n
	}

	waitFor(t, 2*time.Second, func() bool { return lost() >= 1 }, "terminal loss never dispatched")

	// Give the loop room to misbehave, then confirm exactly one.
	time.Sleep(100 * time.Millisecond)
	if got := lost(); got != 1 {
		t.Errorf("terminal loss dispatched %d times, want 1", got)
	}
}

func TestChannel_SuccessResetsFailureCounter(t *testing.T) {
	var conns int
	var mu sync.Mutex

	// Every connection succeeds and is dropped immediately. With the
	// counter resetting on success, the ceiling is never reached.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		conns++
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	ch, st := testChannel(t, srv.URL, 2)
	if err := ch.Open(context.Background(), "S1"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conns >= 4
	}, "channel stopped reconnecting")

	for _, m := range st.Get().Messages {
		if m.Sender == store.SenderSystem {
			t.Fatalf("terminal loss dispatched despite successful dials: %q", m.Text)
		}
	}
}

func TestChannel_OpenReplacesPreviousConnection(t *testing.T) {
	var paths []string
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch, _ := testChannel(t, srv.URL, 5)
	if err := ch.Open(context.Background(), "S1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, ch.Connected, "first connection never came up")

	if err := ch.Open(context.Background(), "S2"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(paths) >= 2 && paths[len(paths)-1] == "/ws/trace/S2"
	}, "second session never dialed")
}

func TestChannel_CloseIdempotent(t *testing.T) {
	ch, _ := testChannel(t, "http://127.0.0.1:0", 5)
	ch.Close()
	ch.Close() // must not panic before or after Open

	if err := ch.Open(context.Background(), "S1"); err != nil {
		t.Fatal(err)
	}
	ch.Close()
	ch.Close()
}

func TestChannel_EmptySessionRejected(t *testing.T) {
	ch, _ := testChannel(t, "http://127.0.0.1:0", 5)
	if err := ch.Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty session id")
	}
}
