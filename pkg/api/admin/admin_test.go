package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GhananilShirpurkar/medisync-intake/pkg/api"
)

func TestClient_StatsAndInventory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /api/v1/admin/stats":
			json.NewEncoder(w).Encode(Stats{TotalOrders: 12, Revenue: 340.5})
		case "GET /api/v1/admin/inventory":
			json.NewEncoder(w).Encode([]InventoryItem{{ID: "i1", Name: "Paracetamol", Stock: 40}})
		case "POST /api/v1/admin/inventory":
			var item InventoryItem
			require.NoError(t, json.NewDecoder(r.Body).Decode(&item))
			item.ID = "i2"
			json.NewEncoder(w).Encode(item)
		case "PUT /api/v1/admin/inventory/i1":
			var item InventoryItem
			require.NoError(t, json.NewDecoder(r.Body).Decode(&item))
			json.NewEncoder(w).Encode(item)
		case "DELETE /api/v1/admin/inventory/i1":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(api.NewClient(srv.URL))
	ctx := context.Background()

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.TotalOrders)

	items, err := c.Inventory(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Paracetamol", items[0].Name)

	created, err := c.CreateInventoryItem(ctx, InventoryItem{Name: "Ibuprofen", Price: 25, Stock: 10})
	require.NoError(t, err)
	assert.Equal(t, "i2", created.ID)

	_, err = c.UpdateInventoryItem(ctx, InventoryItem{ID: "i1", Name: "Paracetamol", Stock: 35})
	require.NoError(t, err)

	require.NoError(t, c.DeleteInventoryItem(ctx, "i1"))
}

func TestClient_OrderAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/admin/orders/ORD-1/action", r.URL.Path)
		var body struct {
			Action string `json:"action"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, ActionApprove, body.Action)
		json.NewEncoder(w).Encode(Order{ID: "ORD-1", Status: "approved"})
	}))
	defer srv.Close()

	c := NewClient(api.NewClient(srv.URL))
	order, err := c.OrderAction(context.Background(), "ORD-1", ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, "approved", order.Status)

	_, err = c.OrderAction(context.Background(), "", ActionApprove)
	require.Error(t, err)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestWatcher_DispatchesCallbacksByType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/admin/ws", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"order_created","order_id":"ORD-9"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"inventory_changed"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := WatcherConfig{BaseURL: srv.URL, ReconnectBase: 5 * time.Millisecond, MaxAttempts: 5}
	w := NewWatcher(cfg, zerolog.Nop())
	defer w.Stop()

	var mu sync.Mutex
	counts := map[string]int{}
	w.On("order_created", func() {
		mu.Lock()
		counts["order_created"]++
		mu.Unlock()
	})
	w.On("inventory_changed", func() {
		mu.Lock()
		counts["inventory_changed"]++
		mu.Unlock()
	})

	w.Start(context.Background())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["order_created"] == 1 && counts["inventory_changed"] == 1
	}, 2*time.Second, 5*time.Millisecond, "callbacks never fired")
}

func TestWatcher_GivesUpAfterCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := WatcherConfig{BaseURL: srv.URL, ReconnectBase: 5 * time.Millisecond, MaxAttempts: 3}
	w := NewWatcher(cfg, zerolog.Nop())
	defer w.Stop()

	var mu sync.Mutex
	lost := 0
	w.OnConnectionLost(func() {
		mu.Lock()
		lost++
		mu.Unlock()
	})

	w.Start(context.Background())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lost >= 1
	}, 2*time.Second, 5*time.Millisecond, "loss callback never fired")

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, lost, "loss callback must fire exactly once")
}
