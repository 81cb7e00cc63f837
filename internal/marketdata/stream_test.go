package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// priceServer answers every subscribe with one price tick per token.
// When dropFirst is set the first connection is closed after its first
// subscription so the client has to reconnect and resubscribe.
func priceServer(t *testing.T, dropFirst bool, conns *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		n := conns.Add(1)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req streamRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				t.Errorf("unmarshal request: %v", err)
				return
			}
			if req.Op != "subscribe" {
				t.Errorf("expected subscribe, got %s", req.Op)
				return
			}
			if dropFirst && n == 1 {
				return
			}
			for _, tok := range req.Tokens {
				c.WriteJSON(map[string]any{"type": "price", "chain": req.Chain, "token": tok, "price": 1.05 * float64(n), "ts": 1})
			}
		}
	}))
}

func TestStreamClient_SubscribeFillsCache(t *testing.T) {
	var conns atomic.Int32
	server := priceServer(t, false, &conns)
	defer server.Close()

	cache := NewPriceCache(0)
	client, err := NewStreamClient(context.Background(), wsURL(server), cache, nil)
	require.NoError(t, err)
	defer client.Close()

	var seen atomic.Int32
	client.OnPrice(func(PriceUpdate) { seen.Add(1) })

	require.NoError(t, client.Subscribe("BSC", "CAKE", "DOGE"))

	require.Eventually(t, func() bool { return client.Updates() == 2 }, 2*time.Second, 10*time.Millisecond)
	price, ok := cache.Get("CAKE", "bsc")
	require.True(t, ok)
	assert.Equal(t, 1.05, price)
	assert.Equal(t, int32(2), seen.Load())
}

func TestStreamClient_ResubscribesAfterReconnect(t *testing.T) {
	var conns atomic.Int32
	server := priceServer(t, true, &conns)
	defer server.Close()

	cfg := DefaultStreamConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond

	cache := NewPriceCache(0)
	client, err := NewStreamClient(context.Background(), wsURL(server), cache, &cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Subscribe("bsc", "CAKE"))

	require.Eventually(t, func() bool {
		_, ok := cache.Get("CAKE", "bsc")
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestStreamClient_CloseIsIdempotent(t *testing.T) {
	var conns atomic.Int32
	server := priceServer(t, false, &conns)
	defer server.Close()

	client, err := NewStreamClient(context.Background(), wsURL(server), NewPriceCache(0), nil)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Error(t, client.Subscribe("bsc", "CAKE"))

	_, err = NewStreamClient(context.Background(), wsURL(server), nil, nil)
	assert.Error(t, err)
}
