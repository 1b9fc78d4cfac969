package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"trading_engine/internal/config"
	"trading_engine/internal/mock"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFeedConfig(url string) config.FeedConfig {
	return config.FeedConfig{
		URL:              url,
		Source:           "test_feed",
		Instruments:      []string{"BTC-USD"},
		ReconnectDelayMs: 50,
		PingIntervalMs:   1000,
		PongWaitMs:       5000,
		WriteWaitMs:      1000,
	}
}

// wsServer upgrades connections, records the subscription and pushes
// the given frames.
func wsServer(t *testing.T, frames [][]byte, gotSub chan map[string]interface{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, subRaw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub map[string]interface{}
		_ = json.Unmarshal(subRaw, &sub)
		select {
		case gotSub <- sub:
		default:
		}

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestFeedSubscribesAndDeliversFrames(t *testing.T) {
	frames := [][]byte{
		[]byte(`{"type":"trade","instrument":"BTC-USD","price":1,"size":1,"ts":1}`),
		[]byte(`{"type":"trade","instrument":"BTC-USD","price":2,"size":1,"ts":2}`),
	}
	gotSub := make(chan map[string]interface{}, 1)
	srv := wsServer(t, frames, gotSub)
	defer srv.Close()

	var mu sync.Mutex
	var received [][]byte
	handler := func(source string, raw []byte) error {
		assert.Equal(t, "test_feed", source)
		mu.Lock()
		received = append(received, raw)
		mu.Unlock()
		return nil
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient(testFeedConfig(wsURL), handler, mock.NewLogger())
	c.Start()
	defer c.Stop()

	select {
	case sub := <-gotSub:
		assert.Equal(t, "subscribe", sub["op"])
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == len(frames) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("frames not delivered")
}

func TestFeedHealthBeforeFirstMessage(t *testing.T) {
	c := NewClient(testFeedConfig("ws://localhost:1"), nil, mock.NewLogger())
	assert.Error(t, c.CheckHealth(), "no message yet means unhealthy")
}

func TestBackfillReplaysBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/bars", r.URL.Path)
		assert.Equal(t, "BTC-USD", r.URL.Query().Get("instrument"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"type":"bar","instrument":"BTC-USD","open":1,"high":2,"low":1,"close":2,"volume":10,"period_start":1000,"period_end":61000},
			{"type":"bar","instrument":"BTC-USD","open":2,"high":3,"low":2,"close":3,"volume":10,"period_start":61000,"period_end":121000}
		]`))
	}))
	defer srv.Close()

	cfg := testFeedConfig("")
	cfg.HistoryURL = srv.URL
	cfg.BackfillBars = 2

	var received int
	handler := func(source string, raw []byte) error {
		received++
		return nil
	}

	require.NoError(t, Backfill(context.Background(), cfg, handler, mock.NewLogger()))
	assert.Equal(t, 2, received)
}

func TestBackfillDisabledWithoutURL(t *testing.T) {
	cfg := testFeedConfig("")
	called := false
	require.NoError(t, Backfill(context.Background(), cfg, func(string, []byte) error {
		called = true
		return nil
	}, mock.NewLogger()))
	assert.False(t, called)
}
