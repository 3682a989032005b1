package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type chanBus struct{ ch chan []byte }

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestHubRelaysBusMessages(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	hub := NewHub(bus, []string{"positions"}, Config{Mode: "dryrun"}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn := dial(t, srv)

	hello := readMessage(t, conn)
	assert.Equal(t, "status", hello.Type)
	assert.Contains(t, string(hello.Data), `"mode":"dryrun"`)

	bus.ch <- []byte(`{"type":"position.opened","symbol":"ETH"}`)
	ev := readMessage(t, conn)
	assert.Equal(t, "event", ev.Type)
	assert.Equal(t, "positions", ev.Channel)
	assert.JSONEq(t, `{"type":"position.opened","symbol":"ETH"}`, string(ev.Data))
}

func TestHubPublishWithoutBus(t *testing.T) {
	hub := NewHub(nil, nil, Config{}, testLogger())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn := dial(t, srv)
	readMessage(t, conn)
	assert.Equal(t, 1, hub.ClientCount())

	require.NoError(t, hub.Publish(context.Background(), "positions", []byte("not json")))
	ev := readMessage(t, conn)
	assert.Equal(t, `"not json"`, string(ev.Data))
}

func TestHubShutdownDuringConnects(t *testing.T) {
	hub := NewHub(nil, nil, Config{Mode: "live"}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	const clients = 16
	var wg sync.WaitGroup
	results := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				results <- nil
				return
			}
			defer conn.Close()
			first := true
			for {
				_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
				_, raw, err := conn.ReadMessage()
				if err != nil {
					results <- err
					return
				}
				if first {
					var m Message
					_ = json.Unmarshal(raw, &m)
					assert.Equal(t, "status", m.Type, "hello comes first")
					first = false
				}
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	wg.Wait()
	close(results)

	// Every connection is closed by the hub; none is left hanging until the
	// read deadline.
	for err := range results {
		if err == nil {
			continue
		}
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) {
			assert.False(t, ne.Timeout(), "connection left open: %v", err)
		}
	}
	assert.Zero(t, hub.ClientCount())
}

func TestEncodeQuotesInvalidJSON(t *testing.T) {
	b, err := encode(Message{Type: "event", Data: []byte("raw")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","data":"raw"}`, string(b))
}
