package network

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func dialHub(t *testing.T, ctx context.Context, hub *SignalHub) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	return conn, server
}

func TestSignalHub_Broadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub := NewSignalHub(NewSignalHubOptions{})
	conn, _ := dialHub(t, ctx, hub)

	frames := [][]byte{[]byte("first"), []byte("second")}
	for _, f := range frames {
		hub.Broadcast(f)
	}

	for _, want := range frames {
		typ, got, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageBinary, typ)
		assert.Equal(t, want, got)
	}
}

func TestSignalHub_RemovesClosedSubscribers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub := NewSignalHub(NewSignalHubOptions{})
	conn, _ := dialHub(t, ctx, hub)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond)

	// broadcasting with no subscribers is a no-op
	hub.Broadcast([]byte("nobody"))
}

func TestSignalHub_DropsSlowSubscribers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub := NewSignalHub(NewSignalHubOptions{})
	conn, _ := dialHub(t, ctx, hub)

	// never reading lets the subscriber buffer fill
	frame := make([]byte, 16*1024)
	for i := 0; i < SubscriberBufferSize*8; i++ {
		hub.Broadcast(frame)
	}

	assert.Equal(t, 0, hub.Subscribers())

	var err error
	for err == nil {
		_, _, err = conn.Read(ctx)
	}
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}
