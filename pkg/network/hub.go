package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	// SubscriberBufferSize is the number of frames a subscriber may fall behind before it is dropped
	SubscriberBufferSize = 256
	PingInterval         = 15 * time.Second
	WriteTimeout         = 5 * time.Second
)

type subscriber struct {
	id   string
	send chan []byte
	// gone is closed when the hub stops delivering to the subscriber
	gone chan struct{}
	once sync.Once
}

func (s *subscriber) drop() {
	s.once.Do(func() { close(s.gone) })
}

// SignalHub fans signal frames out to websocket subscribers. Frames are written
// as binary messages in publish order. A subscriber that cannot keep up is
// disconnected and is expected to catch up from the signal log.
type SignalHub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	acceptOpts  *websocket.AcceptOptions
}

type NewSignalHubOptions struct {
	// OriginPatterns are passed to websocket.Accept. Empty means same origin only.
	OriginPatterns []string
}

func NewSignalHub(opts NewSignalHubOptions) *SignalHub {
	return &SignalHub{
		subscribers: make(map[string]*subscriber),
		acceptOpts: &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		},
	}
}

// Broadcast queues a frame for every subscriber. It never blocks.
func (h *SignalHub) Broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subscribers {
		select {
		case s.send <- frame:
		default:
			log.Warn("Dropping slow signal subscriber %s", s.id)
			delete(h.subscribers, id)
			s.drop()
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *SignalHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *SignalHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOpts)
	if err != nil {
		log.Error("Failed to accept websocket connection: %v", err)
		return
	}

	s := &subscriber{
		id:   uuid.NewString(),
		send: make(chan []byte, SubscriberBufferSize),
		gone: make(chan struct{}),
	}
	h.add(s)
	defer h.remove(s)
	log.Debug("Signal subscriber %s connected from %s", s.id, r.RemoteAddr)

	// subscribers only listen; CloseRead handles control frames and cancels on close
	ctx := conn.CloseRead(r.Context())
	if err := h.write(ctx, conn, s); err != nil {
		log.Trace("Signal subscriber %s closed: %v", s.id, err)
		conn.Close(websocket.StatusInternalError, "write failed")
		return
	}
}

func (h *SignalHub) write(ctx context.Context, conn *websocket.Conn, s *subscriber) error {
	ping := time.NewTicker(PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case <-s.gone:
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return nil
		case frame := <-s.send:
			if err := writeFrame(ctx, conn, frame); err != nil {
				return err
			}
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageBinary, frame)
}

func (h *SignalHub) add(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[s.id] = s
}

func (h *SignalHub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, s.id)
	s.drop()
}
