package messenger

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zhima-Mochi/keyshop/internal/application/notify"
	"github.com/Zhima-Mochi/keyshop/internal/observability"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	defaultSendQueue = 32
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
)

type feedClient struct {
	id   string
	send chan notify.Notice
}

// Hub is the live administrator feed. Each websocket connection receives
// every notice published after it joined. A client whose queue is full misses
// notices rather than slowing settlement down.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*feedClient

	originPatterns []string
	dropped        atomic.Int64
	log            observability.Logger
}

var _ notify.Notifier = (*Hub)(nil)

// NewHub accepts websocket peers whose Origin matches originPatterns.
func NewHub(logger observability.Logger, originPatterns ...string) *Hub {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Hub{
		clients:        make(map[string]*feedClient),
		originPatterns: originPatterns,
		log:            logger.With(observability.F("component", "admin_feed")),
	}
}

// Clients reports how many feeds are connected.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped reports notices skipped because a client was too slow.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) Notify(_ context.Context, notice notify.Notice) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- notice:
		default:
			h.dropped.Add(1)
			h.log.Warn("admin_feed_notice_dropped", observability.F("client_id", c.id))
		}
	}
	return nil
}

func (h *Hub) join() *feedClient {
	c := &feedClient{id: uuid.NewString(), send: make(chan notify.Notice, defaultSendQueue)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) leave(c *feedClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams notices as JSON text frames until
// the peer goes away. Incoming frames are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.log.Warn("admin_feed_accept_failed", observability.F("error", err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx := conn.CloseRead(r.Context())
	client := h.join()
	defer h.leave(client)

	logger := h.log.With(observability.F("client_id", client.id))
	logger.Info("admin_feed_joined")
	defer logger.Info("admin_feed_left")

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case notice := <-client.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, notice)
			cancel()
			if err != nil {
				logger.Info("admin_feed_write_failed", observability.F("error", err))
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
