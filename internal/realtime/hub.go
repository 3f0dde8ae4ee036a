package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
)

// Hub fans changes out to connected websocket clients. Each client only sees
// changes for the resource it asked for and the owner it authenticated as.
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	key  Key
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub builds a Hub. allowedOrigins empty accepts any origin.
func NewHub(logger zerolog.Logger, allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Publish sends c to every client subscribed to its resource and owner.
// Clients that cannot keep up are disconnected.
func (h *Hub) Publish(c Change) {
	payload, err := EncodeChange(c)
	if err != nil {
		h.logger.Error().Err(err).Msg("realtime: encode change")
		return
	}
	key := Key{Resource: c.Resource(), Owner: c.Owner()}

	var slow []*hubClient
	h.mu.RLock()
	for client := range h.clients {
		if client.key != key {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn().Str("subscription", client.key.String()).Msg("realtime: dropping slow client")
		h.unregister(client)
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams resource changes owned by owner.
// The resource comes from the "resource" query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, owner string) {
	resource := Resource(r.URL.Query().Get("resource"))
	if !resource.Valid() {
		http.Error(w, "unknown resource", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("realtime: websocket upgrade failed")
		return
	}

	client := &hubClient{
		key:  Key{Resource: resource, Owner: owner},
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug().Str("subscription", client.key.String()).Msg("realtime: client connected")

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) unregister(client *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()
}

// readPump discards inbound frames and returns when the peer goes away.
func (h *Hub) readPump(client *hubClient) {
	defer func() {
		h.unregister(client)
		_ = client.conn.Close()
		h.logger.Debug().Str("subscription", client.key.String()).Msg("realtime: client disconnected")
	}()

	client.conn.SetReadLimit(4096)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.unregister(client)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(client)
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		client.close()
	}
}
