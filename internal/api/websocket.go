package api

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/hardware"
)

// WebSocket message types sent by clients
const (
	EventCommand = "command"
	EventPing    = "ping"
)

// WebSocket message types sent to clients, besides hardware event kinds
const (
	EventWelcome  = "welcome"
	EventResponse = "response"
	EventPong     = "pong"
	EventError    = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

type wsRequest struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  struct {
		Command string `json:"command"`
	} `json:"data"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	id     string
	conn   *websocket.Conn
	send   chan WSMessage
	events <-chan hardware.Event
	detach func()
	server *Server

	closeOnce sync.Once
	done      chan struct{}
}

type clientSet struct {
	mu      sync.RWMutex
	clients map[string]*WSClient
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[string]*WSClient)}
}

func (s *clientSet) add(c *WSClient) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *clientSet) remove(c *WSClient) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
}

func (s *clientSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *clientSet) closeAll() {
	s.mu.RLock()
	all := make([]*WSClient, 0, len(s.clients))
	for _, c := range s.clients {
		all = append(all, c)
	}
	s.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}

// handleWebSocket upgrades the request and streams every hardware event to
// the client. Clients may also send commands.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	events, detach := s.hw.Subscribe(hardware.DefaultEventBuffer)
	client := &WSClient{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan WSMessage, 16),
		events: events,
		detach: detach,
		server: s,
		done:   make(chan struct{}),
	}
	s.clients.add(client)

	log.Info().Str("client", client.id).Msg("websocket client connected")

	client.send <- WSMessage{Event: EventWelcome, Data: map[string]string{"clientId": client.id}}

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.detach()
		c.server.clients.remove(c)
		c.conn.Close()
		log.Info().Str("client", c.id).Msg("websocket client disconnected")
	})
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		var msg WSMessage
		select {
		case <-c.done:
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			msg = WSMessage{Event: ev.Kind(), Data: ev}
		case msg = <-c.send:
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("websocket write failed")
			return
		}
	}
}

func (c *WSClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req wsRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("websocket read failed")
			}
			return
		}
		c.handleMessage(&req)
	}
}

func (c *WSClient) handleMessage(req *wsRequest) {
	switch req.Event {
	case EventPing:
		c.reply(WSMessage{Event: EventPong, ID: req.ID})
	case EventCommand:
		if req.Data.Command == "" {
			c.reply(WSMessage{Event: EventError, ID: req.ID, Data: map[string]string{"error": "command is required"}})
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		result := c.server.executor.Execute(ctx, req.Data.Command)
		cancel()
		c.reply(WSMessage{Event: EventResponse, ID: req.ID, Data: result})
	default:
		c.reply(WSMessage{Event: EventError, ID: req.ID, Data: map[string]string{"error": "unknown event: " + req.Event}})
	}
}

func (c *WSClient) reply(msg WSMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}
