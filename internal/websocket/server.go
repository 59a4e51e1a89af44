package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/flights"
	"github.com/yegors/flighttrack/pkg/logger"
)

// Message types
const (
	MessageTypeFlightEvent  = "flight_event"  // Server pushes a takeoff, landing or closure
	MessageTypeFilterUpdate = "filter_update" // Client narrows the events it receives
	MessageTypeFilterAck    = "filter_ack"    // Server confirms a filter update
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// ErrServerStopped is returned when publishing after Stop
var ErrServerStopped = errors.New("websocket server stopped")

// Message represents a WebSocket message
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ClientFilters narrows the events a client receives. Empty sets mean everything.
type ClientFilters struct {
	ICAOs      []string `json:"icaos"`
	EventTypes []string `json:"event_types"`
}

type filterSet struct {
	icaos map[string]bool
	types map[flights.EventType]bool
}

func (f *filterSet) matches(ev flights.Event) bool {
	if f == nil {
		return true
	}
	if len(f.icaos) > 0 && !f.icaos[ev.ICAO] {
		return false
	}
	if len(f.types) > 0 && !f.types[ev.Type] {
		return false
	}
	return true
}

// Client represents a WebSocket client
type Client struct {
	conn    *websocket.Conn
	send    chan *Message
	server  *Server
	mu      sync.Mutex
	closed  bool
	filters *filterSet
}

// Server streams flight events to WebSocket clients. It implements
// flights.EventPublisher.
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan flights.Event
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
	stopCh     chan struct{}
	stopOnce   sync.Once
}

var _ flights.EventPublisher = (*Server)(nil)

// NewServer creates a new WebSocket server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan flights.Event, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.Named("web-socket"),
		stopCh: make(chan struct{}),
	}
}

// Run is the hub loop. It returns when Stop is called.
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket server")

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			s.removeLocked(client)
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", clientCount))

		case ev := <-s.broadcast:
			s.deliver(ev)

		case <-s.stopCh:
			s.mu.Lock()
			for client := range s.clients {
				s.removeLocked(client)
			}
			s.mu.Unlock()
			s.logger.Info("WebSocket server stopped")
			return
		}
	}
}

// Stop closes every client and ends Run
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) deliver(ev flights.Event) {
	msg := &Message{Type: MessageTypeFlightEvent, Data: ev}

	s.mu.RLock()
	slow := make([]*Client, 0)
	for client := range s.clients {
		if !client.wants(ev) {
			continue
		}
		if !client.SendMessage(msg) {
			slow = append(slow, client)
		}
	}
	s.mu.RUnlock()

	if len(slow) > 0 {
		s.mu.Lock()
		for _, client := range slow {
			s.removeLocked(client)
		}
		s.mu.Unlock()
		s.logger.Warn("Dropped slow WebSocket clients", logger.Int("count", len(slow)))
	}
}

// removeLocked requires s.mu held for writing
func (s *Server) removeLocked(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	client.mu.Lock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
	client.mu.Unlock()
}

// PublishFlightEvent implements flights.EventPublisher. It queues the event
// for the hub loop and does not wait for delivery to clients.
func (s *Server) PublishFlightEvent(ctx context.Context, ev flights.Event) error {
	select {
	case s.broadcast <- ev:
		return nil
	case <-s.stopCh:
		return ErrServerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleConnection upgrades the request and attaches the client to the hub
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Debug("Upgraded connection to WebSocket",
		logger.String("remote_addr", r.RemoteAddr),
		logger.String("user_agent", r.UserAgent()))

	client := &Client{
		conn:   conn,
		send:   make(chan *Message, sendBuffer),
		server: s,
	}

	select {
	case s.register <- client:
	case <-s.stopCh:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// SendMessage queues a message for this client. It returns false when the
// client is closed or its buffer is full.
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) wants(ev flights.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters.matches(ev)
}

// UpdateFilters replaces the client's filters. Addresses are normalized;
// invalid ones are ignored.
func (c *Client) UpdateFilters(f ClientFilters) {
	set := &filterSet{
		icaos: make(map[string]bool),
		types: make(map[flights.EventType]bool),
	}
	valid, _ := adsb.NormalizeICAOList(f.ICAOs)
	for _, icao := range valid {
		set.icaos[icao] = true
	}
	for _, t := range f.EventTypes {
		set.types[flights.EventType(t)] = true
	}

	c.mu.Lock()
	c.filters = set
	c.mu.Unlock()
}

// readPump reads client messages until the connection fails
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.stopCh:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", logger.Error(err))
			}
			return
		}

		var message struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &message); err != nil {
			c.server.logger.Warn("Failed to parse WebSocket message", logger.Error(err))
			continue
		}

		switch message.Type {
		case MessageTypeFilterUpdate:
			var f ClientFilters
			if err := json.Unmarshal(message.Data, &f); err != nil {
				c.server.logger.Warn("Invalid filter update", logger.Error(err))
				continue
			}
			c.UpdateFilters(f)
			c.SendMessage(&Message{Type: MessageTypeFilterAck, Data: f})
		default:
			c.server.logger.Debug("Ignoring WebSocket message", logger.String("type", message.Type))
		}
	}
}

// writePump writes queued messages and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.server.logger.Debug("Failed to write to client", logger.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
