package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 64
)

// Message is the envelope pushed to every client
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS middleware
		return true
	},
}

// Server fans messages out to connected websocket clients
type Server struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	mu    sync.RWMutex
	count int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *logger.Logger
}

// NewServer creates a websocket server and starts its hub
func NewServer(log *logger.Logger) *Server {
	s := &Server{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     log.Named("ws-server"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Server) run() {
	defer s.wg.Done()
	for {
		select {
		case c := <-s.register:
			s.clients[c] = true
			s.setCount(len(s.clients))
			s.logger.Debug("Client connected", logger.Int("clients", len(s.clients)))

		case c := <-s.unregister:
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
				s.setCount(len(s.clients))
				s.logger.Debug("Client disconnected", logger.Int("clients", len(s.clients)))
			}

		case payload := <-s.broadcast:
			for c := range s.clients {
				select {
				case c.send <- payload:
				default:
					// Slow consumer
					delete(s.clients, c)
					close(c.send)
					s.logger.Warn("Dropping slow websocket client")
				}
			}
			s.setCount(len(s.clients))

		case <-s.done:
			for c := range s.clients {
				delete(s.clients, c)
				close(c.send)
			}
			s.setCount(0)
			return
		}
	}
}

func (s *Server) setCount(n int) {
	s.mu.Lock()
	s.count = n
	s.mu.Unlock()
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Broadcast queues a message for every client. It never blocks; when the hub is
// backed up the message is dropped.
func (s *Server) Broadcast(message *Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("Failed to encode websocket message", logger.Error(err))
		return
	}

	select {
	case <-s.done:
	case s.broadcast <- payload:
	default:
		s.logger.Warn("Broadcast queue full, dropping message", logger.String("type", message.Type))
	}
}

// HandleWebSocket upgrades the request and registers the client
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade websocket connection", logger.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendSize)}
	select {
	case s.register <- c:
	case <-s.done:
		conn.Close()
		return
	}

	go s.writePump(c)
	go s.readPump(c)
}

// readPump only consumes control frames; clients never send data
func (s *Server) readPump(c *client) {
	defer func() {
		select {
		case s.unregister <- c:
		case <-s.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("Websocket read error", logger.Error(err))
			}
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// Close disconnects every client and stops the hub
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

// EventSink pushes admitted events to websocket clients
type EventSink struct {
	server *Server
}

// NewEventSink wraps a server as a dispatcher sink
func NewEventSink(server *Server) *EventSink {
	return &EventSink{server: server}
}

// Name implements safety.Sink
func (k *EventSink) Name() string { return "websocket" }

// Deliver implements safety.Sink
func (k *EventSink) Deliver(ctx context.Context, event safety.SafetyEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.server.Broadcast(&Message{Type: "safety_event", Data: event})
	return nil
}
