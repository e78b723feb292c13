package services

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	MaxStreamClients    = 100
	streamWriteTimeout  = 10 * time.Second
	streamPongTimeout   = 60 * time.Second
	streamPingInterval  = 30 * time.Second
	streamSendBuffer    = 256
	streamReadSizeLimit = 512
)

// StreamMessage is the envelope pushed to websocket subscribers.
type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// StreamClient is one connected websocket subscriber. Subscriptions are
// ticker symbols; an empty set means the client receives everything.
type StreamClient struct {
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

func (c *StreamClient) wants(ticker string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribed) == 0 || c.subscribed[ticker]
}

// RealtimeStream is the websocket hub that pushes market data refreshes to
// connected clients.
type RealtimeStream struct {
	clients    map[*StreamClient]bool
	register   chan *StreamClient
	unregister chan *StreamClient
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewRealtimeStream creates the hub and starts its membership loop.
func NewRealtimeStream() *RealtimeStream {
	s := &RealtimeStream{
		clients:    make(map[*StreamClient]bool),
		register:   make(chan *StreamClient),
		unregister: make(chan *StreamClient),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	go s.run()
	return s
}

// Shutdown closes all client connections and stops the hub.
func (s *RealtimeStream) Shutdown() {
	close(s.shutdown)

	s.mu.Lock()
	for client := range s.clients {
		close(client.send)
		client.conn.Close()
	}
	s.clients = make(map[*StreamClient]bool)
	s.mu.Unlock()

	log.Println("Realtime stream shutdown complete")
}

// ClientCount reports connected subscribers.
func (s *RealtimeStream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *RealtimeStream) run() {
	for {
		select {
		case <-s.shutdown:
			return

		case client := <-s.register:
			s.mu.Lock()
			if len(s.clients) >= MaxStreamClients {
				s.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("Stream client rejected: max clients reached (%d)", MaxStreamClients)
				continue
			}
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			log.Printf("Stream client connected. Total clients: %d", count)

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			count := len(s.clients)
			s.mu.Unlock()
			log.Printf("Stream client disconnected. Total clients: %d", count)
		}
	}
}

// BroadcastMarketData pushes a market data refresh. Each client gets only
// the records it subscribed to.
func (s *RealtimeStream) BroadcastMarketData(records []MarketDataRecord) {
	now := time.Now().Format(time.RFC3339)

	s.mu.RLock()
	clients := make([]*StreamClient, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		filtered := make([]MarketDataRecord, 0, len(records))
		for _, rec := range records {
			if client.wants(rec.Ticker) {
				filtered = append(filtered, rec)
			}
		}
		if len(filtered) == 0 {
			continue
		}
		data, err := json.Marshal(StreamMessage{Type: "market_data", Data: filtered, Time: now})
		if err != nil {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
func (s *RealtimeStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	atCapacity := len(s.clients) >= MaxStreamClients
	s.mu.RUnlock()
	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Stream upgrade error: %v", err)
		return
	}

	client := &StreamClient{
		conn:       conn,
		send:       make(chan []byte, streamSendBuffer),
		subscribed: make(map[string]bool),
	}
	select {
	case s.register <- client:
	case <-s.shutdown:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(s)
}

// detach hands a client back to the membership loop. After Shutdown the loop
// is gone, so the send must not block the caller's unwind.
func (s *RealtimeStream) detach(c *StreamClient) {
	select {
	case s.unregister <- c:
	case <-s.shutdown:
	}
}

func (c *StreamClient) writePump() {
	ticker := time.NewTicker(streamPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *StreamClient) readPump(s *RealtimeStream) {
	defer func() {
		s.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(streamReadSizeLimit)
	c.conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Stream read error: %v", err)
			}
			break
		}

		var cmd struct {
			Action  string   `json:"action"`
			Tickers []string `json:"tickers"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.mu.Lock()
			for _, t := range cmd.Tickers {
				c.subscribed[strings.ToUpper(t)] = true
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, t := range cmd.Tickers {
				delete(c.subscribed, strings.ToUpper(t))
			}
			c.mu.Unlock()
		}
	}
}
