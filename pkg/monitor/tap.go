package monitor

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"avaneesh/h4-go/pkg/channel"
	"avaneesh/h4-go/pkg/hci"
	"avaneesh/h4-go/pkg/internal/logger"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}

	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
)

// clientBuffer is the number of frames a client may lag behind
const clientBuffer = 256

// FrameMessage is the JSON form of a frame sent to websocket clients
type FrameMessage struct {
	Channel    string    `json:"channel"`
	Type       string    `json:"type"`
	Len        int       `json:"len"`
	Hex        string    `json:"hex"`
	ReceivedAt time.Time `json:"received_at"`
}

// tapClient is one websocket connection
type tapClient struct {
	conn    *websocket.Conn
	send    chan []byte
	channel string          // Only frames from this channel, if set
	types   map[string]bool // Only these packet types, if set
	dropped atomic.Uint64
}

func (c *tapClient) wants(frame channel.Frame) bool {
	if c.channel != "" && c.channel != frame.Channel {
		return false
	}
	if len(c.types) > 0 && !c.types[frame.Type.String()] {
		return false
	}
	return true
}

// Tap streams frames to websocket clients. It is a channel.Subscriber;
// a client whose buffer is full misses frames rather than stalling the
// read loop.
type Tap struct {
	clients map[*tapClient]struct{}
	mu      sync.RWMutex
	logger  logger.Logger

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewTap creates an empty tap
func NewTap(log logger.Logger) *Tap {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Tap{
		clients: make(map[*tapClient]struct{}),
		logger:  log,
	}
}

// OnFrame implements channel.Subscriber
func (t *Tap) OnFrame(frame channel.Frame) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.clients) == 0 {
		return
	}

	data, err := json.Marshal(FrameMessage{
		Channel:    frame.Channel,
		Type:       frame.Type.String(),
		Len:        len(frame.Data),
		Hex:        hex.EncodeToString(frame.Data),
		ReceivedAt: frame.ReceivedAt,
	})
	if err != nil {
		t.logger.Error("Tap: encode frame: %v", err)
		return
	}

	for c := range t.clients {
		if !c.wants(frame) {
			continue
		}
		select {
		case c.send <- data:
			t.sent.Add(1)
		default:
			c.dropped.Add(1)
			t.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients
func (t *Tap) ClientCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// GetSent returns messages queued to clients
func (t *Tap) GetSent() uint64 {
	return t.sent.Load()
}

// GetDropped returns messages lost to slow clients
func (t *Tap) GetDropped() uint64 {
	return t.dropped.Load()
}

// Close disconnects every client
func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for c := range t.clients {
		close(c.send)
		delete(t.clients, c)
	}
}

// serve upgrades the request and runs the client until it goes away
func (t *Tap) serve(w http.ResponseWriter, r *http.Request, channelID string, types []string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("Tap: upgrade failed: %v", err)
		return
	}

	c := &tapClient{
		conn:    conn,
		send:    make(chan []byte, clientBuffer),
		channel: channelID,
	}
	if len(types) > 0 {
		c.types = make(map[string]bool, len(types))
		for _, name := range types {
			c.types[canonicalType(name)] = true
		}
	}

	t.mu.Lock()
	t.clients[c] = struct{}{}
	t.mu.Unlock()
	t.logger.Info("Tap: client %s connected", conn.RemoteAddr())

	go t.writePump(c)
	t.readPump(c)
}

func (t *Tap) remove(c *tapClient) {
	t.mu.Lock()
	if _, ok := t.clients[c]; ok {
		delete(t.clients, c)
		close(c.send)
	}
	t.mu.Unlock()
}

// readPump discards client input and notices disconnects
func (t *Tap) readPump(c *tapClient) {
	defer func() {
		t.remove(c)
		c.conn.Close()
		t.logger.Info("Tap: client %s disconnected, %d frames dropped", c.conn.RemoteAddr(), c.dropped.Load())
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.logger.Debug("Tap: read error: %v", err)
			}
			return
		}
	}
}

// writePump sends queued frames, one websocket message each
func (t *Tap) writePump(c *tapClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// canonicalType maps a type name or number to the PacketType name
func canonicalType(name string) string {
	name = strings.TrimSpace(name)
	if pt, err := hci.ParsePacketType(name); err == nil {
		return pt.String()
	}
	return name
}
