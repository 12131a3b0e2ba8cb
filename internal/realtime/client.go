// internal/realtime/client.go

package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/imadgeboyega/kiekky-chat/internal/ratelimit"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Maximum number of queued frames per direction
	maxQueuedFrames = 256
)

// Client is one socket connection. readPump decodes frames into a bounded
// queue, processLoop handles them one at a time in arrival order and
// writePump owns every write to the socket.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	userID   int64
	username string
	jti      string

	send    chan []byte
	inbound chan *Frame
	buckets *ratelimit.Buckets

	// guarded by hub.mu
	rooms map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64, username, jti string) *Client {
	return &Client{
		id:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		userID:   userID,
		username: username,
		jti:      jti,
		send:     make(chan []byte, maxQueuedFrames),
		inbound:  make(chan *Frame, maxQueuedFrames),
		buckets:  ratelimit.NewBuckets(),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Start runs the pumps. The read pump unregisters the client when the
// socket ends.
func (c *Client) Start() {
	go c.writePump()
	go c.processLoop()
	go c.readPump()
}

// Close ends the connection. It is safe to call from any goroutine; the
// write pump sends the close frame and releases the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue hands a frame to the write pump. A client that cannot keep up
// is disconnected rather than allowed to stall the sender.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		droppedFramesTotal.WithLabelValues("outbound").Inc()
		log.Printf("⚠️  Connection %s of user %d is too slow, closing", c.id, c.userID)
		c.Close()
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.hub.Unregister(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", c.id, err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			c.hub.replyError(c, &Frame{Type: "unknown"}, errMalformedFrame)
			continue
		}

		select {
		case c.inbound <- &frame:
		case <-c.done:
			return
		default:
			droppedFramesTotal.WithLabelValues("inbound").Inc()
			c.hub.replyError(c, &frame, errQueueFull)
		}
	}
}

// processLoop handles inbound frames strictly in order
func (c *Client) processLoop() {
	for {
		select {
		case frame := <-c.inbound:
			c.hub.handleFrame(c, frame)
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
