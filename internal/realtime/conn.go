package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"slidecollab/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Conn is one client connection. The identity is fixed at upgrade time and
// passed explicitly into every permission check.
type Conn struct {
	id       string
	ws       *websocket.Conn
	identity *session.Identity

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(ws *websocket.Conn, identity *session.Identity, bufferSize int) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:       ulid.Make().String(),
		ws:       ws,
		identity: identity,
		send:     make(chan []byte, bufferSize),
		closed:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID is the connection identifier
func (c *Conn) ID() string {
	return c.id
}

// enqueue queues message for the write pump without blocking. It reports
// false when the connection is closed or its buffer is full.
func (c *Conn) enqueue(message []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
	})
}

// readPump reads frames until the peer goes away, handing each to handle
func (c *Conn) readPump(hub *Hub, maxMessageBytes int64, handle func(*Conn, []byte)) {
	defer func() {
		hub.Unregister(c)
		c.close()
		c.ws.Close()
	}()

	if maxMessageBytes > 0 {
		c.ws.SetReadLimit(maxMessageBytes)
	}
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				glog.Infof("Connection %s (%s) lost: %v", c.id, c.identity.Name(), err)
			}
			return
		}
		// any traffic proves the peer is alive
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			glog.V(2).Infof("Ignoring non-text frame from %s", c.id)
			continue
		}
		glog.V(2).Infof("[r]%s<- %s", c.id, message)
		handle(c, message)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				glog.Infof("Write to %s failed: %v", c.id, err)
				c.close()
				return
			}
			glog.V(2).Infof("[w]%s-> %s", c.id, message)

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.closed:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}
