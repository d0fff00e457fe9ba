package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"slidecollab/internal/models"
	"slidecollab/internal/realtime"
)

// reply collects what the server sent for one invocation. The server answers
// the frames of a connection in order, so every Error and SaveSuccessful
// received before a Completion belongs to that invocation.
type reply struct {
	value  json.RawMessage
	errors []string
	saved  []string
}

// connection is one websocket transport
type connection struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeLock sync.Mutex

	callsLock sync.Mutex
	calls     map[string]chan *reply

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func newConnection(ws *websocket.Conn, writeTimeout time.Duration) *connection {
	return &connection{
		ws:           ws,
		writeTimeout: writeTimeout,
		calls:        map[string]chan *reply{},
		done:         make(chan struct{}),
	}
}

func (c *connection) write(message []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, message)
}

// invoke sends msgType and waits for its Completion
func (c *connection) invoke(ctx context.Context, msgType string, args ...any) (*reply, error) {
	id := ulid.Make().String()
	message, err := realtime.EncodeInvocation(id, msgType, args...)
	if err != nil {
		return nil, err
	}

	ch := make(chan *reply, 1)
	c.callsLock.Lock()
	c.calls[id] = ch
	c.callsLock.Unlock()
	defer func() {
		c.callsLock.Lock()
		delete(c.calls, id)
		c.callsLock.Unlock()
	}()

	if err := c.write(message); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrTransport, err)
	}

	select {
	case r := <-ch:
		return r, nil
	case <-c.done:
		return nil, models.ErrTransport
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s %s", models.ErrTimeout, msgType, ctx.Err())
	}
}

func (c *connection) resolve(id string, r *reply) {
	c.callsLock.Lock()
	ch, ok := c.calls[id]
	c.callsLock.Unlock()
	if ok {
		ch <- r
	}
}

// finish marks the transport as ended with err
func (c *connection) finish(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// shutdown closes the transport with a normal closure handshake
func (c *connection) shutdown() {
	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout),
	)
	c.ws.Close()
}
