package realtime

import (
	"context"
	"sort"
	"time"

	"github.com/golang/glog"
)

const publishTimeout = 2 * time.Second

// Backplane carries room fan-out between server instances
type Backplane interface {
	Publish(ctx context.Context, room string, message []byte) error
	// Run delivers messages published by other instances until ctx is done
	Run(ctx context.Context, deliver func(room string, message []byte)) error
}

type joinRequest struct {
	conn     *Conn
	room     string
	username string
	notice   []byte
	done     chan struct{}
}

type broadcastRequest struct {
	room    string
	exclude *Conn
	message []byte
	// closed once the message is queued to every member; may be nil
	done chan struct{}
}

type presenceRequest struct {
	room  string
	reply chan []string
}

// Hub owns room membership. All membership changes and fan-out run on the
// goroutine of Run, so rooms need no locking; a send never blocks the hub and
// a member whose buffer is full is dropped.
type Hub struct {
	// room -> member -> username given on join
	rooms map[string]map[*Conn]string
	conns map[*Conn]map[string]bool

	register   chan *Conn
	unregister chan *Conn
	join       chan joinRequest
	broadcast  chan broadcastRequest
	presence   chan presenceRequest

	backplane Backplane
	done      chan struct{}
}

// NewHub creates a hub. backplane may be nil for a single instance.
func NewHub(backplane Backplane) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Conn]string),
		conns:      make(map[*Conn]map[string]bool),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		join:       make(chan joinRequest),
		broadcast:  make(chan broadcastRequest),
		presence:   make(chan presenceRequest),
		backplane:  backplane,
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is done, then closes every connection
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	if h.backplane != nil {
		go func() {
			if err := h.backplane.Run(ctx, h.deliverRemote); err != nil && ctx.Err() == nil {
				glog.Errorf("Room backplane stopped, continuing as a single instance: %v", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			for conn := range h.conns {
				conn.close()
			}
			glog.Infof("Hub stopped")
			return

		case conn := <-h.register:
			h.conns[conn] = make(map[string]bool)
			glog.V(1).Infof("Connection registered: %s (%s)", conn.id, conn.identity.Name())

		case conn := <-h.unregister:
			h.remove(conn)

		case req := <-h.join:
			h.addToRoom(req)
			close(req.done)

		case req := <-h.broadcast:
			h.fanOut(req)
			if req.done != nil {
				close(req.done)
			}

		case req := <-h.presence:
			req.reply <- h.members(req.room)
		}
	}
}

func (h *Hub) addToRoom(req joinRequest) {
	rooms, ok := h.conns[req.conn]
	if !ok {
		// the connection dropped before its join was served
		return
	}

	members := h.rooms[req.room]
	if members == nil {
		members = make(map[*Conn]string)
		h.rooms[req.room] = members
	}
	members[req.conn] = req.username
	rooms[req.room] = true
	glog.V(1).Infof("Joined room %s: %s as %q (%d members)", req.room, req.conn.id, req.username, len(members))

	h.fanOut(broadcastRequest{
		room:    req.room,
		exclude: req.conn,
		message: req.notice,
	})
}

func (h *Hub) fanOut(req broadcastRequest) {
	delivered := 0
	for conn := range h.rooms[req.room] {
		if conn == req.exclude {
			continue
		}
		if conn.enqueue(req.message) {
			delivered++
		} else {
			glog.Infof("Dropping slow connection %s (%s)", conn.id, conn.identity.Name())
			conn.close()
			h.remove(conn)
		}
	}
	glog.V(2).Infof("Fan-out to room %s: %d recipients", req.room, delivered)
}

func (h *Hub) remove(conn *Conn) {
	rooms, ok := h.conns[conn]
	if !ok {
		return
	}
	delete(h.conns, conn)

	for room := range rooms {
		members := h.rooms[room]
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	glog.V(1).Infof("Connection unregistered: %s (%s)", conn.id, conn.identity.Name())
}

func (h *Hub) members(room string) []string {
	names := make([]string, 0, len(h.rooms[room]))
	for _, name := range h.rooms[room] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds a connection to the hub. It reports false once the hub has
// stopped.
func (h *Hub) Register(conn *Conn) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a connection from the hub and all of its rooms
func (h *Hub) Unregister(conn *Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Join adds conn to room under username and tells the other members. It
// returns once the membership is in place.
func (h *Hub) Join(conn *Conn, room string, username string) error {
	notice, err := Encode(TypeReceiveUserJoinInfo, username)
	if err != nil {
		return err
	}

	req := joinRequest{
		conn:     conn,
		room:     room,
		username: username,
		notice:   notice,
		done:     make(chan struct{}),
	}
	select {
	case h.join <- req:
	case <-h.done:
		return nil
	}
	select {
	case <-req.done:
	case <-h.done:
	}

	h.publish(room, notice)
	return nil
}

// Broadcast delivers message to every member of room except the sender.
// It returns once the message is queued to the local members, so anything
// the caller sends afterwards reaches them later. Delivery is best effort:
// there is no acknowledgement or retry.
func (h *Hub) Broadcast(room string, sender *Conn, message []byte) {
	req := broadcastRequest{
		room:    room,
		exclude: sender,
		message: message,
		done:    make(chan struct{}),
	}
	if h.send(req) {
		select {
		case <-req.done:
		case <-h.done:
		}
	}
	h.publish(room, message)
}

// Members returns the usernames joined to room on this instance
func (h *Hub) Members(room string) []string {
	req := presenceRequest{
		room:  room,
		reply: make(chan []string, 1),
	}
	select {
	case h.presence <- req:
	case <-h.done:
		return []string{}
	}
	select {
	case names := <-req.reply:
		return names
	case <-h.done:
		return []string{}
	}
}

// NotifySaved tells every member of the slide's room that a save committed
func (h *Hub) NotifySaved(slideID int64) {
	message, err := Encode(TypeSvgSaved, SlideRoom(slideID))
	if err != nil {
		glog.Errorf("Failed to encode save notification: %v", err)
		return
	}
	h.Broadcast(SlideRoom(slideID), nil, message)
}

func (h *Hub) send(req broadcastRequest) bool {
	select {
	case h.broadcast <- req:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) deliverRemote(room string, message []byte) {
	h.send(broadcastRequest{
		room:    room,
		message: message,
	})
}

func (h *Hub) publish(room string, message []byte) {
	if h.backplane == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.backplane.Publish(ctx, room, message); err != nil {
		glog.Infof("Failed to publish to room %s: %v", room, err)
	}
}
