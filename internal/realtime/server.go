package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"slidecollab/internal/models"
	"slidecollab/internal/permission"
	"slidecollab/internal/services"
	"slidecollab/internal/session"
)

const operationTimeout = 15 * time.Second

// SlideLocator resolves the presentation owning a slide
type SlideLocator interface {
	SlidePresentationID(ctx context.Context, slideID int64) (int64, error)
}

// Server upgrades websocket requests and serves JoinBoard, Modify and
// SaveSvg on them
type Server struct {
	hub             *Hub
	slides          SlideLocator
	gate            *permission.Gate
	snapshots       *services.SnapshotService
	upgrader        websocket.Upgrader
	maxMessageBytes int64
}

// NewServer creates the realtime endpoint. allowedOrigins holds the accepted
// Origin headers; "*" accepts any.
func NewServer(hub *Hub, slides SlideLocator, gate *permission.Gate, snapshots *services.SnapshotService, allowedOrigins []string, maxMessageBytes int64) *Server {
	return &Server{
		hub:       hub,
		slides:    slides,
		gate:      gate,
		snapshots: snapshots,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		maxMessageBytes: maxMessageBytes,
	}
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Hub returns the room registry
func (s *Server) Hub() *Hub {
	return s.hub
}

// ServeConn upgrades the request and serves the connection until it closes.
// identity may be nil: such a connection can join rooms and receive but
// every edit is refused as unauthenticated.
func (s *Server) ServeConn(w http.ResponseWriter, r *http.Request, identity *session.Identity) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("WebSocket upgrade failed: %v", err)
		return
	}

	conn := newConn(ws, identity, sendBufferSize)
	if !s.hub.Register(conn) {
		ws.Close()
		return
	}
	glog.Infof("Connection %s opened for %q", conn.id, identity.Name())

	go conn.writePump()
	conn.readPump(s.hub, s.maxMessageBytes, s.handle)
	glog.Infof("Connection %s closed", conn.id)
}

// handle serves one frame. A failure, including a panic, is reported to the
// sender only and never ends the connection.
func (s *Server) handle(conn *Conn, frame []byte) {
	var envelope *Envelope
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("Panic serving %s: %v", conn.id, r)
			s.reply(conn, envelope, fmt.Errorf("%v", r))
		}
	}()

	envelope, err := Decode(frame)
	if err != nil {
		s.reply(conn, nil, err)
		return
	}

	ctx, cancel := context.WithTimeout(conn.ctx, operationTimeout)
	defer cancel()

	switch envelope.Type {
	case TypeJoinBoard:
		s.joinBoard(conn, envelope)
	case TypeModify:
		s.reply(conn, envelope, s.modify(ctx, conn, envelope))
	case TypeSaveSvg:
		s.reply(conn, envelope, s.saveSvg(ctx, conn, envelope))
	default:
		glog.Infof("Unknown message type from %s: %s", conn.id, envelope.Type)
		sendMessage(conn, TypeError, fmt.Sprintf("Unknown operation: %s", envelope.Type))
		s.complete(conn, envelope, nil)
	}
}

func (s *Server) joinBoard(conn *Conn, envelope *Envelope) {
	roomKey, err := envelope.StringArg(0)
	if err != nil {
		s.reply(conn, envelope, err)
		return
	}
	username, err := envelope.StringArg(1)
	if err != nil {
		s.reply(conn, envelope, err)
		return
	}
	if roomKey == "" {
		s.reply(conn, envelope, models.ErrInvalidSlideID)
		return
	}
	if username == "" {
		username = conn.identity.Name()
	}

	room := RoomKey(roomKey)
	if err := s.hub.Join(conn, room, username); err != nil {
		s.reply(conn, envelope, err)
		return
	}
	s.complete(conn, envelope, fmt.Sprintf("Added to group with connection id %s in group %s", conn.id, room))
}

func (s *Server) modify(ctx context.Context, conn *Conn, envelope *Envelope) error {
	if conn.identity.Name() == "" {
		return models.ErrUnauthenticated
	}
	rawSlideID, err := envelope.StringArg(0)
	if err != nil {
		return err
	}
	slideID, err := services.ParseSlideID(rawSlideID)
	if err != nil {
		return err
	}
	if len(envelope.Args) < 2 {
		return fmt.Errorf("%w: missing operation payload", models.ErrInvalidFormat)
	}

	presentationID, err := s.slides.SlidePresentationID(ctx, slideID)
	if err != nil {
		return err
	}
	if _, err := s.gate.Require(ctx, presentationID, conn.identity.Name(), permission.BroadcastEdit); err != nil {
		return err
	}

	// the payload is opaque and forwarded as received
	message, err := Encode(TypeUpdateDrawing, envelope.Args[1])
	if err != nil {
		return err
	}
	s.hub.Broadcast(SlideRoom(slideID), conn, message)
	return nil
}

func (s *Server) saveSvg(ctx context.Context, conn *Conn, envelope *Envelope) error {
	rawSlideID, err := envelope.StringArg(0)
	if err != nil {
		return err
	}
	if rawSlideID == "" {
		return models.ErrInvalidSlideID
	}
	snapshot, err := envelope.StringArg(1)
	if err != nil {
		return err
	}
	if err := services.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	if conn.identity.Name() == "" {
		return models.ErrUnauthenticated
	}
	slideID, err := services.ParseSlideID(rawSlideID)
	if err != nil {
		return err
	}

	if err := s.snapshots.Save(ctx, slideID, conn.identity.Name(), snapshot); err != nil {
		return err
	}
	sendMessage(conn, TypeSaveSuccessful, SlideRoom(slideID))
	return nil
}

// reply reports err to the sender, then completes the invocation
func (s *Server) reply(conn *Conn, envelope *Envelope, err error) {
	if err != nil {
		operation := "frame"
		if envelope != nil {
			operation = envelope.Type
		}
		glog.Infof("%s from %s (%s) failed: %v", operation, conn.id, conn.identity.Name(), err)
		sendMessage(conn, TypeError, models.UserMessage(err))
	}
	s.complete(conn, envelope, nil)
}

func (s *Server) complete(conn *Conn, envelope *Envelope, result any) {
	if envelope == nil || envelope.ID == "" {
		return
	}
	message, err := EncodeCompletion(envelope.ID, result)
	if err != nil {
		glog.Errorf("Failed to encode completion: %v", err)
		return
	}
	if !conn.enqueue(message) {
		conn.close()
	}
}

func sendMessage(conn *Conn, msgType string, args ...any) {
	message, err := Encode(msgType, args...)
	if err != nil {
		glog.Errorf("Failed to encode %s: %v", msgType, err)
		return
	}
	if !conn.enqueue(message) {
		conn.close()
	}
}

var _ services.SaveNotifier = (*Hub)(nil)
