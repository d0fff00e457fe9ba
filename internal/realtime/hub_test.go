package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"slidecollab/internal/session"
)

func startHub(t *testing.T, backplane Backplane) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(backplane)
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func testConn(t *testing.T, hub *Hub, username string, bufferSize int) *Conn {
	t.Helper()
	conn := newConn(nil, &session.Identity{Username: username}, bufferSize)
	assert.Equal(t, true, hub.Register(conn))
	return conn
}

func receive(t *testing.T, conn *Conn) *Envelope {
	t.Helper()
	select {
	case message := <-conn.send:
		envelope, err := Decode(message)
		assert.Equal(t, nil, err)
		return envelope
	case <-time.After(2 * time.Second):
		t.Fatalf("no message for %s", conn.identity.Name())
		return nil
	}
}

func assertSilent(t *testing.T, conn *Conn) {
	t.Helper()
	select {
	case message := <-conn.send:
		t.Fatalf("unexpected message for %s: %s", conn.identity.Name(), message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinNotifiesOthers(t *testing.T) {
	hub := startHub(t, nil)
	alice := testConn(t, hub, "alice", 16)
	bob := testConn(t, hub, "bob", 16)

	assert.Equal(t, nil, hub.Join(alice, "7", "alice"))
	assertSilent(t, alice)

	assert.Equal(t, nil, hub.Join(bob, "7", "bob"))
	envelope := receive(t, alice)
	assert.Equal(t, TypeReceiveUserJoinInfo, envelope.Type)
	name, _ := envelope.StringArg(0)
	assert.Equal(t, "bob", name)
	assertSilent(t, bob)

	assert.Equal(t, []string{"alice", "bob"}, hub.Members("7"))
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := startHub(t, nil)
	alice := testConn(t, hub, "alice", 16)
	bob := testConn(t, hub, "bob", 16)
	carol := testConn(t, hub, "carol", 16)
	outsider := testConn(t, hub, "dave", 16)

	hub.Join(alice, "7", "alice")
	hub.Join(bob, "7", "bob")
	hub.Join(carol, "7", "carol")
	hub.Join(outsider, "8", "dave")
	// drain join notices
	receive(t, alice)
	receive(t, alice)
	receive(t, bob)

	message, _ := Encode(TypeUpdateDrawing, "op-1")
	hub.Broadcast("7", alice, message)

	for _, peer := range []*Conn{bob, carol} {
		envelope := receive(t, peer)
		assert.Equal(t, TypeUpdateDrawing, envelope.Type)
		payload, _ := envelope.StringArg(0)
		assert.Equal(t, "op-1", payload)
	}
	assertSilent(t, alice)
	assertSilent(t, outsider)
}

func TestSameUsernameTwoConnections(t *testing.T) {
	hub := startHub(t, nil)
	tab1 := testConn(t, hub, "alice", 16)
	tab2 := testConn(t, hub, "alice", 16)

	hub.Join(tab1, "7", "alice")
	hub.Join(tab2, "7", "alice")
	receive(t, tab1)

	message, _ := Encode(TypeUpdateDrawing, "op")
	hub.Broadcast("7", tab1, message)
	assert.Equal(t, TypeUpdateDrawing, receive(t, tab2).Type)
	assertSilent(t, tab1)

	assert.Equal(t, []string{"alice", "alice"}, hub.Members("7"))
}

func TestUnregisterLeavesRooms(t *testing.T) {
	hub := startHub(t, nil)
	alice := testConn(t, hub, "alice", 16)
	bob := testConn(t, hub, "bob", 16)
	hub.Join(alice, "7", "alice")
	hub.Join(bob, "7", "bob")

	hub.Unregister(bob)
	assert.Equal(t, []string{"alice"}, hub.Members("7"))

	hub.Unregister(alice)
	assert.Equal(t, []string{}, hub.Members("7"))
}

func TestSlowMemberDropped(t *testing.T) {
	hub := startHub(t, nil)
	alice := testConn(t, hub, "alice", 16)
	slow := testConn(t, hub, "slow", 1)
	hub.Join(slow, "7", "slow")
	hub.Join(alice, "7", "alice")

	message, _ := Encode(TypeUpdateDrawing, "op")
	hub.Broadcast("7", alice, message)

	// the join notice filled the buffer, so the broadcast drops the member
	assert.Equal(t, []string{"alice"}, hub.Members("7"))
	select {
	case <-slow.closed:
	case <-time.After(time.Second):
		t.Fatalf("slow connection not closed")
	}
}

func TestNotifySavedReachesWholeRoom(t *testing.T) {
	hub := startHub(t, nil)
	alice := testConn(t, hub, "alice", 16)
	bob := testConn(t, hub, "bob", 16)
	hub.Join(alice, "7", "alice")
	hub.Join(bob, "7", "bob")
	receive(t, alice)

	hub.NotifySaved(7)
	for _, member := range []*Conn{alice, bob} {
		envelope := receive(t, member)
		assert.Equal(t, TypeSvgSaved, envelope.Type)
		slideID, _ := envelope.StringArg(0)
		assert.Equal(t, "7", slideID)
	}
}

func TestBroadcastQueuedOnReturn(t *testing.T) {
	hub := startHub(t, nil)
	alice := testConn(t, hub, "alice", 16)
	bob := testConn(t, hub, "bob", 16)
	hub.Join(alice, "7", "alice")
	hub.Join(bob, "7", "bob")
	receive(t, alice)

	for i := 0; i < 50; i++ {
		hub.NotifySaved(7)
		// no waiting: the notification must already be queued
		for _, member := range []*Conn{alice, bob} {
			select {
			case message := <-member.send:
				envelope, err := Decode(message)
				assert.Equal(t, nil, err)
				assert.Equal(t, TypeSvgSaved, envelope.Type)
			default:
				t.Fatalf("notification %d not queued for %s", i, member.identity.Name())
			}
		}
	}
}

type loopbackBackplane struct {
	published chan string
	remote    chan [2]string
}

func (b *loopbackBackplane) Publish(ctx context.Context, room string, message []byte) error {
	b.published <- room
	return nil
}

func (b *loopbackBackplane) Run(ctx context.Context, deliver func(room string, message []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-b.remote:
			deliver(event[0], []byte(event[1]))
		}
	}
}

func TestBackplane(t *testing.T) {
	backplane := &loopbackBackplane{
		published: make(chan string, 16),
		remote:    make(chan [2]string),
	}
	hub := startHub(t, backplane)
	alice := testConn(t, hub, "alice", 16)
	hub.Join(alice, "7", "alice")
	assert.Equal(t, "7", <-backplane.published)

	message, _ := Encode(TypeUpdateDrawing, "local")
	hub.Broadcast("7", alice, message)
	assert.Equal(t, "7", <-backplane.published)

	// a message from another instance reaches every local member
	remote, _ := Encode(TypeUpdateDrawing, "remote")
	backplane.remote <- [2]string{"7", string(remote)}
	envelope := receive(t, alice)
	payload, _ := envelope.StringArg(0)
	assert.Equal(t, "remote", payload)
}

func TestProtocol(t *testing.T) {
	envelope, err := Decode([]byte(`{"type":"SaveSvg","id":"3","args":[12,"<svg/>"]}`))
	assert.Equal(t, nil, err)
	slideID, err := envelope.StringArg(0)
	assert.Equal(t, nil, err)
	assert.Equal(t, "12", slideID)
	snapshot, _ := envelope.StringArg(1)
	assert.Equal(t, "<svg/>", snapshot)
	missing, err := envelope.StringArg(5)
	assert.Equal(t, nil, err)
	assert.Equal(t, "", missing)

	envelope, _ = Decode([]byte(`{"type":"Modify","args":[{"a":1}]}`))
	_, err = envelope.StringArg(0)
	assert.NotEqual(t, nil, err)

	_, err = Decode([]byte(`{"args":[]}`))
	assert.NotEqual(t, nil, err)
	_, err = Decode([]byte(`not json`))
	assert.NotEqual(t, nil, err)

	assert.Equal(t, "7", RoomKey("007"))
	assert.Equal(t, "lobby", RoomKey("lobby"))
}
