package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"slidecollab/internal/db"
	"slidecollab/internal/handlers"
	"slidecollab/internal/models"
	"slidecollab/internal/permission"
	"slidecollab/internal/realtime"
	"slidecollab/internal/services"
	"slidecollab/internal/session"
)

func TestRetryDelay(t *testing.T) {
	expected := []time.Duration{
		0,
		1 * time.Second,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		15 * time.Second,
		15 * time.Second,
		15 * time.Second,
	}
	for attempt, delay := range expected {
		assert.Equal(t, delay, RetryDelay(attempt))
	}
	assert.Equal(t, 15*time.Second, RetryDelay(1000))
}

func TestNewValidates(t *testing.T) {
	_, err := NewWithDefaults("ftp://example.com", "alice", 1, Events{})
	assert.NotEqual(t, nil, err)

	_, err = NewWithDefaults("http://example.com", "  ", 1, Events{})
	assert.Equal(t, models.ErrInvalidName, err)

	_, err = NewWithDefaults("http://example.com", "alice", 0, Events{})
	assert.Equal(t, models.ErrInvalidSlideID, err)
}

type serverFixture struct {
	url     string
	store   *services.DocumentStore
	slideID int64
}

// newServerFixture serves a presentation created by alice, with bob as
// Viewer and carol as Editor.
func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(filepath.Join(t.TempDir(), "slides.db"))
	if err != nil {
		t.Fatalf("open database: %s", err)
	}
	t.Cleanup(func() { database.Close() })

	hubCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	hub := realtime.NewHub(nil)
	go hub.Run(hubCtx)

	store := services.NewDocumentStore(database)
	gate := permission.NewGate(store)
	snapshots := services.NewSnapshotService(store, gate, hub)
	sessions := session.NewManager([]byte("test-secret"), time.Hour)
	auth := handlers.NewAuth(sessions)

	router := handlers.SetupRoutes(&handlers.Routes{
		Auth:          auth,
		Sessions:      handlers.NewSessionHandler(sessions),
		Presentations: handlers.NewPresentationHandler(services.NewPresentationService(store, gate)),
		Slides:        handlers.NewSlideHandler(store, snapshots, hub),
		WebSocket:     handlers.NewWebSocketHandler(realtime.NewServer(hub, store, gate, snapshots, []string{"*"}, 0), auth),
	}, []string{"*"})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	presentation, err := store.CreatePresentation(ctx, "Deck", "alice")
	if err != nil {
		t.Fatalf("create presentation: %s", err)
	}
	store.EnsureUser(ctx, presentation.ID, "bob")
	store.EnsureUser(ctx, presentation.ID, "carol")
	store.SetUserRole(ctx, presentation.ID, "carol", models.RoleEditor)

	return &serverFixture{
		url:     server.URL,
		store:   store,
		slideID: presentation.Slides[0].ID,
	}
}

// recorder turns client events into channels
type recorder struct {
	states   chan State
	drawings chan json.RawMessage
	saved    chan string
	joined   chan string
	errors   chan string
}

func newRecorder() *recorder {
	return &recorder{
		states:   make(chan State, 64),
		drawings: make(chan json.RawMessage, 64),
		saved:    make(chan string, 64),
		joined:   make(chan string, 64),
		errors:   make(chan string, 64),
	}
}

func (r *recorder) events() Events {
	return Events{
		StateChanged: func(state State) { r.states <- state },
		Drawing:      func(payload json.RawMessage) { r.drawings <- payload },
		Saved:        func(slideID string) { r.saved <- slideID },
		UserJoined:   func(username string) { r.joined <- username },
		Error:        func(message string) { r.errors <- message },
	}
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case value := <-ch:
		return value
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	var zero T
	return zero
}

func waitState(t *testing.T, r *recorder, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case state := <-r.states:
			if state == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

// start runs a client until the test ends and waits for it to be connected
func start(t *testing.T, serverURL string, username string, slideID int64) (*Client, *recorder) {
	t.Helper()
	r := newRecorder()
	c, err := NewWithDefaults(serverURL, username, slideID, r.events())
	assert.Equal(t, nil, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitState(t, r, Connected)
	return c, r
}

func TestModifyReachesRoom(t *testing.T) {
	f := newServerFixture(t)
	alice, _ := start(t, f.url, "alice", f.slideID)
	_, bob := start(t, f.url, "bob", f.slideID)

	payload := json.RawMessage(`{"command":{"kind":"stroke","points":[1,2]}}`)
	assert.Equal(t, nil, alice.Modify(context.Background(), payload))
	assert.Equal(t, string(payload), string(waitFor(t, bob.drawings)))
}

func TestViewerModifyRefused(t *testing.T) {
	f := newServerFixture(t)
	bob, recorded := start(t, f.url, "bob", f.slideID)

	err := bob.Modify(context.Background(), json.RawMessage(`{}`))
	assert.NotEqual(t, nil, err)
	assert.Equal(t, "You don't have permission to edit this slide", err.Error())
	assert.Equal(t, "You don't have permission to edit this slide", waitFor(t, recorded.errors))
}

func TestSaveOverRealtime(t *testing.T) {
	f := newServerFixture(t)
	carol, _ := start(t, f.url, "carol", f.slideID)
	_, alice := start(t, f.url, "alice", f.slideID)

	snapshot := `<svg xmlns="http://www.w3.org/2000/svg"><circle r="4"/></svg>`
	assert.Equal(t, nil, carol.Save(context.Background(), snapshot))
	assert.Equal(t, realtime.SlideRoom(f.slideID), waitFor(t, alice.saved))

	slide, err := f.store.GetSlide(context.Background(), f.slideID)
	assert.Equal(t, nil, err)
	assert.Equal(t, snapshot, string(slide.Snapshot))
}

func TestSaveWithoutConnectionFallsBack(t *testing.T) {
	f := newServerFixture(t)
	c, err := NewWithDefaults(f.url, "carol", f.slideID, Events{})
	assert.Equal(t, nil, err)

	snapshot := `<svg xmlns="http://www.w3.org/2000/svg"><rect/></svg>`
	assert.Equal(t, nil, c.Save(context.Background(), snapshot))

	slide, err := f.store.GetSlide(context.Background(), f.slideID)
	assert.Equal(t, nil, err)
	assert.Equal(t, snapshot, string(slide.Snapshot))
}

func TestViewerSaveRejected(t *testing.T) {
	f := newServerFixture(t)
	bob, _ := start(t, f.url, "bob", f.slideID)

	err := bob.Save(context.Background(), `<svg></svg>`)
	assert.Equal(t, true, errors.Is(err, ErrSaveRejected))
	assert.Equal(t, true, strings.HasSuffix(err.Error(), "Viewers cannot edit slides"))

	slide, err := f.store.GetSlide(context.Background(), f.slideID)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, slide.IsBlank())
}

// dropProxy forwards TCP connections to a target and can cut all of them
type dropProxy struct {
	listener net.Listener
	target   string

	lock  sync.Mutex
	conns []net.Conn
}

func newDropProxy(t *testing.T, target string) *dropProxy {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	p := &dropProxy{
		listener: listener,
		target:   target,
	}
	go p.serve()
	t.Cleanup(func() {
		listener.Close()
		p.drop()
	})
	return p
}

func (p *dropProxy) url() string {
	return "http://" + p.listener.Addr().String()
}

func (p *dropProxy) serve() {
	for {
		downstream, err := p.listener.Accept()
		if err != nil {
			return
		}
		upstream, err := net.Dial("tcp", p.target)
		if err != nil {
			downstream.Close()
			continue
		}
		p.lock.Lock()
		p.conns = append(p.conns, downstream, upstream)
		p.lock.Unlock()

		go func() {
			io.Copy(upstream, downstream)
			upstream.Close()
		}()
		go func() {
			io.Copy(downstream, upstream)
			downstream.Close()
		}()
	}
}

func (p *dropProxy) drop() {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, conn := range p.conns {
		conn.Close()
	}
	p.conns = nil
}

func TestReconnectRejoinsRoom(t *testing.T) {
	f := newServerFixture(t)
	proxy := newDropProxy(t, strings.TrimPrefix(f.url, "http://"))

	_, bob := start(t, proxy.url(), "bob", f.slideID)
	carol, _ := start(t, f.url, "carol", f.slideID)

	proxy.drop()
	waitState(t, bob, Reconnecting)
	waitState(t, bob, Connected)

	// an operation sent after the rejoin reaches the reconnected client
	payload := json.RawMessage(`{"op":"after-reconnect"}`)
	assert.Equal(t, nil, carol.Modify(context.Background(), payload))
	assert.Equal(t, string(payload), string(waitFor(t, bob.drawings)))
}

func TestNormalClosureIsTerminal(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"token":"t","csrfToken":"x"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		envelope, err := realtime.Decode(frame)
		if err != nil {
			return
		}
		completion, _ := realtime.EncodeCompletion(envelope.ID, "joined")
		ws.WriteMessage(websocket.TextMessage, completion)
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		// wait for the client to answer the close
		ws.ReadMessage()
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	r := newRecorder()
	c, err := NewWithDefaults(server.URL, "alice", 7, r.events())
	assert.Equal(t, nil, err)

	assert.Equal(t, ErrClosed, c.Run(context.Background()))
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, Connecting, waitFor(t, r.states))
	assert.Equal(t, Connected, waitFor(t, r.states))
	assert.Equal(t, Disconnected, waitFor(t, r.states))
}

func TestUnacknowledgedSaveFallsBack(t *testing.T) {
	upgrader := websocket.Upgrader{}
	posted := make(chan saveRequest, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"token":"t","csrfToken":"x"}`))
	})
	mux.HandleFunc("/api/slides/save", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		assert.Equal(t, "x", r.Header.Get(session.CSRFHeader))
		var req saveRequest
		json.NewDecoder(r.Body).Decode(&req)
		posted <- req
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"Slide saved"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			envelope, err := realtime.Decode(frame)
			if err != nil {
				return
			}
			// only the join is ever answered
			if envelope.Type == realtime.TypeJoinBoard {
				completion, _ := realtime.EncodeCompletion(envelope.ID, "joined")
				ws.WriteMessage(websocket.TextMessage, completion)
			}
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	settings := DefaultSettings()
	settings.SaveTimeout = 300 * time.Millisecond
	r := newRecorder()
	c, err := New(server.URL, "carol", 7, r.events(), settings)
	assert.Equal(t, nil, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	waitState(t, r, Connected)

	start := time.Now()
	assert.Equal(t, nil, c.Save(context.Background(), "<svg>late</svg>"))
	elapsed := time.Since(start)
	assert.Equal(t, true, elapsed >= settings.SaveTimeout)

	req := waitFor(t, posted)
	assert.Equal(t, int64(7), req.SlideID)
	assert.Equal(t, "<svg>late</svg>", req.SvgData)
}

func TestFirstConnectFailureIsReturned(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := NewWithDefaults(url, "alice", 1, Events{})
	assert.Equal(t, nil, err)
	assert.NotEqual(t, nil, c.Run(context.Background()))
	assert.Equal(t, Disconnected, c.State())
}
