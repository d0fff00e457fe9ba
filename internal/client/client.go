// Package client is the realtime client of one slide. It keeps a websocket
// connection to the server, rejoins the slide's room after every reconnect
// and saves snapshots over the connection with an HTTP fallback.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"slidecollab/internal/models"
	"slidecollab/internal/realtime"
	"slidecollab/internal/session"
)

// ErrClosed is returned by Run when the server ends the connection
// explicitly. It is not retried.
var ErrClosed = errors.New("connection closed by server")

// ErrSaveRejected is returned by Save when the fallback save is refused
var ErrSaveRejected = errors.New("save rejected")

type Settings struct {
	HttpTimeout        time.Duration
	WsHandshakeTimeout time.Duration
	JoinTimeout        time.Duration
	SaveTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		HttpTimeout:        10 * time.Second,
		WsHandshakeTimeout: 5 * time.Second,
		JoinTimeout:        10 * time.Second,
		SaveTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		// the server pings every 54s
		ReadTimeout: 75 * time.Second,
	}
}

// Events receives what happens on the slide. Callbacks run on the read
// goroutine and must not block. Any of them may be nil.
type Events struct {
	StateChanged func(State)
	Drawing      func(payload json.RawMessage)
	Saved        func(slideID string)
	UserJoined   func(username string)
	Error        func(message string)
}

// Client is the realtime client of one user on one slide
type Client struct {
	baseURL  *url.URL
	username string
	slideID  int64
	events   Events
	settings *Settings

	dialer     *websocket.Dialer
	httpClient *http.Client

	stateLock sync.Mutex
	state     State

	sessionLock sync.Mutex
	token       string
	csrf        string

	connLock sync.Mutex
	conn     *connection
}

func NewWithDefaults(serverURL string, username string, slideID int64, events Events) (*Client, error) {
	return New(serverURL, username, slideID, events, DefaultSettings())
}

// New creates a client for the server at serverURL (http or https)
func New(serverURL string, username string, slideID int64, events Events, settings *Settings) (*Client, error) {
	baseURL, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", baseURL.Scheme)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, models.ErrInvalidName
	}
	if slideID <= 0 {
		return nil, models.ErrInvalidSlideID
	}

	return &Client{
		baseURL:  baseURL,
		username: username,
		slideID:  slideID,
		events:   events,
		settings: settings,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.WsHandshakeTimeout,
		},
		httpClient: &http.Client{
			Timeout: settings.HttpTimeout,
		},
		state: Disconnected,
	}, nil
}

// State returns the current connection state
func (c *Client) State() State {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	return c.state
}

func (c *Client) setState(state State) {
	c.stateLock.Lock()
	changed := c.state != state
	c.state = state
	c.stateLock.Unlock()

	if changed {
		glog.V(1).Infof("[c]%s %s", c.username, state)
		if c.events.StateChanged != nil {
			c.events.StateChanged(state)
		}
	}
}

func (c *Client) currentConn() *connection {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.conn
}

func (c *Client) setConn(conn *connection) {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	c.conn = conn
}

// Run connects and keeps the client connected until ctx is done or the
// server closes the connection. A failed first connection is returned
// immediately; a lost connection is retried without limit and the room is
// rejoined before the client reports Connected again.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(Disconnected)

	c.setState(Connecting)
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	for {
		c.setConn(conn)
		c.setState(Connected)
		err := c.serve(ctx, conn)
		c.setConn(nil)

		if ctx.Err() != nil {
			return nil
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			glog.Infof("[c]%s connection closed by server", c.username)
			return ErrClosed
		}
		glog.Infof("[c]%s connection lost: %v", c.username, err)

		c.setState(Reconnecting)
		conn = nil
		for attempt := 0; conn == nil; attempt++ {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(RetryDelay(attempt)):
			}
			conn, err = c.connect(ctx)
			if err != nil {
				glog.Infof("[c]%s reconnect attempt %d failed: %v", c.username, attempt+1, err)
			}
		}
	}
}

// serve blocks until the transport ends or ctx is done
func (c *Client) serve(ctx context.Context, conn *connection) error {
	select {
	case <-conn.done:
		return conn.err
	case <-ctx.Done():
		conn.shutdown()
		<-conn.done
		return ctx.Err()
	}
}

// connect logs in, dials the server and joins the slide's room
func (c *Client) connect(ctx context.Context) (*connection, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}

	ws, _, err := c.dialer.DialContext(ctx, c.websocketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	conn := newConnection(ws, c.settings.WriteTimeout)
	go c.readLoop(conn)

	joinCtx, cancel := context.WithTimeout(ctx, c.settings.JoinTimeout)
	defer cancel()
	r, err := conn.invoke(joinCtx, realtime.TypeJoinBoard, c.room(), c.username)
	if err == nil && len(r.errors) > 0 {
		err = errors.New(r.errors[0])
	}
	if err != nil {
		conn.shutdown()
		return nil, fmt.Errorf("failed to join slide %d: %w", c.slideID, err)
	}
	glog.V(1).Infof("[c]%s %s", c.username, r.value)
	return conn, nil
}

func (c *Client) readLoop(conn *connection) {
	var pendingErrors, pendingSaved []string

	conn.ws.SetPingHandler(func(data string) error {
		conn.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		return conn.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.settings.WriteTimeout))
	})

	for {
		conn.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			conn.ws.Close()
			conn.finish(err)
			return
		}
		glog.V(2).Infof("[cr]%s<- %s", c.username, message)

		envelope, err := realtime.Decode(message)
		if err != nil {
			glog.Infof("[cr]%s dropping frame: %v", c.username, err)
			continue
		}

		switch envelope.Type {
		case realtime.TypeCompletion:
			r := &reply{
				errors: pendingErrors,
				saved:  pendingSaved,
			}
			if len(envelope.Args) > 0 {
				r.value = envelope.Args[0]
			}
			pendingErrors, pendingSaved = nil, nil
			conn.resolve(envelope.ID, r)
		case realtime.TypeError:
			text, _ := envelope.StringArg(0)
			pendingErrors = append(pendingErrors, text)
			if c.events.Error != nil {
				c.events.Error(text)
			}
		case realtime.TypeSaveSuccessful:
			slideID, _ := envelope.StringArg(0)
			pendingSaved = append(pendingSaved, slideID)
		case realtime.TypeUpdateDrawing:
			if len(envelope.Args) > 0 && c.events.Drawing != nil {
				c.events.Drawing(envelope.Args[0])
			}
		case realtime.TypeSvgSaved:
			slideID, _ := envelope.StringArg(0)
			if c.events.Saved != nil {
				c.events.Saved(slideID)
			}
		case realtime.TypeReceiveUserJoinInfo:
			username, _ := envelope.StringArg(0)
			if c.events.UserJoined != nil {
				c.events.UserJoined(username)
			}
		default:
			glog.V(2).Infof("[cr]%s ignoring %s", c.username, envelope.Type)
		}
	}
}

// Modify broadcasts one editing operation to the other members of the room.
// payload is forwarded to them unchanged.
func (c *Client) Modify(ctx context.Context, payload json.RawMessage) error {
	conn := c.currentConn()
	if conn == nil {
		return models.ErrTransport
	}
	r, err := conn.invoke(ctx, realtime.TypeModify, c.room(), payload)
	if err != nil {
		return err
	}
	if len(r.errors) > 0 {
		return errors.New(r.errors[0])
	}
	return nil
}

// Save stores snapshot as the slide's content. The realtime save is tried
// first; when it is not acknowledged in time, refused or there is no
// connection, the fallback endpoint is used. A realtime save that commits
// after its timeout races with the fallback and the later commit wins.
func (c *Client) Save(ctx context.Context, snapshot string) error {
	if conn := c.currentConn(); conn != nil {
		saveCtx, cancel := context.WithTimeout(ctx, c.settings.SaveTimeout)
		r, err := conn.invoke(saveCtx, realtime.TypeSaveSvg, c.room(), snapshot)
		cancel()

		switch {
		case err == nil && len(r.saved) > 0:
			return nil
		case err == nil:
			glog.Infof("[c]%s realtime save refused: %s", c.username, strings.Join(r.errors, "; "))
		default:
			glog.Infof("[c]%s realtime save not acknowledged: %v", c.username, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return c.saveOverHTTP(ctx, snapshot)
}

type saveRequest struct {
	SlideID int64  `json:"slideId"`
	SvgData string `json:"svgData"`
}

type outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (c *Client) saveOverHTTP(ctx context.Context, snapshot string) error {
	token, csrf := c.credentials()
	if token == "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
		token, csrf = c.credentials()
	}

	body, err := json.Marshal(saveRequest{SlideID: c.slideID, SvgData: snapshot})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint("/api/slides/save"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(session.CSRFHeader, csrf)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", models.ErrTransport, err)
	}
	defer resp.Body.Close()

	var result outcome
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode save response (status %d): %w", resp.StatusCode, err)
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", ErrSaveRejected, result.Message)
	}
	glog.V(1).Infof("[c]%s saved slide %d over http", c.username, c.slideID)
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Token     string `json:"token"`
	CSRFToken string `json:"csrfToken"`
}

// Login obtains a fresh identity token for the client's username
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{Username: c.username})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint("/api/session"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	defer resp.Body.Close()

	var result loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode login response (status %d): %w", resp.StatusCode, err)
	}
	if !result.Success {
		return fmt.Errorf("failed to log in: %s", result.Message)
	}

	c.sessionLock.Lock()
	c.token = result.Token
	c.csrf = result.CSRFToken
	c.sessionLock.Unlock()
	return nil
}

func (c *Client) credentials() (string, string) {
	c.sessionLock.Lock()
	defer c.sessionLock.Unlock()
	return c.token, c.csrf
}

func (c *Client) room() string {
	return strconv.FormatInt(c.slideID, 10)
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) websocketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	token, _ := c.credentials()
	query := u.Query()
	query.Set("access_token", token)
	u.RawQuery = query.Encode()
	return u.String()
}
