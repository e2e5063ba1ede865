package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/streamlabs-tracer/internal/version"
)

// Client represents a single socket connection to the Streamlabs service.
type Client interface {
	// Connect starts the connection. The handshake runs asynchronously; its
	// outcome is reported on the notifications channel. ctx bounds the
	// handshake only.
	Connect(ctx context.Context) error

	// Close disconnects. A Disconnected notification with
	// ReasonClientDisconnect follows if the connection was running.
	Close() error

	// Notifications returns the channel of connect, disconnect and message
	// notifications. Exactly one KindDisconnected is sent after Connect, then
	// the channel is closed.
	Notifications() <-chan Notification

	// IsConnected reports whether the server accepted the connection and it
	// is still open.
	IsConnected() bool
}

// Engine.IO packet types (first byte of every websocket frame).
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO packet types (first byte after an Engine.IO message marker).
const (
	sioConnect    = '0'
	sioDisconnect = '1'
	sioEvent      = '2'
	sioError      = '4'
)

// handshake is the Engine.IO open packet payload.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int64  `json:"pingInterval"` // ms
	PingTimeout  int64  `json:"pingTimeout"`  // ms
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	url    string
	logger *slog.Logger

	conn *websocket.Conn

	// Output channel
	notifications chan Notification
	done          chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	started    bool
	connected  bool
	closed     bool
	lastPongAt time.Time
	staleErr   error
}

// NewClient creates a socket client. The service URL is resolved here so a
// bad endpoint fails before any session is started.
func NewClient(cfg ClientConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	target, err := BuildSocketURL(cfg.URL, cfg.Token)
	if err != nil {
		return nil, err
	}

	bufferSize := cfg.BufferSize
	if bufferSize < 1 {
		bufferSize = DefaultClientConfig().BufferSize
	}

	return &client{
		cfg:           cfg,
		url:           target,
		logger:        logger,
		notifications: make(chan Notification, bufferSize),
		done:          make(chan struct{}),
	}, nil
}

// BuildSocketURL turns the service base URL into the websocket-only
// Socket.IO endpoint carrying token as a query parameter.
func BuildSocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", &TransportConstructionError{URL: base, Err: err}
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", &TransportConstructionError{URL: base, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return "", &TransportConstructionError{URL: base, Err: errors.New("missing host")}
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket.io/"

	q := url.Values{}
	q.Set("EIO", "3")
	q.Set("transport", "websocket")
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Connect starts the handshake goroutine.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyConnecting
	}
	c.started = true
	c.mu.Unlock()

	go c.run(ctx)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	started := c.started
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	if !started {
		close(c.notifications)
		return nil
	}

	if conn != nil {
		// Leave the namespace, then close the websocket
		c.write(conn, []byte{eioMessage, sioDisconnect})
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}

	return nil
}

// Notifications returns the notifications channel.
func (c *client) Notifications() <-chan Notification {
	return c.notifications
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// run dials, reads until the connection ends, then reports the disconnect.
func (c *client) run(ctx context.Context) {
	defer close(c.notifications)

	// Fresh dialer per connection: nothing is shared with other sessions
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	// Close() aborts an in-flight handshake
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := dialer.DialContext(dialCtx, c.url, header)
	if err != nil {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			c.emit(Notification{Kind: KindDisconnected, Reason: ReasonClientDisconnect, ReceivedAt: time.Now()})
			return
		}

		if resp != nil {
			err = fmt.Errorf("dial (status: %d): %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("dial: %w", err)
		}
		c.emit(Notification{Kind: KindDisconnected, Reason: ReasonConnectError, Err: err, ReceivedAt: time.Now()})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		c.emit(Notification{Kind: KindDisconnected, Reason: ReasonClientDisconnect, ReceivedAt: time.Now()})
		return
	}
	c.conn = conn
	c.lastPongAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("websocket connected", "host", hostOf(c.url))

	readDone := make(chan struct{})
	final := c.readLoop(conn, readDone)
	close(readDone)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.emit(final)
}

// readLoop reads frames until the connection ends and returns the
// Disconnected notification describing why.
func (c *client) readLoop(conn *websocket.Conn, readDone <-chan struct{}) Notification {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			return c.disconnectCause(err, receivedAt)
		}

		if final, ok := c.handleFrame(conn, data, receivedAt, readDone); ok {
			conn.Close()
			return final
		}
	}
}

// handleFrame processes one Engine.IO frame. It returns a notification and
// true when the frame ends the connection.
func (c *client) handleFrame(conn *websocket.Conn, data []byte, receivedAt time.Time, readDone <-chan struct{}) (Notification, bool) {
	if len(data) == 0 {
		return Notification{}, false
	}

	switch data[0] {
	case eioOpen:
		var hs handshake
		if err := json.Unmarshal(data[1:], &hs); err != nil {
			c.logger.Warn("invalid engine.io handshake", "error", err)
			return Notification{}, false
		}
		if hs.PingInterval > 0 {
			interval := time.Duration(hs.PingInterval) * time.Millisecond
			timeout := time.Duration(hs.PingTimeout) * time.Millisecond
			go c.pingLoop(conn, interval, timeout, readDone)
		}
		c.logger.Debug("engine.io handshake", "sid", hs.SID, "ping_interval_ms", hs.PingInterval)

	case eioClose:
		return Notification{Kind: KindDisconnected, Reason: ReasonTransportClose, ReceivedAt: receivedAt}, true

	case eioPing:
		// Server-initiated heartbeat (Engine.IO v4 servers)
		reply := append([]byte{eioPong}, data[1:]...)
		c.write(conn, reply)

	case eioPong:
		c.mu.Lock()
		c.lastPongAt = receivedAt
		c.mu.Unlock()

	case eioMessage:
		return c.handlePacket(data[1:], receivedAt)

	case eioNoop:
	default:
		c.logger.Debug("ignoring engine.io packet", "type", string(data[0]))
	}

	return Notification{}, false
}

// handlePacket processes one Socket.IO packet.
func (c *client) handlePacket(p []byte, receivedAt time.Time) (Notification, bool) {
	if len(p) == 0 {
		return Notification{}, false
	}

	nsp, body := splitNamespace(p[1:])
	if nsp != "/" {
		c.logger.Debug("ignoring packet for namespace", "namespace", nsp)
		return Notification{}, false
	}

	switch p[0] {
	case sioConnect:
		c.mu.Lock()
		c.connected = !c.closed
		c.mu.Unlock()
		c.emit(Notification{Kind: KindConnected, ReceivedAt: receivedAt})

	case sioDisconnect:
		return Notification{Kind: KindDisconnected, Reason: ReasonServerDisconnect, ReceivedAt: receivedAt}, true

	case sioError:
		err := ErrRejected
		if len(body) > 0 {
			err = fmt.Errorf("%w: %s", ErrRejected, body)
		}
		return Notification{Kind: KindDisconnected, Reason: ReasonConnectError, Err: err, ReceivedAt: receivedAt}, true

	case sioEvent:
		name, payload, err := parseEvent(body)
		if err != nil {
			c.logger.Warn("invalid socket.io event packet", "error", err)
			return Notification{}, false
		}
		c.emit(Notification{Kind: KindMessage, Event: name, Payload: payload, ReceivedAt: receivedAt})

	default:
		c.logger.Debug("ignoring socket.io packet", "type", string(p[0]))
	}

	return Notification{}, false
}

// pingLoop sends Engine.IO v3 client pings and detects a silent server.
func (c *client) pingLoop(conn *websocket.Conn, interval, timeout time.Duration, readDone <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-readDone:
			return
		case <-ticker.C:
			c.write(conn, []byte{eioPing})

			c.mu.RLock()
			lastPong := c.lastPongAt
			c.mu.RUnlock()

			if time.Since(lastPong) > interval+timeout {
				c.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", interval+timeout,
				)
				c.mu.Lock()
				c.staleErr = ErrStaleConnection
				c.mu.Unlock()
				conn.Close()
				return
			}
		}
	}
}

// disconnectCause classifies a read error.
func (c *client) disconnectCause(err error, at time.Time) Notification {
	c.mu.RLock()
	closed, stale := c.closed, c.staleErr
	c.mu.RUnlock()

	switch {
	case closed:
		return Notification{Kind: KindDisconnected, Reason: ReasonClientDisconnect, ReceivedAt: at}
	case stale != nil:
		return Notification{Kind: KindDisconnected, Reason: ReasonPingTimeout, Err: stale, ReceivedAt: at}
	default:
		return Notification{Kind: KindDisconnected, Reason: ReasonTransportError, Err: err, ReceivedAt: at}
	}
}

// write sends one text frame.
func (c *client) write(conn *websocket.Conn, data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("failed to write frame", "error", err)
	}
}

// emit delivers a notification. Only the run goroutine calls it.
func (c *client) emit(n Notification) {
	c.notifications <- n
}

// splitNamespace strips an optional "/nsp," prefix and ack id from a
// Socket.IO packet body.
func splitNamespace(p []byte) (string, []byte) {
	nsp := "/"
	if len(p) > 0 && p[0] == '/' {
		end := bytes.IndexByte(p, ',')
		if end < 0 {
			return string(p), nil
		}
		nsp = string(p[:end])
		p = p[end+1:]
	}

	// Skip ack id digits
	i := 0
	for i < len(p) && p[i] >= '0' && p[i] <= '9' {
		i++
	}
	return nsp, p[i:]
}

// parseEvent decodes a ["name", arg, ...] event body.
func parseEvent(body []byte) (string, []byte, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(args) == 0 {
		return "", nil, errors.New("empty event")
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}

	var payload []byte
	if len(args) > 1 {
		payload = args[1]
	}
	return name, payload, nil
}

// hostOf returns the host of a URL for logging, without the token.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
