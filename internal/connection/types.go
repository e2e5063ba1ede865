package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrAlreadyClosed     = errors.New("already closed")
	ErrAlreadyConnecting = errors.New("connect already called")
	ErrStaleConnection   = errors.New("connection stale (no pong)")
	ErrRejected          = errors.New("rejected by socket server")

	ErrAlreadyStarted = &StateError{Op: "start", Msg: "streamlabs client is already started"}
	ErrAlreadyStopped = &StateError{Op: "stop", Msg: "streamlabs client is already stopped"}
)

// DefaultSocketURL is the Streamlabs socket service endpoint.
const DefaultSocketURL = "https://sockets.streamlabs.com"

// ReasonUnauthorized is the stop reason used when a session is disconnected
// before the server accepted its token.
const ReasonUnauthorized = "unauthorized by the socket server"

// Disconnect reasons reported by Client.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonConnectError     = "connect error"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

// NotificationKind is the closed set of things a Client reports.
type NotificationKind int

const (
	KindConnected NotificationKind = iota
	KindDisconnected
	KindMessage
)

func (k NotificationKind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Notification is emitted by a Client on its Notifications channel.
type Notification struct {
	Kind       NotificationKind
	Event      string    // Socket.IO event name (KindMessage only)
	Payload    []byte    // First event argument as raw JSON (KindMessage only)
	Reason     string    // Disconnect reason (KindDisconnected only)
	Err        error     // Disconnect cause, nil for a local close
	ReceivedAt time.Time // Local timestamp when the frame was read
}

// ClientConfig configures a socket client.
type ClientConfig struct {
	URL              string        // Service base URL (e.g., https://sockets.streamlabs.com)
	Token            string        // Socket API token, sent as the "token" query parameter
	HandshakeTimeout time.Duration // Websocket handshake timeout
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Notification channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:              DefaultSocketURL,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	SocketURL        string        // Service base URL shared by all sessions
	HandshakeTimeout time.Duration // Per-session handshake timeout
	WriteTimeout     time.Duration // Per-session write deadline
	BufferSize       int           // Per-session notification buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	client := DefaultClientConfig()
	return ManagerConfig{
		SocketURL:        client.URL,
		HandshakeTimeout: client.HandshakeTimeout,
		WriteTimeout:     client.WriteTimeout,
		BufferSize:       client.BufferSize,
	}
}

// clientConfig derives the per-session client configuration.
func (c ManagerConfig) clientConfig(token string) ClientConfig {
	return ClientConfig{
		URL:              c.SocketURL,
		Token:            token,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		BufferSize:       c.BufferSize,
	}
}

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StateCreated SessionState = iota
	StateConnecting
	StateAuthorized
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Outcome records how a terminated Session ended.
type Outcome int32

const (
	OutcomeNone     Outcome = iota // not terminated
	OutcomeGraceful                // closed locally, or disconnected after authorization
	OutcomeRejected                // disconnected before authorization
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeGraceful:
		return "graceful"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// SessionStat holds statistics for a single session.
type SessionStat struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	State     string `json:"state"`
	Outcome   string `json:"outcome"`
	Connected bool   `json:"connected"`
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Started        bool          `json:"started"`
	Sessions       int           `json:"sessions"`
	Authorized     int           `json:"authorized"`
	Stops          int64         `json:"stops"`
	AutomaticStops int64         `json:"automatic_stops"`
	AbsorbedStops  int64         `json:"absorbed_stops"`
	SessionStats   []SessionStat `json:"session_stats"`
}
