package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/streamlabs-tracer/internal/dispatch"
	"github.com/rickgao/streamlabs-tracer/internal/metrics"
	"github.com/rickgao/streamlabs-tracer/internal/model"
	"github.com/rickgao/streamlabs-tracer/internal/normalize"
)

// EventName is the Socket.IO event carrying stream alerts.
const EventName = "event"

// ClientFactory builds the transport for one identity.
type ClientFactory func(id model.Identity) (Client, error)

// ErrorHandler receives errors raised while handling one event payload.
type ErrorHandler func(streamer string, err error)

// Session owns the connection for one streamer identity.
type Session struct {
	id       uuid.UUID
	identity model.Identity
	client   Client
	logger   *slog.Logger

	dispatcher dispatch.Dispatcher
	metrics    *metrics.Metrics
	onRejected func(reason string)
	onError    ErrorHandler

	state   atomic.Int32 // SessionState
	outcome atomic.Int32 // Outcome
	done    chan struct{}
}

// sessionDeps groups what the manager hands to every session.
type sessionDeps struct {
	newClient  ClientFactory
	dispatcher dispatch.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	onRejected func(reason string)
	onError    ErrorHandler
}

// newSession validates the identity and builds its client.
func newSession(identity model.Identity, deps sessionDeps) (*Session, error) {
	if identity.SocketToken == "" {
		return nil, &ConfigurationError{Nickname: identity.Nickname, Reason: "socket token is not set"}
	}

	id := uuid.New()
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("streamer", identity.Nickname, "session_id", id.String())

	client, err := deps.newClient(identity)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:         id,
		identity:   identity,
		client:     client,
		logger:     logger,
		dispatcher: deps.dispatcher,
		metrics:    deps.metrics,
		onRejected: deps.onRejected,
		onError:    deps.onError,
		done:       make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Nickname returns the owning streamer's nickname.
func (s *Session) Nickname() string {
	return s.identity.Nickname
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Outcome returns how the session ended, or OutcomeNone while it is alive.
func (s *Session) Outcome() Outcome {
	return Outcome(s.outcome.Load())
}

// Done is closed once the client's notifications have been fully consumed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Connect moves the session to Connecting and starts consuming notifications.
func (s *Session) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateConnecting)) {
		return ErrAlreadyConnecting
	}

	if err := s.client.Connect(ctx); err != nil {
		s.terminate(OutcomeGraceful)
		return err
	}

	go s.loop(ctx)

	s.logger.Debug("session connecting")
	return nil
}

// Close terminates the session locally. The disconnect that follows is
// treated as intentional.
func (s *Session) Close() error {
	s.terminate(OutcomeGraceful)
	return s.client.Close()
}

// loop consumes notifications until the client closes its channel.
func (s *Session) loop(ctx context.Context) {
	defer close(s.done)

	for n := range s.client.Notifications() {
		switch n.Kind {
		case KindConnected:
			s.handleConnected()
		case KindDisconnected:
			s.handleDisconnected(n)
		case KindMessage:
			s.handleMessage(ctx, n)
		}
	}
}

func (s *Session) handleConnected() {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthorized)) {
		s.logger.Debug("ignoring connect notification", "state", s.State())
		return
	}

	s.metrics.SessionAuthorized()
	s.logger.Info("connected to streamlabs socket with socket token successfully")
}

func (s *Session) handleDisconnected(n Notification) {
	prev, ok := s.terminate(OutcomeNone)
	if !ok {
		// Closed locally; the disconnect is ours.
		s.logger.Debug("disconnected from streamlabs socket", "reason", n.Reason)
		return
	}

	if prev == StateAuthorized {
		s.outcome.Store(int32(OutcomeGraceful))
		s.metrics.Disconnect(metrics.DisconnectIntentional)
		s.logger.Info("disconnected from streamlabs socket",
			"classification", metrics.DisconnectIntentional,
			"reason", n.Reason,
		)
		return
	}

	s.outcome.Store(int32(OutcomeRejected))
	s.metrics.Disconnect(metrics.DisconnectUnauthorized)
	s.logger.Warn("disconnected from streamlabs socket",
		"classification", metrics.DisconnectUnauthorized,
		"reason", n.Reason,
		"error", n.Err,
	)

	if s.onRejected != nil {
		s.onRejected(ReasonUnauthorized)
	}
}

func (s *Session) handleMessage(ctx context.Context, n Notification) {
	if s.State() == StateTerminated {
		return
	}
	if n.Event != EventName {
		s.logger.Debug("ignoring socket event", "event", n.Event)
		return
	}

	err := normalize.Normalize(n.Payload, s.identity.Nickname, n.ReceivedAt, func(ev model.Event) error {
		s.metrics.EventNormalized(ev.EventType)
		if err := s.dispatcher.HandleEvent(ctx, ev); err != nil {
			return err
		}
		s.metrics.EventDispatched(s.identity.Nickname)
		return nil
	})
	if err == nil {
		return
	}

	var sve *normalize.SchemaViolationError
	if errors.As(err, &sve) {
		s.metrics.PayloadFailure(metrics.FailureSchemaViolation)
	} else {
		s.metrics.PayloadFailure(metrics.FailureDispatch)
	}

	s.logger.Error("failed to handle event payload", "error", err)
	if s.onError != nil {
		s.onError(s.identity.Nickname, err)
	}
}

// terminate moves the session to Terminated. It returns the previous state
// and false if the session was already terminated. A non-zero outcome is
// recorded on success.
func (s *Session) terminate(outcome Outcome) (SessionState, bool) {
	for {
		cur := s.state.Load()
		if SessionState(cur) == StateTerminated {
			return StateTerminated, false
		}
		if s.state.CompareAndSwap(cur, int32(StateTerminated)) {
			if SessionState(cur) == StateAuthorized {
				s.metrics.SessionDeauthorized()
			}
			if outcome != OutcomeNone {
				s.outcome.Store(int32(outcome))
			}
			return SessionState(cur), true
		}
	}
}

// stat reports the session for ManagerStats.
func (s *Session) stat() SessionStat {
	return SessionStat{
		ID:        s.id.String(),
		Nickname:  s.identity.Nickname,
		State:     s.State().String(),
		Outcome:   s.Outcome().String(),
		Connected: s.client.IsConnected(),
	}
}
