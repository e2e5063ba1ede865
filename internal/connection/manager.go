package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/streamlabs-tracer/internal/dispatch"
	"github.com/rickgao/streamlabs-tracer/internal/metrics"
	"github.com/rickgao/streamlabs-tracer/internal/model"
)

// StopHook is called after every successful stop, outside the manager lock.
type StopHook func(reason string, automatic bool)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClientFactory replaces the websocket transport.
func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *Manager) {
		m.newClient = f
	}
}

// WithMetrics records session and event metrics.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithStopHook registers a hook called after each stop.
func WithStopHook(h StopHook) ManagerOption {
	return func(m *Manager) {
		m.onStop = h
	}
}

// WithErrorHandler registers a handler for payload errors. Sessions keep
// running after the handler returns.
func WithErrorHandler(h ErrorHandler) ManagerOption {
	return func(m *Manager) {
		m.onError = h
	}
}

// registry is the set of live sessions between a Start and the next Stop.
type registry struct {
	generation uint64
	sessions   []*Session
}

// Manager runs one Session per streamer identity and starts and stops them
// as a unit.
type Manager struct {
	cfg        ManagerConfig
	identities []model.Identity
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger

	newClient ClientFactory
	metrics   *metrics.Metrics
	onStop    StopHook
	onError   ErrorHandler

	mu         sync.Mutex
	reg        *registry // nil while stopped
	generation uint64

	stops     atomic.Int64
	autoStops atomic.Int64
	absorbed  atomic.Int64
}

// NewManager creates a stopped Manager for the given identities.
func NewManager(cfg ManagerConfig, identities []model.Identity, dispatcher dispatch.Dispatcher, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = dispatch.NewLogger(logger)
	}

	m := &Manager{
		cfg:        cfg,
		identities: append([]model.Identity(nil), identities...),
		dispatcher: dispatcher,
		logger:     logger,
	}
	m.newClient = m.websocketClient
	for _, opt := range opts {
		opt(m)
	}
	if m.onError == nil {
		m.onError = func(string, error) {}
	}

	return m
}

// websocketClient is the default ClientFactory.
func (m *Manager) websocketClient(id model.Identity) (Client, error) {
	return NewClient(m.cfg.clientConfig(id.SocketToken), m.logger.With("streamer", id.Nickname))
}

// Start builds a session for every identity and connects them. Either every
// session is created or none is: a bad identity aborts Start before any
// connection is attempted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reg != nil {
		return ErrAlreadyStarted
	}

	gen := m.generation + 1
	sessions := make([]*Session, 0, len(m.identities))
	for _, id := range m.identities {
		s, err := newSession(id, sessionDeps{
			newClient:  m.newClient,
			dispatcher: m.dispatcher,
			metrics:    m.metrics,
			logger:     m.logger,
			onRejected: func(reason string) { m.autoStop(gen, reason) },
			onError:    m.onError,
		})
		if err != nil {
			for _, built := range sessions {
				built.Close()
			}
			return fmt.Errorf("create session: %w", err)
		}
		sessions = append(sessions, s)
	}

	m.generation = gen
	m.reg = &registry{generation: gen, sessions: sessions}
	m.metrics.SetSessions(len(sessions))

	for _, s := range sessions {
		if err := s.Connect(ctx); err != nil {
			m.logger.Warn("failed to connect session",
				"streamer", s.Nickname(),
				"error", err,
			)
		}
	}

	m.logger.Info("streamlabs client started", "sessions", len(sessions))
	return nil
}

// Stop closes every session. It does not wait for in-flight event handling.
func (m *Manager) Stop(reason string) error {
	if err := m.stop(0, reason, false); err != nil {
		return err
	}
	m.metrics.Stop(metrics.StopManual)
	if m.onStop != nil {
		m.onStop(reason, false)
	}
	return nil
}

// autoStop stops the manager on behalf of a session of generation gen. A
// caller whose generation is no longer live is absorbed.
func (m *Manager) autoStop(gen uint64, reason string) {
	if err := m.stop(gen, reason, true); err != nil {
		m.absorbed.Add(1)
		m.metrics.Stop(metrics.StopAbsorbed)
		m.logger.Debug("ignoring stop request", "reason", reason, "generation", gen, "error", err)
		return
	}
	m.autoStops.Add(1)
	m.metrics.Stop(metrics.StopAutomatic)
	if m.onStop != nil {
		m.onStop(reason, true)
	}
}

// stop tears the registry down. gen 0 matches any live generation. The
// registry is detached under the lock and its sessions are closed after.
func (m *Manager) stop(gen uint64, reason string, automatic bool) error {
	m.mu.Lock()
	if m.reg == nil || (gen != 0 && m.reg.generation != gen) {
		m.mu.Unlock()
		return ErrAlreadyStopped
	}
	reg := m.reg
	m.reg = nil
	m.stops.Add(1)
	m.metrics.SetSessions(0)
	m.mu.Unlock()

	var errs []error
	for _, s := range reg.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", s.Nickname(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("errors while closing sessions", "error", err)
	}

	level := slog.LevelInfo
	if automatic {
		level = slog.LevelWarn
	}
	var attrs []any
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	m.logger.Log(context.Background(), level, "stopped streamlabs client", attrs...)
	return nil
}

// IsStarted reports whether a registry is live.
func (m *Manager) IsStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg != nil
}

// Stats returns current manager and session statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	reg := m.reg
	m.mu.Unlock()

	stats := ManagerStats{
		Started:        reg != nil,
		Stops:          m.stops.Load(),
		AutomaticStops: m.autoStops.Load(),
		AbsorbedStops:  m.absorbed.Load(),
	}
	if reg == nil {
		return stats
	}

	stats.Sessions = len(reg.sessions)
	stats.SessionStats = make([]SessionStat, 0, len(reg.sessions))
	for _, s := range reg.sessions {
		if s.State() == StateAuthorized {
			stats.Authorized++
		}
		stats.SessionStats = append(stats.SessionStats, s.stat())
	}
	return stats
}
