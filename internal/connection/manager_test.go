package connection

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/streamlabs-tracer/internal/metrics"
	"github.com/rickgao/streamlabs-tracer/internal/model"
)

// fakeTransport hands out fake clients and remembers them by nickname.
type fakeTransport struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{clients: make(map[string]*fakeClient)}
}

func (ft *fakeTransport) factory(id model.Identity) (Client, error) {
	c := newFakeClient(id)
	ft.mu.Lock()
	ft.clients[id.Nickname] = c
	ft.mu.Unlock()
	return c, nil
}

func (ft *fakeTransport) client(t *testing.T, nickname string) *fakeClient {
	t.Helper()
	ft.mu.Lock()
	defer ft.mu.Unlock()
	c, ok := ft.clients[nickname]
	if !ok {
		t.Fatalf("no client for %s", nickname)
	}
	return c
}

// stopRecorder collects stop hook calls.
type stopRecorder struct {
	mu    sync.Mutex
	calls []stopCall
	seen  chan stopCall
}

type stopCall struct {
	reason    string
	automatic bool
}

func newStopRecorder() *stopRecorder {
	return &stopRecorder{seen: make(chan stopCall, 16)}
}

func (r *stopRecorder) hook(reason string, automatic bool) {
	c := stopCall{reason: reason, automatic: automatic}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	r.seen <- c
}

func (r *stopRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *stopRecorder) wait(t *testing.T) stopCall {
	t.Helper()
	select {
	case c := <-r.seen:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stop")
	}
	return stopCall{}
}

func testIdentities() []model.Identity {
	return []model.Identity{
		{Nickname: "alice", SocketToken: "token-a"},
		{Nickname: "bob", SocketToken: "token-b"},
	}
}

func newTestManager(ids []model.Identity, opts ...ManagerOption) (*Manager, *fakeTransport, *stopRecorder) {
	ft := newFakeTransport()
	stops := newStopRecorder()
	opts = append([]ManagerOption{WithClientFactory(ft.factory), WithStopHook(stops.hook)}, opts...)
	m := NewManager(DefaultManagerConfig(), ids, newRecorder(), nil, opts...)
	return m, ft, stops
}

// liveSessions returns the sessions of the current registry.
func liveSessions(m *Manager) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reg == nil {
		return nil
	}
	return append([]*Session(nil), m.reg.sessions...)
}

// blockingCloseClient holds Close until release is closed.
type blockingCloseClient struct {
	*fakeClient
	closing chan<- struct{}
	release <-chan struct{}
}

func (c *blockingCloseClient) Close() error {
	c.closing <- struct{}{}
	<-c.release
	return c.fakeClient.Close()
}

// logBuffer is a goroutine-safe sink for a JSON slog handler.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// records decodes every JSON log line whose msg equals msg.
func (b *logBuffer) records(t *testing.T, msg string) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode log line %q: %v", sc.Text(), err)
		}
		if rec["msg"] == msg {
			out = append(out, rec)
		}
	}
	return out
}

func TestManager_StartTwice(t *testing.T) {
	m, _, _ := newTestManager(testIdentities())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop("test done")

	err := m.Start(context.Background())
	if !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	var stateErr *StateError
	if !errors.As(err, &stateErr) || stateErr.Op != "start" {
		t.Errorf("expected start StateError, got %v", err)
	}
}

func TestManager_StopWhenStopped(t *testing.T) {
	m, _, stops := newTestManager(testIdentities())

	err := m.Stop("nothing running")
	if !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("expected ErrAlreadyStopped, got %v", err)
	}
	if stops.count() != 0 {
		t.Errorf("stop hook should not run, got %d calls", stops.count())
	}
}

func TestManager_IsStarted(t *testing.T) {
	m, ft, stops := newTestManager(testIdentities())

	if m.IsStarted() {
		t.Fatal("expected not started before Start")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !m.IsStarted() {
		t.Fatal("expected started after Start")
	}
	if !ft.client(t, "alice").wasStarted() || !ft.client(t, "bob").wasStarted() {
		t.Error("expected every client to be connected")
	}

	if err := m.Stop("manual"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if m.IsStarted() {
		t.Fatal("expected not started after Stop")
	}
	if c := stops.wait(t); c.automatic || c.reason != "manual" {
		t.Errorf("unexpected stop call: %+v", c)
	}
	if !ft.client(t, "alice").wasClosed() || !ft.client(t, "bob").wasClosed() {
		t.Error("expected every client to be closed")
	}

	// Restart builds fresh sessions
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if !m.IsStarted() {
		t.Fatal("expected started after restart")
	}
	if ft.client(t, "alice").wasClosed() {
		t.Error("expected a new client after restart")
	}
	m.Stop("test done")
}

func TestManager_StartAllOrNothing(t *testing.T) {
	ids := []model.Identity{
		{Nickname: "alice", SocketToken: "token-a"},
		{Nickname: "bob"},
		{Nickname: "carol", SocketToken: "token-c"},
	}
	m, ft, _ := newTestManager(ids)

	err := m.Start(context.Background())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Nickname != "bob" {
		t.Errorf("expected bob, got %q", cfgErr.Nickname)
	}
	if m.IsStarted() {
		t.Error("expected manager to stay stopped")
	}

	alice := ft.client(t, "alice")
	if alice.wasStarted() {
		t.Error("no session may connect when start fails")
	}
	if !alice.wasClosed() {
		t.Error("expected already built sessions to be released")
	}
	ft.mu.Lock()
	_, carolBuilt := ft.clients["carol"]
	ft.mu.Unlock()
	if carolBuilt {
		t.Error("expected building to stop at the first bad identity")
	}
}

func TestManager_StartBadURL(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.SocketURL = "ftp://sockets.example.com"
	m := NewManager(cfg, testIdentities(), newRecorder(), nil)

	err := m.Start(context.Background())
	var tce *TransportConstructionError
	if !errors.As(err, &tce) {
		t.Fatalf("expected TransportConstructionError, got %v", err)
	}
	if m.IsStarted() {
		t.Error("expected manager to stay stopped")
	}
}

func TestManager_UnauthorizedStopsEverything(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, ft, stops := newTestManager(testIdentities(), WithMetrics(metrics.New(reg)))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ft.client(t, "alice").authorize()
	ft.client(t, "bob").drop(ReasonConnectError, ErrRejected)

	c := stops.wait(t)
	if !c.automatic || c.reason != ReasonUnauthorized {
		t.Errorf("unexpected stop call: %+v", c)
	}
	if m.IsStarted() {
		t.Error("expected manager to be stopped")
	}
	if !ft.client(t, "alice").wasClosed() {
		t.Error("expected the authorized session to be closed too")
	}

	stats := m.Stats()
	if stats.AutomaticStops != 1 || stats.Stops != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if got := metricValue(t, reg, "streamlabs_tracer_client_stops_total", metrics.StopAutomatic); got != 1 {
		t.Errorf("expected 1 automatic stop metric, got %v", got)
	}
}

func TestManager_GracefulDisconnectKeepsRunning(t *testing.T) {
	m, ft, stops := newTestManager(testIdentities())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop("test done")

	alice := ft.client(t, "alice")
	alice.authorize()
	alice.drop(ReasonServerDisconnect, nil)

	for _, s := range liveSessions(m) {
		if s.Nickname() == "alice" {
			waitDone(t, s)
			if s.Outcome() != OutcomeGraceful {
				t.Errorf("expected graceful, got %s", s.Outcome())
			}
		}
	}
	if !m.IsStarted() {
		t.Error("a graceful disconnect must not stop the client")
	}
	if stops.count() != 0 {
		t.Errorf("expected no stop, got %d", stops.count())
	}
}

func TestManager_ConcurrentUnauthorized(t *testing.T) {
	m, ft, stops := newTestManager(testIdentities())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sessions := liveSessions(m)

	var wg sync.WaitGroup
	for _, nick := range []string{"alice", "bob"} {
		c := ft.client(t, nick)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.drop(ReasonConnectError, ErrRejected)
		}()
	}
	wg.Wait()

	for _, s := range sessions {
		waitDone(t, s)
	}

	if n := stops.count(); n != 1 {
		t.Fatalf("expected exactly one stop, got %d", n)
	}
	stats := m.Stats()
	if stats.Stops != 1 || stats.AutomaticStops != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if m.IsStarted() {
		t.Error("expected manager to be stopped")
	}
}

func TestManager_AutoStopRace(t *testing.T) {
	m, _, stops := newTestManager(testIdentities())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	gen := m.reg.generation

	const callers = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			m.autoStop(gen, ReasonUnauthorized)
		}()
	}
	close(start)
	wg.Wait()

	if n := stops.count(); n != 1 {
		t.Fatalf("expected exactly one stop, got %d", n)
	}
	stats := m.Stats()
	if stats.AutomaticStops != 1 {
		t.Errorf("expected 1 automatic stop, got %d", stats.AutomaticStops)
	}
	if stats.AbsorbedStops != callers-1 {
		t.Errorf("expected %d absorbed stops, got %d", callers-1, stats.AbsorbedStops)
	}
}

func TestManager_StaleGenerationAbsorbed(t *testing.T) {
	m, _, stops := newTestManager(testIdentities())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	oldGen := m.reg.generation
	if err := m.Stop("restart"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop("test done")

	m.autoStop(oldGen, ReasonUnauthorized)

	if !m.IsStarted() {
		t.Fatal("a stop from an old generation must not stop the new one")
	}
	if stats := m.Stats(); stats.AbsorbedStops != 1 {
		t.Errorf("expected 1 absorbed stop, got %d", stats.AbsorbedStops)
	}
	if n := stops.count(); n != 1 {
		t.Errorf("expected only the manual stop, got %d", n)
	}
}

func TestManager_Stats(t *testing.T) {
	m, ft, _ := newTestManager(testIdentities())

	if stats := m.Stats(); stats.Started || stats.Sessions != 0 {
		t.Errorf("unexpected stats before start: %+v", stats)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop("test done")

	ft.client(t, "alice").authorize()
	for _, s := range liveSessions(m) {
		if s.Nickname() == "alice" {
			waitState(t, s, StateAuthorized)
		}
	}

	stats := m.Stats()
	if !stats.Started || stats.Sessions != 2 || stats.Authorized != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(stats.SessionStats) != 2 {
		t.Fatalf("expected 2 session stats, got %d", len(stats.SessionStats))
	}
	for _, ss := range stats.SessionStats {
		switch ss.Nickname {
		case "alice":
			if ss.State != "authorized" || !ss.Connected {
				t.Errorf("unexpected alice stat: %+v", ss)
			}
		case "bob":
			if ss.State != "connecting" || ss.Connected {
				t.Errorf("unexpected bob stat: %+v", ss)
			}
		default:
			t.Errorf("unexpected session %q", ss.Nickname)
		}
		if ss.ID == "" {
			t.Error("expected a session id")
		}
	}
}

func TestManager_DispatchesThroughSessions(t *testing.T) {
	rec := newRecorder()
	ft := newFakeTransport()
	m := NewManager(DefaultManagerConfig(), testIdentities(), rec, nil, WithClientFactory(ft.factory))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop("test done")

	bob := ft.client(t, "bob")
	bob.authorize()
	bob.deliver(EventName, `{"type":"raid","message":[{"name":"raider","raiders":30}]}`)

	ev := rec.wait(t)
	if ev.StreamerNickname != "bob" || ev.RaiderCount != 30 || ev.EventType != "raid" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestManager_ErrorHandler(t *testing.T) {
	errs := make(chan error, 1)
	m, ft, _ := newTestManager(testIdentities(), WithErrorHandler(func(streamer string, err error) {
		if streamer == "alice" {
			errs <- err
		}
	}))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop("test done")

	alice := ft.client(t, "alice")
	alice.authorize()
	alice.deliver(EventName, `["not","an","object"]`)

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
	if !m.IsStarted() {
		t.Error("payload errors must not stop the client")
	}
}

func TestManager_StopLogsReason(t *testing.T) {
	tests := []struct {
		name       string
		reason     string
		wantReason bool
	}{
		{"with reason", "shutdown", true},
		{"empty reason", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := &logBuffer{}
			logger := slog.New(slog.NewJSONHandler(logs, nil))
			ft := newFakeTransport()
			m := NewManager(DefaultManagerConfig(), testIdentities(), newRecorder(), logger, WithClientFactory(ft.factory))

			if err := m.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			if err := m.Stop(tt.reason); err != nil {
				t.Fatalf("Stop failed: %v", err)
			}

			recs := logs.records(t, "stopped streamlabs client")
			if len(recs) != 1 {
				t.Fatalf("got %d stop records, want 1", len(recs))
			}
			if recs[0]["level"] != "INFO" {
				t.Errorf("level = %v, want INFO", recs[0]["level"])
			}
			reason, ok := recs[0]["reason"]
			if ok != tt.wantReason {
				t.Fatalf("reason attribute present = %v, want %v", ok, tt.wantReason)
			}
			if ok && reason != tt.reason {
				t.Errorf("reason = %v, want %q", reason, tt.reason)
			}
		})
	}
}

func TestManager_StopReleasesLockBeforeClosing(t *testing.T) {
	closing := make(chan struct{}, 2)
	release := make(chan struct{})
	factory := func(id model.Identity) (Client, error) {
		return &blockingCloseClient{fakeClient: newFakeClient(id), closing: closing, release: release}, nil
	}
	m := NewManager(DefaultManagerConfig(), testIdentities(), newRecorder(), nil, WithClientFactory(factory))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop("test done") }()

	select {
	case <-closing:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for session close")
	}

	// A session is mid-close; readers must not wait for it.
	read := make(chan ManagerStats, 1)
	go func() {
		m.IsStarted()
		read <- m.Stats()
	}()
	select {
	case stats := <-read:
		if stats.Started || stats.Sessions != 0 {
			t.Errorf("unexpected stats while stopping: %+v", stats)
		}
	case <-time.After(time.Second):
		t.Fatal("manager lock held while sessions close")
	}

	close(release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Stop")
	}
}
