package useCases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/larriantoniy/wa_gateway/internal/domain"
	"github.com/larriantoniy/wa_gateway/internal/ports"
)

var testIdentity = domain.Identity{ID: "15550000000@c.us", PushName: "gateway"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTransport struct {
	id   string
	emit func(ports.Event)

	mu            sync.Mutex
	identity      domain.Identity
	recipientID   string
	found         bool
	lookupErr     error
	sendErr       error
	sendPanic     bool
	logoutErr     error
	disconnectErr error
	connectErr    error
	connects      int
	disconnects   int
	logouts       int
	sent          []string
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return t.connectErr
}

func (t *fakeTransport) Lookup(ctx context.Context, number string) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lookupErr != nil {
		return "", false, t.lookupErr
	}
	if !t.found {
		return "", false, nil
	}
	if t.recipientID != "" {
		return t.recipientID, true, nil
	}
	return number + "@c.us", true, nil
}

func (t *fakeTransport) Send(ctx context.Context, recipientID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendPanic {
		panic("page has been closed")
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, recipientID+":"+text)
	return nil
}

func (t *fakeTransport) Identity() domain.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

func (t *fakeTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	return t.disconnectErr
}

func (t *fakeTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logouts++
	return t.logoutErr
}

func (t *fakeTransport) ready() {
	t.emit(ports.Event{Kind: ports.EventReady, Identity: testIdentity})
}

func (t *fakeTransport) counts() (connects, disconnects int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects, t.disconnects
}

type fakeFactory struct {
	mu        sync.Mutex
	calls     int
	created   []*fakeTransport
	err       error
	gate      chan struct{}
	configure func(*fakeTransport)
}

func (f *fakeFactory) New(emit func(ports.Event), log *slog.Logger) (ports.Transport, error) {
	f.mu.Lock()
	gate := f.gate
	f.calls++
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tr := &fakeTransport{id: fmt.Sprintf("fake-%d", len(f.created)+1), emit: emit, found: true}
	if f.configure != nil {
		f.configure(tr)
	}
	f.created = append(f.created, tr)
	return tr, nil
}

func (f *fakeFactory) setGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

func (f *fakeFactory) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func (f *fakeFactory) at(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

// recordingObserver запоминает все переходы
type recordingObserver struct {
	mu      sync.Mutex
	changes []domain.StateChange
}

func (o *recordingObserver) OnStateChange(ctx context.Context, ch domain.StateChange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, ch)
}

func (o *recordingObserver) states() []domain.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.State, 0, len(o.changes))
	for _, ch := range o.changes {
		out = append(out, ch.State)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(t *testing.T, f *fakeFactory, obs ...ports.StateObserver) *SessionManager {
	t.Helper()
	m := NewSessionManager(f.New, discardLogger(), SessionOptions{}, obs...)
	t.Cleanup(func() {
		// снимаем возможные ворота, чтобы Close не завис
		f.setGate(nil)
		m.Close(context.Background())
	})
	return m
}

// startReady поднимает сессию до READY
func startReady(t *testing.T, m *SessionManager, f *fakeFactory) *fakeTransport {
	t.Helper()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := f.last()
	tr.ready()
	if !m.IsReady() {
		t.Fatalf("expected READY, got %s", m.State())
	}
	return tr
}

func waitIdle(t *testing.T, m *SessionManager) {
	t.Helper()
	waitFor(t, "recovery to finish", func() bool { return !m.Recovering() })
}

var errBoom = errors.New("boom")
