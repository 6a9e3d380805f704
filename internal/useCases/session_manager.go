package useCases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/larriantoniy/wa_gateway/internal/domain"
	"github.com/larriantoniy/wa_gateway/internal/ports"
)

const teardownTimeout = 10 * time.Second

type SessionOptions struct {
	// RetryDelay: через сколько повторить упавший старт, 0 отключает повтор.
	RetryDelay time.Duration
	// ConnectGrace: сколько CONNECTING без прогресса считается "подключением в процессе"
	ConnectGrace time.Duration
	Now          func() time.Time
}

// SessionStatus снимок состояния для API
type SessionStatus struct {
	State       domain.State
	Identity    domain.Identity
	QR          string
	Generation  uint64
	TransportID string
}

// SessionManager владеет единственным экземпляром транспорта и ведёт
// машину состояний UNINITIALIZED -> CONNECTING -> READY, FAILED -> CONNECTING.
// Восстановление single-flight: одновременно выполняется не больше одного.
type SessionManager struct {
	factory   ports.TransportFactory
	log       *slog.Logger
	opts      SessionOptions
	observers []ports.StateObserver

	baseCtx context.Context
	cancel  context.CancelFunc

	mu           sync.Mutex
	state        domain.State
	transport    ports.Transport
	generation   uint64
	identity     domain.Identity
	lastQR       string
	lastProgress time.Time
	retryTimer   *time.Timer
	closed       bool

	recovering atomic.Bool
	wg         sync.WaitGroup
}

func NewSessionManager(
	factory ports.TransportFactory,
	log *slog.Logger,
	opts SessionOptions,
	observers ...ports.StateObserver,
) *SessionManager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		factory:   factory,
		log:       log.With("component", "session"),
		opts:      opts,
		observers: observers,
		baseCtx:   ctx,
		cancel:    cancel,
		state:     domain.StateUninitialized,
	}
}

// Start первый запуск сессии. Если уже идёт восстановление, ничего не делает.
func (m *SessionManager) Start(ctx context.Context) error {
	if !m.recovering.CompareAndSwap(false, true) {
		return nil
	}
	defer m.endRecovery()

	return m.start(ctx)
}

// ForceReconnect запускает восстановление в фоне и сразу возвращается.
// false: восстановление уже выполняется, второе не стартует.
func (m *SessionManager) ForceReconnect(reason string) bool {
	if !m.recovering.CompareAndSwap(false, true) {
		m.log.Debug("recovery already in flight", "reason", reason)
		return false
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.recovering.Store(false)
		return false
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.endRecovery()
		m.recoverSession(m.baseCtx, reason)
	}()
	return true
}

// endRecovery снимает флаг восстановления. Проверка состояния идёт после
// снятия: отказ, пришедший пока флаг был занят, ForceReconnect отбросил.
func (m *SessionManager) endRecovery() {
	m.recovering.Store(false)
	if m.State() == domain.StateFailed {
		m.scheduleRetry()
	}
}

// Recovering true, пока выполняется восстановление
func (m *SessionManager) Recovering() bool {
	return m.recovering.Load()
}

func (m *SessionManager) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SessionManager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isReadyLocked()
}

func (m *SessionManager) isReadyLocked() bool {
	return m.state == domain.StateReady && !m.identity.IsZero() && m.transport != nil
}

func (m *SessionManager) CurrentIdentity() (domain.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isReadyLocked() {
		return domain.Identity{}, false
	}
	return m.identity, true
}

func (m *SessionManager) Status() SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := SessionStatus{
		State:      m.state,
		Identity:   m.identity,
		QR:         m.lastQR,
		Generation: m.generation,
	}
	if m.transport != nil {
		st.TransportID = m.transport.ID()
	}
	return st
}

// SendTo нормализует номер, ищет получателя и отправляет сообщение.
// Никогда не ждёт переподключения: если сессия не готова, запускает
// восстановление и сразу возвращает domain.ErrNotConnected.
func (m *SessionManager) SendTo(ctx context.Context, number, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in transport during send", "panic", r)
			err = fmt.Errorf("%w: %v", domain.ErrSendFailed, r)
		}
	}()

	normalized := domain.NormalizePhone(number)
	if normalized == "" || message == "" {
		return fmt.Errorf("%w: phone number and message are required", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	tr := m.transport
	ready := m.isReadyLocked()
	inFlight := m.state == domain.StateConnecting && m.opts.Now().Sub(m.lastProgress) < m.opts.ConnectGrace
	m.mu.Unlock()

	if !ready {
		if inFlight || m.recovering.Load() {
			m.log.Info("client not connected, connection in progress", "number", normalized)
		} else {
			m.log.Info("client not connected, reconnecting", "number", normalized)
			m.ForceReconnect("send while not connected")
		}
		return domain.ErrNotConnected
	}

	recipientID, found, err := tr.Lookup(ctx, normalized)
	if err != nil {
		return m.sendFailure(normalized, "lookup", err)
	}
	if !found {
		m.log.Info("number not found", "number", normalized)
		return fmt.Errorf("%w: %s", domain.ErrRecipientNotFound, normalized)
	}

	if err := tr.Send(ctx, recipientID, message); err != nil {
		return m.sendFailure(normalized, "send", err)
	}

	m.log.Info("message sent", "number", normalized, "recipient", recipientID)
	return nil
}

func (m *SessionManager) sendFailure(number, op string, err error) error {
	m.log.Error("send message failed", "number", number, "op", op, "error", err)
	if domain.IsSessionClosed(err) {
		m.log.Warn("session closed detected, reconnecting")
		m.ForceReconnect("session closed during " + op)
	}
	return fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
}

// Logout явный выход из аккаунта. При ошибке состояние не меняется
// и восстановление не запускается.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	tr := m.transport
	if tr == nil || m.state != domain.StateReady {
		m.mu.Unlock()
		return domain.ErrNotReady
	}
	m.mu.Unlock()

	if err := tr.Logout(ctx); err != nil {
		m.log.Error("logout failed", "error", err)
		return fmt.Errorf("logout: %w", err)
	}

	m.mu.Lock()
	var changes []domain.StateChange
	if m.transport == tr {
		m.transport = nil
		m.generation++
		m.identity = domain.Identity{}
		m.lastQR = ""
		changes = append(changes, m.setStateLocked(domain.StateUninitialized, "logout"))
	}
	m.mu.Unlock()

	m.notify(changes)
	m.log.Info("client logged out")
	return nil
}

// Close останавливает фоновые восстановления и разбирает транспорт
func (m *SessionManager) Close(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	tr := m.transport
	m.transport = nil
	m.generation++
	m.mu.Unlock()

	if tr != nil {
		m.teardown(ctx, tr)
	}
}

// recoverSession разбирает текущий транспорт и создаёт новый.
// Вызывается только под флагом recovering.
func (m *SessionManager) recoverSession(ctx context.Context, reason string) {
	m.log.Info("recovering session", "reason", reason)

	m.mu.Lock()
	old := m.transport
	m.transport = nil
	// события старого экземпляра с этого момента устаревшие
	m.generation++
	var changes []domain.StateChange
	if m.state == domain.StateReady || m.state == domain.StateConnecting {
		m.identity = domain.Identity{}
		changes = append(changes, m.setStateLocked(domain.StateFailed, reason))
	}
	m.mu.Unlock()
	m.notify(changes)

	if old != nil {
		m.teardown(ctx, old)
	}

	// повтор при неудаче планирует endRecovery
	_ = m.start(ctx)
}

func (m *SessionManager) teardown(ctx context.Context, tr ports.Transport) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if err := tr.Disconnect(tctx); err != nil {
		m.log.Warn("error destroying client", "transport_id", tr.ID(), "error", err)
		return
	}
	m.log.Debug("transport torn down", "transport_id", tr.ID())
}

func (m *SessionManager) start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if m.transport != nil && (m.state == domain.StateConnecting || m.state == domain.StateReady) {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	gen := m.generation
	m.identity = domain.Identity{}
	m.lastQR = ""
	changes := []domain.StateChange{m.setStateLocked(domain.StateConnecting, "")}
	m.mu.Unlock()
	m.notify(changes)

	log := m.log.With("generation", gen)
	emit := func(ev ports.Event) { m.handleEvent(gen, ev) }

	tr, err := m.factory(emit, log)
	if err != nil {
		log.Error("create transport failed", "error", err)
		m.fail(gen, "create transport: "+err.Error())
		return err
	}

	m.mu.Lock()
	if m.generation != gen || m.closed {
		m.mu.Unlock()
		m.teardown(ctx, tr)
		return nil
	}
	m.transport = tr
	m.mu.Unlock()

	log.Info("initializing client", "transport_id", tr.ID())
	if err := tr.Connect(ctx); err != nil {
		log.Error("connect failed", "transport_id", tr.ID(), "error", err)
		m.fail(gen, "connect: "+err.Error())
		return err
	}
	return nil
}

// fail переводит текущее поколение в FAILED без запуска восстановления
func (m *SessionManager) fail(gen uint64, reason string) {
	m.mu.Lock()
	if gen != m.generation || m.state == domain.StateFailed {
		m.mu.Unlock()
		return
	}
	m.identity = domain.Identity{}
	changes := []domain.StateChange{m.setStateLocked(domain.StateFailed, reason)}
	m.mu.Unlock()
	m.notify(changes)
}

func (m *SessionManager) handleEvent(gen uint64, ev ports.Event) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.log.Debug("ignoring event from stale transport", "event", ev.Kind.String(), "generation", gen)
		return
	}

	var (
		changes    []domain.StateChange
		failReason string
	)

	switch ev.Kind {
	case ports.EventQR:
		if m.state != domain.StateConnecting {
			break
		}
		m.lastQR = ev.QR
		m.lastProgress = m.opts.Now()
		changes = append(changes, m.setStateLocked(domain.StateConnecting, "qr"))
		m.log.Info("QR code received, scan it with your phone")

	case ports.EventReady:
		if m.state != domain.StateConnecting {
			break
		}
		id := ev.Identity
		if id.IsZero() && m.transport != nil {
			id = m.transport.Identity()
		}
		if id.IsZero() {
			m.log.Error("transport reported ready without identity")
			break
		}
		m.identity = id
		m.lastQR = ""
		changes = append(changes, m.setStateLocked(domain.StateReady, ""))
		m.log.Info("client is ready", "wid", id.ID)

	case ports.EventDisconnected:
		m.log.Error("client disconnected", "reason", ev.Reason)
		failReason = "disconnected: " + ev.Reason

	case ports.EventAuthFailure:
		m.log.Error("authentication failure", "reason", ev.Reason)
		failReason = "auth failure: " + ev.Reason

	case ports.EventError:
		if !domain.IsSessionClosed(ev.Err) {
			m.log.Warn("client error", "error", ev.Err)
			break
		}
		m.log.Error("client session closed", "error", ev.Err)
		failReason = "session closed"
	}

	if failReason != "" && m.state != domain.StateFailed {
		m.identity = domain.Identity{}
		changes = append(changes, m.setStateLocked(domain.StateFailed, failReason))
	}
	m.mu.Unlock()

	m.notify(changes)
	if failReason != "" {
		m.ForceReconnect(failReason)
	}
}

func (m *SessionManager) scheduleRetry() {
	if m.opts.RetryDelay <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.log.Info("scheduling reconnect", "delay", m.opts.RetryDelay)
	m.retryTimer = time.AfterFunc(m.opts.RetryDelay, func() {
		m.mu.Lock()
		failed := m.state == domain.StateFailed
		m.mu.Unlock()
		if failed {
			m.ForceReconnect("retry after failed start")
		}
	})
}

func (m *SessionManager) setStateLocked(s domain.State, reason string) domain.StateChange {
	if s != m.state {
		m.log.Info("session state changed", "from", m.state.String(), "to", s.String(), "reason", reason)
	}
	m.state = s
	if s == domain.StateConnecting {
		m.lastProgress = m.opts.Now()
	}
	return domain.StateChange{
		State:      s,
		Generation: m.generation,
		Identity:   m.identity,
		QR:         m.lastQR,
		Reason:     reason,
		At:         m.opts.Now(),
	}
}

func (m *SessionManager) notify(changes []domain.StateChange) {
	for _, ch := range changes {
		for _, o := range m.observers {
			o.OnStateChange(context.WithoutCancel(m.baseCtx), ch)
		}
	}
}
