package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/larriantoniy/wa_gateway/internal/domain"
	"github.com/larriantoniy/wa_gateway/internal/ports"
)

const maxProbeFailures = 3

type Options struct {
	URL           string        // "https://web.whatsapp.com"
	UserDataDir   string        // профиль Chrome, в нём живёт авторизация
	Bin           string        // если пусто, rod ищет или скачивает Chromium сам
	Headless      bool
	PollInterval  time.Duration
	LookupTimeout time.Duration
}

// Transport реализует ports.Transport поверх WhatsApp Web в Chromium через CDP.
// Одна вкладка: Lookup и Send сериализованы pageMu.
type Transport struct {
	id     string
	opts   Options
	emit   func(ports.Event)
	logger *slog.Logger

	pageMu sync.Mutex

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	stop     context.CancelFunc
	identity domain.Identity
	openChat string
	closed   bool
}

func NewTransport(opts Options, emit func(ports.Event), log *slog.Logger) *Transport {
	if opts.URL == "" {
		opts.URL = "https://web.whatsapp.com"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 20 * time.Second
	}
	id := uuid.NewString()
	return &Transport{
		id:     id,
		opts:   opts,
		emit:   emit,
		logger: log.With("transport_id", id, "driver", "browser"),
	}
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Connect(ctx context.Context) error {
	if t.isClosed() {
		return fmt.Errorf("browser transport: %w", domain.ErrSessionClosed)
	}
	dataDir, err := filepath.Abs(t.opts.UserDataDir)
	if err != nil {
		return fmt.Errorf("user data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("mkdir user data dir: %w", err)
	}

	l := launcher.New().
		Headless(t.opts.Headless).
		UserDataDir(dataDir).
		Leakless(true).
		Set(flags.NoSandbox).
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu")
	if t.opts.Bin != "" {
		l = l.Bin(t.opts.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("connect browser: %w", err)
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: t.opts.URL})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return fmt.Errorf("open %s: %w", t.opts.URL, err)
	}
	// ctx запроса на Connect не должен жить в странице
	page = page.Context(context.Background())

	monCtx, stop := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		stop()
		_ = b.Close()
		l.Kill()
		return fmt.Errorf("browser transport: %w", domain.ErrSessionClosed)
	}
	t.launcher = l
	t.browser = b
	t.page = page
	t.stop = stop
	t.mu.Unlock()

	t.logger.Info("browser started", "url", t.opts.URL, "user_data_dir", dataDir, "headless", t.opts.Headless)

	go t.watchTarget(monCtx, page)
	go t.monitor(monCtx, page)
	return nil
}

// watchTarget ловит падение вкладки и отключение отладчика
func (t *Transport) watchTarget(ctx context.Context, page *rod.Page) {
	page.Context(ctx).EachEvent(
		func(e *proto.InspectorTargetCrashed) bool {
			t.lost("target crashed")
			return true
		},
		func(e *proto.InspectorDetached) bool {
			t.lost("inspector detached: " + e.Reason)
			return true
		},
	)()
}

func (t *Transport) monitor(ctx context.Context, page *rod.Page) {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	var (
		w        pageWatcher
		failures int
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := t.probe(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			t.logger.Debug("page probe failed", "error", err, "failures", failures)
			if isConnClosed(err) || failures >= maxProbeFailures {
				t.lost(err.Error())
				return
			}
			continue
		}
		failures = 0

		events, done := w.observe(st)
		for _, ev := range events {
			if ev.Kind == ports.EventReady {
				t.mu.Lock()
				t.identity = ev.Identity
				t.mu.Unlock()
			}
			if ev.Kind == ports.EventDisconnected && t.isClosed() {
				return
			}
			t.emit(ev)
		}
		if done {
			return
		}
	}
}

func (t *Transport) probe(ctx context.Context, page *rod.Page) (pageStatus, error) {
	res, err := page.Context(ctx).Eval(probeJS)
	if err != nil {
		return pageStatus{}, err
	}
	return parseStatus(res.Value.Str())
}

// lost сообщает менеджеру о потере сессии, если мы сами её не закрывали
func (t *Transport) lost(reason string) {
	if t.isClosed() {
		return
	}
	t.logger.Warn("browser session lost", "reason", reason)
	t.emit(ports.Event{Kind: ports.EventDisconnected, Reason: reason})
}

func (t *Transport) Lookup(ctx context.Context, number string) (string, bool, error) {
	page, err := t.live()
	if err != nil {
		return "", false, err
	}

	t.pageMu.Lock()
	defer t.pageMu.Unlock()

	found, err := t.openChatWith(ctx, page, number)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	return recipientID(number), true, nil
}

// openChatWith открывает /send?phone= и ждёт либо поле ввода, либо модалку
// "номер не в WhatsApp"
func (t *Transport) openChatWith(ctx context.Context, page *rod.Page, number string) (bool, error) {
	target := sendURL(t.opts.URL, number)
	p := page.Context(ctx)
	if err := p.Navigate(target); err != nil {
		return false, classify(err)
	}

	deadline := time.NewTimer(t.opts.LookupTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(max(t.opts.PollInterval/2, 50*time.Millisecond))
	defer tick.Stop()

	for {
		res, err := p.Eval(chatProbeJS)
		if err != nil {
			return false, classify(err)
		}
		switch res.Value.Str() {
		case "chat":
			t.mu.Lock()
			t.openChat = recipientID(number)
			t.mu.Unlock()
			return true, nil
		case "invalid":
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, fmt.Errorf("lookup %s: timed out after %s", number, t.opts.LookupTimeout)
		case <-tick.C:
		}
	}
}

func (t *Transport) Send(ctx context.Context, recipient, text string) error {
	page, err := t.live()
	if err != nil {
		return err
	}

	t.pageMu.Lock()
	defer t.pageMu.Unlock()

	t.mu.Lock()
	open := t.openChat
	t.mu.Unlock()

	if open != recipient {
		found, err := t.openChatWith(ctx, page, recipientNumber(recipient))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("chat %s: %w", recipient, domain.ErrRecipientNotFound)
		}
	}

	box, err := page.Context(ctx).Timeout(t.opts.LookupTimeout).Element(composeSelector)
	if err != nil {
		return classify(err)
	}
	if err := box.Input(text); err != nil {
		return classify(err)
	}
	if err := box.Type(input.Enter); err != nil {
		return classify(err)
	}
	return nil
}

func (t *Transport) Identity() domain.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed && t.browser == nil {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	b, l, stop := t.browser, t.launcher, t.stop
	t.browser, t.page, t.launcher, t.stop = nil, nil, nil, nil
	t.identity = domain.Identity{}
	t.openChat = ""
	t.mu.Unlock()

	if stop != nil {
		stop()
	}

	var err error
	if b != nil {
		if cerr := b.Close(); cerr != nil && !isConnClosed(cerr) {
			err = fmt.Errorf("close browser: %w", cerr)
		}
	}
	if l != nil {
		l.Kill()
	}
	t.logger.Info("browser closed")
	return err
}

// Logout: закрываем браузер и удаляем профиль, следующий Connect начнёт с QR
func (t *Transport) Logout(ctx context.Context) error {
	if _, err := t.live(); err != nil {
		return err
	}
	if err := t.Disconnect(ctx); err != nil {
		t.logger.Warn("disconnect before logout", "error", err)
	}
	dataDir, err := filepath.Abs(t.opts.UserDataDir)
	if err != nil {
		return fmt.Errorf("user data dir: %w", err)
	}
	if err := os.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("remove auth data: %w", err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) live() (*rod.Page, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.page == nil {
		return nil, fmt.Errorf("browser page: %w", domain.ErrSessionClosed)
	}
	return t.page, nil
}

func sendURL(base, number string) string {
	q := url.Values{}
	q.Set("phone", number)
	return strings.TrimRight(base, "/") + "/send?" + q.Encode()
}

var closedMarkers = []string{
	"use of closed network connection",
	"websocket: close",
	"target closed",
	"session closed",
	"no target with given id",
	"cdp connection closed",
	"broken pipe",
	"eof",
}

func isConnClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrSessionClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range closedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// classify помечает ошибки мёртвого CDP-соединения как ErrSessionClosed
func classify(err error) error {
	if isConnClosed(err) && !errors.Is(err, domain.ErrSessionClosed) {
		return fmt.Errorf("%w: %w", domain.ErrSessionClosed, err)
	}
	return err
}
