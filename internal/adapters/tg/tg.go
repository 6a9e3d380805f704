package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/larriantoniy/wa_gateway/internal/domain"
	"github.com/larriantoniy/wa_gateway/internal/ports"
	"github.com/zelenin/go-tdlib/client"
)

var ErrRateLimited = errors.New("tdlib: too many requests")

type Options struct {
	ApiID   int32
	ApiHash string
	BaseDir string // "./tdlib-sessions"
	Session string
}

// Transport реализует ports.Transport через TDLib: поиск по номеру
// телефона и отправка в приватный чат. Авторизация только по QR-ссылке.
type Transport struct {
	id     string
	opts   Options
	repo   ports.SessionConfigRepo
	emit   func(ports.Event)
	logger *slog.Logger

	mu       sync.Mutex
	client   *client.Client
	identity domain.Identity
	closed   bool
	done     chan struct{}
}

func NewTransport(opts Options, repo ports.SessionConfigRepo, emit func(ports.Event), log *slog.Logger) *Transport {
	id := uuid.NewString()
	return &Transport{
		id:     id,
		opts:   opts,
		repo:   repo,
		emit:   emit,
		logger: log.With("transport_id", id, "driver", "telegram"),
		done:   make(chan struct{}),
	}
}

func (t *Transport) ID() string { return t.id }

// Connect готовит каталоги и параметры, а авторизацию TDLib запускает в фоне:
// client.NewClient блокируется до AuthorizationStateReady.
func (t *Transport) Connect(ctx context.Context) error {
	sc, err := t.repo.GetSessionConfig(ctx, t.opts.Session)
	if err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	sessionDir := filepath.Join(t.opts.BaseDir, sc.SessionName)
	dbDir := filepath.Join(sessionDir, "database")
	filesDir := filepath.Join(sessionDir, "files")

	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return fmt.Errorf("mkdir files dir: %w", err)
	}

	if _, err := client.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{
		NewVerbosityLevel: 1,
	}); err != nil {
		t.logger.Error("TDLib SetLogVerbosityLevel", "error", err)
	}

	preflight(t.logger, net.DialTimeout, sc.Proxy)

	var opts []client.Option
	if sc.Proxy != nil && sc.Proxy.Enabled {
		opts = append(opts, client.WithProxy(&client.AddProxyRequest{
			Server: sc.Proxy.Server,
			Port:   sc.Proxy.Port,
			Enable: true,
			Type: &client.ProxyTypeSocks5{
				Username: sc.Proxy.Username,
				Password: sc.Proxy.Password,
			},
		}))
	}

	auth := &qrAuthorizer{
		params: ToTdParams(sc, t.opts.ApiID, t.opts.ApiHash, dbDir, filesDir),
		emit:   t.emit,
		done:   t.done,
		logger: t.logger,
	}

	go t.authorize(auth, sc, opts)
	return nil
}

func (t *Transport) authorize(auth *qrAuthorizer, sc *ports.SessionConfig, opts []client.Option) {
	tdCli, err := client.NewClient(auth, opts...)
	if err != nil {
		if t.isClosed() {
			return
		}
		t.logger.Error("TDLib NewClient error", "session", sc.SessionName, "error", err)
		t.emit(ports.Event{Kind: ports.EventAuthFailure, Reason: err.Error()})
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		tdCli.Close()
		return
	}
	t.client = tdCli
	t.mu.Unlock()

	me, err := tdCli.GetMe()
	if err != nil {
		t.logger.Error("GetMe failed", "session", sc.SessionName, "error", err)
		t.emit(ports.Event{Kind: ports.EventAuthFailure, Reason: "GetMe: " + err.Error()})
		return
	}

	identity := domain.Identity{
		ID:       strconv.FormatInt(me.Id, 10),
		PushName: strings.TrimSpace(me.FirstName + " " + me.LastName),
		Phone:    me.PhoneNumber,
		Platform: "telegram",
	}

	t.mu.Lock()
	t.identity = identity
	t.mu.Unlock()

	t.logger.Info("TDLib client initialized and authorized",
		"self_id", me.Id,
		"session", sc.SessionName,
	)
	t.emit(ports.Event{Kind: ports.EventReady, Identity: identity})

	go t.watch(tdCli)
}

// watch следит за состоянием авторизации: закрытие клиента со стороны
// TDLib считаем disconnected
func (t *Transport) watch(tdCli *client.Client) {
	listener := tdCli.GetListener()
	defer listener.Close()

	for update := range listener.Updates {
		switch upd := update.(type) {
		case *client.UpdateAuthorizationState:
			switch upd.AuthorizationState.(type) {
			case *client.AuthorizationStateLoggingOut, *client.AuthorizationStateClosing, *client.AuthorizationStateClosed:
				if t.isClosed() {
					return
				}
				reason := upd.AuthorizationState.AuthorizationStateType()
				t.logger.Warn("TDLib authorization closed", "state", reason)
				t.emit(ports.Event{Kind: ports.EventDisconnected, Reason: reason})
				return
			}
		case *client.UpdateConnectionState:
			t.logger.Debug("TDLib connection state", "state", upd.State.ConnectionStateType())
		}
	}
}

func (t *Transport) Lookup(ctx context.Context, number string) (string, bool, error) {
	tdCli, err := t.live()
	if err != nil {
		return "", false, err
	}

	user, err := tdCli.SearchUserByPhoneNumber(&client.SearchUserByPhoneNumberRequest{
		PhoneNumber: "+" + number,
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, t.classify(err)
	}
	return strconv.FormatInt(user.Id, 10), true, nil
}

func (t *Transport) Send(ctx context.Context, recipientID, text string) error {
	tdCli, err := t.live()
	if err != nil {
		return err
	}

	userID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid recipient id %q: %w", recipientID, err)
	}

	chat, err := tdCli.CreatePrivateChat(&client.CreatePrivateChatRequest{
		UserId: userID,
		Force:  false,
	})
	if err != nil {
		return t.classify(err)
	}

	_, err = tdCli.SendMessage(&client.SendMessageRequest{
		ChatId: chat.Id,
		InputMessageContent: &client.InputMessageText{
			Text: &client.FormattedText{
				Text: text,
			},
			ClearDraft: true,
		},
	})
	if err != nil {
		if isTooManyRequests(err) {
			t.logger.Error("SendMessage rate-limited: too many requests", "chat_id", chat.Id, "error", err)
			return ErrRateLimited
		}
		t.logger.Error("SendMessage failed", "chat_id", chat.Id, "error", err)
		return t.classify(err)
	}
	return nil
}

func (t *Transport) Identity() domain.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

func (t *Transport) Disconnect(ctx context.Context) error {
	tdCli := t.markClosed()
	if tdCli != nil {
		tdCli.Close()
	}
	return nil
}

func (t *Transport) Logout(ctx context.Context) error {
	tdCli, err := t.live()
	if err != nil {
		return err
	}
	if _, err := tdCli.LogOut(); err != nil {
		return fmt.Errorf("LogOut: %w", err)
	}
	// после LogOut TDLib сам закрывает инстанс
	t.markClosed()
	return nil
}

func (t *Transport) markClosed() *client.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	tdCli := t.client
	t.client = nil
	t.identity = domain.Identity{}
	return tdCli
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) live() (*client.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.client == nil {
		return nil, fmt.Errorf("tdlib client: %w", domain.ErrSessionClosed)
	}
	return t.client, nil
}

// classify помечает ошибки закрытого инстанса как ErrSessionClosed
func (t *Transport) classify(err error) error {
	if isClientClosed(err) {
		return fmt.Errorf("%w: %w", domain.ErrSessionClosed, err)
	}
	return err
}

// tdError разбирает ошибку TDLib вида "<code> <message>"
func tdError(err error) (int, string) {
	msg := err.Error()
	code, rest, ok := strings.Cut(msg, " ")
	if !ok {
		return 0, msg
	}
	n, convErr := strconv.Atoi(code)
	if convErr != nil {
		return 0, msg
	}
	return n, rest
}

func isTooManyRequests(err error) bool {
	code, msg := tdError(err)
	// обычно Code == 429, но подстрахуемся по тексту
	return code == 429 || strings.Contains(strings.ToLower(msg), "too many requests")
}

func isNotFound(err error) bool {
	code, msg := tdError(err)
	if code == 404 || (code == 400 && strings.Contains(msg, "PHONE_NOT_OCCUPIED")) {
		return true
	}
	return strings.Contains(strings.ToLower(msg), "not found")
}

func isClientClosed(err error) bool {
	_, msg := tdError(err)
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "request aborted") || strings.Contains(msg, "closing")
}
