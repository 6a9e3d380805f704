package ports

import (
	"context"
	"log/slog"

	"github.com/larriantoniy/wa_gateway/internal/domain"
)

type EventKind int

const (
	EventQR EventKind = iota
	EventReady
	EventDisconnected
	EventAuthFailure
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventReady:
		return "ready"
	case EventDisconnected:
		return "disconnected"
	case EventAuthFailure:
		return "auth_failure"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event то, что транспорт сообщает о себе асинхронно
type Event struct {
	Kind     EventKind
	QR       string          // EventQR
	Identity domain.Identity // EventReady
	Reason   string          // EventDisconnected, EventAuthFailure
	Err      error           // EventError
}

// Transport один экземпляр подключения к мессенджеру.
// Реализуется адаптерами (браузер через rod, TDLib).
type Transport interface {
	// ID уникален для каждого созданного экземпляра
	ID() string
	// Connect запускает авторизацию и возвращается, не дожидаясь ready
	Connect(ctx context.Context) error
	// Lookup ищет получателя по номеру без "+"
	Lookup(ctx context.Context, number string) (recipientID string, found bool, err error)
	Send(ctx context.Context, recipientID, text string) error
	// Identity пустая, пока транспорт не сообщил ready
	Identity() domain.Identity
	Disconnect(ctx context.Context) error
	Logout(ctx context.Context) error
}

// TransportFactory создаёт новый экземпляр. emit привязан к поколению,
// для которого экземпляр создаётся.
type TransportFactory func(emit func(Event), log *slog.Logger) (Transport, error)
