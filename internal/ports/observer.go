package ports

import (
	"context"

	"github.com/larriantoniy/wa_gateway/internal/domain"
)

// StateObserver получает каждый переход состояния сессии.
// Вызывается вне блокировок менеджера, блокировать нельзя.
type StateObserver interface {
	OnStateChange(ctx context.Context, ch domain.StateChange)
}

type StateObserverFunc func(ctx context.Context, ch domain.StateChange)

func (f StateObserverFunc) OnStateChange(ctx context.Context, ch domain.StateChange) {
	f(ctx, ch)
}
