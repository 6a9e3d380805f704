package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/larriantoniy/wa_gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	queueSize      = 32
	publishTimeout = 3 * time.Second
)

type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // "wa_gateway"
}

func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// Publisher зеркалит состояние сессии в Redis: снимок в hash <prefix>:state
// и каждый переход в канал <prefix>:events.
// OnStateChange только ставит в очередь, в Redis пишет Run.
type Publisher struct {
	rdb    *redis.Client
	prefix string
	log    *slog.Logger
	queue  chan domain.StateChange
}

func NewPublisher(rdb *redis.Client, prefix string, log *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "wa_gateway"
	}
	return &Publisher{
		rdb:    rdb,
		prefix: prefix,
		log:    log.With("component", "redis_state"),
		queue:  make(chan domain.StateChange, queueSize),
	}
}

func (p *Publisher) StateKey() string { return p.prefix + ":state" }

func (p *Publisher) Channel() string { return p.prefix + ":events" }

func (p *Publisher) OnStateChange(_ context.Context, ch domain.StateChange) {
	select {
	case p.queue <- ch:
	default:
		p.log.Warn("state queue full, dropping change", "state", ch.State.String(), "generation", ch.Generation)
	}
}

// Run пишет переходы до отмены ctx
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-p.queue:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := p.publish(pctx, ch); err != nil {
				p.log.Error("publish state change", "state", ch.State.String(), "error", err)
			}
			cancel()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ch domain.StateChange) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal state change: %w", err)
	}

	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.StateKey(), snapshotFields(ch))
		pipe.Publish(ctx, p.Channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis tx: %w", err)
	}
	return nil
}

func snapshotFields(ch domain.StateChange) map[string]any {
	return map[string]any{
		"state":      ch.State.String(),
		"generation": strconv.FormatUint(ch.Generation, 10),
		"wid":        ch.Identity.ID,
		"pushname":   ch.Identity.PushName,
		"qr":         ch.QR,
		"reason":     ch.Reason,
		"at":         ch.At.UTC().Format(time.RFC3339Nano),
	}
}
