package useCases

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Reconnector то, что нужно watchdog'у от менеджера сессии
type Reconnector interface {
	IsReady() bool
	ForceReconnect(reason string) bool
}

// SuspensionWatchdog ловит сон/пробуждение хоста: если между тиками
// прошло больше threshold, процесс не планировался и сокет транспорта
// мог умереть молча, без события disconnected.
type SuspensionWatchdog struct {
	session   Reconnector
	log       *slog.Logger
	period    time.Duration
	threshold time.Duration
	now       func() time.Time

	mu        sync.Mutex
	lastCheck time.Time
}

func NewSuspensionWatchdog(
	session Reconnector,
	log *slog.Logger,
	period, threshold time.Duration,
	now func() time.Time,
) *SuspensionWatchdog {
	if now == nil {
		now = time.Now
	}
	return &SuspensionWatchdog{
		session:   session,
		log:       log.With("component", "watchdog"),
		period:    period,
		threshold: threshold,
		now:       now,
		// Round(0) убирает монотонные часы: они не идут во время сна хоста
		lastCheck: now().Round(0),
	}
}

// Tick одна проверка. Возвращает true, если было запрошено переподключение.
func (w *SuspensionWatchdog) Tick(now time.Time) bool {
	now = now.Round(0)

	w.mu.Lock()
	delta := now.Sub(w.lastCheck)
	w.lastCheck = now
	w.mu.Unlock()

	if delta <= w.threshold {
		return false
	}

	w.log.Info("system resumed after suspension, checking client", "gap", delta)
	if w.session.IsReady() {
		w.log.Info("client is still active")
		return false
	}

	w.session.ForceReconnect("host resumed after suspension")
	return true
}

func (w *SuspensionWatchdog) LastCheck() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCheck
}

// Run тикает каждые period до отмены ctx
func (w *SuspensionWatchdog) Run(ctx context.Context) {
	logger := cronLogger{log: w.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(w.period), cron.FuncJob(func() {
		w.Tick(w.now())
	}))

	w.log.Info("suspension watchdog started", "period", w.period, "threshold", w.threshold)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	w.log.Info("suspension watchdog stopped")
}

// cronLogger пробрасывает логи cron в slog
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
