package useCases

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Runner держит время жизни процесса: сессия, watchdog и HTTP-сервер
type Runner struct {
	log      *slog.Logger
	session  *SessionManager
	watchdog *SuspensionWatchdog
	server   *http.Server
}

func NewRunner(
	log *slog.Logger,
	session *SessionManager,
	watchdog *SuspensionWatchdog,
	server *http.Server,
) *Runner {
	return &Runner{log: log, session: session, watchdog: watchdog, server: server}
}

// Run блокируется до отмены ctx или падения HTTP-сервера
func (r *Runner) Run(ctx context.Context) error {
	// неудачный первый старт не фатален: сессия восстановится по ретраю,
	// запросу или тику watchdog'а
	if err := r.session.Start(ctx); err != nil {
		r.log.Error("initial session start failed", "error", err)
	}

	var wg sync.WaitGroup
	wdCtx, stopWatchdog := context.WithCancel(ctx)
	defer stopWatchdog()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.watchdog.Run(wdCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		r.log.Info("http server listening", "addr", r.server.Addr)
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			r.log.Error("http server failed", "error", err)
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := r.server.Shutdown(shutdownCtx); err != nil {
		r.log.Warn("http server shutdown", "error", err)
	}
	stopWatchdog()
	wg.Wait()
	r.session.Close(shutdownCtx)

	r.log.Info("client stopped")
	return runErr
}
