package qr

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/larriantoniy/wa_gateway/internal/domain"
	"github.com/mdp/qrterminal/v3"
)

// TerminalRenderer печатает QR-вызов в терминал, как только он сменился
type TerminalRenderer struct {
	w   io.Writer
	log *slog.Logger

	mu   sync.Mutex
	last string
}

func NewTerminalRenderer(w io.Writer, log *slog.Logger) *TerminalRenderer {
	return &TerminalRenderer{w: w, log: log.With("component", "qr")}
}

func (r *TerminalRenderer) OnStateChange(_ context.Context, ch domain.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch.State != domain.StateConnecting || ch.QR == "" {
		if ch.State == domain.StateReady {
			r.last = ""
		}
		return
	}
	if ch.QR == r.last {
		return
	}
	r.last = ch.QR

	r.log.Info("scan the QR code below", "generation", ch.Generation)
	qrterminal.GenerateHalfBlock(ch.QR, qrterminal.L, r.w)
}
