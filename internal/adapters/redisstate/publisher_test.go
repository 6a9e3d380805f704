package redisstate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/larriantoniy/wa_gateway/internal/domain"
)

func TestSnapshotFields(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	f := snapshotFields(domain.StateChange{
		State:      domain.StateReady,
		Generation: 7,
		Identity:   domain.Identity{ID: "1555@c.us", PushName: "bot"},
		Reason:     "",
		At:         at,
	})

	want := map[string]any{
		"state":      "READY",
		"generation": "7",
		"wid":        "1555@c.us",
		"pushname":   "bot",
		"qr":         "",
		"reason":     "",
		"at":         "2024-05-01T11:00:00Z",
	}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("%s = %v, want %v", k, f[k], v)
		}
	}
}

func TestKeys(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPublisher(NewClient(Options{Addr: "127.0.0.1:0"}), "", log)
	if p.StateKey() != "wa_gateway:state" || p.Channel() != "wa_gateway:events" {
		t.Fatalf("keys = %s %s", p.StateKey(), p.Channel())
	}
	p = NewPublisher(NewClient(Options{Addr: "127.0.0.1:0"}), "gw1", log)
	if p.StateKey() != "gw1:state" {
		t.Fatalf("state key = %s", p.StateKey())
	}
}

func TestOnStateChangeNeverBlocks(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPublisher(NewClient(Options{Addr: "127.0.0.1:0"}), "t", log)

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize*3; i++ {
			p.OnStateChange(context.Background(), domain.StateChange{Generation: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnStateChange blocked without a running publisher")
	}
	if len(p.queue) != queueSize {
		t.Fatalf("queue len = %d", len(p.queue))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPublisher(NewClient(Options{Addr: "127.0.0.1:0"}), "t", log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
