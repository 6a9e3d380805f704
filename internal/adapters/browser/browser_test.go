package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/larriantoniy/wa_gateway/internal/domain"
	"github.com/larriantoniy/wa_gateway/internal/ports"
)

func TestIdentityFromWid(t *testing.T) {
	cases := []struct {
		wid, id, phone string
	}{
		{"15551234567:12@c.us", "15551234567@c.us", "15551234567"},
		{"15551234567@c.us", "15551234567@c.us", "15551234567"},
		{"15551234567", "15551234567@c.us", "15551234567"},
		{"  34600111222:3@s.whatsapp.net ", "34600111222@s.whatsapp.net", "34600111222"},
	}
	for _, tc := range cases {
		got := identityFromWid(tc.wid)
		if got.ID != tc.id || got.Phone != tc.phone || got.Platform != "web" {
			t.Errorf("identityFromWid(%q) = %+v", tc.wid, got)
		}
	}
	if !identityFromWid("").IsZero() || !identityFromWid(":1@c.us").IsZero() {
		t.Error("empty wid must give zero identity")
	}
}

func TestParseStatus(t *testing.T) {
	st, err := parseStatus(`{"qr":"2@abc","ready":false,"wid":""}`)
	if err != nil || st.QR != "2@abc" || st.Ready {
		t.Fatalf("status = %+v, %v", st, err)
	}
	if _, err := parseStatus("not json"); err == nil {
		t.Fatal("garbage must fail")
	}
}

func TestPageWatcherQRThenReady(t *testing.T) {
	var w pageWatcher

	evs, done := w.observe(pageStatus{})
	if len(evs) != 0 || done {
		t.Fatalf("blank page: %+v %v", evs, done)
	}

	evs, _ = w.observe(pageStatus{QR: "ref-1"})
	if len(evs) != 1 || evs[0].Kind != ports.EventQR || evs[0].QR != "ref-1" {
		t.Fatalf("first qr: %+v", evs)
	}
	if evs, _ = w.observe(pageStatus{QR: "ref-1"}); len(evs) != 0 {
		t.Fatalf("same qr repeated: %+v", evs)
	}
	if evs, _ = w.observe(pageStatus{QR: "ref-2"}); len(evs) != 1 || evs[0].QR != "ref-2" {
		t.Fatalf("rotated qr: %+v", evs)
	}

	// чат-лист без wid ещё не ready
	if evs, _ = w.observe(pageStatus{Ready: true}); len(evs) != 0 {
		t.Fatalf("ready without wid: %+v", evs)
	}

	evs, done = w.observe(pageStatus{Ready: true, Wid: "15550001111:7@c.us"})
	if len(evs) != 1 || evs[0].Kind != ports.EventReady || evs[0].Identity.ID != "15550001111@c.us" || done {
		t.Fatalf("ready: %+v %v", evs, done)
	}
	if evs, _ = w.observe(pageStatus{Ready: true, Wid: "15550001111:7@c.us"}); len(evs) != 0 {
		t.Fatalf("ready twice: %+v", evs)
	}
}

func TestPageWatcherLogoutAfterReady(t *testing.T) {
	w := pageWatcher{ready: true}
	evs, done := w.observe(pageStatus{QR: "ref-9"})
	if len(evs) != 1 || evs[0].Kind != ports.EventDisconnected || evs[0].Reason != "LOGOUT" || !done {
		t.Fatalf("logout: %+v %v", evs, done)
	}
}

func TestSendURL(t *testing.T) {
	got := sendURL("https://web.whatsapp.com/", "15551234567")
	if got != "https://web.whatsapp.com/send?phone=15551234567" {
		t.Fatalf("sendURL = %q", got)
	}
	if recipientNumber(recipientID("123")) != "123" {
		t.Fatal("recipient id round trip")
	}
}

func TestClassify(t *testing.T) {
	err := classify(errors.New("write tcp 127.0.0.1:1->127.0.0.1:2: use of closed network connection"))
	if !errors.Is(err, domain.ErrSessionClosed) || !domain.IsSessionClosed(err) {
		t.Fatalf("closed conn not classified: %v", err)
	}
	plain := errors.New("element not found")
	if got := classify(plain); got != plain {
		t.Fatalf("plain error rewrapped: %v", got)
	}
	already := classify(domain.ErrSessionClosed)
	if strings.Count(already.Error(), domain.ErrSessionClosed.Error()) != 1 {
		t.Fatalf("double wrap: %v", already)
	}
}

func TestClosedTransport(t *testing.T) {
	tr := NewTransport(Options{UserDataDir: t.TempDir()}, func(ports.Event) {}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	if tr.ID() == "" {
		t.Fatal("empty id")
	}
	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect before Connect: %v", err)
	}
	if _, _, err := tr.Lookup(ctx, "1"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("Lookup err = %v", err)
	}
	if err := tr.Send(ctx, "1@c.us", "hi"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("Send err = %v", err)
	}
	if err := tr.Logout(ctx); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("Logout err = %v", err)
	}
	if err := tr.Connect(ctx); err == nil {
		t.Fatal("Connect after Disconnect must fail")
	}
}
