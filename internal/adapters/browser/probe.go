package browser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/larriantoniy/wa_gateway/internal/domain"
	"github.com/larriantoniy/wa_gateway/internal/ports"
)

const (
	qrSelector      = `div[data-ref]`
	chatListSel     = `#pane-side`
	composeSelector = `footer div[contenteditable="true"]`
	invalidNumSel   = `div[data-animate-modal-popup="true"]`
)

// probeJS одним вызовом снимает всё, что нужно монитору
var probeJS = fmt.Sprintf(`() => {
	const qr = document.querySelector(%q);
	const ready = !!document.querySelector(%q);
	let wid = "";
	try {
		const raw = localStorage.getItem("last-wid-md") || localStorage.getItem("last-wid") || "";
		wid = raw ? JSON.parse(raw) : "";
	} catch (e) {}
	return JSON.stringify({qr: qr ? (qr.getAttribute("data-ref") || "") : "", ready: ready, wid: String(wid || "")});
}`, qrSelector, chatListSel)

// chatProbeJS возвращает "chat", если чат открыт, и "invalid", если номера нет в WhatsApp
var chatProbeJS = fmt.Sprintf(`() => {
	if (document.querySelector(%q)) return "chat";
	if (document.querySelector(%q)) return "invalid";
	return "";
}`, composeSelector, invalidNumSel)

type pageStatus struct {
	QR    string `json:"qr"`
	Ready bool   `json:"ready"`
	Wid   string `json:"wid"`
}

func parseStatus(raw string) (pageStatus, error) {
	var st pageStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return st, fmt.Errorf("parse page status: %w", err)
	}
	return st, nil
}

// identityFromWid: "15551234567:12@c.us" -> 15551234567@c.us
func identityFromWid(wid string) domain.Identity {
	wid = strings.TrimSpace(wid)
	if wid == "" {
		return domain.Identity{}
	}
	user, server, ok := strings.Cut(wid, "@")
	if !ok {
		server = "c.us"
	}
	user, _, _ = strings.Cut(user, ":")
	if user == "" {
		return domain.Identity{}
	}
	return domain.Identity{
		ID:       user + "@" + server,
		Phone:    user,
		Platform: "web",
	}
}

func recipientID(number string) string {
	return number + "@c.us"
}

func recipientNumber(id string) string {
	number, _, _ := strings.Cut(id, "@")
	return number
}

// pageWatcher превращает последовательные снимки страницы в события транспорта
type pageWatcher struct {
	lastQR string
	ready  bool
}

// observe возвращает события и признак, что мониторинг надо остановить
func (w *pageWatcher) observe(st pageStatus) ([]ports.Event, bool) {
	if st.Ready {
		if w.ready {
			return nil, false
		}
		id := identityFromWid(st.Wid)
		if id.IsZero() {
			// чат-лист уже есть, localStorage ещё не записан
			return nil, false
		}
		w.ready = true
		w.lastQR = ""
		return []ports.Event{{Kind: ports.EventReady, Identity: id}}, false
	}

	if st.QR == "" {
		return nil, false
	}
	if w.ready {
		// снова QR после ready: телефон разлогинил веб-сессию
		return []ports.Event{{Kind: ports.EventDisconnected, Reason: "LOGOUT"}}, true
	}
	if st.QR == w.lastQR {
		return nil, false
	}
	w.lastQR = st.QR
	return []ports.Event{{Kind: ports.EventQR, QR: st.QR}}, false
}
