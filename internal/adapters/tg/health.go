package tg

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/larriantoniy/wa_gateway/internal/ports"
)

type dialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

type dialTarget struct {
	network string
	addr    string
}

var egressTargets = []dialTarget{
	{"tcp4", "8.8.8.8:53"},
	{"tcp6", "[2606:4700:4700::1111]:53"},
}

// proxyTargets: IP-литерал проверяем в его семействе, hostname сначала по IPv6
func proxyTargets(p *ports.ProxyConfig) []dialTarget {
	if p == nil || !p.Enabled || p.Server == "" {
		return nil
	}
	port := strconv.Itoa(int(p.Port))
	addr := net.JoinHostPort(p.Server, port)

	if ip := net.ParseIP(p.Server); ip != nil {
		if ip.To4() != nil {
			return []dialTarget{{"tcp4", addr}}
		}
		return []dialTarget{{"tcp6", addr}}
	}
	return []dialTarget{{"tcp6", addr}, {"tcp4", addr}}
}

// preflight проверяет исходящую сеть и прокси перед стартом TDLib.
// Результат только логируется: TDLib сам ретраит соединение.
func preflight(logger *slog.Logger, dial dialFunc, proxy *ports.ProxyConfig) (proxyOK bool) {
	for _, tgt := range egressTargets {
		if err := tryDial(dial, tgt, 3*time.Second); err != nil {
			logger.Warn("egress check failed", "network", tgt.network, "error", err)
			continue
		}
		logger.Debug("egress OK", "network", tgt.network)
	}

	targets := proxyTargets(proxy)
	if len(targets) == 0 {
		logger.Info("proxy disabled, skipping check")
		return true
	}

	var lastErr error
	for _, tgt := range targets {
		if lastErr = tryDial(dial, tgt, 5*time.Second); lastErr == nil {
			logger.Info("proxy reachable", "network", tgt.network, "addr", tgt.addr)
			return true
		}
		logger.Warn("proxy dial failed", "network", tgt.network, "addr", tgt.addr, "error", lastErr)
	}
	logger.Error("proxy unreachable", "server", proxy.Server, "port", proxy.Port, "error", lastErr)
	return false
}

func tryDial(dial dialFunc, tgt dialTarget, timeout time.Duration) error {
	conn, err := dial(tgt.network, tgt.addr, timeout)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", tgt.network, tgt.addr, err)
	}
	return conn.Close()
}
