package config

import (
	"context"
	"fmt"
	"os"

	"github.com/larriantoniy/wa_gateway/internal/adapters/tg"
	"github.com/larriantoniy/wa_gateway/internal/ports"
)

// JSONSessionConfigRepo читает параметры TDLib-сессий из каталога
// вида <baseDir>/<session>/<session>.json
type JSONSessionConfigRepo struct {
	baseDir string // "./tdlib-sessions"
}

func NewJSONSessionConfigRepo(baseDir string) *JSONSessionConfigRepo {
	return &JSONSessionConfigRepo{baseDir: baseDir}
}

func (r *JSONSessionConfigRepo) ListSessions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (r *JSONSessionConfigRepo) GetSessionConfig(ctx context.Context, sessionName string) (*ports.SessionConfig, error) {
	raw, err := tg.LoadRawSessionConfig(r.baseDir, sessionName)
	if err != nil {
		return nil, err
	}

	proxyCfg, err := raw.ToProxyConfig()
	if err != nil {
		return nil, fmt.Errorf("proxy parse: %w", err)
	}

	return &ports.SessionConfig{
		SessionName:        raw.SessionFile,
		Phone:              raw.Phone,
		DeviceModel:        raw.Device,
		SystemVersion:      raw.SDK,
		ApplicationVersion: raw.AppVersion,
		LangCode:           raw.LangCode,
		Proxy:              proxyCfg,
	}, nil
}
