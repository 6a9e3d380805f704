package ports

import (
	"context"
)

type ProxyConfig struct {
	Enabled  bool
	Server   string
	Port     int32
	Username string
	Password string
}

// SessionConfig параметры устройства для TDLib-сессии
type SessionConfig struct {
	SessionName        string
	Phone              string
	DeviceModel        string
	SystemVersion      string
	ApplicationVersion string
	LangCode           string
	Proxy              *ProxyConfig
}

type SessionConfigRepo interface {
	// Возвращает список доступных сессий (по именам)
	ListSessions(ctx context.Context) ([]string, error)

	// Загружает конфиг для конкретной сессии
	GetSessionConfig(ctx context.Context, sessionName string) (*SessionConfig, error)
}
