package tg

import (
	"cmp"
	"fmt"
	"math"

	"github.com/larriantoniy/wa_gateway/internal/ports"
	"github.com/zelenin/go-tdlib/client"
)

// RawSessionConfig содержимое <base>/<session>/<session>.json
type RawSessionConfig struct {
	SessionFile string `json:"session_file"`
	Phone       string `json:"phone"`

	SDK        string `json:"sdk"`         // SystemVersion
	AppVersion string `json:"app_version"` // ApplicationVersion
	Device     string `json:"device"`      // DeviceModel
	LangCode   string `json:"lang_code"`   // SystemLanguageCode

	// [type, host, port, useAuth, user, pass], type не используем: всегда socks5
	Proxy []any `json:"proxy"`
}

func (c *RawSessionConfig) ToProxyConfig() (*ports.ProxyConfig, error) {
	if len(c.Proxy) == 0 {
		return nil, nil
	}
	if len(c.Proxy) < 6 {
		return nil, fmt.Errorf("invalid proxy length: %d", len(c.Proxy))
	}

	port, err := proxyPort(c.Proxy[2])
	if err != nil {
		return nil, err
	}
	host := asString(c.Proxy[1])
	if host == "" || port == 0 {
		return nil, nil
	}

	p := &ports.ProxyConfig{Enabled: true, Server: host, Port: port}
	if useAuth, _ := c.Proxy[3].(bool); useAuth {
		p.Username = asString(c.Proxy[4])
		p.Password = asString(c.Proxy[5])
	}
	return p, nil
}

// proxyPort: из json.Unmarshal число приходит float64
func proxyPort(v any) (int32, error) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case int:
		n = float64(x)
	default:
		return 0, fmt.Errorf("invalid proxy port type %T", v)
	}
	if n != math.Trunc(n) || n < 0 || n > math.MaxUint16 {
		return 0, fmt.Errorf("invalid proxy port %v", v)
	}
	return int32(n), nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// ToTdParams собирает параметры TDLib; пустые поля конфига заменяются дефолтами
func ToTdParams(sc *ports.SessionConfig, apiID int32, apiHash string, dbDir, filesDir string) *client.SetTdlibParametersRequest {
	return &client.SetTdlibParametersRequest{
		DatabaseDirectory:   dbDir,
		FilesDirectory:      filesDir,
		UseFileDatabase:     true,
		UseChatInfoDatabase: true,
		ApiId:               apiID,
		ApiHash:             apiHash,
		SystemLanguageCode:  cmp.Or(sc.LangCode, "en"),
		DeviceModel:         cmp.Or(sc.DeviceModel, "Desktop"),
		SystemVersion:       cmp.Or(sc.SystemVersion, "Windows 10"),
		ApplicationVersion:  cmp.Or(sc.ApplicationVersion, "2.0"),
	}
}
