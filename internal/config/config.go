package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/larriantoniy/wa_gateway/internal/useCases"
	"github.com/spf13/pflag"
)

const (
	DriverBrowser  = "browser"
	DriverTelegram = "telegram"
)

type AppConfig struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"prod"`
	HTTP      HTTPConfig      `yaml:"http"`
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Browser   BrowserConfig   `yaml:"browser"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Redis     RedisConfig     `yaml:"redis"`
	QR        QRConfig        `yaml:"qr"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":3000"`
}

type TransportConfig struct {
	Driver string `yaml:"driver" env:"TRANSPORT_DRIVER" env-default:"browser"`
}

type SessionConfig struct {
	RetryDelay   time.Duration `yaml:"retry_delay" env:"SESSION_RETRY_DELAY" env-default:"15s"`
	// ConnectGrace > 0 не даёт отправкам рвать CONNECTING, пока идёт прогресс; по умолчанию выключено
	ConnectGrace time.Duration `yaml:"connect_grace" env:"SESSION_CONNECT_GRACE" env-default:"0s"`
}

func (c SessionConfig) Options() useCases.SessionOptions {
	return useCases.SessionOptions{
		RetryDelay:   c.RetryDelay,
		ConnectGrace: c.ConnectGrace,
	}
}

type WatchdogConfig struct {
	Period    time.Duration `yaml:"period" env:"WATCHDOG_PERIOD" env-default:"30s"`
	Threshold time.Duration `yaml:"threshold" env:"WATCHDOG_THRESHOLD" env-default:"60s"`
}

type BrowserConfig struct {
	Bin           string        `yaml:"bin" env:"BROWSER_BIN"`
	UserDataDir   string        `yaml:"user_data_dir" env:"BROWSER_USER_DATA_DIR" env-default:"./.wwebjs_auth/session"`
	Headless      bool          `yaml:"headless" env:"BROWSER_HEADLESS" env-default:"false"`
	URL           string        `yaml:"url" env:"BROWSER_URL" env-default:"https://web.whatsapp.com"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"BROWSER_POLL_INTERVAL" env-default:"1s"`
	LookupTimeout time.Duration `yaml:"lookup_timeout" env:"BROWSER_LOOKUP_TIMEOUT" env-default:"30s"`
}

type TelegramConfig struct {
	ApiID   int32  `yaml:"api_id" env:"TELEGRAM_API_ID"`
	ApiHash string `yaml:"api_hash" env:"TELEGRAM_API_HASH"`
	BaseDir string `yaml:"base_dir" env:"TELEGRAM_BASE_DIR" env-default:"./tdlib-sessions"`
	Session string `yaml:"session" env:"TELEGRAM_SESSION" env-default:"default"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"wa_gateway"`
}

type QRConfig struct {
	Terminal bool `yaml:"terminal" env:"QR_TERMINAL" env-default:"true"`
}

// Load читает конфиг из файла (если задан) и переменных окружения
func Load() (*AppConfig, error) {
	return LoadPath(fetchConfigPath(os.Args[1:]))
}

func LoadPath(path string) (*AppConfig, error) {
	var cfg AppConfig

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("ошибка загрузки конфига: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка чтения окружения: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	var errs []error

	if c.Watchdog.Period <= 0 {
		errs = append(errs, errors.New("watchdog.period must be positive"))
	}
	if c.Watchdog.Threshold <= c.Watchdog.Period {
		errs = append(errs, fmt.Errorf("watchdog.threshold (%s) must exceed watchdog.period (%s)", c.Watchdog.Threshold, c.Watchdog.Period))
	}

	switch c.Transport.Driver {
	case DriverBrowser:
		if c.Browser.UserDataDir == "" {
			errs = append(errs, errors.New("browser.user_data_dir must be set"))
		}
	case DriverTelegram:
		if c.Telegram.ApiID == 0 || c.Telegram.ApiHash == "" || c.Telegram.BaseDir == "" {
			errs = append(errs, errors.New("TELEGRAM_API_ID, TELEGRAM_API_HASH , BaseDir должны быть заданы"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport.driver %q", c.Transport.Driver))
	}

	return errors.Join(errs...)
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath(args []string) string {
	var res string

	fs := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&res, "config", "c", "", "path to config file")
	_ = fs.Parse(args)

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	return res
}
