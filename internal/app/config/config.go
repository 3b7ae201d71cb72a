package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Telegram TelegramConfig
	Dispatch DispatchConfig
	Session  SessionConfig
	Redis    RedisConfig
	AMQP     AMQPConfig

	SecretKey  string `env:"APP_SECRET_KEY,default=ChangeMe"`
	LogVerbose bool   `env:"APP_VERBOSE,default=0"`
	LogPretty  bool   `env:"APP_PRETTY,default=0"`
}

type ServerConfig struct {
	Listen       string        `env:"RUN_ADDRESS,default=localhost:8088"`
	TimeoutRead  time.Duration `env:"SERVER_TIMEOUT_READ,default=5s"`
	TimeoutWrite time.Duration `env:"SERVER_TIMEOUT_WRITE,default=10s"`
	TimeoutIdle  time.Duration `env:"SERVER_TIMEOUT_IDLE,default=1m"`
}

type DatabaseConfig struct {
	Driver       string        `env:"STORAGE_DRIVER,default=postgres"`
	DSN          string        `env:"DATABASE_URI,default="`
	MinReconnect time.Duration `env:"FEED_MIN_RECONNECT,default=1s"`
	MaxReconnect time.Duration `env:"FEED_MAX_RECONNECT,default=1m"`
}

type TelegramConfig struct {
	Token         string `env:"TELEGRAM_BOT_TOKEN,default="`
	APIURL        string `env:"TELEGRAM_API_URL,default=https://api.telegram.org"`
	WebhookSecret string `env:"TELEGRAM_WEBHOOK_SECRET,default="`
	PublicURL     string `env:"TELEGRAM_PUBLIC_URL,default="`
	// AdminChatIDs receive deposit notifications, comma separated
	AdminChatIDs string `env:"ADMIN_CHAT_IDS,default="`
	// OpsChatID receives failure alerts, defaults to the first admin chat
	OpsChatID int64 `env:"OPS_CHAT_ID,default=0"`
	// AdminUserIDs is the static operator allow-list, comma separated
	AdminUserIDs string `env:"ADMIN_USER_IDS,default="`
}

type DispatchConfig struct {
	Delay                time.Duration `env:"DISPATCH_DELAY,default=500ms"`
	MaxRetries           int           `env:"DISPATCH_MAX_RETRIES,default=3"`
	CallTimeout          time.Duration `env:"CALL_TIMEOUT,default=10s"`
	RejectReasonRequired bool          `env:"REJECT_REASON_REQUIRED,default=1"`
	// BackfillInterval schedules periodic backfills, zero disables them
	BackfillInterval time.Duration `env:"BACKFILL_INTERVAL,default=0s"`
}

type SessionConfig struct {
	Backend string        `env:"SESSION_BACKEND,default=memory"`
	TTL     time.Duration `env:"SESSION_TTL,default=0s"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD,default="`
	DB       int    `env:"REDIS_DB,default=0"`
}

type AMQPConfig struct {
	URL      string `env:"AMQP_URL,default="`
	Exchange string `env:"AMQP_EXCHANGE,default=deposit.decisions"`
}

// New config constructor
func New() Config {
	return Config{}
}

// Load config from environment and from .env file (if exists) and from flags
func (cfg *Config) Load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf(".env load: %w", err)
	}

	if err := envdecode.StrictDecode(cfg); err != nil {
		return fmt.Errorf("env decode: %w", err)
	}

	pflag.StringVarP(&cfg.Server.Listen, "listen-addr", "a", cfg.Server.Listen, "Server address to listen on")
	pflag.StringVarP(&cfg.Database.DSN, "database-uri", "d", cfg.Database.DSN, "Database URI")
	pflag.StringVarP(&cfg.Database.Driver, "storage", "s", cfg.Database.Driver, "Storage driver (postgres|memory)")
	pflag.StringVarP(&cfg.Telegram.APIURL, "telegram-url", "t", cfg.Telegram.APIURL, "Telegram Bot API base URL")
	pflag.BoolVarP(&cfg.LogVerbose, "verbose", "v", cfg.LogVerbose, "Verbose output")
	pflag.BoolVarP(&cfg.LogPretty, "pretty", "p", cfg.LogPretty, "Pretty output")
	pflag.Parse()

	return cfg.Validate()
}

// Validate checks cross-field constraints envdecode cannot express
func (cfg *Config) Validate() error {
	switch cfg.Database.Driver {
	case StorageDriverPostgres:
		if cfg.Database.DSN == "" {
			return errors.New("DATABASE_URI is required for postgres storage")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Database.Driver)
	}

	switch cfg.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	if cfg.Dispatch.MaxRetries < 0 {
		return errors.New("DISPATCH_MAX_RETRIES must not be negative")
	}

	chats, err := cfg.Telegram.AdminChats()
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		return errors.New("ADMIN_CHAT_IDS is required")
	}

	if _, err := cfg.Telegram.AllowedUsers(); err != nil {
		return err
	}

	return nil
}

// AdminChats parses ADMIN_CHAT_IDS
func (c TelegramConfig) AdminChats() ([]int64, error) {
	ids, err := parseIDList(c.AdminChatIDs)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_CHAT_IDS: %w", err)
	}
	return ids, nil
}

// AllowedUsers parses ADMIN_USER_IDS
func (c TelegramConfig) AllowedUsers() ([]int64, error) {
	ids, err := parseIDList(c.AdminUserIDs)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_USER_IDS: %w", err)
	}
	return ids, nil
}

// OpsChat returns the chat receiving operations alerts
func (c TelegramConfig) OpsChat() int64 {
	if c.OpsChatID != 0 {
		return c.OpsChatID
	}
	chats, err := c.AdminChats()
	if err != nil || len(chats) == 0 {
		return 0
	}
	return chats[0]
}

func parseIDList(s string) ([]int64, error) {
	res := make([]int64, 0)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", part, err)
		}
		res = append(res, id)
	}
	return res, nil
}
