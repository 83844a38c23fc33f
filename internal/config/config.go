package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"salesbot/internal/model"
)

const (
	TokenBackendFile   = "file"
	TokenBackendSQLite = "sqlite"
)

type Config struct {
	Server      ServerConfig        `yaml:"server"`
	Storage     StorageConfig       `yaml:"storage"`
	Marketplace MarketplaceConfig   `yaml:"marketplace"`
	Chat        ChatConfig          `yaml:"chat"`
	Display     DisplayConfig       `yaml:"display"`
	Email       model.EmailSettings `yaml:"email"`
	Log         LogConfig           `yaml:"log"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath   string `yaml:"sqlitePath"`
	TokenFile    string `yaml:"tokenFile"`
	TokenBackend string `yaml:"tokenBackend"`
}

type MarketplaceConfig struct {
	BaseURL      string `yaml:"baseURL"`
	SellerID     string `yaml:"sellerId"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	RefreshToken string `yaml:"refreshToken"`
	// StaticToken selects the never-refreshed credential variant.
	StaticToken string              `yaml:"staticToken"`
	TimeoutMs   int                 `yaml:"timeoutMs"`
	Retry       MarketplaceRetryCfg `yaml:"retry"`
	QPS         float64             `yaml:"qps"`
	Burst       int                 `yaml:"burst"`
}

type MarketplaceRetryCfg struct {
	Count     int `yaml:"count"`
	WaitMs    int `yaml:"waitMs"`
	MaxWaitMs int `yaml:"maxWaitMs"`
}

type ChatConfig struct {
	GatewayURL       string `yaml:"gatewayURL"`
	GroupID          string `yaml:"groupId"`
	ReconnectDelayMs int    `yaml:"reconnectDelayMs"`
	SendTimeoutMs    int    `yaml:"sendTimeoutMs"`
}

type DisplayConfig struct {
	Timezone       string `yaml:"timezone"`
	CurrencyPrefix string `yaml:"currencyPrefix"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func (c MarketplaceConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c MarketplaceConfig) UsesStaticToken() bool {
	return strings.TrimSpace(c.StaticToken) != ""
}

func (c MarketplaceRetryCfg) Wait() time.Duration {
	if c.WaitMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.WaitMs) * time.Millisecond
}

func (c MarketplaceRetryCfg) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 1200 * time.Millisecond
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

func (c ChatConfig) ReconnectDelay() time.Duration {
	if c.ReconnectDelayMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

func (c ChatConfig) SendTimeout() time.Duration {
	if c.SendTimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

// Location falls back to UTC when the zone database lacks the name.
func (c DisplayConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads the optional yaml file at path, then overlays the environment
// (including a .env file in the working directory).
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, err
		}
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("ML_USER_ID", &c.Marketplace.SellerID)
	set("ML_CLIENT_ID", &c.Marketplace.ClientID)
	set("ML_CLIENT_SECRET", &c.Marketplace.ClientSecret)
	set("ML_REFRESH_TOKEN", &c.Marketplace.RefreshToken)
	set("ML_ACCESS_TOKEN", &c.Marketplace.StaticToken)
	set("ML_API_BASE_URL", &c.Marketplace.BaseURL)
	set("WHATSAPP_GROUP_ID", &c.Chat.GroupID)
	set("CHAT_GATEWAY_URL", &c.Chat.GatewayURL)
	set("SALESBOT_TIMEZONE", &c.Display.Timezone)
	set("SALESBOT_LOG_LEVEL", &c.Log.Level)
	set("SALESBOT_TOKEN_FILE", &c.Storage.TokenFile)
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/salesbot.db"
	}
	if c.Storage.TokenFile == "" {
		c.Storage.TokenFile = "./ml_token.json"
	}
	if c.Storage.TokenBackend == "" {
		c.Storage.TokenBackend = TokenBackendFile
	}
	if c.Marketplace.BaseURL == "" {
		c.Marketplace.BaseURL = "https://api.mercadolibre.com"
	}
	if c.Marketplace.Retry.Count < 0 {
		c.Marketplace.Retry.Count = 0
	}
	if c.Marketplace.QPS <= 0 {
		c.Marketplace.QPS = 5
	}
	if c.Marketplace.Burst <= 0 {
		c.Marketplace.Burst = 10
	}
	if c.Chat.GatewayURL == "" {
		c.Chat.GatewayURL = "ws://127.0.0.1:3001/ws"
	}
	if c.Display.Timezone == "" {
		c.Display.Timezone = "America/Sao_Paulo"
	}
	if c.Display.CurrencyPrefix == "" {
		c.Display.CurrencyPrefix = "R$"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c Config) validate() error {
	if c.Marketplace.SellerID == "" {
		return errors.New("marketplace.sellerId (ML_USER_ID) is required")
	}
	if c.Chat.GroupID == "" {
		return errors.New("chat.groupId (WHATSAPP_GROUP_ID) is required")
	}
	if !c.Marketplace.UsesStaticToken() {
		if c.Marketplace.ClientID == "" || c.Marketplace.ClientSecret == "" || c.Marketplace.RefreshToken == "" {
			return errors.New("marketplace clientId, clientSecret and refreshToken are required unless staticToken is set")
		}
	}
	switch c.Storage.TokenBackend {
	case TokenBackendFile, TokenBackendSQLite:
	default:
		return fmt.Errorf("storage.tokenBackend %q is not one of file, sqlite", c.Storage.TokenBackend)
	}
	return nil
}
