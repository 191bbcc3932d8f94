package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vitos/crypto_paper_trade/internal/domain"
	"github.com/vitos/crypto_paper_trade/internal/infrastructure/exchange"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type ExchangeConfig struct {
	WSEndpoint        string  `yaml:"ws_endpoint"`
	RESTEndpoint      string  `yaml:"rest_endpoint"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type StreamConfig struct {
	ReconnectBaseMs int `yaml:"reconnect_base_ms"`
	ReconnectMaxMs  int `yaml:"reconnect_max_ms"`
	MaxReconnects   int `yaml:"max_reconnects"`
	HeartbeatMs     int `yaml:"heartbeat_ms"`
}

type Config struct {
	Exchange      string                    `yaml:"exchange"`
	Symbols       []string                  `yaml:"symbols"`
	Channels      []domain.Channel          `yaml:"channels"`
	PaperMode     *bool                     `yaml:"paper_mode"`
	Exchanges     map[string]ExchangeConfig `yaml:"exchanges"`
	Stream        StreamConfig              `yaml:"stream"`
	MetricsPollMs int                       `yaml:"metrics_poll_ms"`
	Pool          struct {
		GraceMs int `yaml:"grace_ms"`
	} `yaml:"pool"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

func (c *Config) ApplyDefaults() {
	if c.Exchange == "" {
		c.Exchange = "binance"
	}
	c.Exchange = strings.ToLower(c.Exchange)
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"BTC-USDT"}
	}
	if len(c.Channels) == 0 {
		c.Channels = []domain.Channel{domain.ChannelTicker, domain.ChannelOrderBook, domain.ChannelTrades}
	}
	if c.PaperMode == nil {
		paper := true
		c.PaperMode = &paper
	}
	if c.Stream.ReconnectBaseMs <= 0 {
		c.Stream.ReconnectBaseMs = int(exchange.DefaultReconnectBaseDelay / time.Millisecond)
	}
	if c.Stream.ReconnectMaxMs <= 0 {
		c.Stream.ReconnectMaxMs = int(exchange.DefaultMaxReconnectDelay / time.Millisecond)
	}
	if c.Stream.MaxReconnects <= 0 {
		c.Stream.MaxReconnects = exchange.DefaultMaxReconnectAttempts
	}
	if c.Stream.HeartbeatMs <= 0 {
		c.Stream.HeartbeatMs = int(exchange.DefaultHeartbeatInterval / time.Millisecond)
	}
	if c.MetricsPollMs <= 0 {
		c.MetricsPollMs = 5000
	}
	if c.Pool.GraceMs <= 0 {
		c.Pool.GraceMs = 250
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "paper.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

func (c *Config) Validate() error {
	if !known(c.Exchange) {
		return fmt.Errorf("%w: %q (available: %s)", domain.ErrUnknownExchange, c.Exchange, strings.Join(exchange.Available(), ", "))
	}
	for name := range c.Exchanges {
		if !known(name) {
			return fmt.Errorf("exchanges: %w: %q", domain.ErrUnknownExchange, name)
		}
	}
	for _, s := range c.Symbols {
		if !IsCanonicalSymbol(s) {
			return fmt.Errorf("%w: symbol %q is not BASE-QUOTE", domain.ErrInvalidArgument, s)
		}
	}
	for _, ch := range c.Channels {
		if !ch.Valid() {
			return fmt.Errorf("%w: channel %q", domain.ErrInvalidArgument, ch)
		}
	}
	if c.Stream.ReconnectMaxMs < c.Stream.ReconnectBaseMs {
		return fmt.Errorf("%w: stream.reconnect_max_ms below reconnect_base_ms", domain.ErrInvalidArgument)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", domain.ErrInvalidArgument, c.Server.Port)
	}
	return nil
}

// ExchangeOptions turns the per-exchange and stream sections into adapter
// options for name.
func (c *Config) ExchangeOptions(name string) exchange.Options {
	ex := c.Exchanges[name]
	return exchange.Options{
		WSURL:                ex.WSEndpoint,
		RESTURL:              ex.RESTEndpoint,
		RequestsPerSecond:    ex.RequestsPerSecond,
		ReconnectBaseDelay:   time.Duration(c.Stream.ReconnectBaseMs) * time.Millisecond,
		MaxReconnectDelay:    time.Duration(c.Stream.ReconnectMaxMs) * time.Millisecond,
		MaxReconnectAttempts: c.Stream.MaxReconnects,
		HeartbeatInterval:    time.Duration(c.Stream.HeartbeatMs) * time.Millisecond,
	}
}

func (c *Config) Paper() bool { return c.PaperMode == nil || *c.PaperMode }

func (c *Config) GraceDelay() time.Duration {
	return time.Duration(c.Pool.GraceMs) * time.Millisecond
}

func (c *Config) MetricsPollInterval() time.Duration {
	return time.Duration(c.MetricsPollMs) * time.Millisecond
}

func known(name string) bool {
	for _, n := range exchange.Available() {
		if n == name {
			return true
		}
	}
	return false
}

// IsCanonicalSymbol reports whether s looks like BASE-QUOTE in upper case.
func IsCanonicalSymbol(s string) bool {
	base, quote, ok := strings.Cut(s, "-")
	return ok && base != "" && quote != "" && !strings.Contains(quote, "-") &&
		s == strings.ToUpper(s)
}
