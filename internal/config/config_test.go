package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_paper_trade/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
exchange: Bybit
symbols: [ETH-USDT, SOL-USDT]
channels: [ticker, trades]
paper_mode: false
exchanges:
  bybit:
    ws_endpoint: wss://stream-testnet.bybit.com/v5/public/spot
    requests_per_second: 5
stream:
  reconnect_base_ms: 500
  max_reconnects: 4
pool:
  grace_ms: 1000
logging:
  level: debug
server:
  port: 9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bybit", cfg.Exchange)
	assert.Equal(t, []string{"ETH-USDT", "SOL-USDT"}, cfg.Symbols)
	assert.Equal(t, []domain.Channel{domain.ChannelTicker, domain.ChannelTrades}, cfg.Channels)
	assert.False(t, cfg.Paper())
	assert.Equal(t, time.Second, cfg.GraceDelay())
	assert.Equal(t, 5*time.Second, cfg.MetricsPollInterval())
	assert.Equal(t, "json", cfg.Logging.Encoding)
	assert.Equal(t, "paper.db", cfg.Storage.Path)

	opts := cfg.ExchangeOptions("bybit")
	assert.Equal(t, "wss://stream-testnet.bybit.com/v5/public/spot", opts.WSURL)
	assert.Equal(t, 5.0, opts.RequestsPerSecond)
	assert.Equal(t, 500*time.Millisecond, opts.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, opts.MaxReconnectDelay)
	assert.Equal(t, 4, opts.MaxReconnectAttempts)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "binance", cfg.Exchange)
	assert.True(t, cfg.Paper())
	assert.Equal(t, 250*time.Millisecond, cfg.GraceDelay())
	assert.Len(t, cfg.Channels, 3)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown exchange", "exchange: kraken\n", domain.ErrUnknownExchange},
		{"unknown exchange section", "exchanges:\n  ftx: {}\n", domain.ErrUnknownExchange},
		{"native symbol", "symbols: [BTCUSDT]\n", domain.ErrInvalidArgument},
		{"lower case symbol", "symbols: [btc-usdt]\n", domain.ErrInvalidArgument},
		{"bad channel", "channels: [candles]\n", domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := Load(writeConfig(t, "exchnage: binance\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIsCanonicalSymbol(t *testing.T) {
	assert.True(t, IsCanonicalSymbol("BTC-USDT"))
	assert.False(t, IsCanonicalSymbol("BTC-"))
	assert.False(t, IsCanonicalSymbol("-USDT"))
	assert.False(t, IsCanonicalSymbol("A-B-C"))
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "binance", cfg.Exchange)
	assert.Len(t, cfg.Exchanges, 3)
	assert.Equal(t, 250*time.Millisecond, cfg.GraceDelay())
}
