package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitos/crypto_paper_trade/internal/config"
	"github.com/vitos/crypto_paper_trade/internal/domain"
	"github.com/vitos/crypto_paper_trade/internal/infrastructure/exchange"
	"github.com/vitos/crypto_paper_trade/internal/infrastructure/logger"
)

var (
	cfgFile  string
	symbol   string
	interval string
	duration time.Duration
	verbose  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "check_exchange [exchange]",
		Short: "Probe an exchange's public REST endpoints and stream",
		Long:  "Available exchanges: " + strings.Join(exchange.Available(), ", "),
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file for endpoint overrides")
	rootCmd.Flags().StringVar(&symbol, "symbol", "BTC-USDT", "canonical symbol")
	rootCmd.Flags().StringVar(&interval, "interval", "1h", "candle interval")
	rootCmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to sample the stream")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(args[0])

	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := logger.NewLogger(level, "console")
	if err != nil {
		return err
	}
	defer log.Sync()

	opts := cfg.ExchangeOptions(name)
	opts.Logger = log
	adapter, err := exchange.New(name, opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Printf("Testing %s (%s -> %s)\n", name, symbol, adapter.SymbolToExchange(symbol))

	// 1. REST
	if t, err := adapter.GetTicker(ctx, symbol); err != nil {
		fmt.Printf("❌ Ticker: %v\n", err)
	} else {
		fmt.Printf("✅ Ticker: last=%f bid=%f ask=%f change=%.2f%%\n", t.Last, t.Bid, t.Ask, t.Change24h)
	}

	if candles, err := adapter.GetCandles(ctx, symbol, interval, 5); err != nil {
		fmt.Printf("❌ Candles: %v\n", err)
	} else if len(candles) > 0 {
		last := candles[len(candles)-1]
		fmt.Printf("✅ Candles: %d bars, last close=%f at %s\n", len(candles), last.Close, time.UnixMilli(last.Timestamp).UTC().Format(time.RFC3339))
	} else {
		fmt.Printf("⚠️ Candles: empty\n")
	}

	if instruments, err := adapter.GetInstruments(ctx); err != nil {
		fmt.Printf("❌ Instruments: %v\n", err)
	} else {
		fmt.Printf("✅ Instruments: %d tradable\n", len(instruments))
	}

	// 2. Stream
	var tickers, books, trades atomic.Int64
	adapter.OnTicker(func(domain.Ticker) { tickers.Add(1) })
	adapter.OnOrderBook(func(domain.OrderBook) { books.Add(1) })
	adapter.OnTrade(func(domain.Trade) { trades.Add(1) })

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := adapter.Connect(connectCtx); err != nil {
		fmt.Printf("❌ Connect: %v\n", err)
		return err
	}
	defer adapter.Disconnect()

	channels := []domain.Channel{domain.ChannelTicker, domain.ChannelOrderBook, domain.ChannelTrades}
	if err := adapter.Subscribe([]string{symbol}, channels); err != nil {
		fmt.Printf("❌ Subscribe: %v\n", err)
		return err
	}

	fmt.Printf("Sampling stream for %s...\n", duration)
	select {
	case <-time.After(duration):
	case <-ctx.Done():
	}

	m := adapter.Metrics()
	fmt.Printf("✅ Stream: tickers=%d books=%d trades=%d\n", tickers.Load(), books.Load(), trades.Load())
	fmt.Printf("   Metrics: messages=%d latency=%dms reconnects=%d\n", m.MessagesReceived, m.Latency, m.Reconnects)
	return nil
}
