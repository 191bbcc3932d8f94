package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitos/crypto_paper_trade/internal/config"
	"github.com/vitos/crypto_paper_trade/internal/domain"
	"github.com/vitos/crypto_paper_trade/internal/infrastructure/exchange"
	"github.com/vitos/crypto_paper_trade/internal/infrastructure/logger"
	"github.com/vitos/crypto_paper_trade/internal/infrastructure/storage"
	"github.com/vitos/crypto_paper_trade/internal/usecase"
	"github.com/vitos/crypto_paper_trade/internal/web"
	"go.uber.org/zap"
)

var (
	cfgFile      string
	exchangeName string
	symbols      []string
	port         int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "papertrader",
		Short: "Paper trading against live exchange market data",
		Long:  `Streams tickers, order books and trades from a public exchange feed and simulates orders and positions against them`,
		RunE:  run,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file")
	rootCmd.Flags().StringVar(&exchangeName, "exchange", "", "override the configured exchange")
	rootCmd.Flags().StringSliceVar(&symbols, "symbols", nil, "override the configured symbols (BASE-QUOTE)")
	rootCmd.Flags().IntVar(&port, "port", 0, "override the API port")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig falls back to defaults when the default config file is absent.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) && cfgFile == config.DefaultPath {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
	}

	if exchangeName != "" {
		cfg.Exchange = exchangeName
	}
	if len(symbols) > 0 {
		cfg.Symbols = symbols
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Load Config
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 3. Init Journal
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Error("Failed to init sqlite", zap.Error(err))
		return err
	}
	defer store.Close()

	// 4. Init Engine
	engine := usecase.NewPaperEngine(log.Named("engine"))
	engine.SetPaperMode(cfg.Paper())
	usecase.RecordToJournal(engine, store, log.Named("journal"))

	// 5. Init Connection Pool and Market Feed
	pool := usecase.NewConnectionPool(func(name string) (domain.Exchange, error) {
		opts := cfg.ExchangeOptions(name)
		opts.Logger = log.Named(name)
		return exchange.New(name, opts)
	}, cfg.GraceDelay(), log.Named("pool"))
	defer pool.Close()

	cache := usecase.NewMarketCache()
	feed := usecase.NewMarketFeed(pool, cache, engine, cfg.Channels, cfg.MetricsPollInterval(), log.Named("feed"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = feed.Start(ctx, cfg.Exchange, cfg.Symbols)
	cancel()
	if err != nil {
		log.Error("Failed to start market feed", zap.String("exchange", cfg.Exchange), zap.Error(err))
		return err
	}
	defer feed.Stop()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := feed.LoadInstruments(ctx); err != nil {
		log.Warn("Failed to load instruments", zap.Error(err))
	}
	cancel()

	// 6. Init Web Server
	server := web.NewServer(cfg.Server.Port, feed, cache, engine, store, log.Named("web"))
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 7. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	log.Info("Paper trader is running",
		zap.String("exchange", cfg.Exchange),
		zap.Strings("symbols", cfg.Symbols),
		zap.Bool("paper_mode", cfg.Paper()),
		zap.Int("port", cfg.Server.Port))

	select {
	case <-stop:
		log.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error("Web server failed", zap.Error(err))
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down web server", zap.Error(err))
	}
	log.Info("Paper trader stopped")
	return nil
}
