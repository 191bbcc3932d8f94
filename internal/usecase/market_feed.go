package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_paper_trade/internal/domain"
	"go.uber.org/zap"
)

const DefaultMetricsPoll = 5 * time.Second

// MarketFeed binds the selected exchange to the cache and the engine:
// tickers update the cache and drive ProcessTick, books and trades update
// the cache. Events from adapters other than the selected one are dropped.
type MarketFeed struct {
	pool     *ConnectionPool
	cache    *MarketCache
	engine   *PaperEngine
	channels []domain.Channel
	poll     time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	name     string
	adapter  domain.Exchange
	metrics  domain.ConnectionMetrics
	stopPoll chan struct{}
}

func NewMarketFeed(pool *ConnectionPool, cache *MarketCache, engine *PaperEngine, channels []domain.Channel, poll time.Duration, logger *zap.Logger) *MarketFeed {
	if poll <= 0 {
		poll = DefaultMetricsPoll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &MarketFeed{
		pool:     pool,
		cache:    cache,
		engine:   engine,
		channels: channels,
		poll:     poll,
		logger:   logger,
	}
	pool.OnCreate(f.attach)
	return f
}

func (f *MarketFeed) attach(name string, ex domain.Exchange) {
	ex.OnTicker(func(t domain.Ticker) {
		if !f.isCurrent(ex) {
			return
		}
		f.cache.SetTicker(t)
		if err := f.engine.ProcessTick(t.Symbol, t.Last); err != nil {
			f.logger.Debug("Tick skipped", zap.String("exchange", name), zap.String("symbol", t.Symbol), zap.Error(err))
		}
	})
	ex.OnOrderBook(func(ob domain.OrderBook) {
		if f.isCurrent(ex) {
			f.cache.SetOrderBook(ob)
		}
	})
	ex.OnTrade(func(t domain.Trade) {
		if f.isCurrent(ex) {
			f.cache.AddTrade(t)
		}
	})
}

func (f *MarketFeed) isCurrent(ex domain.Exchange) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adapter == ex
}

// Start connects to name and subscribes symbols on the configured channels.
// A running feed releases its current exchange first; moving to another
// exchange drops the market data of the previous one.
func (f *MarketFeed) Start(ctx context.Context, name string, symbols []string) error {
	ex, err := f.pool.Acquire(ctx, name)
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	if prev := f.Exchange(); prev != "" {
		f.Stop()
		if prev != name {
			f.resetMarketData()
		}
	}
	return f.adopt(name, ex, symbols)
}

// resetMarketData drops cached market data and the engine's last prices so
// nothing from the previous exchange fills or marks against the next one.
func (f *MarketFeed) resetMarketData() {
	f.cache.Reset()
	f.engine.ResetPrices()
}

func (f *MarketFeed) adopt(name string, ex domain.Exchange, symbols []string) error {
	f.mu.Lock()
	f.name = name
	f.adapter = ex
	f.metrics = ex.Metrics()
	stop := make(chan struct{})
	f.stopPoll = stop
	f.mu.Unlock()

	go f.pollMetrics(ex, stop)

	if len(symbols) > 0 {
		if err := f.Subscribe(symbols...); err != nil {
			return err
		}
	}
	f.logger.Info("Market feed started", zap.String("exchange", name), zap.Strings("symbols", symbols))
	return nil
}

// Stop detaches from the current exchange.
func (f *MarketFeed) Stop() {
	f.mu.Lock()
	name, stop := f.name, f.stopPoll
	attached := f.adapter != nil
	f.name = ""
	f.adapter = nil
	f.stopPoll = nil
	f.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if attached {
		f.pool.Release(name)
	}
}

// SwitchExchange moves the feed to name, keeping the selected symbols.
// The new adapter is acquired first so a failed switch leaves the current
// exchange attached.
func (f *MarketFeed) SwitchExchange(ctx context.Context, name string) error {
	if name == f.Exchange() {
		return nil
	}
	ex, err := f.pool.Acquire(ctx, name)
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	symbols := f.cache.SelectedSymbols()
	f.Stop()
	f.resetMarketData()
	return f.adopt(name, ex, symbols)
}

func (f *MarketFeed) current() (domain.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adapter == nil {
		return nil, domain.ErrNotConnected
	}
	return f.adapter, nil
}

func (f *MarketFeed) Subscribe(symbols ...string) error {
	ex, err := f.current()
	if err != nil {
		return err
	}
	f.cache.SelectSymbol(symbols...)
	return ex.Subscribe(symbols, f.channels)
}

func (f *MarketFeed) Unsubscribe(symbols ...string) error {
	ex, err := f.current()
	if err != nil {
		return err
	}
	f.cache.DeselectSymbol(symbols...)
	return ex.Unsubscribe(symbols, f.channels)
}

// LoadInstruments refreshes the cached instrument list.
func (f *MarketFeed) LoadInstruments(ctx context.Context) ([]domain.Instrument, error) {
	ex, err := f.current()
	if err != nil {
		return nil, err
	}
	instruments, err := ex.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}
	f.cache.SetInstruments(instruments)
	return instruments, nil
}

func (f *MarketFeed) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	ex, err := f.current()
	if err != nil {
		return nil, err
	}
	return ex.GetCandles(ctx, symbol, interval, limit)
}

// Ticker serves the cached ticker, falling back to REST.
func (f *MarketFeed) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if t, ok := f.cache.Ticker(symbol); ok {
		return t, nil
	}
	ex, err := f.current()
	if err != nil {
		return domain.Ticker{}, err
	}
	t, err := ex.GetTicker(ctx, symbol)
	if err != nil {
		return domain.Ticker{}, err
	}
	return *t, nil
}

func (f *MarketFeed) Exchange() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

func (f *MarketFeed) Connected() bool {
	ex, err := f.current()
	return err == nil && ex.IsConnected()
}

// Metrics returns the last polled connection metrics.
func (f *MarketFeed) Metrics() domain.ConnectionMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

func (f *MarketFeed) pollMetrics(ex domain.Exchange, stop <-chan struct{}) {
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !ex.IsConnected() {
				continue
			}
			m := ex.Metrics()
			f.mu.Lock()
			if f.adapter == ex {
				f.metrics = m
			}
			f.mu.Unlock()
		}
	}
}
