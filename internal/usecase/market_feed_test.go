package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_paper_trade/internal/domain"
	"github.com/vitos/crypto_paper_trade/internal/usecase"
)

type feedFixture struct {
	factory *mockFactory
	pool    *usecase.ConnectionPool
	cache   *usecase.MarketCache
	engine  *usecase.PaperEngine
	feed    *usecase.MarketFeed
}

func newFeedFixture(t *testing.T) *feedFixture {
	t.Helper()
	f := &feedFixture{factory: newMockFactory(nil)}
	f.pool = usecase.NewConnectionPool(f.factory.New, 20*time.Millisecond, nil)
	f.cache = usecase.NewMarketCache()
	f.engine = newTestEngine()
	channels := []domain.Channel{domain.ChannelTicker, domain.ChannelOrderBook, domain.ChannelTrades}
	f.feed = usecase.NewMarketFeed(f.pool, f.cache, f.engine, channels, 10*time.Millisecond, nil)
	t.Cleanup(func() {
		f.feed.Stop()
		f.pool.Close()
	})
	return f
}

func (f *feedFixture) adapter(name string) *MockExchange {
	created := f.factory.Created(name)
	return created[len(created)-1]
}

func TestMarketFeed_RoutesEvents(t *testing.T) {
	f := newFeedFixture(t)
	require.NoError(t, f.feed.Start(context.Background(), "binance", []string{"BTC-USDT"}))

	assert.Equal(t, "binance", f.feed.Exchange())
	assert.True(t, f.feed.Connected())
	assert.Equal(t, []string{"BTC-USDT"}, f.cache.SelectedSymbols())

	mock := f.adapter("binance")
	subscribed, _ := mock.Subscriptions()
	assert.Equal(t, []string{"BTC-USDT"}, subscribed)

	order, err := f.engine.PlaceOrder(marketBuy(1))
	require.NoError(t, err)

	mock.EmitTicker(domain.Ticker{Symbol: "BTC-USDT", Last: 100})
	mock.EmitOrderBook(domain.OrderBook{Symbol: "BTC-USDT", Bids: []domain.OrderBookLevel{{Price: 99, Quantity: 1}}})
	mock.EmitTrade(domain.Trade{Symbol: "BTC-USDT", Price: 100, Quantity: 0.1, Side: domain.TradeBuy})

	assert.Equal(t, 100.0, f.cache.LastPrice("BTC-USDT"))
	_, ok := f.cache.OrderBook("BTC-USDT")
	assert.True(t, ok)
	assert.Len(t, f.cache.RecentTrades("BTC-USDT", 0), 1)

	got, _ := f.engine.Order(order.ID)
	assert.Equal(t, domain.StatusFilled, got.Status, "tickers drive the engine")
	assert.Len(t, f.engine.Positions(), 1)
}

func TestMarketFeed_SwitchExchange(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	require.NoError(t, f.feed.Start(ctx, "binance", []string{"BTC-USDT", "ETH-USDT"}))
	binance := f.adapter("binance")
	binance.EmitTicker(domain.Ticker{Symbol: "BTC-USDT", Last: 100})

	require.NoError(t, f.feed.SwitchExchange(ctx, "coinbase"))
	assert.Equal(t, "coinbase", f.feed.Exchange())
	assert.Empty(t, f.cache.Tickers(), "cache is reset on switch")
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, f.cache.SelectedSymbols())

	coinbase := f.adapter("coinbase")
	subscribed, _ := coinbase.Subscriptions()
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, subscribed)

	binance.EmitTicker(domain.Ticker{Symbol: "BTC-USDT", Last: 1})
	assert.Empty(t, f.cache.Tickers(), "events from the old adapter are dropped")

	coinbase.EmitTicker(domain.Ticker{Symbol: "ETH-USDT", Last: 5})
	assert.Equal(t, 5.0, f.cache.LastPrice("ETH-USDT"))

	assert.Eventually(t, func() bool { return !binance.IsConnected() }, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.pool.Refs("binance"))
	assert.Equal(t, 1, f.pool.Refs("coinbase"))

	require.NoError(t, f.feed.SwitchExchange(ctx, "coinbase"))
	assert.Equal(t, 1, coinbase.Handlers(), "handlers are attached once per adapter")
}

func TestMarketFeed_Subscriptions(t *testing.T) {
	f := newFeedFixture(t)
	assert.ErrorIs(t, f.feed.Subscribe("BTC-USDT"), domain.ErrNotConnected)

	require.NoError(t, f.feed.Start(context.Background(), "bybit", nil))
	require.NoError(t, f.feed.Subscribe("SOL-USDT"))
	require.NoError(t, f.feed.Unsubscribe("SOL-USDT"))

	_, unsubscribed := f.adapter("bybit").Subscriptions()
	assert.Equal(t, []string{"SOL-USDT"}, unsubscribed)
	assert.Empty(t, f.cache.SelectedSymbols())
}

func TestMarketFeed_RESTPassThrough(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()

	_, err := f.feed.Candles(ctx, "BTC-USDT", "1h", 10)
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	require.NoError(t, f.feed.Start(ctx, "binance", nil))
	mock := f.adapter("binance")
	mock.Candles = []domain.Candle{{Timestamp: 1, Close: 10}}
	mock.InstrumentList = []domain.Instrument{{Symbol: "BTC-USDT"}}
	mock.RESTTicker = &domain.Ticker{Symbol: "BTC-USDT", Last: 42}

	candles, err := f.feed.Candles(ctx, "BTC-USDT", "1h", 10)
	require.NoError(t, err)
	assert.Len(t, candles, 1)

	instruments, err := f.feed.LoadInstruments(ctx)
	require.NoError(t, err)
	assert.Len(t, instruments, 1)
	_, ok := f.cache.Instrument("BTC-USDT")
	assert.True(t, ok)

	ticker, err := f.feed.Ticker(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, 42.0, ticker.Last, "REST fallback")

	mock.EmitTicker(domain.Ticker{Symbol: "BTC-USDT", Last: 43})
	ticker, err = f.feed.Ticker(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, 43.0, ticker.Last, "cached value preferred")
}

func TestMarketFeed_PollsMetrics(t *testing.T) {
	f := newFeedFixture(t)
	require.NoError(t, f.feed.Start(context.Background(), "binance", nil))

	f.adapter("binance").SetMetrics(domain.ConnectionMetrics{MessagesReceived: 7, Latency: 12})
	assert.Eventually(t, func() bool {
		return f.feed.Metrics().MessagesReceived == 7
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(12), f.feed.Metrics().Latency)

	f.feed.Stop()
	assert.False(t, f.feed.Connected())
	assert.Empty(t, f.feed.Exchange())
}

func TestMarketFeed_FailedSwitchKeepsCurrent(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	require.NoError(t, f.feed.Start(ctx, "binance", []string{"BTC-USDT"}))
	f.adapter("binance").EmitTicker(domain.Ticker{Symbol: "BTC-USDT", Last: 100})

	err := f.feed.SwitchExchange(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrUnknownExchange)
	assert.Equal(t, "binance", f.feed.Exchange())
	assert.Equal(t, 100.0, f.cache.LastPrice("BTC-USDT"))
	assert.Equal(t, 1, f.pool.Refs("binance"))
}

func TestMarketFeed_SwitchDropsEnginePrices(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	require.NoError(t, f.feed.Start(ctx, "binance", []string{"BTC-USDT"}))
	f.adapter("binance").EmitTicker(domain.Ticker{Symbol: "BTC-USDT", Last: 100})

	require.NoError(t, f.feed.SwitchExchange(ctx, "coinbase"))
	_, ok := f.engine.LastPrice("BTC-USDT")
	assert.False(t, ok)

	order, err := f.engine.PlaceOrder(marketBuy(1))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, order.Status, "waits for a coinbase tick")

	f.adapter("coinbase").EmitTicker(domain.Ticker{Symbol: "BTC-USDT", Last: 101})
	got, _ := f.engine.Order(order.ID)
	assert.Equal(t, domain.StatusFilled, got.Status)
	assert.Equal(t, 101.0, got.AverageFillPrice)
}

func TestMarketFeed_RestartReleasesPreviousLease(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	require.NoError(t, f.feed.Start(ctx, "binance", []string{"BTC-USDT"}))
	require.NoError(t, f.feed.Start(ctx, "binance", []string{"BTC-USDT"}))
	assert.Equal(t, 1, f.pool.Refs("binance"))
	assert.Len(t, f.factory.Created("binance"), 1, "the adapter survives a restart")

	binance := f.adapter("binance")
	binance.EmitTicker(domain.Ticker{Symbol: "BTC-USDT", Last: 100})
	require.NoError(t, f.feed.Start(ctx, "bybit", nil))
	assert.Equal(t, "bybit", f.feed.Exchange())
	assert.Zero(t, f.pool.Refs("binance"))
	assert.Equal(t, 1, f.pool.Refs("bybit"))
	assert.Empty(t, f.cache.Tickers())
	assert.Eventually(t, func() bool { return !binance.IsConnected() }, time.Second, 5*time.Millisecond)
}
