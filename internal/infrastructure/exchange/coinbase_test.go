package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_paper_trade/internal/domain"
)

func TestDecodeCoinbase_Ticker(t *testing.T) {
	raw := `{"type":"ticker","product_id":"BTC-USD","price":"110","open_24h":"100","volume_24h":"5","low_24h":"90","high_24h":"120","best_bid":"109","best_ask":"111","time":"2023-11-14T22:13:20.000000Z"}`

	ev, err := decodeCoinbase([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, EventTicker, ev.Kind)
	assert.Equal(t, int64(1700000000000), ev.Time)
	assert.Equal(t, "BTC-USD", ev.Ticker.Symbol)
	assert.InDelta(t, 10.0, ev.Ticker.Change24h, 1e-9)
	assert.Equal(t, 109.0, ev.Ticker.Bid)
	assert.Equal(t, 111.0, ev.Ticker.Ask)
}

func TestDecodeCoinbase_MatchUsesAggressorSide(t *testing.T) {
	ev, err := decodeCoinbase([]byte(`{"type":"match","product_id":"ETH-USD","price":"2000","size":"0.25","side":"buy","time":"2023-11-14T22:13:20Z"}`))
	require.NoError(t, err)
	require.Len(t, ev.Trades, 1)
	assert.Equal(t, domain.TradeSell, ev.Trades[0].Side)

	ev, err = decodeCoinbase([]byte(`{"type":"last_match","product_id":"ETH-USD","price":"2000","size":"0.25","side":"sell","time":"2023-11-14T22:13:20Z"}`))
	require.NoError(t, err)
	require.Len(t, ev.Trades, 1)
	assert.Equal(t, domain.TradeBuy, ev.Trades[0].Side)
	assert.Equal(t, 0.25, ev.Trades[0].Quantity)
}

func TestDecodeCoinbase_ErrorAndIgnored(t *testing.T) {
	_, err := decodeCoinbase([]byte(`{"type":"error","message":"Failed to subscribe"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to subscribe")

	ev, err := decodeCoinbase([]byte(`{"type":"subscriptions","channels":[]}`))
	require.NoError(t, err)
	assert.Equal(t, EventNone, ev.Kind)
}

func TestCoinbaseAdapter_Level2(t *testing.T) {
	c := NewCoinbaseAdapter(Options{Dialer: &fakeDialer{}})
	var books []domain.OrderBook
	c.OnOrderBook(func(ob domain.OrderBook) { books = append(books, ob) })

	// Updates before the snapshot have nothing to apply to.
	_, err := c.handle([]byte(`{"type":"l2update","product_id":"BTC-USD","changes":[["buy","100","1"]],"time":"2023-11-14T22:13:20Z"}`))
	require.NoError(t, err)
	assert.Empty(t, books)

	_, err = c.handle([]byte(`{"type":"snapshot","product_id":"BTC-USD","bids":[["100","1"],["99","2"]],"asks":[["101","1"]]}`))
	require.NoError(t, err)
	_, err = c.handle([]byte(`{"type":"l2update","product_id":"BTC-USD","changes":[["buy","100","0"],["sell","102","4"],["bogus"]],"time":"2023-11-14T22:13:21Z"}`))
	require.NoError(t, err)

	require.Len(t, books, 2)
	assert.NotZero(t, books[0].Timestamp)
	assert.Equal(t, []domain.OrderBookLevel{{Price: 99, Quantity: 2}}, books[1].Bids)
	assert.Equal(t, []domain.OrderBookLevel{{Price: 101, Quantity: 1}, {Price: 102, Quantity: 4}}, books[1].Asks)
	assert.Equal(t, int64(1700000001000), books[1].Timestamp)

	c.Disconnect()
	_, err = c.handle([]byte(`{"type":"l2update","product_id":"BTC-USD","changes":[["buy","98","1"]],"time":"2023-11-14T22:13:22Z"}`))
	require.NoError(t, err)
	assert.Len(t, books, 2, "disconnect drops local books")
}

func TestCoinbaseAdapter_Subscription(t *testing.T) {
	c := NewCoinbaseAdapter(Options{Dialer: &fakeDialer{}})

	frames := c.subscription(opSubscribe, []string{"BTC-USD", "ETH-USD"}, []domain.Channel{domain.ChannelTrades, domain.ChannelTicker})
	require.Len(t, frames, 1)
	assert.Equal(t, coinbaseRequest{
		Type:       "subscribe",
		ProductIDs: []string{"BTC-USD", "ETH-USD"},
		Channels:   []string{"ticker", "matches"},
	}, frames[0])
}

func TestCoinbaseAdapter_REST(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products/BTC-USD/candles", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3600", r.URL.Query().Get("granularity"))
		assert.Equal(t, "1700007200", r.URL.Query().Get("end"))
		assert.Equal(t, "1700000000", r.URL.Query().Get("start"))
		w.Write([]byte(`[[1700003600,1.4,3,1.5,2.5,200],[1700000000,0.5,2,1,1.5,100]]`))
	})
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"BTC-USD","base_currency":"BTC","quote_currency":"USD","base_min_size":"0.0001","base_max_size":"1000","base_increment":"0.00000001","quote_increment":"0.01","status":"online"},
			{"id":"OLD-USD","base_currency":"OLD","quote_currency":"USD","status":"delisted"}]`))
	})
	mux.HandleFunc("GET /products/BTC-USD/ticker", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"105","bid":"104","ask":"106","time":"2023-11-14T22:13:20Z"}`))
	})
	mux.HandleFunc("GET /products/BTC-USD/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"open":"100","high":"110","low":"95","volume":"12"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewCoinbaseAdapter(Options{RESTURL: srv.URL, Dialer: &fakeDialer{}})
	c.now = func() time.Time { return time.Unix(1700007200, 0) }
	ctx := context.Background()

	candles, err := c.GetCandles(ctx, "BTC-USD", "2h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, domain.Candle{Timestamp: 1700000000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}, candles[0])
	assert.Equal(t, int64(1700003600000), candles[1].Timestamp)

	instruments, err := c.GetInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, instruments, 1)
	assert.Equal(t, "BTC-USD", instruments[0].Symbol)
	assert.Equal(t, 0.01, instruments[0].PriceStep)

	ticker, err := c.GetTicker(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 105.0, ticker.Last)
	assert.InDelta(t, 5.0, ticker.Change24h, 1e-9)
	assert.Equal(t, 12.0, ticker.Volume24h)
	assert.Equal(t, int64(1700000000000), ticker.Timestamp)
}

func TestCoinbaseInterval(t *testing.T) {
	assert.Equal(t, 60, coinbaseInterval("1m"))
	assert.Equal(t, 86400, coinbaseInterval("1d"))
	assert.Equal(t, 3600, coinbaseInterval("3w"))
}
