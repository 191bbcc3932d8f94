package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/vitos/crypto_paper_trade/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	CoinbaseWSURL   = "wss://ws-feed.exchange.coinbase.com"
	CoinbaseRESTURL = "https://api.exchange.coinbase.com"
)

// CoinbaseAdapter streams the Coinbase Exchange public feed. Product ids
// already use the canonical BASE-QUOTE form.
type CoinbaseAdapter struct {
	*Stream
	listeners
	rest  *restClient
	books bookKeeper
	now   func() time.Time
}

func NewCoinbaseAdapter(opts Options) *CoinbaseAdapter {
	opts = opts.withDefaults(CoinbaseWSURL, CoinbaseRESTURL)
	c := &CoinbaseAdapter{
		rest: newRESTClient("coinbase", opts),
		now:  time.Now,
	}
	c.Stream = newStream("coinbase", opts.WSURL, c, opts)
	return c
}

func (c *CoinbaseAdapter) Name() string { return "coinbase" }

func (c *CoinbaseAdapter) SymbolToExchange(canonical string) string { return canonical }

func (c *CoinbaseAdapter) SymbolFromExchange(native string) string { return native }

// --- WebSocket ---

type coinbaseRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

func coinbaseChannels(channels []domain.Channel) []string {
	var out []string
	for _, want := range []struct {
		canonical domain.Channel
		native    string
	}{
		{domain.ChannelTicker, "ticker"},
		{domain.ChannelOrderBook, "level2"},
		{domain.ChannelTrades, "matches"},
	} {
		for _, ch := range channels {
			if ch == want.canonical {
				out = append(out, want.native)
				break
			}
		}
	}
	return out
}

func (c *CoinbaseAdapter) subscription(op subscriptionOp, symbols []string, channels []domain.Channel) []interface{} {
	native := coinbaseChannels(channels)
	if len(native) == 0 || len(symbols) == 0 {
		return nil
	}
	products := make([]string, len(symbols))
	for i, s := range symbols {
		products[i] = c.SymbolToExchange(s)
	}
	return []interface{}{coinbaseRequest{Type: string(op), ProductIDs: products, Channels: native}}
}

func (c *CoinbaseAdapter) keepalive() interface{} { return nil }

func (c *CoinbaseAdapter) handle(raw []byte) (int64, error) {
	ev, err := decodeCoinbase(raw)
	if err != nil {
		return 0, err
	}
	c.dispatch(ev, &c.books, false, c.now())
	return ev.Time, nil
}

type coinbaseMessage struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Time      string     `json:"time"`
	Price     string     `json:"price"`
	Open24h   string     `json:"open_24h"`
	Volume24h string     `json:"volume_24h"`
	Low24h    string     `json:"low_24h"`
	High24h   string     `json:"high_24h"`
	BestBid   string     `json:"best_bid"`
	BestAsk   string     `json:"best_ask"`
	Size      string     `json:"size"`
	Side      string     `json:"side"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	Changes   [][]string `json:"changes"`
	Message   string     `json:"message"`
}

func coinbaseTime(s string) int64 {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// decodeCoinbase normalizes one feed message.
func decodeCoinbase(raw []byte) (Event, error) {
	var m coinbaseMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Event{}, fmt.Errorf("coinbase: %w | raw: %s", err, truncate(string(raw), 100))
	}
	ts := coinbaseTime(m.Time)

	switch m.Type {
	case "ticker":
		last := parseNum(m.Price)
		open := parseNum(m.Open24h)
		return Event{Kind: EventTicker, Time: ts, Ticker: domain.Ticker{
			Symbol:    m.ProductID,
			Last:      last,
			Change24h: (last - open) / open * 100,
			Volume24h: parseNum(m.Volume24h),
			High24h:   parseNum(m.High24h),
			Low24h:    parseNum(m.Low24h),
			Bid:       parseNum(m.BestBid),
			Ask:       parseNum(m.BestAsk),
			Timestamp: ts,
		}}, nil

	case "snapshot":
		return Event{Kind: EventBookSnapshot, Book: domain.OrderBook{
			Symbol: m.ProductID,
			Bids:   parseLevels(m.Bids),
			Asks:   parseLevels(m.Asks),
		}}, nil

	case "l2update":
		delta := BookDelta{Symbol: m.ProductID, Timestamp: ts}
		for _, ch := range m.Changes {
			if len(ch) < 3 {
				continue
			}
			side := domain.BookAsk
			if ch[0] == "buy" {
				side = domain.BookBid
			}
			delta.Changes = append(delta.Changes, domain.BookChange{Side: side, Price: parseNum(ch[1]), Quantity: parseNum(ch[2])})
		}
		return Event{Kind: EventBookDelta, Time: ts, Delta: delta}, nil

	case "match", "last_match":
		// side is the maker side; the aggressor is the opposite.
		side := domain.TradeBuy
		if m.Side == "buy" {
			side = domain.TradeSell
		}
		return Event{Kind: EventTrade, Time: ts, Trades: []domain.Trade{{
			Symbol:    m.ProductID,
			Price:     parseNum(m.Price),
			Quantity:  parseNum(m.Size),
			Side:      side,
			Timestamp: ts,
		}}}, nil

	case "error":
		return Event{}, fmt.Errorf("coinbase feed error: %s", m.Message)
	}

	return Event{}, nil
}

// --- REST API ---

var coinbaseGranularity = map[string]int{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"1h":  3600,
	"6h":  21600,
	"1d":  86400,
}

func coinbaseInterval(interval string) int {
	if g, ok := coinbaseGranularity[interval]; ok {
		return g
	}
	return 3600
}

func (c *CoinbaseAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	granularity := coinbaseInterval(interval)
	end := c.now().Unix()
	start := end - int64(granularity*limit)

	q := url.Values{}
	q.Set("start", strconv.FormatInt(start, 10))
	q.Set("end", strconv.FormatInt(end, 10))
	q.Set("granularity", strconv.Itoa(granularity))

	var rows [][]float64
	if err := c.rest.getJSON(ctx, "/products/"+c.SymbolToExchange(symbol)+"/candles", q, &rows); err != nil {
		return nil, err
	}

	// [time, low, high, open, close, volume], newest first
	candles := make([]domain.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		candles = append(candles, domain.Candle{
			Timestamp: int64(row[0]) * 1000,
			Low:       row[1],
			High:      row[2],
			Open:      row[3],
			Close:     row[4],
			Volume:    row[5],
		})
	}
	return candles, nil
}

func (c *CoinbaseAdapter) GetInstruments(ctx context.Context) ([]domain.Instrument, error) {
	var products []struct {
		ID             string `json:"id"`
		BaseCurrency   string `json:"base_currency"`
		QuoteCurrency  string `json:"quote_currency"`
		BaseMinSize    string `json:"base_min_size"`
		BaseMaxSize    string `json:"base_max_size"`
		BaseIncrement  string `json:"base_increment"`
		QuoteIncrement string `json:"quote_increment"`
		Status         string `json:"status"`
	}
	if err := c.rest.getJSON(ctx, "/products", nil, &products); err != nil {
		return nil, err
	}

	var instruments []domain.Instrument
	for _, p := range products {
		if p.Status != "online" {
			continue
		}
		instruments = append(instruments, domain.Instrument{
			Symbol:       c.SymbolFromExchange(p.ID),
			BaseAsset:    p.BaseCurrency,
			QuoteAsset:   p.QuoteCurrency,
			Type:         domain.MarketSpot,
			MinQuantity:  parseNumOr(p.BaseMinSize, 0),
			MaxQuantity:  parseNumOr(p.BaseMaxSize, 0),
			QuantityStep: parseNumOr(p.BaseIncrement, 0),
			PriceStep:    parseNumOr(p.QuoteIncrement, 0),
		})
	}
	return instruments, nil
}

func (c *CoinbaseAdapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	product := c.SymbolToExchange(symbol)

	var tick struct {
		Price string `json:"price"`
		Bid   string `json:"bid"`
		Ask   string `json:"ask"`
		Time  string `json:"time"`
	}
	var stats struct {
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Volume string `json:"volume"`
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.rest.getJSON(gctx, "/products/"+product+"/ticker", nil, &tick) })
	g.Go(func() error { return c.rest.getJSON(gctx, "/products/"+product+"/stats", nil, &stats) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	last := parseNum(tick.Price)
	open := parseNum(stats.Open)
	return &domain.Ticker{
		Symbol:    c.SymbolFromExchange(product),
		Last:      last,
		Change24h: (last - open) / open * 100,
		Volume24h: parseNum(stats.Volume),
		High24h:   parseNum(stats.High),
		Low24h:    parseNum(stats.Low),
		Bid:       parseNum(tick.Bid),
		Ask:       parseNum(tick.Ask),
		Timestamp: coinbaseTime(tick.Time),
	}, nil
}

// Disconnect closes the stream and drops locally maintained books.
func (c *CoinbaseAdapter) Disconnect() {
	c.Stream.Disconnect()
	c.books.reset()
}
