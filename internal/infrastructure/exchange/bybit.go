package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/crypto_paper_trade/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/spot"

	// Spot connections accept at most this many topics per request.
	bybitMaxArgs = 10
)

// BybitAdapter streams the Bybit v5 public spot feed.
type BybitAdapter struct {
	*Stream
	listeners
	rest    *restClient
	books   bookKeeper
	symbols symbolTable
	now     func() time.Time
}

func NewBybitAdapter(opts Options) *BybitAdapter {
	opts = opts.withDefaults(BybitWSURL, BybitBaseURL)
	b := &BybitAdapter{
		rest: newRESTClient("bybit", opts),
		now:  time.Now,
	}
	b.Stream = newStream("bybit", opts.WSURL, b, opts)
	return b
}

func (b *BybitAdapter) Name() string { return "bybit" }

func (b *BybitAdapter) SymbolToExchange(canonical string) string { return b.symbols.toNative(canonical) }

func (b *BybitAdapter) SymbolFromExchange(native string) string { return b.symbols.fromNative(native) }

// --- WebSocket ---

type bybitRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

func bybitTopics(table *symbolTable, symbols []string, channels []domain.Channel) []string {
	var topics []string
	for _, s := range symbols {
		native := table.toNative(s)
		for _, ch := range channels {
			switch ch {
			case domain.ChannelTicker:
				topics = append(topics, "tickers."+native)
			case domain.ChannelOrderBook:
				topics = append(topics, "orderbook.50."+native)
			case domain.ChannelTrades:
				topics = append(topics, "publicTrade."+native)
			}
		}
	}
	return topics
}

func (b *BybitAdapter) subscription(op subscriptionOp, symbols []string, channels []domain.Channel) []interface{} {
	topics := bybitTopics(&b.symbols, symbols, channels)
	var frames []interface{}
	for len(topics) > 0 {
		n := len(topics)
		if n > bybitMaxArgs {
			n = bybitMaxArgs
		}
		frames = append(frames, bybitRequest{Op: string(op), Args: topics[:n]})
		topics = topics[n:]
	}
	return frames
}

// keepalive is required: the server drops connections idle for 20s.
func (b *BybitAdapter) keepalive() interface{} { return bybitRequest{Op: "ping"} }

func (b *BybitAdapter) handle(raw []byte) (int64, error) {
	ev, err := decodeBybit(raw, &b.symbols)
	if err != nil {
		return 0, err
	}
	b.dispatch(ev, &b.books, false, b.now())
	return ev.Time, nil
}

type bybitMessage struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
}

type bybitTicker struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	Volume24h    string `json:"volume24h"`
	Price24hPcnt string `json:"price24hPcnt"`
	Bid1Price    string `json:"bid1Price"`
	Ask1Price    string `json:"ask1Price"`
}

type bybitBook struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID int64      `json:"u"`
}

// "s" and "S" are both declared; see binanceTicker.
type bybitTrade struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
	ID     string `json:"i"`
}

// decodeBybit normalizes one feed message. Pong and subscribe acks are
// ignored; a failed ack is returned as an error.
func decodeBybit(raw []byte, symbols *symbolTable) (Event, error) {
	var m bybitMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Event{}, fmt.Errorf("bybit: %w | raw: %s", err, truncate(string(raw), 100))
	}
	if m.Op != "" {
		if m.Success != nil && !*m.Success {
			return Event{}, fmt.Errorf("bybit %s failed: %s", m.Op, m.RetMsg)
		}
		return Event{}, nil
	}

	switch {
	case strings.HasPrefix(m.Topic, "tickers."):
		var t bybitTicker
		if err := json.Unmarshal(m.Data, &t); err != nil {
			return Event{}, fmt.Errorf("bybit ticker: %w", err)
		}
		return Event{Kind: EventTicker, Time: m.TS, Ticker: domain.Ticker{
			Symbol:    symbols.fromNative(t.Symbol),
			Last:      parseNum(t.LastPrice),
			Change24h: parseNum(t.Price24hPcnt) * 100,
			Volume24h: parseNum(t.Volume24h),
			High24h:   parseNum(t.HighPrice24h),
			Low24h:    parseNum(t.LowPrice24h),
			Bid:       parseNumOr(t.Bid1Price, 0),
			Ask:       parseNumOr(t.Ask1Price, 0),
			Timestamp: m.TS,
		}}, nil

	case strings.HasPrefix(m.Topic, "orderbook."):
		var d bybitBook
		if err := json.Unmarshal(m.Data, &d); err != nil {
			return Event{}, fmt.Errorf("bybit orderbook: %w", err)
		}
		symbol := symbols.fromNative(d.Symbol)
		// u == 1 means the server restarted the book.
		if m.Type == "snapshot" || d.UpdateID == 1 {
			return Event{Kind: EventBookSnapshot, Time: m.TS, Book: domain.OrderBook{
				Symbol:    symbol,
				Bids:      parseLevels(d.Bids),
				Asks:      parseLevels(d.Asks),
				Timestamp: m.TS,
			}}, nil
		}
		delta := BookDelta{Symbol: symbol, Timestamp: m.TS}
		for _, l := range parseLevels(d.Bids) {
			delta.Changes = append(delta.Changes, domain.BookChange{Side: domain.BookBid, Price: l.Price, Quantity: l.Quantity})
		}
		for _, l := range parseLevels(d.Asks) {
			delta.Changes = append(delta.Changes, domain.BookChange{Side: domain.BookAsk, Price: l.Price, Quantity: l.Quantity})
		}
		return Event{Kind: EventBookDelta, Time: m.TS, Delta: delta}, nil

	case strings.HasPrefix(m.Topic, "publicTrade."):
		var rows []bybitTrade
		if err := json.Unmarshal(m.Data, &rows); err != nil {
			return Event{}, fmt.Errorf("bybit trade: %w", err)
		}
		trades := make([]domain.Trade, 0, len(rows))
		for _, t := range rows {
			side := domain.TradeBuy
			if t.Side == "Sell" {
				side = domain.TradeSell
			}
			trades = append(trades, domain.Trade{
				Symbol:    symbols.fromNative(t.Symbol),
				Price:     parseNum(t.Price),
				Quantity:  parseNum(t.Size),
				Side:      side,
				Timestamp: t.Time,
			})
		}
		if len(trades) == 0 {
			return Event{}, nil
		}
		return Event{Kind: EventTrade, Time: m.TS, Trades: trades}, nil
	}

	return Event{}, nil
}

// --- REST API ---

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// get unwraps the v5 envelope into out and returns the server time.
func (b *BybitAdapter) get(ctx context.Context, path string, q url.Values, out interface{}) (int64, error) {
	var env bybitEnvelope
	if err := b.rest.getJSON(ctx, path, q, &env); err != nil {
		return 0, err
	}
	if env.RetCode != 0 {
		return 0, fmt.Errorf("bybit api error %d: %s", env.RetCode, env.RetMsg)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return 0, fmt.Errorf("bybit: decode %s: %w", path, err)
	}
	return env.Time, nil
}

var bybitIntervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W",
}

func bybitInterval(interval string) string {
	if v, ok := bybitIntervals[interval]; ok {
		return v
	}
	return "60"
}

func (b *BybitAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", b.SymbolToExchange(symbol))
	q.Set("interval", bybitInterval(interval))
	q.Set("limit", strconv.Itoa(limit))

	var result struct {
		List [][]string `json:"list"`
	}
	if _, err := b.get(ctx, "/v5/market/kline", q, &result); err != nil {
		return nil, err
	}

	// [startTime, open, high, low, close, volume, turnover], newest first
	candles := make([]domain.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		candles = append(candles, domain.Candle{
			Timestamp: ts,
			Open:      parseNum(row[1]),
			High:      parseNum(row[2]),
			Low:       parseNum(row[3]),
			Close:     parseNum(row[4]),
			Volume:    parseNum(row[5]),
		})
	}
	return candles, nil
}

func (b *BybitAdapter) GetInstruments(ctx context.Context) ([]domain.Instrument, error) {
	q := url.Values{}
	q.Set("category", "spot")

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			BaseCoin      string `json:"baseCoin"`
			QuoteCoin     string `json:"quoteCoin"`
			Status        string `json:"status"`
			LotSizeFilter struct {
				BasePrecision string `json:"basePrecision"`
				MinOrderQty   string `json:"minOrderQty"`
				MaxOrderQty   string `json:"maxOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if _, err := b.get(ctx, "/v5/market/instruments-info", q, &result); err != nil {
		return nil, err
	}

	var instruments []domain.Instrument
	for _, item := range result.List {
		if item.Status != "Trading" {
			continue
		}
		instruments = append(instruments, domain.Instrument{
			Symbol:       b.symbols.list(item.Symbol, item.BaseCoin, item.QuoteCoin),
			BaseAsset:    item.BaseCoin,
			QuoteAsset:   item.QuoteCoin,
			Type:         domain.MarketSpot,
			MinQuantity:  parseNumOr(item.LotSizeFilter.MinOrderQty, 0),
			MaxQuantity:  parseNumOr(item.LotSizeFilter.MaxOrderQty, 0),
			QuantityStep: parseNumOr(item.LotSizeFilter.BasePrecision, 0),
			PriceStep:    parseNumOr(item.PriceFilter.TickSize, 0),
		})
	}
	return instruments, nil
}

func (b *BybitAdapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", b.SymbolToExchange(symbol))

	var result struct {
		List []bybitTicker `json:"list"`
	}
	ts, err := b.get(ctx, "/v5/market/tickers", q, &result)
	if err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("bybit: symbol %s not found", symbol)
	}

	t := result.List[0]
	return &domain.Ticker{
		Symbol:    b.SymbolFromExchange(t.Symbol),
		Last:      parseNum(t.LastPrice),
		Change24h: parseNum(t.Price24hPcnt) * 100,
		Volume24h: parseNum(t.Volume24h),
		High24h:   parseNum(t.HighPrice24h),
		Low24h:    parseNum(t.LowPrice24h),
		Bid:       parseNumOr(t.Bid1Price, 0),
		Ask:       parseNumOr(t.Ask1Price, 0),
		Timestamp: ts,
	}, nil
}

// Disconnect closes the stream and drops locally maintained books.
func (b *BybitAdapter) Disconnect() {
	b.Stream.Disconnect()
	b.books.reset()
}
