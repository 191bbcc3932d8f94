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
	BinanceWSURL   = "wss://stream.binance.com:9443/stream"
	BinanceRESTURL = "https://api.binance.com"
)

// BinanceAdapter streams the Binance spot combined-stream endpoint.
type BinanceAdapter struct {
	*Stream
	listeners
	rest    *restClient
	books   bookKeeper
	symbols symbolTable
	now     func() time.Time
}

func NewBinanceAdapter(opts Options) *BinanceAdapter {
	opts = opts.withDefaults(BinanceWSURL, BinanceRESTURL)
	b := &BinanceAdapter{
		rest: newRESTClient("binance", opts),
		now:  time.Now,
	}
	b.Stream = newStream("binance", opts.WSURL, b, opts)
	return b
}

func (b *BinanceAdapter) Name() string { return "binance" }

func (b *BinanceAdapter) SymbolToExchange(canonical string) string { return b.symbols.toNative(canonical) }

func (b *BinanceAdapter) SymbolFromExchange(native string) string { return b.symbols.fromNative(native) }

// --- WebSocket ---

type binanceRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func binanceStreams(table *symbolTable, symbols []string, channels []domain.Channel) []string {
	var streams []string
	for _, s := range symbols {
		native := strings.ToLower(table.toNative(s))
		for _, ch := range channels {
			switch ch {
			case domain.ChannelTicker:
				streams = append(streams, native+"@ticker")
			case domain.ChannelOrderBook:
				streams = append(streams, native+"@depth20@100ms")
			case domain.ChannelTrades:
				streams = append(streams, native+"@trade")
			}
		}
	}
	return streams
}

func (b *BinanceAdapter) subscription(op subscriptionOp, symbols []string, channels []domain.Channel) []interface{} {
	streams := binanceStreams(&b.symbols, symbols, channels)
	if len(streams) == 0 {
		return nil
	}
	return []interface{}{binanceRequest{
		Method: strings.ToUpper(string(op)),
		Params: streams,
		ID:     b.now().UnixNano(),
	}}
}

func (b *BinanceAdapter) keepalive() interface{} { return nil }

func (b *BinanceAdapter) handle(raw []byte) (int64, error) {
	ev, err := decodeBinance(raw, &b.symbols)
	if err != nil {
		return 0, err
	}
	b.dispatch(ev, &b.books, true, b.now())
	return ev.Time, nil
}

// Wire shapes. Keys differing only in case are all declared so that
// encoding/json's case-insensitive matching cannot cross-assign them.
type binanceProbe struct {
	Stream    string          `json:"stream"`
	Data      json.RawMessage `json:"data"`
	Event     string          `json:"e"`
	EventTime json.RawMessage `json:"E"`
}

type binanceTicker struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	PriceChange  string `json:"p"`
	ChangePct    string `json:"P"`
	Last         string `json:"c"`
	LastQty      string `json:"Q"`
	Bid          string `json:"b"`
	BidQty       string `json:"B"`
	Ask          string `json:"a"`
	AskQty       string `json:"A"`
	Open         string `json:"o"`
	OpenTime     int64  `json:"O"`
	CloseTime    int64  `json:"C"`
	High         string `json:"h"`
	Low          string `json:"l"`
	LastTradeID  int64  `json:"L"`
	Volume       string `json:"v"`
	QuoteVolume  string `json:"q"`
	FirstTradeID int64  `json:"F"`
}

type binanceDepthUpdate struct {
	Event     string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	FirstID   int64      `json:"U"`
	FinalID   int64      `json:"u"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

type binancePartialDepth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type binanceTrade struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	Maker     bool   `json:"m"`
	Ignore    bool   `json:"M"`
}

// decodeBinance normalizes one raw or combined-stream message.
func decodeBinance(raw []byte, symbols *symbolTable) (Event, error) {
	var probe binanceProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Event{}, fmt.Errorf("binance: %w | raw: %s", err, truncate(string(raw), 100))
	}

	stream := ""
	payload := raw
	if probe.Stream != "" && len(probe.Data) > 0 {
		stream = probe.Stream
		payload = probe.Data
		probe = binanceProbe{}
		if err := json.Unmarshal(payload, &probe); err != nil {
			return Event{}, fmt.Errorf("binance: %w", err)
		}
	}

	switch probe.Event {
	case "24hrTicker":
		var t binanceTicker
		if err := json.Unmarshal(payload, &t); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventTicker, Time: t.EventTime, Ticker: domain.Ticker{
			Symbol:    symbols.fromNative(t.Symbol),
			Last:      parseNum(t.Last),
			Change24h: parseNum(t.ChangePct),
			Volume24h: parseNum(t.Volume),
			High24h:   parseNum(t.High),
			Low24h:    parseNum(t.Low),
			Bid:       parseNum(t.Bid),
			Ask:       parseNum(t.Ask),
			Timestamp: t.EventTime,
		}}, nil

	case "depthUpdate":
		var d binanceDepthUpdate
		if err := json.Unmarshal(payload, &d); err != nil {
			return Event{}, err
		}
		delta := BookDelta{Symbol: symbols.fromNative(d.Symbol), Timestamp: d.EventTime}
		for _, l := range parseLevels(d.Bids) {
			delta.Changes = append(delta.Changes, domain.BookChange{Side: domain.BookBid, Price: l.Price, Quantity: l.Quantity})
		}
		for _, l := range parseLevels(d.Asks) {
			delta.Changes = append(delta.Changes, domain.BookChange{Side: domain.BookAsk, Price: l.Price, Quantity: l.Quantity})
		}
		return Event{Kind: EventBookDelta, Time: d.EventTime, Delta: delta}, nil

	case "trade":
		var t binanceTrade
		if err := json.Unmarshal(payload, &t); err != nil {
			return Event{}, err
		}
		side := domain.TradeBuy
		if t.Maker {
			side = domain.TradeSell
		}
		return Event{Kind: EventTrade, Time: t.EventTime, Trades: []domain.Trade{{
			Symbol:    symbols.fromNative(t.Symbol),
			Price:     parseNum(t.Price),
			Quantity:  parseNum(t.Quantity),
			Side:      side,
			Timestamp: t.TradeTime,
		}}}, nil

	case "":
		// Partial depth payloads carry no event type and no symbol; the
		// symbol is only known from the combined stream name.
		native, kind, ok := strings.Cut(stream, "@")
		if !ok || !strings.HasPrefix(kind, "depth") {
			return Event{}, nil
		}
		var d binancePartialDepth
		if err := json.Unmarshal(payload, &d); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventBookSnapshot, Book: domain.OrderBook{
			Symbol: symbols.fromNative(native),
			Bids:   parseLevels(d.Bids),
			Asks:   parseLevels(d.Asks),
		}}, nil
	}

	return Event{}, nil
}

// --- REST API ---

var binanceIntervals = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "12h": "12h",
	"1d": "1d", "1w": "1w",
}

func binanceInterval(interval string) string {
	if v, ok := binanceIntervals[interval]; ok {
		return v
	}
	return "1h"
}

func (b *BinanceAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("symbol", b.SymbolToExchange(symbol))
	q.Set("interval", binanceInterval(interval))
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]interface{}
	if err := b.rest.getJSON(ctx, "/api/v3/klines", q, &rows); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		// [openTime, open, high, low, close, volume, closeTime, ...]
		if len(row) < 6 {
			continue
		}
		candles = append(candles, domain.Candle{
			Timestamp: toInt64(row[0]),
			Open:      toFloat(row[1]),
			High:      toFloat(row[2]),
			Low:       toFloat(row[3]),
			Close:     toFloat(row[4]),
			Volume:    toFloat(row[5]),
		})
	}
	return candles, nil
}

func (b *BinanceAdapter) GetInstruments(ctx context.Context) ([]domain.Instrument, error) {
	var result struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType string `json:"filterType"`
				MinQty     string `json:"minQty"`
				MaxQty     string `json:"maxQty"`
				StepSize   string `json:"stepSize"`
				MinPrice   string `json:"minPrice"`
				MaxPrice   string `json:"maxPrice"`
				TickSize   string `json:"tickSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := b.rest.getJSON(ctx, "/api/v3/exchangeInfo", nil, &result); err != nil {
		return nil, err
	}

	var instruments []domain.Instrument
	for _, s := range result.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		inst := domain.Instrument{
			Symbol:     b.symbols.list(s.Symbol, s.BaseAsset, s.QuoteAsset),
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Type:       domain.MarketSpot,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				inst.MinQuantity = parseNumOr(f.MinQty, 0)
				inst.MaxQuantity = parseNumOr(f.MaxQty, 0)
				inst.QuantityStep = parseNumOr(f.StepSize, 0)
			case "PRICE_FILTER":
				inst.MinPrice = parseNumOr(f.MinPrice, 0)
				inst.MaxPrice = parseNumOr(f.MaxPrice, 0)
				inst.PriceStep = parseNumOr(f.TickSize, 0)
			}
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

func (b *BinanceAdapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	q := url.Values{}
	q.Set("symbol", b.SymbolToExchange(symbol))

	var t struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		Volume             string `json:"volume"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		BidPrice           string `json:"bidPrice"`
		AskPrice           string `json:"askPrice"`
		CloseTime          int64  `json:"closeTime"`
	}
	if err := b.rest.getJSON(ctx, "/api/v3/ticker/24hr", q, &t); err != nil {
		return nil, err
	}
	return &domain.Ticker{
		Symbol:    b.SymbolFromExchange(t.Symbol),
		Last:      parseNum(t.LastPrice),
		Change24h: parseNum(t.PriceChangePercent),
		Volume24h: parseNum(t.Volume),
		High24h:   parseNum(t.HighPrice),
		Low24h:    parseNum(t.LowPrice),
		Bid:       parseNum(t.BidPrice),
		Ask:       parseNum(t.AskPrice),
		Timestamp: t.CloseTime,
	}, nil
}

// Disconnect closes the stream and drops locally maintained books.
func (b *BinanceAdapter) Disconnect() {
	b.Stream.Disconnect()
	b.books.reset()
}
