package domain

// MarketType is the kind of market an instrument trades on.
type MarketType string

const (
	MarketSpot      MarketType = "spot"
	MarketPerpetual MarketType = "perpetual"
	MarketFuture    MarketType = "future"
)

// Instrument is reference metadata for a tradable symbol. It is replaced
// wholesale on refresh.
type Instrument struct {
	Symbol       string     `json:"symbol"`
	BaseAsset    string     `json:"base_asset"`
	QuoteAsset   string     `json:"quote_asset"`
	Type         MarketType `json:"type"`
	MinQuantity  float64    `json:"min_quantity"`
	MaxQuantity  float64    `json:"max_quantity"`
	QuantityStep float64    `json:"quantity_step"`
	MinPrice     float64    `json:"min_price"`
	MaxPrice     float64    `json:"max_price"`
	PriceStep    float64    `json:"price_step"`
}

// Ticker is the latest summary snapshot for a symbol. Timestamp is unix ms.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Change24h float64 `json:"change_24h"` // percent
	Volume24h float64 `json:"volume_24h"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Timestamp int64   `json:"timestamp"`
}

type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// Trade is a public execution. Side is the aggressor side.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Side      TradeSide `json:"side"`
	Timestamp int64     `json:"timestamp"`
}

// Candle is one OHLCV bar. Timestamp is the bar open time in unix ms.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Channel is a canonical market data subscription channel.
type Channel string

const (
	ChannelTicker    Channel = "ticker"
	ChannelOrderBook Channel = "orderbook"
	ChannelTrades    Channel = "trades"
)

// Valid reports whether c is one of the canonical channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelTicker, ChannelOrderBook, ChannelTrades:
		return true
	}
	return false
}

// ConnectionMetrics describe the health of a streaming connection.
type ConnectionMetrics struct {
	Latency          int64 `json:"latency"` // ms, last computed one-way latency
	Reconnects       int   `json:"reconnects"`
	MessagesReceived int64 `json:"messages_received"`
	LastHeartbeat    int64 `json:"last_heartbeat"` // unix ms
}
