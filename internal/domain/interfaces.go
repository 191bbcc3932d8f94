package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownExchange = errors.New("unknown exchange")
	ErrNotConnected    = errors.New("not connected")
)

// Exchange is the adapter contract every exchange module implements.
// Symbols crossing this boundary are canonical (BASE-QUOTE).
type Exchange interface {
	Name() string

	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(symbols []string, channels []Channel) error
	Unsubscribe(symbols []string, channels []Channel) error

	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetInstruments(ctx context.Context) ([]Instrument, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	SymbolToExchange(canonical string) string
	SymbolFromExchange(native string) string

	OnTicker(callback func(Ticker))
	OnOrderBook(callback func(OrderBook))
	OnTrade(callback func(Trade))

	Metrics() ConnectionMetrics
	IsConnected() bool
}

// TradeJournal persists paper trading history. It is an external
// collaborator of the engine and is fed through engine observers.
type TradeJournal interface {
	SaveOrder(ctx context.Context, order *Order) error
	ListOrders(ctx context.Context, limit int) ([]*Order, error)

	SaveClosedPosition(ctx context.Context, closed *ClosedPosition) error
	ListClosedPositions(ctx context.Context, limit int) ([]*ClosedPosition, error)

	SaveReduction(ctx context.Context, reduction *PositionReduction) error
	ListReductions(ctx context.Context, limit int) ([]*PositionReduction, error)
}
