package exchange

import (
	"time"

	"github.com/vitos/crypto_paper_trade/internal/domain"
)

type EventKind int

const (
	EventNone EventKind = iota
	EventTicker
	EventBookSnapshot
	EventBookDelta
	EventTrade
)

// BookDelta is an incremental order book update in canonical form.
type BookDelta struct {
	Symbol    string
	Changes   []domain.BookChange
	Timestamp int64
}

// Event is the canonical result of normalizing one wire message.
// Exactly one payload matches Kind; EventNone means the message is ignored.
// Trades holds a batch for feeds that deliver several executions at once.
type Event struct {
	Kind   EventKind
	Time   int64 // exchange event time, unix ms, 0 if absent
	Ticker domain.Ticker
	Book   domain.OrderBook
	Delta  BookDelta
	Trades []domain.Trade
}

// dispatch routes a decoded event to the registered callbacks. Missing
// timestamps are stamped with the local receive time.
func (l *listeners) dispatch(ev Event, books *bookKeeper, createOnDelta bool, now time.Time) {
	switch ev.Kind {
	case EventTicker:
		if ev.Ticker.Timestamp == 0 {
			ev.Ticker.Timestamp = now.UnixMilli()
		}
		l.tickers.emit(ev.Ticker)
	case EventBookSnapshot:
		if ev.Book.Timestamp == 0 {
			ev.Book.Timestamp = now.UnixMilli()
		}
		l.books.emit(books.snapshot(ev.Book))
	case EventBookDelta:
		if ev.Delta.Timestamp == 0 {
			ev.Delta.Timestamp = now.UnixMilli()
		}
		if book, ok := books.apply(ev.Delta, createOnDelta); ok {
			l.books.emit(book)
		}
	case EventTrade:
		for _, t := range ev.Trades {
			if t.Timestamp == 0 {
				t.Timestamp = now.UnixMilli()
			}
			l.trades.emit(t)
		}
	}
}
