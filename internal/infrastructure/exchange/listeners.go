package exchange

import (
	"math"
	"strconv"
	"sync"

	"github.com/vitos/crypto_paper_trade/internal/domain"
)

// observers is a registration-ordered callback list. The same callback may
// be registered more than once and is then called more than once.
type observers[T any] struct {
	mu        sync.Mutex
	callbacks []func(T)
}

func (o *observers[T]) add(cb func(T)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = append(o.callbacks, cb)
}

func (o *observers[T]) emit(v T) {
	o.mu.Lock()
	callbacks := make([]func(T), len(o.callbacks))
	copy(callbacks, o.callbacks)
	o.mu.Unlock()

	for _, cb := range callbacks {
		cb(v)
	}
}

// listeners carries the three canonical event streams of an adapter.
type listeners struct {
	tickers observers[domain.Ticker]
	books   observers[domain.OrderBook]
	trades  observers[domain.Trade]
}

func (l *listeners) OnTicker(callback func(domain.Ticker))       { l.tickers.add(callback) }
func (l *listeners) OnOrderBook(callback func(domain.OrderBook)) { l.books.add(callback) }
func (l *listeners) OnTrade(callback func(domain.Trade))         { l.trades.add(callback) }

// bookKeeper owns the locally maintained books of incremental feeds.
type bookKeeper struct {
	mu    sync.Mutex
	books map[string]*domain.OrderBook
}

func (k *bookKeeper) snapshot(book domain.OrderBook) domain.OrderBook {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.books == nil {
		k.books = make(map[string]*domain.OrderBook)
	}
	own := book.Clone()
	k.books[book.Symbol] = &own
	return own.Clone()
}

// apply mutates the stored book. Without a stored book the delta is dropped
// unless create is set.
func (k *bookKeeper) apply(delta BookDelta, create bool) (domain.OrderBook, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.books == nil {
		k.books = make(map[string]*domain.OrderBook)
	}
	book, ok := k.books[delta.Symbol]
	if !ok {
		if !create {
			return domain.OrderBook{}, false
		}
		book = &domain.OrderBook{Symbol: delta.Symbol}
		k.books[delta.Symbol] = book
	}
	for _, c := range delta.Changes {
		book.Apply(c)
	}
	if delta.Timestamp > 0 {
		book.Timestamp = delta.Timestamp
	}
	return book.Clone(), true
}

func (k *bookKeeper) reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.books = nil
}

// parseNum parses a decimal string. Malformed input yields NaN instead of an
// error so one bad field never drops the whole message. NaN stays in ticker
// and trade values; book levels with a NaN price are dropped by parseLevels
// and OrderBook.Apply since they cannot be ordered.
func parseNum(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// parseNumOr is parseNum with a fallback for empty strings.
func parseNumOr(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	return parseNum(s)
}

func parseLevels(raw [][]string) []domain.OrderBookLevel {
	levels := make([]domain.OrderBookLevel, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		price := parseNum(l[0])
		if math.IsNaN(price) {
			continue
		}
		levels = append(levels, domain.OrderBookLevel{Price: price, Quantity: parseNum(l[1])})
	}
	return levels
}

func toInt64(v interface{}) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case string:
		i, _ := strconv.ParseInt(val, 10, 64)
		return i
	case int64:
		return val
	default:
		return 0
	}
}

func toFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		return parseNum(val)
	default:
		return math.NaN()
	}
}
