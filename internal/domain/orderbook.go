package domain

import (
	"math"
	"sort"
)

type BookSide string

const (
	BookBid BookSide = "bid"
	BookAsk BookSide = "ask"
)

type OrderBookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook holds bids sorted by price descending and asks ascending.
type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp int64            `json:"timestamp"`
}

// BookChange is one incremental level update. A zero quantity removes the level.
type BookChange struct {
	Side     BookSide
	Price    float64
	Quantity float64
}

// Apply mutates the book with a single level change. A change with a NaN
// price cannot be ordered and is dropped.
func (b *OrderBook) Apply(c BookChange) {
	if math.IsNaN(c.Price) {
		return
	}
	if c.Side == BookBid {
		b.Bids = applyLevel(b.Bids, c.Price, c.Quantity, true)
		return
	}
	b.Asks = applyLevel(b.Asks, c.Price, c.Quantity, false)
}

// Clone returns a deep copy so callers never share level slices.
func (b OrderBook) Clone() OrderBook {
	out := b
	out.Bids = append([]OrderBookLevel(nil), b.Bids...)
	out.Asks = append([]OrderBookLevel(nil), b.Asks...)
	return out
}

// BestBid returns the highest bid, if any.
func (b OrderBook) BestBid() (OrderBookLevel, bool) {
	if len(b.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b OrderBook) BestAsk() (OrderBookLevel, bool) {
	if len(b.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Asks[0], true
}

func applyLevel(levels []OrderBookLevel, price, qty float64, desc bool) []OrderBookLevel {
	i := sort.Search(len(levels), func(i int) bool {
		if desc {
			return levels[i].Price <= price
		}
		return levels[i].Price >= price
	})
	found := i < len(levels) && levels[i].Price == price

	if qty == 0 {
		if found {
			levels = append(levels[:i], levels[i+1:]...)
		}
		return levels
	}
	if found {
		levels[i].Quantity = qty
		return levels
	}
	levels = append(levels, OrderBookLevel{})
	copy(levels[i+1:], levels[i:])
	levels[i] = OrderBookLevel{Price: price, Quantity: qty}
	return levels
}
