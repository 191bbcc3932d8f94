package usecase

import (
	"sort"
	"sync"

	"github.com/vitos/crypto_paper_trade/internal/domain"
)

// MaxRecentTrades is how many trades are kept per symbol.
const MaxRecentTrades = 100

// MarketCache is the latest-value store for market data of the selected
// exchange. Writes replace whole values in arrival order; readers get copies.
type MarketCache struct {
	mu          sync.RWMutex
	tickers     map[string]domain.Ticker
	books       map[string]domain.OrderBook
	trades      map[string][]domain.Trade // newest first
	instruments []domain.Instrument
	selected    map[string]struct{}
}

func NewMarketCache() *MarketCache {
	c := &MarketCache{}
	c.reset()
	return c
}

func (c *MarketCache) reset() {
	c.tickers = make(map[string]domain.Ticker)
	c.books = make(map[string]domain.OrderBook)
	c.trades = make(map[string][]domain.Trade)
	c.instruments = nil
	c.selected = make(map[string]struct{})
}

// Reset drops all market data, instruments and the selection.
func (c *MarketCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *MarketCache) SetTicker(t domain.Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers[t.Symbol] = t
}

func (c *MarketCache) Ticker(symbol string) (domain.Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tickers[symbol]
	return t, ok
}

// Tickers returns every cached ticker sorted by symbol.
func (c *MarketCache) Tickers() []domain.Ticker {
	c.mu.RLock()
	out := make([]domain.Ticker, 0, len(c.tickers))
	for _, t := range c.tickers {
		out = append(out, t)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// LastPrice is the last traded price of the cached ticker, 0 if unknown.
func (c *MarketCache) LastPrice(symbol string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickers[symbol].Last
}

func (c *MarketCache) SetOrderBook(book domain.OrderBook) {
	own := book.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[book.Symbol] = own
}

func (c *MarketCache) OrderBook(symbol string) (domain.OrderBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	book, ok := c.books[symbol]
	if !ok {
		return domain.OrderBook{}, false
	}
	return book.Clone(), true
}

// AddTrade prepends t and keeps the newest MaxRecentTrades.
func (c *MarketCache) AddTrade(t domain.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.trades[t.Symbol]
	n := len(prev) + 1
	if n > MaxRecentTrades {
		n = MaxRecentTrades
	}
	next := make([]domain.Trade, n)
	next[0] = t
	copy(next[1:], prev)
	c.trades[t.Symbol] = next
}

// RecentTrades returns up to limit trades, newest first. limit <= 0 means all.
func (c *MarketCache) RecentTrades(symbol string, limit int) []domain.Trade {
	c.mu.RLock()
	defer c.mu.RUnlock()

	trades := c.trades[symbol]
	if limit > 0 && limit < len(trades) {
		trades = trades[:limit]
	}
	return append([]domain.Trade(nil), trades...)
}

// SetInstruments replaces the instrument list wholesale.
func (c *MarketCache) SetInstruments(instruments []domain.Instrument) {
	own := append([]domain.Instrument(nil), instruments...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments = own
}

func (c *MarketCache) Instruments() []domain.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Instrument(nil), c.instruments...)
}

func (c *MarketCache) Instrument(symbol string) (domain.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, inst := range c.instruments {
		if inst.Symbol == symbol {
			return inst, true
		}
	}
	return domain.Instrument{}, false
}

func (c *MarketCache) SelectSymbol(symbols ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		c.selected[s] = struct{}{}
	}
}

func (c *MarketCache) DeselectSymbol(symbols ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		delete(c.selected, s)
	}
}

func (c *MarketCache) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[string]struct{})
}

// SelectedSymbols returns the selection sorted.
func (c *MarketCache) SelectedSymbols() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.selected))
	for s := range c.selected {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.Strings(out)
	return out
}
