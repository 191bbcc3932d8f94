package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/crypto_paper_trade/internal/domain"
)

// MockExchange is an in-memory adapter. ConnectDelay holds Connect open and
// ConnectErr makes it fail.
type MockExchange struct {
	name         string
	ConnectDelay time.Duration
	ConnectErr   error

	mu              sync.Mutex
	connected       bool
	ConnectCalls    int
	DisconnectCalls int
	Subscribed      []string
	Unsubscribed    []string
	Candles         []domain.Candle
	InstrumentList  []domain.Instrument
	RESTTicker      *domain.Ticker
	metrics         domain.ConnectionMetrics

	tickerCbs []func(domain.Ticker)
	bookCbs   []func(domain.OrderBook)
	tradeCbs  []func(domain.Trade)
}

func NewMockExchange(name string) *MockExchange {
	return &MockExchange{name: name}
}

func (m *MockExchange) Name() string { return m.name }

func (m *MockExchange) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.ConnectCalls++
	delay, err := m.ConnectDelay, m.ConnectErr
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MockExchange) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisconnectCalls++
	m.connected = false
}

func (m *MockExchange) Subscribe(symbols []string, channels []domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscribed = append(m.Subscribed, symbols...)
	return nil
}

func (m *MockExchange) Unsubscribe(symbols []string, channels []domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unsubscribed = append(m.Unsubscribed, symbols...)
	return nil
}

func (m *MockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return m.Candles, nil
}

func (m *MockExchange) GetInstruments(ctx context.Context) ([]domain.Instrument, error) {
	return m.InstrumentList, nil
}

func (m *MockExchange) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	if m.RESTTicker == nil {
		return nil, domain.ErrNotConnected
	}
	t := *m.RESTTicker
	return &t, nil
}

func (m *MockExchange) SymbolToExchange(canonical string) string { return canonical }
func (m *MockExchange) SymbolFromExchange(native string) string  { return native }

func (m *MockExchange) OnTicker(callback func(domain.Ticker)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickerCbs = append(m.tickerCbs, callback)
}

func (m *MockExchange) OnOrderBook(callback func(domain.OrderBook)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookCbs = append(m.bookCbs, callback)
}

func (m *MockExchange) OnTrade(callback func(domain.Trade)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradeCbs = append(m.tradeCbs, callback)
}

func (m *MockExchange) EmitTicker(t domain.Ticker) {
	m.mu.Lock()
	cbs := append([]func(domain.Ticker){}, m.tickerCbs...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(t)
	}
}

func (m *MockExchange) EmitOrderBook(ob domain.OrderBook) {
	m.mu.Lock()
	cbs := append([]func(domain.OrderBook){}, m.bookCbs...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(ob)
	}
}

func (m *MockExchange) EmitTrade(t domain.Trade) {
	m.mu.Lock()
	cbs := append([]func(domain.Trade){}, m.tradeCbs...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(t)
	}
}

func (m *MockExchange) SetMetrics(metrics domain.ConnectionMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

func (m *MockExchange) Metrics() domain.ConnectionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

func (m *MockExchange) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockExchange) Calls() (connects, disconnects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ConnectCalls, m.DisconnectCalls
}

func (m *MockExchange) Subscriptions() (subscribed, unsubscribed []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Subscribed...), append([]string(nil), m.Unsubscribed...)
}

func (m *MockExchange) Handlers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickerCbs)
}

// mockFactory hands out one MockExchange per created adapter and records
// them by name.
type mockFactory struct {
	mu      sync.Mutex
	created map[string][]*MockExchange
	tweak   func(*MockExchange)
}

func newMockFactory(tweak func(*MockExchange)) *mockFactory {
	return &mockFactory{created: make(map[string][]*MockExchange), tweak: tweak}
}

func (f *mockFactory) New(name string) (domain.Exchange, error) {
	if name == "unknown" {
		return nil, domain.ErrUnknownExchange
	}
	m := NewMockExchange(name)
	if f.tweak != nil {
		f.tweak(m)
	}
	f.mu.Lock()
	f.created[name] = append(f.created[name], m)
	f.mu.Unlock()
	return m, nil
}

func (f *mockFactory) Created(name string) []*MockExchange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockExchange(nil), f.created[name]...)
}
