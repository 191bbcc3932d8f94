package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/crypto_paper_trade/internal/domain"
	"go.uber.org/zap"
)

const DefaultGraceDelay = 250 * time.Millisecond

// AdapterFactory builds an unconnected adapter for an exchange name.
type AdapterFactory func(name string) (domain.Exchange, error)

// ConnectionPool shares one adapter per exchange between consumers.
// Concurrent Acquire calls share a single connect; the adapter is
// disconnected a grace delay after its last Release.
type ConnectionPool struct {
	factory AdapterFactory
	grace   time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*poolEntry
	setup   []func(name string, ex domain.Exchange)
}

type poolEntry struct {
	adapter domain.Exchange
	refs    int
	call    *connectCall
	timer   *time.Timer
}

// connectCall is one in-flight or finished Connect shared by its waiters.
type connectCall struct {
	done chan struct{}
	err  error
}

func (c *connectCall) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func NewConnectionPool(factory AdapterFactory, grace time.Duration, logger *zap.Logger) *ConnectionPool {
	if grace <= 0 {
		grace = DefaultGraceDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionPool{
		factory: factory,
		grace:   grace,
		logger:  logger,
		entries: make(map[string]*poolEntry),
	}
}

// OnCreate registers fn to run once for every adapter the pool creates,
// before it is connected. Handlers registered here are never duplicated.
func (p *ConnectionPool) OnCreate(fn func(name string, ex domain.Exchange)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setup = append(p.setup, fn)
}

// Acquire returns a connected adapter and takes a reference on it. Every
// successful Acquire must be paired with a Release. If ctx ends first the
// reference is dropped and ctx.Err() returned; the connect keeps running.
func (p *ConnectionPool) Acquire(ctx context.Context, name string) (domain.Exchange, error) {
	p.mu.Lock()
	entry, ok := p.entries[name]
	if !ok {
		adapter, err := p.factory(name)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		for _, fn := range p.setup {
			fn(name, adapter)
		}
		entry = &poolEntry{adapter: adapter}
		p.entries[name] = entry
		p.logger.Info("Adapter created", zap.String("exchange", name))
	}

	entry.refs++
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}

	if entry.adapter.IsConnected() {
		p.mu.Unlock()
		return entry.adapter, nil
	}
	if entry.call == nil || entry.call.finished() {
		entry.call = p.startConnect(name, entry)
	}
	call := entry.call
	p.mu.Unlock()

	select {
	case <-call.done:
		if call.err != nil {
			p.Release(name)
			return nil, call.err
		}
		return entry.adapter, nil
	case <-ctx.Done():
		p.Release(name)
		return nil, ctx.Err()
	}
}

func (p *ConnectionPool) startConnect(name string, entry *poolEntry) *connectCall {
	call := &connectCall{done: make(chan struct{})}
	go func() {
		err := entry.adapter.Connect(context.Background())

		p.mu.Lock()
		call.err = err
		if err != nil && entry.call == call {
			entry.call = nil
		}
		close(call.done)
		p.mu.Unlock()

		if err != nil {
			p.logger.Error("Failed to connect", zap.String("exchange", name), zap.Error(err))
		}
	}()
	return call
}

// Release drops one reference. The last one schedules the disconnect.
func (p *ConnectionPool) Release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[name]
	if !ok || entry.refs == 0 {
		return
	}
	entry.refs--
	if entry.refs > 0 || entry.timer != nil {
		return
	}
	entry.timer = time.AfterFunc(p.grace, func() { p.teardown(name, entry) })
}

func (p *ConnectionPool) teardown(name string, entry *poolEntry) {
	p.mu.Lock()
	if p.entries[name] != entry || entry.refs > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.entries, name)
	entry.timer = nil
	p.mu.Unlock()

	entry.adapter.Disconnect()
	p.logger.Info("Adapter released", zap.String("exchange", name))
}

// Refs reports the live reference count for name.
func (p *ConnectionPool) Refs(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[name]; ok {
		return entry.refs
	}
	return 0
}

// Close disconnects every adapter immediately regardless of references.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
	}
	p.mu.Unlock()

	for name, entry := range entries {
		entry.adapter.Disconnect()
		p.logger.Info("Adapter closed", zap.String("exchange", name))
	}
}
