package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_paper_trade/internal/domain"
)

type fakeSocket struct {
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []interface{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbox: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.inbox:
		return websocket.TextMessage, msg, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeSocket) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, v)
	return nil
}

func (f *fakeSocket) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) frames() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.written...)
}

type fakeDialer struct {
	mu      sync.Mutex
	fail    int
	sockets []*fakeSocket
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail > 0 {
		d.fail--
		d.sockets = append(d.sockets, nil)
		return nil, errors.New("connection refused")
	}
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) setFail(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = n
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *fakeDialer) last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.sockets) - 1; i >= 0; i-- {
		if d.sockets[i] != nil {
			return d.sockets[i]
		}
	}
	return nil
}

// textProtocol renders frames as strings so tests can compare them directly.
type textProtocol struct {
	ping      interface{}
	eventTime atomic.Int64
}

func (p *textProtocol) subscription(op subscriptionOp, symbols []string, channels []domain.Channel) []interface{} {
	return []interface{}{fmt.Sprintf("%s %s %v", op, strings.Join(symbols, ","), channels)}
}

func (p *textProtocol) keepalive() interface{} { return p.ping }

func (p *textProtocol) handle(raw []byte) (int64, error) {
	if string(raw) == "bad" {
		return 0, errors.New("bad message")
	}
	return p.eventTime.Load(), nil
}

func testStream(d *fakeDialer, p *textProtocol, tweak func(*Options)) *Stream {
	opts := Options{
		Dialer:               d,
		ReconnectBaseDelay:   5 * time.Millisecond,
		MaxReconnectDelay:    20 * time.Millisecond,
		MaxReconnectAttempts: 3,
		HeartbeatInterval:    time.Hour,
		HandshakeTimeout:     time.Second,
	}
	if tweak != nil {
		tweak(&opts)
	}
	return newStream("test", "ws://test", p, opts.withDefaults("ws://test", "http://test"))
}

func TestStream_ConnectFailureIsReturned(t *testing.T) {
	d := &fakeDialer{fail: 1}
	s := testStream(d, &textProtocol{}, nil)

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.IsConnected())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dials(), "a failed first connect must not schedule reconnects")
	assert.Equal(t, 0, s.Metrics().Reconnects)
}

func TestStream_ConnectTwiceDialsOnce(t *testing.T) {
	d := &fakeDialer{}
	s := testStream(d, &textProtocol{}, nil)
	defer s.Disconnect()

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, d.dials())
	assert.Equal(t, StateConnected, s.State())
}

func TestStream_SubscribeWhileDisconnected(t *testing.T) {
	d := &fakeDialer{}
	s := testStream(d, &textProtocol{}, nil)
	defer s.Disconnect()

	require.NoError(t, s.Subscribe([]string{"BTC-USDT"}, []domain.Channel{domain.ChannelTicker}))
	assert.Equal(t, 0, d.dials())

	symbols, channels := s.Subscriptions()
	assert.Equal(t, []string{"BTC-USDT"}, symbols)
	assert.Equal(t, []domain.Channel{domain.ChannelTicker}, channels)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, []interface{}{"subscribe BTC-USDT [ticker]"}, d.last().frames())
}

func TestStream_UnsubscribeKeepsChannels(t *testing.T) {
	d := &fakeDialer{}
	s := testStream(d, &textProtocol{}, nil)
	defer s.Disconnect()
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Subscribe([]string{"BTC-USDT", "ETH-USDT"}, []domain.Channel{domain.ChannelTicker, domain.ChannelTrades}))
	require.NoError(t, s.Unsubscribe([]string{"BTC-USDT"}, []domain.Channel{domain.ChannelTicker}))

	symbols, channels := s.Subscriptions()
	assert.Equal(t, []string{"ETH-USDT"}, symbols)
	assert.Equal(t, []domain.Channel{domain.ChannelTicker, domain.ChannelTrades}, channels)
	assert.Equal(t, []interface{}{
		"subscribe BTC-USDT,ETH-USDT [ticker trades]",
		"unsubscribe BTC-USDT [ticker]",
	}, d.last().frames())
}

func TestStream_ReconnectReplaysSubscriptionsOnce(t *testing.T) {
	d := &fakeDialer{}
	s := testStream(d, &textProtocol{}, nil)
	defer s.Disconnect()

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Subscribe([]string{"BTC-USDT"}, []domain.Channel{domain.ChannelOrderBook}))
	first := d.last()

	first.Close()

	require.Eventually(t, func() bool {
		return d.dials() == 2 && s.IsConnected() && len(d.last().frames()) > 0
	}, time.Second, time.Millisecond)

	second := d.last()
	require.NotSame(t, first, second)
	assert.Equal(t, []interface{}{"subscribe BTC-USDT [orderbook]"}, second.frames())
	assert.Equal(t, 1, s.Metrics().Reconnects)

	// The stale socket closing again must not trigger another cycle.
	first.Close()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, d.dials())
}

func TestStream_GivesUpAfterMaxAttempts(t *testing.T) {
	d := &fakeDialer{}
	s := testStream(d, &textProtocol{}, nil)
	defer s.Disconnect()

	require.NoError(t, s.Connect(context.Background()))
	d.setFail(100)
	d.last().Close()

	require.Eventually(t, func() bool {
		return d.dials() == 4 && s.State() == StateDisconnected
	}, 2*time.Second, time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 4, d.dials())
	assert.Equal(t, 3, s.Metrics().Reconnects)
}

func TestStream_ReconnectSucceedsAfterFailures(t *testing.T) {
	d := &fakeDialer{}
	s := testStream(d, &textProtocol{}, func(o *Options) { o.MaxReconnectAttempts = 5 })
	defer s.Disconnect()

	require.NoError(t, s.Connect(context.Background()))
	d.setFail(2)
	d.last().Close()

	require.Eventually(t, func() bool { return d.dials() == 4 && s.IsConnected() }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 3, s.Metrics().Reconnects)
}

func TestStream_DisconnectCancelsReconnect(t *testing.T) {
	d := &fakeDialer{}
	s := testStream(d, &textProtocol{}, func(o *Options) {
		o.ReconnectBaseDelay = 100 * time.Millisecond
		o.MaxReconnectDelay = 100 * time.Millisecond
	})

	require.NoError(t, s.Connect(context.Background()))
	d.last().Close()
	require.Eventually(t, func() bool { return s.State() == StateReconnecting }, time.Second, time.Millisecond)

	s.Disconnect()
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, 1, d.dials())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestStream_Metrics(t *testing.T) {
	d := &fakeDialer{}
	p := &textProtocol{}
	s := testStream(d, p, nil)
	s.now = func() time.Time { return time.UnixMilli(1_000_000) }
	defer s.Disconnect()
	require.NoError(t, s.Connect(context.Background()))

	p.eventTime.Store(999_975)
	d.last().inbox <- []byte("tick")
	require.Eventually(t, func() bool { return s.Metrics().Latency == 25 }, time.Second, time.Millisecond)

	// Exchange clock ahead of ours.
	p.eventTime.Store(1_000_500)
	d.last().inbox <- []byte("tick")
	require.Eventually(t, func() bool { return s.Metrics().MessagesReceived == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Metrics().Latency == 0 }, time.Second, time.Millisecond)

	d.last().inbox <- []byte("bad")
	require.Eventually(t, func() bool { return s.Metrics().MessagesReceived == 3 }, time.Second, time.Millisecond)

	m := s.Metrics()
	assert.Equal(t, int64(1_000_000), m.LastHeartbeat)
	assert.GreaterOrEqual(t, m.Latency, int64(0))
	assert.True(t, s.IsConnected(), "a malformed message must not drop the connection")
}

func TestStream_HeartbeatSendsKeepalive(t *testing.T) {
	d := &fakeDialer{}
	s := testStream(d, &textProtocol{ping: "ping"}, func(o *Options) { o.HeartbeatInterval = 5 * time.Millisecond })
	defer s.Disconnect()
	require.NoError(t, s.Connect(context.Background()))

	require.Eventually(t, func() bool {
		for _, f := range d.last().frames() {
			if f == "ping" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
		{64, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, backoffDelay(time.Second, 30*time.Second, tt.attempt))
		})
	}
}

func TestOrderedSet(t *testing.T) {
	var s orderedSet[string]
	s.add("a", "b", "a", "c")
	s.remove("b", "zzz")
	s.add("b")
	assert.Equal(t, []string{"a", "c", "b"}, s.items())
}
