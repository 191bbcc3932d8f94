package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_paper_trade/internal/domain"
	"go.uber.org/zap"
)

// ConnState is the lifecycle state of a Stream.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

// Socket is the subset of *websocket.Conn a Stream needs.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type subscriptionOp string

const (
	opSubscribe   subscriptionOp = "subscribe"
	opUnsubscribe subscriptionOp = "unsubscribe"
)

// protocol is the exchange specific half of a Stream.
type protocol interface {
	// subscription builds the wire frames for op; none when nothing maps.
	subscription(op subscriptionOp, symbols []string, channels []domain.Channel) []interface{}
	// keepalive returns an application level ping frame, or nil.
	keepalive() interface{}
	// handle decodes and dispatches one raw message and returns the
	// exchange event time in unix ms (0 when the message carries none).
	handle(raw []byte) (int64, error)
}

// Stream owns one exchange socket: connect, heartbeat, backoff reconnect
// and replay of the desired subscription set.
type Stream struct {
	name   string
	url    string
	proto  protocol
	dialer Dialer
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	writeMu      sync.Mutex
	conn         Socket
	gen          uint64
	state        ConnState
	attempts     int
	reconnecting bool
	userClosed   bool
	timer        *time.Timer
	stopBeat     chan struct{}
	symbols      orderedSet[string]
	channels     orderedSet[domain.Channel]
	metrics      domain.ConnectionMetrics
}

func newStream(name, url string, proto protocol, opts Options) *Stream {
	return &Stream{
		name:    name,
		url:     url,
		proto:   proto,
		dialer:  opts.Dialer,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("exchange", name)),
		now:     time.Now,
		metrics: domain.ConnectionMetrics{LastHeartbeat: time.Now().UnixMilli()},
	}
}

// Connect opens the socket and returns once it is open. A failure here is
// returned to the caller and does not schedule a reconnect.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.reconnecting = false
	}
	s.userClosed = false
	s.state = StateConnecting
	s.mu.Unlock()

	return s.open(ctx)
}

func (s *Stream) open(ctx context.Context) error {
	conn, err := s.dialer.Dial(ctx, s.url)

	s.mu.Lock()
	if err != nil {
		if s.state == StateConnecting {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		return fmt.Errorf("%s: dial %s: %w", s.name, s.url, err)
	}
	if s.userClosed {
		s.state = StateDisconnected
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%s: %w", s.name, domain.ErrNotConnected)
	}
	stale := s.conn
	s.conn = conn
	s.gen++
	gen := s.gen
	s.state = StateConnected
	s.attempts = 0
	s.reconnecting = false
	if s.stopBeat != nil {
		close(s.stopBeat)
	}
	s.stopBeat = make(chan struct{})
	go s.heartbeat(s.stopBeat)
	s.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	s.logger.Info("Stream connected", zap.String("url", s.url))
	go s.readLoop(conn, gen)

	s.resubscribe()
	return nil
}

// Disconnect closes the socket and cancels any pending reconnect.
func (s *Stream) Disconnect() {
	s.mu.Lock()
	s.userClosed = true
	s.reconnecting = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.stopBeat != nil {
		close(s.stopBeat)
		s.stopBeat = nil
	}
	conn := s.conn
	s.conn = nil
	s.gen++
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
		s.logger.Info("Stream disconnected")
	}
}

// Subscribe records the symbols and channels as desired and sends the
// request when the socket is open.
func (s *Stream) Subscribe(symbols []string, channels []domain.Channel) error {
	s.mu.Lock()
	s.symbols.add(symbols...)
	s.channels.add(channels...)
	conn := s.openConn()
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.sendAll(conn, s.proto.subscription(opSubscribe, symbols, channels))
}

// Unsubscribe forgets the symbols. Channels stay in the desired set.
func (s *Stream) Unsubscribe(symbols []string, channels []domain.Channel) error {
	s.mu.Lock()
	s.symbols.remove(symbols...)
	conn := s.openConn()
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.sendAll(conn, s.proto.subscription(opUnsubscribe, symbols, channels))
}

// Subscriptions returns the desired symbol and channel sets.
func (s *Stream) Subscriptions() ([]string, []domain.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbols.items(), s.channels.items()
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected && s.conn != nil
}

func (s *Stream) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) Metrics() domain.ConnectionMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Stream) openConn() Socket {
	if s.state != StateConnected {
		return nil
	}
	return s.conn
}

func (s *Stream) send(conn Socket, frame interface{}) error {
	if frame == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%s: write: %w", s.name, err)
	}
	return nil
}

func (s *Stream) sendAll(conn Socket, frames []interface{}) error {
	for _, f := range frames {
		if err := s.send(conn, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) resubscribe() {
	s.mu.Lock()
	symbols, channels := s.symbols.items(), s.channels.items()
	conn := s.openConn()
	s.mu.Unlock()

	if conn == nil || len(symbols) == 0 {
		return
	}
	if err := s.sendAll(conn, s.proto.subscription(opSubscribe, symbols, channels)); err != nil {
		s.logger.Error("Failed to resubscribe", zap.Error(err))
	}
}

func (s *Stream) readLoop(conn Socket, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}
		s.receive(raw)
	}
}

func (s *Stream) receive(raw []byte) {
	now := s.now().UnixMilli()
	s.mu.Lock()
	s.metrics.MessagesReceived++
	s.metrics.LastHeartbeat = now
	s.mu.Unlock()

	eventTime, err := s.proto.handle(raw)
	if err != nil {
		s.logger.Debug("Failed to handle message", zap.Error(err))
		return
	}
	if eventTime > 0 {
		latency := now - eventTime
		if latency < 0 {
			latency = 0
		}
		s.mu.Lock()
		s.metrics.Latency = latency
		s.mu.Unlock()
	}
}

func (s *Stream) handleClose(gen uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.userClosed {
		return
	}
	if s.stopBeat != nil {
		close(s.stopBeat)
		s.stopBeat = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateDisconnected
	s.logger.Warn("Stream closed", zap.Error(cause))
	s.scheduleReconnectLocked()
}

func (s *Stream) scheduleReconnectLocked() {
	if s.reconnecting {
		return
	}
	if s.attempts >= s.opts.MaxReconnectAttempts {
		s.state = StateDisconnected
		s.logger.Error("Giving up reconnecting", zap.Int("attempts", s.attempts))
		return
	}
	s.reconnecting = true
	s.attempts++
	s.metrics.Reconnects++
	s.state = StateReconnecting

	delay := backoffDelay(s.opts.ReconnectBaseDelay, s.opts.MaxReconnectDelay, s.attempts)
	s.logger.Info("Scheduling reconnect", zap.Int("attempt", s.attempts), zap.Duration("delay", delay))
	s.timer = time.AfterFunc(delay, s.reconnect)
}

func (s *Stream) reconnect() {
	s.mu.Lock()
	if s.userClosed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state = StateConnecting
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.HandshakeTimeout)
	defer cancel()

	if err := s.open(ctx); err != nil {
		s.logger.Error("Reconnect attempt failed", zap.Error(err))
		s.mu.Lock()
		s.reconnecting = false
		if !s.userClosed {
			s.state = StateDisconnected
			s.scheduleReconnectLocked()
		}
		s.mu.Unlock()
	}
}

func (s *Stream) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.openConn()
			if conn != nil {
				s.metrics.LastHeartbeat = s.now().UnixMilli()
			}
			s.mu.Unlock()

			if conn != nil {
				if err := s.send(conn, s.proto.keepalive()); err != nil {
					s.logger.Warn("Failed to send keepalive", zap.Error(err))
				}
			}
		}
	}
}

// backoffDelay is min(base * 2^(attempt-1), ceiling).
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

// orderedSet keeps insertion order so replayed subscriptions are stable.
type orderedSet[T comparable] struct {
	order []T
	index map[T]struct{}
}

func (o *orderedSet[T]) add(values ...T) {
	if o.index == nil {
		o.index = make(map[T]struct{})
	}
	for _, v := range values {
		if _, ok := o.index[v]; ok {
			continue
		}
		o.index[v] = struct{}{}
		o.order = append(o.order, v)
	}
}

func (o *orderedSet[T]) remove(values ...T) {
	for _, v := range values {
		if _, ok := o.index[v]; !ok {
			continue
		}
		delete(o.index, v)
		for i, existing := range o.order {
			if existing == v {
				o.order = append(o.order[:i], o.order[i+1:]...)
				break
			}
		}
	}
}

func (o *orderedSet[T]) items() []T {
	return append([]T(nil), o.order...)
}
