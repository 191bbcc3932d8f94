package exchange

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultReconnectBaseDelay   = time.Second
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultRequestsPerSecond    = 10
)

// Options configure an adapter. Zero values fall back to the defaults above
// and to the exchange's public endpoints.
type Options struct {
	WSURL   string
	RESTURL string

	Dialer     Dialer
	HTTPClient *http.Client
	Logger     *zap.Logger

	ReconnectBaseDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration
	RequestsPerSecond    float64
}

func (o Options) withDefaults(wsURL, restURL string) Options {
	if o.WSURL == "" {
		o.WSURL = wsURL
	}
	if o.RESTURL == "" {
		o.RESTURL = restURL
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Dialer == nil {
		o.Dialer = WSDialer{HandshakeTimeout: o.HandshakeTimeout}
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = DefaultRequestsPerSecond
	}
	return o
}
