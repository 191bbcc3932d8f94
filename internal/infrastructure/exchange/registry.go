package exchange

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vitos/crypto_paper_trade/internal/domain"
)

// Factory builds an unconnected adapter.
type Factory func(opts Options) domain.Exchange

var registry = map[string]Factory{
	"binance":  func(opts Options) domain.Exchange { return NewBinanceAdapter(opts) },
	"coinbase": func(opts Options) domain.Exchange { return NewCoinbaseAdapter(opts) },
	"bybit":    func(opts Options) domain.Exchange { return NewBybitAdapter(opts) },
}

// New returns a fresh adapter for the named exchange.
func New(name string, opts Options) (domain.Exchange, error) {
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownExchange, name)
	}
	return f(opts), nil
}

// Available lists the registered exchange names, sorted.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
