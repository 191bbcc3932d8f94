package exchange

import (
	"strings"
	"sync"
)

// knownQuotes are tried in order when splitting a concatenated native
// symbol. Longer suffixes come first so FDUSD wins over USD.
var knownQuotes = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "USD", "EUR", "TRY", "BTC", "ETH", "BNB"}

// concatToNative turns BTC-USDT into BTCUSDT.
func concatToNative(canonical string) string {
	return strings.ToUpper(strings.ReplaceAll(canonical, "-", ""))
}

// concatFromNative splits BTCUSDT into BTC-USDT by quote suffix. A native
// symbol whose quote is not known, or whose base itself ends with a known
// quote, is ambiguous and comes back unsplit or split at the suffix.
func concatFromNative(native string) string {
	native = strings.ToUpper(native)
	for _, quote := range knownQuotes {
		if strings.HasSuffix(native, quote) && len(native) > len(quote) {
			return native[:len(native)-len(quote)] + "-" + quote
		}
	}
	return native
}

// symbolTable maps concatenated native symbols back to canonical form.
// Listed instruments are authoritative. Symbols sent to the exchange are
// remembered unless a listing already claims the native form. Anything
// else falls back to the quote suffix split. A nil table only splits.
type symbolTable struct {
	mu     sync.RWMutex
	listed map[string]string
	sent   map[string]string
}

// list records an instrument by its native symbol and assets and returns
// the canonical symbol.
func (t *symbolTable) list(native, base, quote string) string {
	canonical := strings.ToUpper(base) + "-" + strings.ToUpper(quote)
	if base == "" || quote == "" {
		canonical = concatFromNative(native)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listed == nil {
		t.listed = make(map[string]string)
	}
	t.listed[strings.ToUpper(native)] = canonical
	return canonical
}

func (t *symbolTable) toNative(canonical string) string {
	native := concatToNative(canonical)
	if t == nil || !strings.Contains(canonical, "-") {
		return native
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sent == nil {
		t.sent = make(map[string]string)
	}
	t.sent[native] = strings.ToUpper(canonical)
	return native
}

func (t *symbolTable) fromNative(native string) string {
	if t != nil {
		key := strings.ToUpper(native)
		t.mu.RLock()
		canonical, ok := t.listed[key]
		if !ok {
			canonical, ok = t.sent[key]
		}
		t.mu.RUnlock()
		if ok {
			return canonical
		}
	}
	return concatFromNative(native)
}
