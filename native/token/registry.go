package token

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Info describes a registered payment token: the ledger holding its balances
// and the number of fractional digits of its smallest unit.
type Info struct {
	Symbol   string
	Decimals uint8
	Ledger   Ledger
}

type entry struct {
	info    Info
	enabled bool
}

// Registry is the owner-mutable allow-list of tokens accepted as payment.
// Symbols are canonicalised to uppercase; lookups are case-insensitive.
// Removal disables the token for new payments but keeps the ledger binding so
// records already denominated in it can still settle.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*entry)}
}

// NormalizeSymbol canonicalises a token symbol for registry lookups.
func NormalizeSymbol(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("token: symbol required")
	}
	return trimmed, nil
}

// Add registers a token or re-enables a previously removed one. Registering a
// live symbol again is rejected so a token cannot be silently re-pointed at a
// different ledger.
func (r *Registry) Add(symbol string, decimals uint8, ledger Ledger) error {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tokens[normalized]; ok {
		if existing.enabled {
			return fmt.Errorf("token: %s already registered", normalized)
		}
		existing.enabled = true
		return nil
	}
	if ledger == nil {
		return fmt.Errorf("token: ledger required for %s", normalized)
	}
	r.tokens[normalized] = &entry{
		info:    Info{Symbol: normalized, Decimals: decimals, Ledger: ledger},
		enabled: true,
	}
	return nil
}

// Remove takes a token off the allow-list. The ledger binding is retained so
// release and refund of existing records keep working; only new deposits and
// payments are blocked.
func (r *Registry) Remove(symbol string) error {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.tokens[normalized]
	if !ok || !existing.enabled {
		return fmt.Errorf("token: %s not registered", normalized)
	}
	existing.enabled = false
	return nil
}

// Get resolves token info for the symbol, including tokens that have been
// removed from the allow-list.
func (r *Registry) Get(symbol string) (Info, bool) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return Info{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	existing, ok := r.tokens[normalized]
	if !ok {
		return Info{}, false
	}
	return existing.info, true
}

// IsRegistered reports whether the symbol is currently on the allow-list.
func (r *Registry) IsRegistered(symbol string) bool {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	existing, ok := r.tokens[normalized]
	return ok && existing.enabled
}

// Symbols returns the currently allow-listed symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tokens))
	for symbol, existing := range r.tokens {
		if existing.enabled {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}
