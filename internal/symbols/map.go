// Package symbols maintains the bidirectional trading-pair / exchange-symbol map.
package symbols

import (
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/logging"
	"github.com/quantfabric/paradise/internal/schema"
)

// Map is an explicit two-way symbol map with an injectivity invariant: every
// exchange symbol maps to at most one pair and vice versa. Duplicate symbols
// for an existing pair are resolved deterministically; when neither candidate
// matches the BASE+QUOTE concatenation the pair is dropped entirely.
type Map struct {
	mu       sync.RWMutex
	bySymbol map[string]schema.Pair
	byPair   map[schema.Pair]string
	log      *logrus.Entry
}

// NewMap constructs an empty symbol map.
func NewMap() *Map {
	return &Map{
		bySymbol: make(map[string]schema.Pair),
		byPair:   make(map[schema.Pair]string),
		log:      logging.Component("symbols"),
	}
}

// Put registers the exchange symbol for the pair, applying the duplicate
// tie-break when the pair is already mapped.
func (m *Map) Put(symbol string, pair schema.Pair) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" || pair.Validate() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.byPair[pair]
	if !exists {
		m.putLocked(symbol, pair)
		return
	}
	if current == symbol {
		return
	}

	// Futures contracts can expose several symbols for one pair. Prefer the
	// symbol matching the plain BASE+QUOTE concatenation; with no such
	// candidate the mapping is ambiguous and the pair is dropped.
	expected := pair.Concatenated()
	switch {
	case current == expected:
		// keep the existing mapping
	case symbol == expected:
		delete(m.bySymbol, current)
		m.putLocked(symbol, pair)
	default:
		m.log.WithFields(logrus.Fields{
			"pair":    pair,
			"symbols": current + "," + symbol,
		}).Error("could not resolve duplicate exchange symbols, dropping pair")
		delete(m.bySymbol, current)
		delete(m.byPair, pair)
	}
}

func (m *Map) putLocked(symbol string, pair schema.Pair) {
	if prev, ok := m.bySymbol[symbol]; ok {
		delete(m.byPair, prev)
	}
	m.bySymbol[symbol] = pair
	m.byPair[pair] = symbol
}

// Resolve returns the exchange symbol for the pair.
func (m *Map) Resolve(pair schema.Pair) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbol, ok := m.byPair[pair]
	if !ok {
		return "", errs.New("symbols", errs.CodeNotFound, errs.WithMessage("no symbol for pair "+string(pair)))
	}
	return symbol, nil
}

// ResolveInverse returns the pair for the exchange symbol.
func (m *Map) ResolveInverse(symbol string) (schema.Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pair, ok := m.bySymbol[symbol]
	if !ok {
		return "", errs.New("symbols", errs.CodeNotFound, errs.WithMessage("no pair for symbol "+symbol))
	}
	return pair, nil
}

// Pairs lists the mapped pairs in stable order.
func (m *Map) Pairs() []schema.Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pairs := make([]schema.Pair, 0, len(m.byPair))
	for pair := range m.byPair {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i] < pairs[j] })
	return pairs
}

// Len returns the number of mapped pairs.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byPair)
}
