package model

import (
	"strings"
	"sync"
)

// Symbol is a base-asset identifier together with its normalized form.
// Normalization strips quote suffixes and separators so that distinct
// user inputs denoting the same base asset compare equal.
type Symbol struct {
	Raw        string
	Normalized string
}

var quoteSuffixes = []string{
	"USDT", "USDC", "USD", "BUSD", "FDUSD", "PERP", "SWAP",
}

// NewSymbol normalizes raw and returns the Symbol pair.
func NewSymbol(raw string) Symbol {
	return Symbol{Raw: raw, Normalized: Normalize(raw)}
}

// Normalize canonicalizes a base-asset identifier: uppercases, strips
// separators, and removes a single trailing quote suffix if present.
// Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "", "_", "", "/", "", ":", "").Replace(s)

	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	return s
}

var symbolIDs = struct {
	mu     sync.Mutex
	byName map[string]uint16
	byID   map[uint16]string
	nextID uint16
}{byName: make(map[string]uint16), byID: make(map[uint16]string)}

// SymbolIDFor returns the stable uint16 ID assigned to a normalized
// symbol, allocating one on first use. IDs are process-local and are
// not meant to be persisted across restarts.
func SymbolIDFor(symbol string) uint16 {
	norm := Normalize(symbol)
	symbolIDs.mu.Lock()
	defer symbolIDs.mu.Unlock()
	if id, ok := symbolIDs.byName[norm]; ok {
		return id
	}
	id := symbolIDs.nextID
	symbolIDs.nextID++
	symbolIDs.byName[norm] = id
	symbolIDs.byID[id] = norm
	return id
}

// SymbolForID reverses SymbolIDFor, returning ("", false) for an unknown ID.
func SymbolForID(id uint16) (string, bool) {
	symbolIDs.mu.Lock()
	defer symbolIDs.mu.Unlock()
	s, ok := symbolIDs.byID[id]
	return s, ok
}
