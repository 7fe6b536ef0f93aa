package pipeline

import (
	"fmt"
	"sync"

	"github.com/flowarb/arbitrage-core/internal/types"
)

// SymbolTable maps each venue's native wire symbol to the canonical
// InstrumentID and back. Loaded once at startup per venue; resolves Open
// Question #3 (symbol canonicalization) from spec.md.
type SymbolTable struct {
	mu        sync.RWMutex
	toCanon   map[types.VenueID]map[string]types.InstrumentID
	fromCanon map[types.VenueID]map[types.InstrumentID]string
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		toCanon:   make(map[types.VenueID]map[string]types.InstrumentID),
		fromCanon: make(map[types.VenueID]map[types.InstrumentID]string),
	}
}

// Register records the mapping for one venue-native symbol.
func (t *SymbolTable) Register(venue types.VenueID, wireSymbol string, canonical types.InstrumentID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.toCanon[venue] == nil {
		t.toCanon[venue] = make(map[string]types.InstrumentID)
		t.fromCanon[venue] = make(map[types.InstrumentID]string)
	}
	t.toCanon[venue][wireSymbol] = canonical
	t.fromCanon[venue][canonical] = wireSymbol
}

// Canonicalize resolves a venue's wire symbol to the canonical instrument.
func (t *SymbolTable) Canonicalize(venue types.VenueID, wireSymbol string) (types.InstrumentID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.toCanon[venue]
	if !ok {
		return "", fmt.Errorf("no symbol table registered for venue %s", venue)
	}
	canon, ok := m[wireSymbol]
	if !ok {
		return "", fmt.Errorf("unknown symbol %q on venue %s", wireSymbol, venue)
	}
	return canon, nil
}

// WireSymbol resolves a canonical instrument back to a venue's native
// wire symbol.
func (t *SymbolTable) WireSymbol(venue types.VenueID, instrument types.InstrumentID) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.fromCanon[venue]
	if !ok {
		return "", fmt.Errorf("no symbol table registered for venue %s", venue)
	}
	wire, ok := m[instrument]
	if !ok {
		return "", fmt.Errorf("instrument %q not mapped on venue %s", instrument, venue)
	}
	return wire, nil
}
