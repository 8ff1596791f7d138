package schema

import (
	"fmt"
	"time"
)

// MarketHours defines a daily trading window in exchange-local time,
// expressed as minutes since midnight.
type MarketHours struct {
	Open          int
	Close         int
	ExtendedOpen  int
	ExtendedClose int
	Timezone      string
	Weekdays      [7]bool
}

// Contains reports whether t falls inside the regular session, or the
// extended session when extended is set.
func (h MarketHours) Contains(t time.Time, extended bool) bool {
	loc, err := time.LoadLocation(h.Timezone)
	if err == nil {
		t = t.In(loc)
	}
	if !h.Weekdays[int(t.Weekday())] {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	if extended {
		return minute >= h.ExtendedOpen && minute < h.ExtendedClose
	}
	return minute >= h.Open && minute < h.Close
}

// Exchange describes a trading venue and its calendar.
type Exchange struct {
	Name  string
	Hours MarketHours
}

// Symbol describes a tradable instrument.
type Symbol struct {
	Name       string
	Exchange   string
	Tradable   bool
	Fractional bool
	TickSize   int32
}

// Registry stores exchange and symbol mappings.
type Registry struct {
	exchanges map[string]Exchange
	symbols   map[string]Symbol
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		exchanges: make(map[string]Exchange),
		symbols:   make(map[string]Symbol),
	}
}

// AddExchange registers a new exchange.
func (r *Registry) AddExchange(ex Exchange) error {
	if ex.Name == "" {
		return fmt.Errorf("exchange name is empty")
	}
	if _, ok := r.exchanges[ex.Name]; ok {
		return fmt.Errorf("exchange already exists: %s", ex.Name)
	}
	r.exchanges[ex.Name] = ex
	return nil
}

// AddSymbol registers a new symbol under an existing exchange.
func (r *Registry) AddSymbol(sym Symbol) error {
	if sym.Name == "" {
		return fmt.Errorf("symbol name is empty")
	}
	if _, ok := r.exchanges[sym.Exchange]; !ok {
		return fmt.Errorf("exchange not found: %s", sym.Exchange)
	}
	if _, ok := r.symbols[sym.Name]; ok {
		return fmt.Errorf("symbol already exists: %s", sym.Name)
	}
	r.symbols[sym.Name] = sym
	return nil
}

// Symbol returns the symbol by name.
func (r *Registry) Symbol(name string) (Symbol, bool) {
	s, ok := r.symbols[name]
	return s, ok
}

// Exchange returns the exchange by name.
func (r *Registry) Exchange(name string) (Exchange, bool) {
	ex, ok := r.exchanges[name]
	return ex, ok
}

// SymbolCount returns the number of registered symbols.
func (r *Registry) SymbolCount() int {
	return len(r.symbols)
}

// MarketOpen reports whether the symbol's exchange is open at t.
func (r *Registry) MarketOpen(symbol string, t time.Time, extended bool) (bool, error) {
	sym, ok := r.symbols[symbol]
	if !ok {
		return false, fmt.Errorf("symbol not found: %s", symbol)
	}
	ex, ok := r.exchanges[sym.Exchange]
	if !ok {
		return false, fmt.Errorf("exchange not found: %s", sym.Exchange)
	}
	return ex.Hours.Contains(t, extended), nil
}
