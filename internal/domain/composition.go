package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Composition maps each target instrument to its non-negative weight.
// Weights are compared only in ratio and need not sum to one.
// A Composition is built once at startup and never mutated.
type Composition struct {
	weights     map[Instrument]float64
	instruments []Instrument
}

// NewComposition validates weights and freezes them.
func NewComposition(weights map[Instrument]float64) (*Composition, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: composition is empty", ErrConfigInvalid)
	}

	frozen := make(map[Instrument]float64, len(weights))
	instruments := make([]Instrument, 0, len(weights))
	total := 0.0
	for inst, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative weight %.4f for %s", ErrConfigInvalid, w, inst)
		}
		frozen[inst] = w
		instruments = append(instruments, inst)
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: composition weights sum to zero", ErrConfigInvalid)
	}

	sort.Slice(instruments, func(a, b int) bool {
		return instruments[a].String() < instruments[b].String()
	})

	return &Composition{weights: frozen, instruments: instruments}, nil
}

// ParseComposition parses "SYM@EXCH[:CUR]=WEIGHT,..." entries.
func ParseComposition(spec string) (*Composition, error) {
	weights := make(map[Instrument]float64)
	for _, raw := range strings.Split(spec, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		key, weightStr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%w: composition entry %q missing '='", ErrConfigInvalid, entry)
		}
		symbol, listing, ok := strings.Cut(strings.TrimSpace(key), "@")
		if !ok || symbol == "" || listing == "" {
			return nil, fmt.Errorf("%w: composition entry %q must be SYMBOL@EXCHANGE", ErrConfigInvalid, entry)
		}
		exchange, currency, _ := strings.Cut(listing, ":")

		weight, err := strconv.ParseFloat(strings.TrimSpace(weightStr), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad weight in %q: %v", ErrConfigInvalid, entry, err)
		}

		inst := NewInstrument(symbol, exchange, currency)
		if _, dup := weights[inst]; dup {
			return nil, fmt.Errorf("%w: duplicate composition entry for %s", ErrConfigInvalid, inst)
		}
		weights[inst] = weight
	}
	return NewComposition(weights)
}

// Instruments returns the target instruments in a stable order.
func (c *Composition) Instruments() []Instrument {
	out := make([]Instrument, len(c.instruments))
	copy(out, c.instruments)
	return out
}

// Weight returns the weight of inst and whether it is a target.
func (c *Composition) Weight(inst Instrument) (float64, bool) {
	w, ok := c.weights[inst]
	return w, ok
}

// Contains reports whether inst is a target instrument.
func (c *Composition) Contains(inst Instrument) bool {
	_, ok := c.weights[inst]
	return ok
}

// TotalWeight is the sum of all weights.
func (c *Composition) TotalWeight() float64 {
	total := 0.0
	for _, w := range c.weights {
		total += w
	}
	return total
}

// Len is the number of target instruments.
func (c *Composition) Len() int {
	return len(c.instruments)
}
