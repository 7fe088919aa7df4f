// Package risk implements the three-tier risk policy that gates every
// risk-bearing quantity before it is allowed to flow into an order.
package risk

import (
	"fmt"
	"math"
)

// Number is the set of value types a rule can guard.
type Number interface {
	~int | ~float64
}

// Direction is the danger direction of a rule.
type Direction int

const (
	// Max rules guard values that must not grow too large (value > level).
	Max Direction = iota
	// Min rules guard values that must not shrink too small (value < level).
	Min
)

func (d Direction) op() string {
	if d == Min {
		return "<"
	}
	return ">"
}

// Tier is the level a validated value reached.
type Tier int

const (
	TierPermitted Tier = iota
	TierNotify
	TierConfirm
	TierBlock
)

func (t Tier) String() string {
	switch t {
	case TierNotify:
		return "notify"
	case TierConfirm:
		return "confirm"
	case TierBlock:
		return "block"
	default:
		return "permitted"
	}
}

// Rule is a named block/confirm/notify threshold triple.
type Rule[T Number] struct {
	Name    string
	Block   T
	Confirm T
	Notify  T
	Dir     Direction
	Message string
}

// NewMax builds a rule for values that must stay below a ceiling.
func NewMax[T Number](name string, block, confirm, notify T, msg string) Rule[T] {
	return Rule[T]{Name: name, Block: block, Confirm: confirm, Notify: notify, Dir: Max, Message: msg}
}

// NewMin builds a rule for values that must stay above a floor.
func NewMin[T Number](name string, block, confirm, notify T, msg string) Rule[T] {
	return Rule[T]{Name: name, Block: block, Confirm: confirm, Notify: notify, Dir: Min, Message: msg}
}

// crosses reports whether value is past level in the danger direction.
// Comparisons are strict, so a value equal to a level stays on the safe side.
func (r Rule[T]) crosses(value, level T) bool {
	if r.Dir == Min {
		return value < level
	}
	return value > level
}

// TierOf classifies value without side effects.
// NaN is always treated as a block.
func (r Rule[T]) TierOf(value T) Tier {
	if math.IsNaN(float64(value)) {
		return TierBlock
	}
	switch {
	case r.crosses(value, r.Block):
		return TierBlock
	case r.crosses(value, r.Confirm):
		return TierConfirm
	case r.crosses(value, r.Notify):
		return TierNotify
	default:
		return TierPermitted
	}
}

// Check verifies the level ordering: block > confirm > notify for Max
// rules and block < confirm < notify for Min rules.
func (r Rule[T]) Check() error {
	ordered := r.Block > r.Confirm && r.Confirm > r.Notify
	if r.Dir == Min {
		ordered = r.Block < r.Confirm && r.Confirm < r.Notify
	}
	if !ordered {
		return fmt.Errorf("rule %q: levels %s/%s/%s out of order for %s rule",
			r.Name, r.format(r.Block), r.format(r.Confirm), r.format(r.Notify), r.Dir.op())
	}
	return nil
}

func (r Rule[T]) format(value T) string {
	if isFloat(value) {
		return fmt.Sprintf("%.3f", float64(value))
	}
	return fmt.Sprintf("%d", int64(value))
}

func isFloat[T Number](v T) bool {
	_, ok := any(v).(float64)
	return ok
}
