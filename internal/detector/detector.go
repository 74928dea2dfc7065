package detector

import (
	"github.com/shopspring/decimal"
)

// Direction identifies which threshold the most recent crossing violated.
type Direction string

const (
	// DirectionNone means the price sits inside the band, or no alert has fired yet.
	DirectionNone Direction = "NONE"
	// DirectionUp means the last fired alert crossed the upper threshold.
	DirectionUp Direction = "UP"
	// DirectionDown means the last fired alert crossed the lower threshold.
	DirectionDown Direction = "DOWN"
)

// ParseDirection normalises a stored direction value, defaulting to NONE.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirectionUp:
		return DirectionUp
	case DirectionDown:
		return DirectionDown
	default:
		return DirectionNone
	}
}

// Decision is the pure output of a crossing check.
type Decision struct {
	Fires     bool
	Direction Direction
}

// Decide applies the hysteresis band policy to a single price sample.
//
// A crossing fires only when the price moves beyond a threshold the watcher is
// armed for; returning inside [lower, upper] re-arms both sides. Repeated
// samples beyond the same threshold never fire twice, which keeps a
// flat-lining price sitting on a threshold from producing alert storms.
func Decide(prev Direction, price, upper, lower decimal.Decimal) Decision {
	switch {
	case price.GreaterThan(upper):
		if prev != DirectionUp {
			return Decision{Fires: true, Direction: DirectionUp}
		}
		return Decision{Fires: false, Direction: DirectionUp}
	case price.LessThan(lower):
		if prev != DirectionDown {
			return Decision{Fires: true, Direction: DirectionDown}
		}
		return Decision{Fires: false, Direction: DirectionDown}
	default:
		// Back inside the band: reset, never fire.
		return Decision{Fires: false, Direction: DirectionNone}
	}
}
