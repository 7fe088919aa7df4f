package domain

import (
	"math"
	"time"
)

// PriceBar is one OHLC sample for an instrument.
type PriceBar struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Age is the time elapsed since the bar was stamped.
func (b PriceBar) Age(now time.Time) time.Duration {
	return now.Sub(b.Time)
}

// PricingAge returns the age of the oldest sample among the given instruments.
// A missing sample makes the whole book infinitely old.
func PricingAge(bars map[Instrument]PriceBar, instruments []Instrument, now time.Time) time.Duration {
	var oldest time.Duration
	for _, inst := range instruments {
		bar, ok := bars[inst]
		if !ok {
			return time.Duration(math.MaxInt64)
		}
		if age := bar.Age(now); age > oldest {
			oldest = age
		}
	}
	return oldest
}
