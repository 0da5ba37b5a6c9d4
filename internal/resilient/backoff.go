package resilient

import (
	"math"
	"time"
)

// fibonacci yields unit, unit, 2*unit, 3*unit, 5*unit... capped at max when max > 0.
type fibonacci struct {
	unit time.Duration
	max  time.Duration
	a, b int64
}

func newFibonacci(unit, max time.Duration) *fibonacci {
	return &fibonacci{unit: unit, max: max, a: 1, b: 1}
}

func (f *fibonacci) next() time.Duration {
	if f.a > math.MaxInt64/int64(f.unit) {
		if f.max > 0 {
			return f.max
		}
		return time.Duration(math.MaxInt64)
	}
	d := time.Duration(f.a) * f.unit
	if f.max > 0 && d >= f.max {
		return f.max
	}
	f.a, f.b = f.b, f.a+f.b
	return d
}
