package atomic_float

import (
	"math"
	"sync/atomic"
)

// AtomicFloat64 is a float64 that may be read and written from multiple goroutines.
// The zero value holds 0.
type AtomicFloat64 struct {
	bits atomic.Uint64
}

// AtomicRead atomically reads the value.
func (f *AtomicFloat64) AtomicRead() float64 {
	return math.Float64frombits(f.bits.Load())
}

// AtomicSet atomically stores val.
func (f *AtomicFloat64) AtomicSet(val float64) {
	f.bits.Store(math.Float64bits(val))
}

// AtomicAdd makes a single attempt to add addend, returning the new value and whether the add
// succeeded. Callers that must not lose the add retry until it does.
func (f *AtomicFloat64) AtomicAdd(addend float64) (newVal float64, succeeded bool) {
	old := f.bits.Load()
	newVal = math.Float64frombits(old) + addend
	succeeded = f.bits.CompareAndSwap(old, math.Float64bits(newVal))
	return
}

// Add adds addend, retrying until no concurrent writer interferes.
func (f *AtomicFloat64) Add(addend float64) float64 {
	for {
		if newVal, ok := f.AtomicAdd(addend); ok {
			return newVal
		}
	}
}
