package audio

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

// PeakAccumulator holds the largest absolute sample seen since the last read.
//
// Observe runs on the real-time audio callback and ReadAndReset on the
// control loop. Both are lock-free: the peak lives in a single atomic cell
// holding the IEEE-754 bits of a non-negative float32, so the bit patterns
// order the same way as the values they encode.
type PeakAccumulator struct {
	bits atomic.Uint32
}

// NewPeakAccumulator returns an accumulator with a zero peak.
func NewPeakAccumulator() *PeakAccumulator {
	return &PeakAccumulator{}
}

// Observe raises the stored peak to the largest magnitude in block.
// It never blocks or allocates. Calling it on a nil accumulator is a no-op.
func (p *PeakAccumulator) Observe(block []float32) {
	if p == nil {
		return
	}

	var blockPeak float32
	for _, s := range block {
		if s < 0 {
			s = -s
		}
		if s > blockPeak {
			blockPeak = s
		}
	}
	p.raise(blockPeak)
}

// ObserveS16LE is Observe for little-endian signed 16-bit mono PCM.
// A trailing odd byte is ignored.
func (p *PeakAccumulator) ObserveS16LE(buf []byte) {
	if p == nil {
		return
	}

	var blockPeak int32
	for i := 0; i+1 < len(buf); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(buf[i:])))
		if s < 0 {
			s = -s
		}
		if s > blockPeak {
			blockPeak = s
		}
	}
	p.raise(float32(blockPeak) / MaxSampleValue)
}

// ReadAndReset returns the peak since the previous call and zeroes it in the
// same atomic operation.
func (p *PeakAccumulator) ReadAndReset() float32 {
	if p == nil {
		return 0
	}
	return math.Float32frombits(p.bits.Swap(0))
}

// Peak returns the current peak without resetting it.
func (p *PeakAccumulator) Peak() float32 {
	if p == nil {
		return 0
	}
	return math.Float32frombits(p.bits.Load())
}

// raise stores v if it exceeds the current peak. NaN is dropped.
func (p *PeakAccumulator) raise(v float32) {
	if !(v > 0) {
		return
	}
	next := math.Float32bits(v)
	for {
		cur := p.bits.Load()
		if next <= cur {
			return
		}
		if p.bits.CompareAndSwap(cur, next) {
			return
		}
	}
}
