package sketch

import (
	"errors"
	"hash/fnv"
	"math"
	"math/bits"
)

// DefaultPrecision trades ~0.4% standard error for 64KiB of registers.
const DefaultPrecision = 16

var ErrPrecisionMismatch = errors.New("sketch: precision mismatch")

// HyperLogLog estimates the number of distinct string values observed.
// Adds are order-independent and the estimate is deterministic for a
// given input set.
type HyperLogLog struct {
	precision uint8
	m         uint32
	registers []uint8
}

// NewHyperLogLog creates a sketch with the given precision (4..18).
// Values outside that range fall back to DefaultPrecision.
func NewHyperLogLog(precision uint8) *HyperLogLog {
	if precision < 4 || precision > 18 {
		precision = DefaultPrecision
	}
	m := uint32(1) << precision
	return &HyperLogLog{
		precision: precision,
		m:         m,
		registers: make([]uint8, m),
	}
}

// Add observes a value.
func (h *HyperLogLog) Add(value string) {
	hasher := fnv.New64a()
	hasher.Write([]byte(value))
	sum := hasher.Sum64()

	idx := sum >> (64 - h.precision)
	rest := sum << h.precision
	rank := uint8(bits.LeadingZeros64(rest|1)) + 1
	if rank > h.registers[idx] {
		h.registers[idx] = rank
	}
}

// Count returns the cardinality estimate with small-range and
// large-range corrections applied.
func (h *HyperLogLog) Count() uint64 {
	var sum float64
	zeros := 0
	for _, r := range h.registers {
		sum += 1 / float64(uint64(1)<<r)
		if r == 0 {
			zeros++
		}
	}

	m := float64(h.m)
	raw := h.alpha() * m * m / sum

	if raw <= 2.5*m && zeros > 0 {
		// Linear counting for the small range.
		return uint64(m * math.Log(m/float64(zeros)))
	}
	if raw > math.Pow(2, 32)/30 {
		raw = -math.Pow(2, 32) * math.Log(1-raw/math.Pow(2, 32))
	}
	return uint64(raw)
}

// Merge folds other into h. Both sketches must share a precision.
func (h *HyperLogLog) Merge(other *HyperLogLog) error {
	if other == nil {
		return nil
	}
	if h.precision != other.precision {
		return ErrPrecisionMismatch
	}
	for i, r := range other.registers {
		if r > h.registers[i] {
			h.registers[i] = r
		}
	}
	return nil
}

// Reset clears all registers.
func (h *HyperLogLog) Reset() {
	for i := range h.registers {
		h.registers[i] = 0
	}
}

func (h *HyperLogLog) alpha() float64 {
	switch h.m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return 0.7213 / (1 + 1.079/float64(h.m))
	}
}
