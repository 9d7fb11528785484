package sketch

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperLogLogAccuracy(t *testing.T) {
	for _, n := range []int{1_000, 10_000, 100_000} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			hll := NewHyperLogLog(DefaultPrecision)
			for i := 0; i < n; i++ {
				hll.Add(fmt.Sprintf("customer-%d", i))
			}

			estimate := float64(hll.Count())
			relErr := math.Abs(estimate-float64(n)) / float64(n)
			assert.LessOrEqual(t, relErr, 0.05, "estimate %v for %d uniques", estimate, n)
		})
	}
}

func TestHyperLogLogDuplicatesDoNotInflate(t *testing.T) {
	hll := NewHyperLogLog(DefaultPrecision)
	for i := 0; i < 1000; i++ {
		hll.Add(fmt.Sprintf("v-%d", i%10))
	}

	estimate := hll.Count()
	assert.GreaterOrEqual(t, estimate, uint64(8))
	assert.LessOrEqual(t, estimate, uint64(12))
}

func TestHyperLogLogOrderIndependent(t *testing.T) {
	a := NewHyperLogLog(DefaultPrecision)
	b := NewHyperLogLog(DefaultPrecision)
	for i := 0; i < 5000; i++ {
		a.Add(fmt.Sprintf("v-%d", i))
		b.Add(fmt.Sprintf("v-%d", 4999-i))
	}
	assert.Equal(t, a.Count(), b.Count())
}

func TestHyperLogLogMerge(t *testing.T) {
	a := NewHyperLogLog(DefaultPrecision)
	b := NewHyperLogLog(DefaultPrecision)
	union := NewHyperLogLog(DefaultPrecision)
	for i := 0; i < 3000; i++ {
		a.Add(fmt.Sprintf("a-%d", i))
		union.Add(fmt.Sprintf("a-%d", i))
	}
	for i := 0; i < 3000; i++ {
		b.Add(fmt.Sprintf("b-%d", i))
		union.Add(fmt.Sprintf("b-%d", i))
	}

	require.NoError(t, a.Merge(b))
	assert.Equal(t, union.Count(), a.Count())

	mismatched := NewHyperLogLog(10)
	assert.ErrorIs(t, a.Merge(mismatched), ErrPrecisionMismatch)
}

func TestHyperLogLogEmpty(t *testing.T) {
	hll := NewHyperLogLog(DefaultPrecision)
	assert.Equal(t, uint64(0), hll.Count())
}

func TestQuantileDigestMonotone(t *testing.T) {
	d := NewQuantileDigest()
	for i := 1; i <= 1000; i++ {
		d.Add(float64(i), 1)
	}

	prev := math.Inf(-1)
	for _, q := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 0.99, 1} {
		v := d.Quantile(q)
		assert.GreaterOrEqual(t, v, prev, "quantile %v", q)
		prev = v
	}

	assert.InDelta(t, 500, d.Quantile(0.5), 1)
	assert.InDelta(t, 990, d.Quantile(0.99), 1)
}

func TestQuantileDigestWeights(t *testing.T) {
	d := NewQuantileDigest()
	d.Add(10, 9)
	d.Add(100, 1)

	assert.Equal(t, float64(10), d.Quantile(0.5))
	assert.Equal(t, float64(100), d.Quantile(1))
	assert.Equal(t, float64(10), d.Count())

	d.Add(50, 0)
	assert.Equal(t, float64(10), d.Count())
}

func TestQuantileDigestEmptyAndReset(t *testing.T) {
	d := NewQuantileDigest()
	assert.Equal(t, float64(0), d.Quantile(0.5))

	d.Add(42, 1)
	d.Reset()
	assert.Equal(t, float64(0), d.Count())
	assert.Equal(t, float64(0), d.Quantile(0.5))
}

func TestQuantileDigestClamps(t *testing.T) {
	d := NewQuantileDigest()
	d.Add(1, 1)
	d.Add(2, 1)
	d.Add(3, 1)

	assert.Equal(t, d.Quantile(0), d.Quantile(-1))
	assert.Equal(t, d.Quantile(1), d.Quantile(2))
}
