package sketch

import "sort"

type centroid struct {
	value  float64
	weight float64
}

// QuantileDigest is a weighted, nearest-rank quantile estimator. It keeps
// every observation, which is fine for the bounded streams it is fed
// (aggregation reads in fixed-size chunks and resets between requests).
type QuantileDigest struct {
	centroids []centroid
	total     float64
	sorted    bool
}

func NewQuantileDigest() *QuantileDigest {
	return &QuantileDigest{}
}

// Add observes value with the given weight. Non-positive weights are ignored.
func (d *QuantileDigest) Add(value, weight float64) {
	if weight <= 0 {
		return
	}
	d.centroids = append(d.centroids, centroid{value: value, weight: weight})
	d.total += weight
	d.sorted = false
}

// Quantile returns the nearest-rank estimate for q, clamped to [0,1].
// An empty digest reports 0.
func (d *QuantileDigest) Quantile(q float64) float64 {
	if len(d.centroids) == 0 {
		return 0
	}
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}

	if !d.sorted {
		sort.Slice(d.centroids, func(i, j int) bool {
			return d.centroids[i].value < d.centroids[j].value
		})
		d.sorted = true
	}

	target := q * d.total
	var cumulative float64
	for _, c := range d.centroids {
		cumulative += c.weight
		if cumulative >= target {
			return c.value
		}
	}
	return d.centroids[len(d.centroids)-1].value
}

// Count returns the total observed weight.
func (d *QuantileDigest) Count() float64 {
	return d.total
}

// Reset discards all observations.
func (d *QuantileDigest) Reset() {
	d.centroids = d.centroids[:0]
	d.total = 0
	d.sorted = false
}
