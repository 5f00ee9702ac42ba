package metric

import (
	"math"

	"github.com/kailas-cloud/vectra/internal/domain"
)

// Metric is the vector distance function of a collection.
type Metric string

// Supported distance metrics.
const (
	Cosine    Metric = "cosine"
	Dot       Metric = "dot"
	Euclidean Metric = "euclidean"
)

// IsValid checks if the metric is one of the supported values.
func (m Metric) IsValid() bool {
	return m == Cosine || m == Dot || m == Euclidean
}

// Distance computes the distance between two vectors of equal length.
// All metrics are normalized so that smaller means closer: dot product
// is negated (inner-product distance), cosine is 1 - similarity.
func (m Metric) Distance(a, b []float32) float64 {
	switch m {
	case Dot:
		return -dotProduct(a, b)
	case Euclidean:
		return euclideanDistance(a, b)
	default:
		return cosineDistance(a, b)
	}
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Aggregation combines per-part distances into one object-level distance.
type Aggregation string

// Supported aggregations.
const (
	// Min gives best-matching-chunk semantics.
	Min Aggregation = "min"
	// Avg gives whole-object semantics.
	Avg Aggregation = "avg"
)

// IsValid checks if the aggregation is one of the supported values.
func (a Aggregation) IsValid() bool {
	return a == Min || a == Avg
}

// Combine reduces part distances to a single value. Returns +Inf for an
// empty slice so that objects without parts sort last.
func (a Aggregation) Combine(distances []float64) float64 {
	if len(distances) == 0 {
		return math.Inf(1)
	}
	if a == Avg {
		var sum float64
		for _, d := range distances {
			sum += d
		}
		return sum / float64(len(distances))
	}
	best := distances[0]
	for _, d := range distances[1:] {
		if d < best {
			best = d
		}
	}
	return best
}

// HNSWParams are index tuning parameters, fixed at collection creation.
type HNSWParams struct {
	M              uint
	EFConstruction uint
}

// DefaultHNSW returns the tuning parameters used when a collection
// does not override them.
func DefaultHNSW() HNSWParams {
	return HNSWParams{M: 16, EFConstruction: 128}
}

// IndexSpec is the per-collection vector configuration. Fixed at
// creation time; dimensions are enforced on every inserted vector.
type IndexSpec struct {
	Dimensions  uint
	Metric      Metric
	Aggregation Aggregation
	HNSW        HNSWParams
}

// NewIndexSpec validates and creates an IndexSpec.
func NewIndexSpec(dimensions uint, m Metric, agg Aggregation, hnsw HNSWParams) (IndexSpec, error) {
	if dimensions == 0 {
		return IndexSpec{}, domain.NewDimensionError(1, 0)
	}
	if !m.IsValid() {
		m = Cosine
	}
	if !agg.IsValid() {
		agg = Min
	}
	if hnsw.M == 0 || hnsw.EFConstruction == 0 {
		hnsw = DefaultHNSW()
	}
	return IndexSpec{Dimensions: dimensions, Metric: m, Aggregation: agg, HNSW: hnsw}, nil
}

// ValidateVector rejects vectors whose length differs from the spec's
// dimensionality. A mismatch is a hard error, never a truncation.
func (s IndexSpec) ValidateVector(v []float32) error {
	if len(v) != int(s.Dimensions) {
		return domain.NewDimensionError(int(s.Dimensions), len(v))
	}
	return nil
}
