package patterns

// DefaultExtremaOrder is the number of neighbours on each side a turning point must beat.
const DefaultExtremaOrder = 3

// Skeleton is the turning-point reduction of a series.
type Skeleton struct {
	Indices []int
	Values  []float64
}

// Len returns the number of turning points.
func (s Skeleton) Len() int {
	return len(s.Values)
}

// Formation returns the skeleton without its final point, the live bar. Skeletons of
// two points are returned unchanged.
func (s Skeleton) Formation() []float64 {
	if len(s.Values) <= 2 {
		return s.Values
	}
	return s.Values[:len(s.Values)-1]
}

// SkeletonExtractor reduces a series to its local extrema.
type SkeletonExtractor struct {
	order int
}

// NewSkeletonExtractor creates an extractor with the given extremum order.
func NewSkeletonExtractor(order int) *SkeletonExtractor {
	if order < 1 {
		order = DefaultExtremaOrder
	}
	return &SkeletonExtractor{order: order}
}

func (e *SkeletonExtractor) Name() string {
	return "SkeletonExtractor"
}

// Extract returns the values of the series at its strict local extrema plus both
// endpoints, in ascending index order. Neighbours beyond either end are clipped to
// the end itself.
func (e *SkeletonExtractor) Extract(series []float64) Skeleton {
	n := len(series)
	if n == 0 {
		return Skeleton{}
	}

	indices := make([]int, 0, n/4+2)
	indices = append(indices, 0)
	for i := 1; i < n-1; i++ {
		if e.isExtremum(series, i, func(a, b float64) bool { return a > b }) ||
			e.isExtremum(series, i, func(a, b float64) bool { return a < b }) {
			indices = append(indices, i)
		}
	}
	if n > 1 {
		indices = append(indices, n-1)
	}

	values := make([]float64, len(indices))
	for i, idx := range indices {
		values[i] = series[idx]
	}
	return Skeleton{Indices: indices, Values: values}
}

func (e *SkeletonExtractor) isExtremum(series []float64, i int, beats func(a, b float64) bool) bool {
	last := len(series) - 1
	for j := 1; j <= e.order; j++ {
		left := i - j
		if left < 0 {
			left = 0
		}
		right := i + j
		if right > last {
			right = last
		}
		if !beats(series[i], series[left]) || !beats(series[i], series[right]) {
			return false
		}
	}
	return true
}
