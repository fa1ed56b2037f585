package patterns

import "math"

// DTWDistance returns the dynamic time warping distance between a and b using the
// absolute difference as local cost. The warping path is monotonic and continuous,
// so one element may be matched to several elements of the other sequence.
// Empty input yields +Inf.
func DTWDistance(a, b []float64) float64 {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return math.Inf(1)
	}

	// Two rolling rows of the (n+1)x(m+1) cumulative cost matrix.
	prev := make([]float64, m+1)
	curr := make([]float64, m+1)
	for j := 1; j <= m; j++ {
		prev[j] = math.Inf(1)
	}
	prev[0] = 0

	for i := 1; i <= n; i++ {
		curr[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			cost := math.Abs(a[i-1] - b[j-1])
			best := prev[j-1] // diagonal
			if prev[j] < best {
				best = prev[j] // advance a only
			}
			if curr[j-1] < best {
				best = curr[j-1] // advance b only
			}
			curr[j] = cost + best
		}
		prev, curr = curr, prev
	}

	return prev[m]
}

// Similarity maps a distance onto (0, 100].
func Similarity(distance float64) float64 {
	if math.IsInf(distance, 1) || math.IsNaN(distance) {
		return 0
	}
	return 100 / (1 + distance)
}
