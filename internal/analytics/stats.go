package analytics

import (
	"math"
	"slices"

	"vitals-service/internal/models"
)

// minTrimSamples is the smallest population that is trimmed at all; below
// it the plain mean is used.
const minTrimSamples = 3

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// TrimmedMean discards floor(n*fraction) values from each end of the sorted
// population and averages the rest. At least one value is always kept.
// values is not modified.
func TrimmedMean(values []float64, fraction float64) float64 {
	n := len(values)
	if n < minTrimSamples || fraction <= 0 {
		return Mean(values)
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	k := int(math.Floor(float64(n)*fraction + 1e-9))
	if k > (n-1)/2 {
		k = (n - 1) / 2
	}
	return Mean(sorted[k : n-k])
}

// Median returns the middle value, or the mean of the two middle values for
// an even population. It returns 0 for an empty slice.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Mode returns the most frequent status; ties go to the smallest value.
func Mode(counts map[models.BedStatus]int) (models.BedStatus, bool) {
	var (
		best  models.BedStatus
		top   int
		found bool
	)
	for status, c := range counts {
		if c > top || (c == top && status < best) {
			best, top, found = status, c, true
		}
	}
	return best, found
}
