package analytics

// Strategy reduces the values of one field in one bucket.
type Strategy interface {
	Name() string
	Reduce(values []float64) float64
}

type trimmedStrategy struct {
	fraction float64
}

func (s trimmedStrategy) Name() string { return "trimmed" }

func (s trimmedStrategy) Reduce(values []float64) float64 {
	return TrimmedMean(values, s.fraction)
}

// fastMeanStrategy skips sorting entirely; used for wide windows where each
// bucket is well populated.
type fastMeanStrategy struct{}

func (fastMeanStrategy) Name() string { return "fast_mean" }

func (fastMeanStrategy) Reduce(values []float64) float64 {
	return Mean(values)
}
