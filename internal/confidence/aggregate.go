// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package confidence

import "sort"

// Method selects how Aggregate rolls many confidences into one, e.g.
// micro scores into a meso score.
type Method string

const (
	// MethodMin is conservative: the weakest member dominates.
	MethodMin Method = "min"

	// MethodMax is optimistic: the strongest member dominates.
	MethodMax Method = "max"

	// MethodMedian ignores outliers on both ends.
	MethodMedian Method = "median"

	// MethodWeightedAverage weights members by 1/rank after a descending
	// sort, so stronger scores count more without drowning the rest.
	MethodWeightedAverage Method = "weighted_average"
)

// Aggregate combines confidence values with the selected method.
// An unrecognized method falls back to weighted_average; an empty input
// yields 0.
func Aggregate(values []float64, method Method) float64 {
	if len(values) == 0 {
		return 0
	}

	switch method {
	case MethodMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case MethodMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case MethodMedian:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		n := len(sorted)
		if n%2 == 1 {
			return sorted[n/2]
		}
		return (sorted[n/2-1] + sorted[n/2]) / 2
	default:
		return weightedAverage(values)
	}
}

// weightedAverage sorts descending and weights each value by 1/rank
// (rank starting at 1).
func weightedAverage(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var sum, weightSum float64
	for i, v := range sorted {
		w := 1.0 / float64(i+1)
		sum += v * w
		weightSum += w
	}
	return sum / weightSum
}
