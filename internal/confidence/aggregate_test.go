package confidence

import (
	"math"
	"testing"
)

func TestAggregateSingleElement(t *testing.T) {
	// For a single-element input every method returns that element.
	for _, m := range []Method{MethodMin, MethodMax, MethodMedian, MethodWeightedAverage} {
		if got := Aggregate([]float64{0.42}, m); math.Abs(got-0.42) > 1e-9 {
			t.Errorf("Aggregate([0.42], %q) = %f, want 0.42", m, got)
		}
	}
}

func TestAggregateMethods(t *testing.T) {
	values := []float64{0.9, 0.1, 0.5, 0.7}

	if got := Aggregate(values, MethodMin); got != 0.1 {
		t.Errorf("min = %f, want 0.1", got)
	}
	if got := Aggregate(values, MethodMax); got != 0.9 {
		t.Errorf("max = %f, want 0.9", got)
	}
	if got := Aggregate(values, MethodMedian); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("median = %f, want 0.6", got)
	}

	// Odd-length median.
	if got := Aggregate([]float64{0.9, 0.1, 0.5}, MethodMedian); got != 0.5 {
		t.Errorf("odd median = %f, want 0.5", got)
	}
}

func TestAggregateWeightedAverage(t *testing.T) {
	// Descending sort: 0.8, 0.4. Weights 1 and 1/2.
	want := (0.8*1 + 0.4*0.5) / 1.5
	if got := Aggregate([]float64{0.4, 0.8}, MethodWeightedAverage); math.Abs(got-want) > 1e-9 {
		t.Errorf("weighted_average = %f, want %f", got, want)
	}

	// Rank weighting biases toward strong scores: result exceeds the mean.
	values := []float64{0.9, 0.3, 0.3, 0.3}
	mean := (0.9 + 0.3 + 0.3 + 0.3) / 4
	if got := Aggregate(values, MethodWeightedAverage); got <= mean {
		t.Errorf("weighted_average %f should exceed mean %f", got, mean)
	}
}

func TestAggregateUnrecognizedMethodFallsBack(t *testing.T) {
	values := []float64{0.2, 0.6}
	want := Aggregate(values, MethodWeightedAverage)
	if got := Aggregate(values, Method("bogus")); got != want {
		t.Errorf("unrecognized method = %f, want weighted_average fallback %f", got, want)
	}
}

func TestAggregateEmpty(t *testing.T) {
	for _, m := range []Method{MethodMin, MethodMax, MethodMedian, MethodWeightedAverage} {
		if got := Aggregate(nil, m); got != 0 {
			t.Errorf("Aggregate(nil, %q) = %f, want 0", m, got)
		}
	}
}

func TestAggregateDoesNotMutateInput(t *testing.T) {
	values := []float64{0.3, 0.9, 0.1}
	Aggregate(values, MethodMedian)
	Aggregate(values, MethodWeightedAverage)
	if values[0] != 0.3 || values[1] != 0.9 || values[2] != 0.1 {
		t.Errorf("input mutated: %v", values)
	}
}
