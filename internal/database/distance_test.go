package database

import (
	"math"
	"testing"
)

func TestSquaredEuclideanDistance(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, expected: 0},
		{name: "unit apart", a: []float32{0, 0}, b: []float32{1, 0}, expected: 1},
		{name: "3-4-5", a: []float32{0, 0}, b: []float32{3, 4}, expected: 25},
		{name: "mismatched length", a: []float32{1}, b: []float32{1, 2}, expected: -1},
		{name: "empty", a: []float32{}, b: []float32{}, expected: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SquaredEuclideanDistance(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("SquaredEuclideanDistance(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestCentroid(t *testing.T) {
	result := Centroid([][]float32{{0, 0}, {2, 4}, {1, 2, 3}})
	expected := []float32{1, 2}
	if len(result) != len(expected) {
		t.Fatalf("Centroid() length = %d, want %d", len(result), len(expected))
	}
	for i := range result {
		if math.Abs(float64(result[i]-expected[i])) > 0.0001 {
			t.Errorf("Centroid()[%d] = %v, want %v", i, result[i], expected[i])
		}
	}

	if Centroid(nil) != nil {
		t.Error("expected nil centroid for empty input")
	}
}
