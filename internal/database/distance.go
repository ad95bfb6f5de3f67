package database

// SquaredEuclideanDistance computes the squared Euclidean distance between two vectors.
// Returns -1 for vectors of mismatched or zero length.
func SquaredEuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Centroid computes the element-wise mean of vectors. Vectors whose length
// differs from the first one are skipped. Returns nil for empty input.
func Centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	n := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i := range v {
			sum[i] += float64(v[i])
		}
		n++
	}

	centroid := make([]float32, dim)
	for i := range sum {
		centroid[i] = float32(sum[i] / float64(n))
	}
	return centroid
}
