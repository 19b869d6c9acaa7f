package kmeans

import "math"

// Dot returns the dot product of a and b over their common prefix.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Normalize returns a unit-length copy of v. The zero vector is returned as a
// zero-filled copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	norm := math.Sqrt(Dot(v, v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// CosineDistance is 1 - dot(a, b) for unit vectors, clamped to [0, 2] to
// absorb floating-point drift.
func CosineDistance(a, b []float32) float64 {
	d := 1 - Dot(a, b)
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}

func squaredDisplacement(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return sum
}
