package vector

import "math"

// InnerProduct returns the inner product of two vectors. For unit-length
// vectors this equals cosine similarity.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

// L2Norm returns the Euclidean norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

// Normalize returns a new unit-length copy of x. A zero-norm vector has no
// direction, so it is returned as an unchanged copy; searches will score it
// at zero against every query. The input is never modified.
func Normalize(x []float32) []float32 {
	out := make([]float32, len(x))
	copy(out, x)
	norm := L2Norm(x)
	if norm == 0 {
		return out
	}
	inv := float32(1.0 / norm)
	for i := range out {
		out[i] *= inv
	}
	return out
}
