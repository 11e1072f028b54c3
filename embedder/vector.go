package embedder

import "math"

// CosineSimilarity scores two vectors in [-1, 1]. Mismatched lengths or
// zero vectors score 0 so degenerate embeddings never cluster together.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

// CosineDistance is 1 - CosineSimilarity, the metric the clustering stage
// thresholds on.
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// norm is the L2 norm.
func norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
