package model

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length are compared over their common prefix.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	length := min(len(a), len(b))
	for i := 0; i < length; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ClampScore bounds a cosine similarity to the [0,1] score range reported in matches.
func ClampScore(cos float64) float64 {
	return math.Max(0, math.Min(1, cos))
}

// CosineFromUnitScore converts a (1+cos)/2 score, as reported by Neo4j and
// Atlas vector search, back to cosine similarity.
func CosineFromUnitScore(s float64) float64 {
	return 2*s - 1
}
