// Package cluster groups embedded documents into trends with a small k-means
// pass over cosine distance.
package cluster

import (
	"math"
	"math/rand"
)

// cosineDistance returns 1 - cosine similarity. Zero vectors are maximally
// distant.
func cosineDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 1
	}
	return 1 - dot/denom
}

func meanVector(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	mean := make([]float64, len(vectors[0]))
	for _, vec := range vectors {
		for i := range mean {
			if i < len(vec) {
				mean[i] += vec[i]
			}
		}
	}
	for i := range mean {
		mean[i] /= float64(len(vectors))
	}
	return mean
}

// kmeans assigns each vector to one of k clusters. k is clamped to the vector
// count; centroids seed from distinct random vectors and run a fixed number
// of iterations. A centroid left with no members keeps its position.
func kmeans(vectors [][]float64, k, iterations int, rng *rand.Rand) []int {
	if len(vectors) == 0 {
		return nil
	}
	if k > len(vectors) {
		k = len(vectors)
	}
	if k <= 0 {
		k = 1
	}

	centroids := make([][]float64, 0, k)
	used := make(map[int]struct{}, k)
	for len(centroids) < k {
		idx := rng.Intn(len(vectors))
		if _, ok := used[idx]; ok {
			continue
		}
		used[idx] = struct{}{}
		centroid := make([]float64, len(vectors[idx]))
		copy(centroid, vectors[idx])
		centroids = append(centroids, centroid)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < iterations; iter++ {
		for i, vec := range vectors {
			best := 0
			bestDist := math.Inf(1)
			for ci, centroid := range centroids {
				if d := cosineDistance(vec, centroid); d < bestDist {
					bestDist = d
					best = ci
				}
			}
			assignments[i] = best
		}
		for ci := range centroids {
			var members [][]float64
			for i, a := range assignments {
				if a == ci {
					members = append(members, vectors[i])
				}
			}
			if len(members) > 0 {
				centroids[ci] = meanVector(members)
			}
		}
	}
	return assignments
}
