package retrieval

import (
	"math"
	"sort"
)

// Similarity returns the cosine similarity of a and b. It returns 0 when
// either vector has zero magnitude or the lengths differ.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Neighbor is a candidate index with its similarity to the query.
type Neighbor struct {
	Index int
	Score float64
}

// NearestNeighbors returns the candidates whose similarity to query is at
// least threshold, best first. Equal scores keep their input order.
func NearestNeighbors(query []float32, candidates [][]float32, threshold float64) []Neighbor {
	var out []Neighbor
	for i, c := range candidates {
		if s := Similarity(query, c); s >= threshold {
			out = append(out, Neighbor{Index: i, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Cluster groups vectors in a single greedy pass. Each unvisited vector seeds
// a cluster that every later unvisited vector joins when its similarity to
// the seed is at least threshold. Groups of one are dropped. The result holds
// indexes into vectors; no index appears twice.
func Cluster(vectors [][]float32, threshold float64) [][]int {
	visited := make([]bool, len(vectors))
	var groups [][]int
	for i := range vectors {
		if visited[i] {
			continue
		}
		visited[i] = true
		group := []int{i}
		for j := i + 1; j < len(vectors); j++ {
			if visited[j] {
				continue
			}
			if Similarity(vectors[i], vectors[j]) >= threshold {
				visited[j] = true
				group = append(group, j)
			}
		}
		if len(group) > 1 {
			groups = append(groups, group)
		}
	}
	return groups
}

// Centroid returns the L2-normalized component-wise mean of vectors. ok is
// false for empty input, mismatched lengths, or a zero mean.
func Centroid(vectors [][]float32) (centroid []float32, ok bool) {
	if len(vectors) == 0 {
		return nil, false
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, false
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}

	var n float64
	for i := range sum {
		sum[i] /= float64(len(vectors))
		n += sum[i] * sum[i]
	}
	n = math.Sqrt(n)
	if n == 0 {
		return nil, false
	}

	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / n)
	}
	return out, true
}
