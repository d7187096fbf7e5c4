package ml

import (
	"math"
	"math/rand"
)

const eulerGamma = 0.5772156649015329

type node struct {
	feature     int
	split       float64
	left, right *node
	size        int
}

func (n *node) leaf() bool {
	return n.left == nil
}

// buildTree grows an isolation tree over rows[idx] until depth runs out or
// the remaining points cannot be separated.
func buildTree(rows [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *node {
	if depth >= maxDepth || len(idx) <= 1 {
		return &node{size: len(idx)}
	}
	dims := len(rows[idx[0]])
	candidates := make([]int, 0, dims)
	lo := make([]float64, dims)
	hi := make([]float64, dims)
	for f := 0; f < dims; f++ {
		lo[f], hi[f] = math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := rows[i][f]
			lo[f] = math.Min(lo[f], v)
			hi[f] = math.Max(hi[f], v)
		}
		if hi[f] > lo[f] {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return &node{size: len(idx)}
	}

	f := candidates[rng.Intn(len(candidates))]
	split := lo[f] + rng.Float64()*(hi[f]-lo[f])
	var left, right []int
	for _, i := range idx {
		if rows[i][f] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &node{
		feature: f,
		split:   split,
		left:    buildTree(rows, left, depth+1, maxDepth, rng),
		right:   buildTree(rows, right, depth+1, maxDepth, rng),
		size:    len(idx),
	}
}

// pathLength is the depth at which x lands, plus the expected remaining depth
// of an unbuilt subtree holding the leaf's points.
func pathLength(n *node, x []float64) float64 {
	depth := 0.0
	for !n.leaf() {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful search in
// a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
