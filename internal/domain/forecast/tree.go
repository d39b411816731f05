package forecast

import (
	"math/rand"
	"sort"

	"github.com/okian/devpulse/internal/domain/stats"
)

const minLeaf = 2

// node is a flattened regression-tree node; Left is -1 on leaves.
type node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int     `json:"l"`
	Right   int     `json:"r"`
	Value   float64 `json:"v"`
}

// Tree is a depth-limited regression tree.
type Tree struct {
	Nodes []node `json:"nodes"`
}

// Forest averages bootstrap-trained trees.
type Forest struct {
	Trees []Tree `json:"trees"`
}

func fitForest(rng *rand.Rand, x [][]float64, y []float64, trees, depth int) *Forest {
	f := &Forest{Trees: make([]Tree, trees)}
	idx := make([]int, len(x))
	for t := range f.Trees {
		for i := range idx {
			idx[i] = rng.Intn(len(x))
		}
		var tree Tree
		tree.grow(x, y, append([]int(nil), idx...), depth)
		f.Trees[t] = tree
	}
	return f
}

func (f *Forest) Predict(row []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].predict(row)
	}
	return sum / float64(len(f.Trees))
}

func (t *Tree) predict(row []float64) float64 {
	i := 0
	for t.Nodes[i].Left >= 0 {
		n := t.Nodes[i]
		if row[n.Feature] < n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return t.Nodes[i].Value
}

// grow appends the subtree for rows and returns its index.
func (t *Tree) grow(x [][]float64, y []float64, rows []int, depth int) int {
	targets := make([]float64, len(rows))
	for i, r := range rows {
		targets[i] = y[r]
	}
	self := len(t.Nodes)
	t.Nodes = append(t.Nodes, node{Left: -1, Right: -1, Value: stats.Mean(targets)})
	if depth == 0 || len(rows) < 2*minLeaf {
		return self
	}
	feature, split, ok := bestSplit(x, y, rows)
	if !ok {
		return self
	}
	var left, right []int
	for _, r := range rows {
		if x[r][feature] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l := t.grow(x, y, left, depth-1)
	r := t.grow(x, y, right, depth-1)
	t.Nodes[self].Feature = feature
	t.Nodes[self].Split = split
	t.Nodes[self].Left = l
	t.Nodes[self].Right = r
	return self
}

// bestSplit minimises the summed squared error of the two children.
func bestSplit(x [][]float64, y []float64, rows []int) (feature int, split float64, ok bool) {
	n := len(rows)
	var total, totalSq float64
	for _, r := range rows {
		total += y[r]
		totalSq += y[r] * y[r]
	}
	best := totalSq - total*total/float64(n)
	order := append([]int(nil), rows...)
	for j := range x[rows[0]] {
		sort.Slice(order, func(a, b int) bool { return x[order[a]][j] < x[order[b]][j] })
		var ls, lsq float64
		for i := 0; i < n-1; i++ {
			v := y[order[i]]
			ls += v
			lsq += v * v
			left := i + 1
			if left < minLeaf || n-left < minLeaf {
				continue
			}
			lo, hi := x[order[i]][j], x[order[i+1]][j]
			if lo == hi {
				continue
			}
			rs, rsq := total-ls, totalSq-lsq
			sse := lsq - ls*ls/float64(left) + rsq - rs*rs/float64(n-left)
			if sse < best-1e-12 {
				best, feature, split, ok = sse, j, (lo+hi)/2, true
			}
		}
	}
	return feature, split, ok
}
