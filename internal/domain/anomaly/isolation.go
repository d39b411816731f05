package anomaly

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

const (
	eulerGamma        = 0.5772156649
	defaultTrees      = 100
	defaultSampleSize = 256
	defaultSeed       = 42
)

// Isolation is an isolation forest over the concurrent values of all
// metrics. Points that isolate in few random splits score high; the top
// contamination share of training scores is flagged. A flagged point is
// attributed to the metric that deviates most from its own median.
type Isolation struct {
	Trees         int
	SampleSize    int
	Contamination float64
	MinPoints     int
	Seed          int64
}

// NewIsolation returns an isolation-forest detector with the base seed.
// The ensemble derives a per-scope seed from it through ForScope.
func NewIsolation(minPoints int, contamination float64) *Isolation {
	return &Isolation{
		Trees:         defaultTrees,
		SampleSize:    defaultSampleSize,
		Contamination: contamination,
		MinPoints:     minPoints,
		Seed:          defaultSeed,
	}
}

func (f *Isolation) Method() string { return model.MethodIsolation }

// ForScope returns a copy seeded from the scope name, so runs over one scope
// are reproducible while scopes do not share tree layouts.
func (f *Isolation) ForScope(scope string) Detector {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scope))
	c := *f
	c.Seed = f.Seed ^ int64(h.Sum64()>>1)
	return &c
}

// matrix aligns series on timestamps; missing cells are imputed with the
// column median and remembered so attribution ignores them.
type matrix struct {
	times    []time.Time
	rows     [][]float64
	observed [][]bool
	index    [][]int // index[row][col] is the point index within the series, -1 if imputed
}

func align(series []Series) matrix {
	seen := make(map[time.Time]struct{})
	for _, s := range series {
		for _, p := range s.Points {
			seen[p.Timestamp] = struct{}{}
		}
	}
	var m matrix
	for ts := range seen {
		m.times = append(m.times, ts)
	}
	sort.Slice(m.times, func(i, j int) bool { return m.times[i].Before(m.times[j]) })
	rowOf := make(map[time.Time]int, len(m.times))
	for i, ts := range m.times {
		rowOf[ts] = i
	}

	cols := len(series)
	m.rows = make([][]float64, len(m.times))
	m.observed = make([][]bool, len(m.times))
	m.index = make([][]int, len(m.times))
	for i := range m.rows {
		m.rows[i] = make([]float64, cols)
		m.observed[i] = make([]bool, cols)
		m.index[i] = make([]int, cols)
		for j := range m.index[i] {
			m.index[i][j] = -1
		}
	}
	for j, s := range series {
		vals := s.Values()
		med := 0.0
		if len(vals) > 0 {
			med = stats.Median(vals)
		}
		for i := range m.rows {
			m.rows[i][j] = med
		}
		for k, p := range s.Points {
			r := rowOf[p.Timestamp]
			m.rows[r][j] = p.Value
			m.observed[r][j] = true
			m.index[r][j] = k
		}
	}
	return m
}

func (f *Isolation) Detect(series []Series) ([]Flag, error) {
	m := align(series)
	if len(m.rows) < f.MinPoints || len(series) == 0 {
		return nil, ErrNotEnoughData
	}

	rng := rand.New(rand.NewSource(f.Seed)) //nolint:gosec // deterministic detector
	psi := min(f.SampleSize, len(m.rows))
	limit := int(math.Ceil(math.Log2(float64(psi))))
	trees := make([]*iNode, f.Trees)
	for t := range trees {
		sample := rng.Perm(len(m.rows))[:psi]
		rows := make([][]float64, psi)
		for i, r := range sample {
			rows[i] = m.rows[r]
		}
		trees[t] = grow(rng, rows, 0, limit)
	}

	scores := make([]float64, len(m.rows))
	norm := avgPathLength(psi)
	for i, row := range m.rows {
		total := 0.0
		for _, t := range trees {
			total += t.pathLength(row, 0)
		}
		scores[i] = math.Pow(2, -(total/float64(len(trees)))/norm)
	}
	threshold := stats.Percentile(scores, (1-f.Contamination)*100)

	var flags []Flag
	for i, score := range scores {
		if score <= threshold {
			continue
		}
		col, ok := attribute(series, m, i)
		if !ok {
			continue
		}
		s := series[col]
		k := m.index[i][col]
		flags = append(flags, Flag{
			Metric: s.Metric, Index: k, Timestamp: s.Points[k].Timestamp,
			Value: s.Points[k].Value, Score: score, Method: f.Method(),
		})
	}
	return flags, nil
}

// attribute picks the observed metric at row with the largest robust deviation.
func attribute(series []Series, m matrix, row int) (int, bool) {
	best, bestDev := -1, -1.0
	for j, s := range series {
		if !m.observed[row][j] {
			continue
		}
		vals := s.Values()
		med := stats.Median(vals)
		mad := stats.MAD(vals)
		dev := deviation(m.rows[row][j], med, mad)
		if dev > bestDev {
			best, bestDev = j, dev
		}
	}
	return best, best >= 0
}

type iNode struct {
	feature     int
	split       float64
	left, right *iNode
	size        int
}

func grow(rng *rand.Rand, rows [][]float64, depth, limit int) *iNode {
	if depth >= limit || len(rows) <= 1 {
		return &iNode{size: len(rows)}
	}
	var candidates []int
	for j := range rows[0] {
		lo, hi := columnRange(rows, j)
		if hi > lo {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &iNode{size: len(rows)}
	}
	feature := candidates[rng.Intn(len(candidates))]
	lo, hi := columnRange(rows, feature)
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, r := range rows {
		if r[feature] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return &iNode{
		feature: feature,
		split:   split,
		left:    grow(rng, left, depth+1, limit),
		right:   grow(rng, right, depth+1, limit),
	}
}

func columnRange(rows [][]float64, j int) (lo, hi float64) {
	lo, hi = rows[0][j], rows[0][j]
	for _, r := range rows[1:] {
		lo = math.Min(lo, r[j])
		hi = math.Max(hi, r[j])
	}
	return lo, hi
}

func (n *iNode) pathLength(row []float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + avgPathLength(n.size)
	}
	if row[n.feature] < n.split {
		return n.left.pathLength(row, depth+1)
	}
	return n.right.pathLength(row, depth+1)
}

// avgPathLength is the expected path length of an unsuccessful BST search over n points.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + eulerGamma
	return 2*h - 2*float64(n-1)/float64(n)
}
