package repository

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"

	"github.com/okian/devpulse/internal/domain/types"
)

// Treap-based, in-memory scope leaderboard.
//
// Ordering: grade score DESC, then scope ASC (deterministic). "less" means
// ranks earlier, so in-order traversal yields the board from best to worst.
// Node priorities are a hash of the scope, which keeps the tree balanced in
// expectation and identical across runs.

// scoreScale controls fixed-point scaling from float64.
const scoreScale = 1_000_000

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	if math.IsNaN(x) {
		return 0
	}
	scaled := x * scoreScale
	if scaled > math.MaxInt64 {
		return scoreFP(math.MaxInt64)
	}
	if scaled < math.MinInt64 {
		return scoreFP(math.MinInt64)
	}
	return scoreFP(math.Round(scaled))
}

func toFloat(x scoreFP) float64 { return float64(x) / scoreScale }

type record struct {
	score  scoreFP
	letter string
}

// board is an immutable view published after every write.
type board struct {
	ranked []types.Entry
	index  map[string]int
}

type node struct {
	scope string
	score scoreFP
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func less(aScore scoreFP, aScope string, bScore scoreFP, bScope string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aScope < bScope
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func priority(scope string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scope))
	return h.Sum64()
}

func insert(n *node, scope string, score scoreFP) *node {
	if n == nil {
		return &node{scope: scope, score: score, prio: priority(scope), size: 1}
	}
	if less(score, scope, n.score, n.scope) {
		n.left = insert(n.left, scope, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, scope, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, scope string, score scoreFP) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && scope == n.scope:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, scope, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, scope, score)
		}
	case less(score, scope, n.score, n.scope):
		n.left = deleteNode(n.left, scope, score)
	default:
		n.right = deleteNode(n.right, scope, score)
	}
	fix(n)
	return n
}

// collect appends entries in rank order.
func collect(n *node, records map[string]record, out *[]types.Entry) {
	if n == nil {
		return
	}
	collect(n.left, records, out)
	if rec, ok := records[n.scope]; ok {
		*out = append(*out, types.Entry{Scope: n.scope, Score: toFloat(rec.score), Letter: rec.letter})
	}
	collect(n.right, records, out)
}

// assignRanksWithTies gives equal scores the same rank; ranks stay consecutive.
func assignRanksWithTies(entries []types.Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
}

// Leaderboard ranks scopes by their latest grade score. Reads are served
// from an atomically published board and never block writers.
type Leaderboard struct {
	mu      sync.Mutex
	root    *node
	byScope map[string]record
	current atomic.Pointer[board]
}

// NewLeaderboard creates an empty leaderboard.
func NewLeaderboard() *Leaderboard {
	l := &Leaderboard{byScope: make(map[string]record)}
	l.current.Store(&board{index: map[string]int{}})
	return l
}

// Set records the scope's latest score, replacing any previous one.
func (l *Leaderboard) Set(_ context.Context, scope string, score float64, letter string) {
	ns := toFixedPoint(score)
	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.byScope[scope]; ok {
		l.root = deleteNode(l.root, scope, old.score)
	}
	l.byScope[scope] = record{score: ns, letter: letter}
	l.root = insert(l.root, scope, ns)
	l.publish()
}

// Remove drops the scope.
func (l *Leaderboard) Remove(_ context.Context, scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, ok := l.byScope[scope]
	if !ok {
		return
	}
	l.root = deleteNode(l.root, scope, old.score)
	delete(l.byScope, scope)
	l.publish()
}

// publish rebuilds the read view; l.mu must be held.
func (l *Leaderboard) publish() {
	ranked := make([]types.Entry, 0, len(l.byScope))
	collect(l.root, l.byScope, &ranked)
	assignRanksWithTies(ranked)
	index := make(map[string]int, len(ranked))
	for i, e := range ranked {
		index[e.Scope] = i
	}
	l.current.Store(&board{ranked: ranked, index: index})
}

// Rank returns the scope's entry. Returns ErrNotFound for unknown scopes.
func (l *Leaderboard) Rank(_ context.Context, scope string) (types.Entry, error) {
	b := l.current.Load()
	i, ok := b.index[scope]
	if !ok {
		return types.Entry{}, ErrNotFound
	}
	return b.ranked[i], nil
}

// TopN returns the best n scopes.
func (l *Leaderboard) TopN(_ context.Context, n int) ([]types.Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	b := l.current.Load()
	n = min(n, len(b.ranked))
	return append([]types.Entry(nil), b.ranked[:n]...), nil
}

// Count returns the number of ranked scopes.
func (l *Leaderboard) Count(_ context.Context) int {
	return len(l.current.Load().ranked)
}

// depth is used by tests to check balance.
func (l *Leaderboard) depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var walk func(n *node) int
	walk = func(n *node) int {
		if n == nil {
			return 0
		}
		return 1 + max(walk(n.left), walk(n.right))
	}
	return walk(l.root)
}
