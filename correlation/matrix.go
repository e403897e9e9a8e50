package correlation

import (
	"math"
	"sort"
	"time"
)

// Key identifies an unordered pair of instruments. A sorts before B.
type Key struct {
	A, B string
}

func NewKey(p1, p2 string) Key {
	if p2 < p1 {
		p1, p2 = p2, p1
	}
	return Key{A: p1, B: p2}
}

type Entry struct {
	Pair1        string  `json:"pair1"`
	Pair2        string  `json:"pair2"`
	Correlation  float64 `json:"correlation"`
	Observations int     `json:"observations"`
}

// Matrix holds pairwise correlations. Pairs without enough joint history
// have no entry at all, so a missing value never reads as zero.
type Matrix struct {
	Timestamp time.Time
	Pairs     []string
	entries   map[Key]Entry
}

func newMatrix(ts time.Time, pairs []string) Matrix {
	return Matrix{Timestamp: ts, Pairs: pairs, entries: make(map[Key]Entry)}
}

func (m *Matrix) set(e Entry) {
	if m.entries == nil {
		m.entries = make(map[Key]Entry)
	}
	k := NewKey(e.Pair1, e.Pair2)
	e.Pair1, e.Pair2 = k.A, k.B
	m.entries[k] = e
}

// FromEntries builds a matrix from precomputed entries. Self-pairs and NaN
// values are dropped.
func FromEntries(ts time.Time, entries ...Entry) Matrix {
	seen := map[string]bool{}
	m := newMatrix(ts, nil)
	for _, e := range entries {
		if e.Pair1 == e.Pair2 || math.IsNaN(e.Correlation) {
			continue
		}
		m.set(e)
		for _, p := range []string{e.Pair1, e.Pair2} {
			if !seen[p] {
				seen[p] = true
				m.Pairs = append(m.Pairs, p)
			}
		}
	}
	sort.Strings(m.Pairs)
	return m
}

// Get returns the correlation of p1 and p2 if it was computed.
func (m Matrix) Get(p1, p2 string) (float64, bool) {
	if p1 == p2 {
		return 0, false
	}
	e, ok := m.entries[NewKey(p1, p2)]
	return e.Correlation, ok
}

func (m Matrix) Len() int { return len(m.entries) }

// Entries lists the matrix in key order.
func (m Matrix) Entries() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair1 != out[j].Pair1 {
			return out[i].Pair1 < out[j].Pair1
		}
		return out[i].Pair2 < out[j].Pair2
	})
	return out
}
