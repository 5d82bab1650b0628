// Package matcher compares face embeddings against a gallery of known identities.
package matcher

import (
	"math"
)

// DefaultThreshold is the acceptance threshold used when a caller does not supply one.
const DefaultThreshold = 0.6

// Entry is a single gallery vector with the label it identifies.
type Entry struct {
	Label  string
	Vector []float32
}

// Result is the outcome of a gallery search.
// Score carries the best similarity even when Matched is false.
type Result struct {
	Label   string
	Score   float64
	Matched bool
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v, or nil when v has zero norm.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 || math.IsNaN(n) {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Match returns the gallery entry most similar to query by cosine similarity.
// Ties resolve to the earliest entry. Entries with zero norm or a dimension
// different from the query are skipped.
func Match(query []float32, entries []Entry, threshold float64) Result {
	if len(query) == 0 || len(entries) == 0 {
		return Result{}
	}
	qn := Norm(query)
	if qn == 0 || math.IsNaN(qn) {
		return Result{}
	}

	best := -1
	bestScore := math.Inf(-1)
	for i, e := range entries {
		if len(e.Vector) != len(query) {
			continue
		}
		n := Norm(e.Vector)
		if n == 0 {
			continue
		}
		s := cosine(dot(query, e.Vector), qn, n)
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return Result{}
	}

	if bestScore >= threshold {
		return Result{Label: entries[best].Label, Score: bestScore, Matched: true}
	}
	return Result{Score: bestScore}
}

// cosine stays in float64 and is clamped to [-1, 1] so rounding never
// reports a similarity above an exact match.
func cosine(dot, na, nb float64) float64 {
	return math.Max(-1, math.Min(1, dot/(na*nb)))
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
