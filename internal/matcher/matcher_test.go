package matcher

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		zero bool
	}{
		{"unit", []float32{1, 0, 0}, false},
		{"pythagorean", []float32{3, 4}, false},
		{"negative", []float32{-2, 2, -1}, false},
		{"zero", []float32{0, 0, 0}, true},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Normalize(tt.in)
			if tt.zero {
				if n != nil {
					t.Fatalf("Normalize(%v) = %v, want nil", tt.in, n)
				}
				return
			}
			if got := Norm(n); math.Abs(got-1) > 1e-6 {
				t.Errorf("norm after Normalize = %f, want 1", got)
			}
			twice := Normalize(n)
			for i := range n {
				if math.Abs(float64(twice[i]-n[i])) > 1e-6 {
					t.Errorf("Normalize not idempotent at %d: %f vs %f", i, twice[i], n[i])
				}
			}
		})
	}
}

func TestMatch(t *testing.T) {
	alice := []float32{1, 0, 0}
	bob := []float32{0, 1, 0}
	gallery := []Entry{{Label: "Alice", Vector: alice}, {Label: "Bob", Vector: bob}}

	tests := []struct {
		name      string
		query     []float32
		entries   []Entry
		threshold float64
		wantLabel string
		wantMatch bool
		wantScore float64
	}{
		{"exact match", []float32{2, 0, 0}, gallery, 0.55, "Alice", true, 1},
		{"score equal to threshold accepted", []float32{1, 0, 0}, gallery, 1.0, "Alice", true, 1},
		{"below threshold keeps score", []float32{1, 1, 0}, gallery, 0.9, "", false, 1 / math.Sqrt2},
		{"empty gallery", alice, nil, 0.55, "", false, 0},
		{"nil query", nil, gallery, 0.55, "", false, 0},
		{"zero query", []float32{0, 0, 0}, gallery, 0.55, "", false, 0},
		{"zero entries skipped", alice, []Entry{{Label: "Z", Vector: []float32{0, 0, 0}}, {Label: "Alice", Vector: alice}}, 0.5, "Alice", true, 1},
		{"only zero entries", alice, []Entry{{Label: "Z", Vector: []float32{0, 0, 0}}}, 0.5, "", false, 0},
		{"dimension mismatch skipped", alice, []Entry{{Label: "Short", Vector: []float32{1, 0}}}, 0.5, "", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.query, tt.entries, tt.threshold)
			if got.Matched != tt.wantMatch || got.Label != tt.wantLabel {
				t.Fatalf("Match() = %+v, want label %q matched %v", got, tt.wantLabel, tt.wantMatch)
			}
			if math.Abs(got.Score-tt.wantScore) > 1e-6 {
				t.Errorf("Match() score = %f, want %f", got.Score, tt.wantScore)
			}
		})
	}
}

func TestMatchScoreNeverExceedsOne(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
	}{
		{"small components", []float32{0.1, 0.2, 0.3}},
		{"integer components", []float32{3, 4}},
		{"mixed signs", []float32{0.7, -0.2, 0.05, 1.3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, stored := range [][]float32{tt.v, Normalize(tt.v)} {
				got := Match(tt.v, []Entry{{Label: "Alice", Vector: stored}}, 0.55)
				if !got.Matched || got.Label != "Alice" {
					t.Fatalf("Match() = %+v, want Alice", got)
				}
				if got.Score > 1 {
					t.Errorf("Match() score = %.17g, exceeds 1", got.Score)
				}
				if math.Abs(got.Score-1) > 1e-6 {
					t.Errorf("Match() score = %.17g, want 1", got.Score)
				}
			}
		})
	}
}

func TestMatchTieBreakFirstWins(t *testing.T) {
	v := []float32{0.5, 0.5}
	entries := []Entry{{Label: "First", Vector: v}, {Label: "Second", Vector: []float32{1, 1}}}
	got := Match([]float32{1, 1}, entries, 0.5)
	if got.Label != "First" {
		t.Errorf("tie resolved to %q, want First", got.Label)
	}
}

func TestGalleryPartitionsByBackend(t *testing.T) {
	g := NewGallery(map[string][]Entry{
		"remote": {{Label: "Alice", Vector: []float32{1, 0}}},
		"pixel":  {{Label: "Bob", Vector: []float32{1, 0}}},
	})
	if g.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", g.Len())
	}
	if r := g.Match([]float32{1, 0}, "pixel", 0.5); r.Label != "Bob" {
		t.Errorf("pixel match = %q, want Bob", r.Label)
	}
	if r := g.Match([]float32{1, 0}, "dlib", 0.5); r.Matched || r.Score != 0 {
		t.Errorf("unknown backend match = %+v, want empty", r)
	}

	var nilGallery *Gallery
	if nilGallery.Len() != 0 || nilGallery.For("remote") != nil {
		t.Error("nil gallery should behave as empty")
	}
}
