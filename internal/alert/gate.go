// Package alert decides which matches may raise a notification.
package alert

import (
	"log"
	"sort"
	"sync"
	"time"

	"facewatch/internal/pipeline"
)

// DefaultCooldown applies to both the per-identity and the global window.
const DefaultCooldown = 30 * time.Second

// Gate rate-limits alerts with two independent cooldowns: one per identity
// and one across all identities. It is safe for concurrent use.
type Gate struct {
	mu               sync.Mutex
	identityCooldown time.Duration
	globalCooldown   time.Duration
	lastGlobal       time.Time
	lastAlerted      map[string]time.Time
}

// NewGate creates a gate. Non-positive durations use DefaultCooldown.
func NewGate(identityCooldown, globalCooldown time.Duration) *Gate {
	if identityCooldown <= 0 {
		identityCooldown = DefaultCooldown
	}
	if globalCooldown <= 0 {
		globalCooldown = DefaultCooldown
	}
	return &Gate{
		identityCooldown: identityCooldown,
		globalCooldown:   globalCooldown,
		lastAlerted:      make(map[string]time.Time),
	}
}

// Evaluate returns the matches that should be alerted on at now, highest
// score first, and records them. When nothing is eligible the gate state is
// left untouched.
func (g *Gate) Evaluate(matches []pipeline.Match, now time.Time) []pipeline.Match {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]bool, len(matches))
	eligible := make([]pipeline.Match, 0, len(matches))
	for _, m := range matches {
		if m.Label == "" || m.Label == pipeline.LabelUnknown {
			continue
		}
		if last, ok := g.lastAlerted[m.Label]; ok && now.Sub(last) < g.identityCooldown {
			log.Printf("[AlertGate] Suppressed %s: identity cooldown (%s left)",
				m.Label, (g.identityCooldown - now.Sub(last)).Round(time.Second))
			continue
		}
		if seen[m.Label] {
			continue
		}
		seen[m.Label] = true
		eligible = append(eligible, m)
	}

	if len(eligible) == 0 {
		return nil
	}

	if !g.lastGlobal.IsZero() && now.Sub(g.lastGlobal) < g.globalCooldown {
		log.Printf("[AlertGate] Suppressed %d match(es): global cooldown (%s left)",
			len(eligible), (g.globalCooldown - now.Sub(g.lastGlobal)).Round(time.Second))
		return nil
	}

	g.lastGlobal = now
	for _, m := range eligible {
		g.lastAlerted[m.Label] = now
	}
	g.cleanup(now)

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Score > eligible[j].Score
	})
	return eligible
}

// cleanup removes identity entries older than twice the global cooldown.
func (g *Gate) cleanup(now time.Time) {
	cutoff := now.Add(-2 * g.globalCooldown)
	for label, t := range g.lastAlerted {
		if !t.After(cutoff) {
			delete(g.lastAlerted, label)
		}
	}
}

// Tracked returns how many identities currently have a recorded alert time.
func (g *Gate) Tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lastAlerted)
}
