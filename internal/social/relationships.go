// Package social provides the relationship ledger and the two-party
// conversation machine.
package social

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lowlandworks/pixelvale/internal/events"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// Relationship score bounds and status thresholds.
const (
	ScoreMin = -100
	ScoreMax = 100
)

// Status names, ordered from worst to best.
const (
	StatusRival        = "rival"
	StatusStranger     = "stranger"
	StatusAcquaintance = "acquaintance"
	StatusFriend       = "friend"
	StatusCloseFriend  = "close_friend"
)

// statusRank orders statuses so upgrades can be detected.
var statusRank = map[string]int{
	StatusRival:        0,
	StatusStranger:     1,
	StatusAcquaintance: 2,
	StatusFriend:       3,
	StatusCloseFriend:  4,
}

// StatusForScore derives status from score via the ordered thresholds.
func StatusForScore(score int) string {
	switch {
	case score < -20:
		return StatusRival
	case score < 10:
		return StatusStranger
	case score < 40:
		return StatusAcquaintance
	case score < 75:
		return StatusFriend
	default:
		return StatusCloseFriend
	}
}

// Relationship is the pairwise affinity row. AgentA is always the lower
// id so each unordered pair maps to exactly one row.
type Relationship struct {
	AgentA          string    `json:"agent_a" db:"agent_a"`
	AgentB          string    `json:"agent_b" db:"agent_b"`
	Score           int       `json:"score" db:"score"`
	Status          string    `json:"status" db:"status"`
	Interactions    int       `json:"interactions" db:"interactions"`
	LastInteraction time.Time `json:"last_interaction" db:"last_interaction"`
	LastDecay       time.Time `json:"last_decay" db:"last_decay"`
}

// RelationshipStore persists relationship rows.
type RelationshipStore interface {
	SaveRelationship(Relationship) error
}

// ErrSameAgent rejects self-relationships.
var ErrSameAgent = errors.New("agents are the same")

// Happiness and experience grants per interaction.
const (
	interactHappiness = 1
	upgradeHappiness  = 5
	interactXP        = 2
	decayIdleAfter    = 24 * time.Hour
)

// Ledger tracks pairwise relationships.
type Ledger struct {
	mu    sync.Mutex
	pairs map[[2]string]*Relationship

	decayPerDay int
	world       *world.World
	store       RelationshipStore
	bus         *events.Bus
}

// NewLedger creates an empty relationship ledger.
func NewLedger(w *world.World, store RelationshipStore, bus *events.Bus, decayPerDay int) *Ledger {
	if decayPerDay <= 0 {
		decayPerDay = 2
	}
	return &Ledger{
		pairs:       make(map[[2]string]*Relationship),
		decayPerDay: decayPerDay,
		world:       w,
		store:       store,
		bus:         bus,
	}
}

// Restore loads persisted rows on startup.
func (l *Ledger) Restore(rels []Relationship) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rels {
		row := r
		l.pairs[pairKey(r.AgentA, r.AgentB)] = &row
	}
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// Update applies delta to the pair's score, creating the row lazily on
// first interaction. Positive deltas grant both parties a small happiness
// bump; a status upgrade grants a larger one-time bump and emits a
// relationship_change event. Experience lands on every interaction,
// scaled by each party's own mood.
func (l *Ledger) Update(a, b string, delta int) (Relationship, error) {
	if a == b {
		return Relationship{}, ErrSameAgent
	}

	l.mu.Lock()
	key := pairKey(a, b)
	r, ok := l.pairs[key]
	if !ok {
		r = &Relationship{
			AgentA: key[0],
			AgentB: key[1],
			Status: StatusForScore(0),
		}
		l.pairs[key] = r
	}

	prevStatus := r.Status
	r.Score = clampScore(r.Score + delta)
	r.Status = StatusForScore(r.Score)
	r.Interactions++
	r.LastInteraction = time.Now()
	row := *r
	l.mu.Unlock()

	upgraded := statusRank[row.Status] > statusRank[prevStatus]

	for _, id := range []string{a, b} {
		err := l.world.WithAgent(id, func(ag *world.Agent) error {
			if delta > 0 {
				ag.Happiness = world.ClampStat(ag.Happiness + interactHappiness)
			}
			if upgraded {
				ag.Happiness = world.ClampStat(ag.Happiness + upgradeHappiness)
			}
			ag.Experience += int(float64(interactXP) * ag.XPMultiplier())
			ag.Mood = world.MoodFor(ag.Happiness)
			return nil
		})
		if err != nil {
			// Party vanished mid-interaction; the row still updates.
			slog.Debug("relationship party missing", "agent", id)
		}
	}

	if row.Status != prevStatus {
		l.bus.Emit(events.TypeRelationshipChange, map[string]any{
			"agent_a": row.AgentA,
			"agent_b": row.AgentB,
			"score":   row.Score,
			"status":  row.Status,
			"from":    prevStatus,
		})
	}

	if err := l.store.SaveRelationship(row); err != nil {
		return row, err
	}
	return row, nil
}

// Get returns the relationship for a pair, if any.
func (l *Ledger) Get(a, b string) (Relationship, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.pairs[pairKey(a, b)]
	if !ok {
		return Relationship{}, false
	}
	return *r, true
}

// All returns copies of every relationship row.
func (l *Ledger) All() []Relationship {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Relationship, 0, len(l.pairs))
	for _, r := range l.pairs {
		out = append(out, *r)
	}
	return out
}

// Decay sweeps every pair whose last interaction is at least a day old
// and pulls the score down by the per-day decay times elapsed whole days.
// The delta is negative regardless of the score's sign, so neglected
// rivalries deepen rather than fade.
func (l *Ledger) Decay() {
	now := time.Now()

	l.mu.Lock()
	var dirty []Relationship
	for _, r := range l.pairs {
		since := r.LastInteraction
		if r.LastDecay.After(since) {
			since = r.LastDecay
		}
		days := int(now.Sub(since) / decayIdleAfter)
		if days < 1 {
			continue
		}
		r.Score = clampScore(r.Score - l.decayPerDay*days)
		r.Status = StatusForScore(r.Score)
		r.LastDecay = now
		dirty = append(dirty, *r)
	}
	l.mu.Unlock()

	for _, row := range dirty {
		if err := l.store.SaveRelationship(row); err != nil {
			slog.Error("relationship decay save failed",
				"agent_a", row.AgentA, "agent_b", row.AgentB, "error", err)
		}
	}
	if len(dirty) > 0 {
		slog.Info("relationship decay applied", "pairs", len(dirty))
	}
}

func clampScore(v int) int {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}
