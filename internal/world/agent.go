package world

import (
	"time"
)

// AgentState is the externally observable activity of an agent.
type AgentState string

const (
	StateIdle     AgentState = "idle"
	StateWalking  AgentState = "walking"
	StateTalking  AgentState = "talking"
	StateSleeping AgentState = "sleeping"
	StateBuilding AgentState = "building"
)

// Stat bounds shared by every agent.
const (
	StatMin = 0
	StatMax = 100
)

// Agent is a single inhabitant of the world. Owned by the World; the game
// loop, the conversation machine, and external actions mutate it under the
// World's lock.
type Agent struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Position Position   `json:"position"`
	Target   *Position  `json:"target,omitempty"`
	State    AgentState `json:"state"`

	Energy     int `json:"energy"`
	Happiness  int `json:"happiness"`
	Experience int `json:"experience"`
	Currency   int `json:"currency"`

	Inventory *Inventory `json:"inventory"`
	Mood      string     `json:"mood"`
	Facing    Facing     `json:"facing"`
	NPC       bool       `json:"npc"`

	LastActive time.Time `json:"last_active"`
}

// ClampStat bounds a stat value into the shared [StatMin, StatMax] range.
func ClampStat(v int) int {
	if v < StatMin {
		return StatMin
	}
	if v > StatMax {
		return StatMax
	}
	return v
}

// MoodFor derives the displayed mood from happiness.
func MoodFor(happiness int) string {
	switch {
	case happiness >= 80:
		return "joyful"
	case happiness >= 60:
		return "happy"
	case happiness >= 40:
		return "neutral"
	case happiness >= 20:
		return "sad"
	default:
		return "miserable"
	}
}

// XPMultiplier scales experience gains by how content the agent is.
// Happy agents learn faster.
func (a *Agent) XPMultiplier() float64 {
	return 1.0 + float64(a.Happiness)/200.0
}

// Touch records that the agent did something.
func (a *Agent) Touch() {
	a.LastActive = time.Now()
}

// Inventory holds an agent's raw wood plus two categorized counters.
type Inventory struct {
	Wood  int            `json:"wood"`
	Catch map[string]int `json:"catch"`
	Items map[string]int `json:"items"`
}

// NewInventory returns an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{
		Catch: make(map[string]int),
		Items: make(map[string]int),
	}
}

// AddWood adds n wood (n may be negative for callers that validated first).
func (inv *Inventory) AddWood(n int) {
	inv.Wood += n
	if inv.Wood < 0 {
		inv.Wood = 0
	}
}

// HasWood reports whether at least n wood is held.
func (inv *Inventory) HasWood(n int) bool { return inv.Wood >= n }

// RemoveWood removes n wood, reporting false (and changing nothing) when
// the inventory holds less than n.
func (inv *Inventory) RemoveWood(n int) bool {
	if inv.Wood < n {
		return false
	}
	inv.Wood -= n
	return true
}

// AddCatch records a categorized catch (fish species etc).
func (inv *Inventory) AddCatch(kind string, n int) {
	inv.Catch[kind] += n
}

// AddItem records a categorized crafted item.
func (inv *Inventory) AddItem(kind string, n int) {
	inv.Items[kind] += n
}

// HasItem reports whether at least n of the item is held.
func (inv *Inventory) HasItem(kind string, n int) bool {
	return inv.Items[kind] >= n
}

// RemoveItem removes n of the item, reporting false when short.
func (inv *Inventory) RemoveItem(kind string, n int) bool {
	if inv.Items[kind] < n {
		return false
	}
	inv.Items[kind] -= n
	return true
}
