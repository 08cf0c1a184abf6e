package engine

import (
	"math/rand"

	"github.com/lowlandworks/pixelvale/internal/buildings"
	"github.com/lowlandworks/pixelvale/internal/social"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// BehaviorSource drives autonomous agents. It calls the same public
// actions as any API caller, so an external generator can replace the
// built-in rules without touching the engine.
type BehaviorSource interface {
	Act(a world.Agent)
}

// RuleBehavior is the built-in weighted rule set for NPCs.
type RuleBehavior struct {
	game *Game
	rng  *rand.Rand
}

// NewRuleBehavior creates the default NPC driver.
func NewRuleBehavior(g *Game) *RuleBehavior {
	return &RuleBehavior{game: g, rng: rand.New(rand.NewSource(g.rng.Int63()))}
}

var npcLines = []string{
	"Lovely weather for it.",
	"Have you seen the new houses going up?",
	"The forest is thick this season.",
	"I hear the fish are biting by the shore.",
	"Wood prices are fair at the stall today.",
	"Long day. My feet ache.",
	"Did you catch the storm last night?",
}

// Act takes one decision for the agent.
func (r *RuleBehavior) Act(a world.Agent) {
	if a.State == world.StateTalking {
		r.converse(a)
		return
	}
	if a.State != world.StateIdle {
		return
	}

	switch roll := r.rng.Float64(); {
	case roll < 0.25:
		r.greet(a)
	case roll < 0.55:
		r.work(a)
	default:
		// Rest; the wander pass keeps idle agents strolling.
	}
}

// converse accepts pending invites and keeps active chats moving.
func (r *RuleBehavior) converse(a world.Agent) {
	g := r.game
	c, ok := g.Conversations.ActiveFor(a.ID)
	if !ok {
		return
	}
	if c.State == social.ConvoInvited {
		_ = g.Accept(c.ID, a.ID)
	}
	if _, err := g.Say(a.ID, npcLines[r.rng.Intn(len(npcLines))]); err != nil {
		// Cooldown or cap; the sweep will close stale sessions.
		return
	}
	// Long chats end themselves once one side loses interest.
	if len(c.Messages) > 6 && r.rng.Float64() < 0.3 {
		g.Conversations.End(c.ID)
	}
}

// greet strikes up a conversation with the nearest idle neighbor.
func (r *RuleBehavior) greet(a world.Agent) {
	g := r.game
	for _, n := range g.World.NearbyAgents(a.Position, 8, a.ID) {
		if n.State != world.StateIdle {
			continue
		}
		c, err := g.Greet(a.ID, n.ID)
		if err != nil {
			return
		}
		_ = g.Accept(c.ID, n.ID)
		_, _ = g.Say(a.ID, npcLines[r.rng.Intn(len(npcLines))])
		return
	}
}

// work progresses the agent's economic life: contribute to its own
// building, start one when it can afford to, otherwise head out and chop.
func (r *RuleBehavior) work(a world.Agent) {
	g := r.game

	if b, owns := g.Buildings.ByOwner(a.ID); owns {
		if b.State != buildings.StateComplete && a.Inventory.Wood > 0 {
			_, _ = g.Contribute(a.ID, b.ID)
			return
		}
	} else if a.Inventory.Wood >= g.Cfg.Building.StartContribution && r.rng.Float64() < 0.5 {
		if x, y, ok := r.findSite(); ok {
			_, _ = g.Build(a.ID, x, y)
			return
		}
	}

	tree, ok := g.Trees.NearestFull(a.Position)
	if !ok {
		return
	}
	treePos := world.Position{X: float64(tree.X), Y: float64(tree.Y)}
	if a.Position.DistanceTo(treePos) <= 1.5 {
		_, _ = g.Chop(a.ID, tree.X, tree.Y)
		return
	}
	_ = g.Move(a.ID, treePos.X, treePos.Y)
}

// findSite scans plaza tiles for a legal building spot.
func (r *RuleBehavior) findSite() (int, int, bool) {
	g := r.game
	m := g.World.Map
	for i := 0; i < 40; i++ {
		x := r.rng.Intn(m.Width)
		y := r.rng.Intn(m.Height)
		if g.Buildings.CanBuildAt(x, y) {
			return x, y, true
		}
	}
	return 0, 0, false
}

// SpawnNPCs joins n rule-driven residents.
func SpawnNPCs(g *Game, names []string) int {
	joined := 0
	for _, name := range names {
		a, err := g.Join(name)
		if err != nil {
			break
		}
		_ = g.World.WithAgent(a.ID, func(ag *world.Agent) error {
			ag.NPC = true
			return nil
		})
		joined++
	}
	return joined
}
