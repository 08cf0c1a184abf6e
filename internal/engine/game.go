// Package engine ties the world, the subsystems, and the game loop
// together. Game is the application context: constructed once at startup
// and passed by reference wherever it's needed, replacing any notion of
// process-wide singletons.
package engine

import (
	"errors"
	"log/slog"
	"math/rand"

	"github.com/lowlandworks/pixelvale/internal/buildings"
	"github.com/lowlandworks/pixelvale/internal/clock"
	"github.com/lowlandworks/pixelvale/internal/config"
	"github.com/lowlandworks/pixelvale/internal/events"
	"github.com/lowlandworks/pixelvale/internal/persistence"
	"github.com/lowlandworks/pixelvale/internal/resources"
	"github.com/lowlandworks/pixelvale/internal/social"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// ErrNoConversation is returned when an agent speaks without a session.
var ErrNoConversation = errors.New("agent has no active conversation")

// ErrOutOfRange is returned when an activity's point of interest is too
// far away.
var ErrOutOfRange = errors.New("too far from the point of interest")

// ActivityLogger is a best-effort external collaborator. Calls are
// fire-and-forget; failures never reach the engine.
type ActivityLogger interface {
	Log(eventKind, agentID, label string, value *float64)
}

// NopActivityLogger discards everything.
type NopActivityLogger struct{}

func (NopActivityLogger) Log(string, string, string, *float64) {}

// SlogActivityLogger writes activity records to the structured log.
type SlogActivityLogger struct{}

func (SlogActivityLogger) Log(eventKind, agentID, label string, value *float64) {
	if value != nil {
		slog.Info("activity", "kind", eventKind, "agent", agentID, "label", label, "value", *value)
		return
	}
	slog.Info("activity", "kind", eventKind, "agent", agentID, "label", label)
}

// Game holds every subsystem. All public actions — the same ones the
// HTTP layer and the NPC driver call — live here.
type Game struct {
	Cfg           *config.Config
	World         *world.World
	Conversations *social.Machine
	Relationships *social.Ledger
	Trees         *resources.Cycle
	Buildings     *buildings.Ledger
	Clock         *clock.Clock
	Bus           *events.Bus
	Store         persistence.Store
	Activity      ActivityLogger

	rng *rand.Rand
}

// NewGame wires the subsystems leaf-first around a generated world.
func NewGame(cfg *config.Config, store persistence.Store) *Game {
	bus := events.NewBus(store, cfg.Events.RingSize, cfg.Events.FlushAt, cfg.Events.FlushInterval)

	gen := world.Generate(world.GenConfig{
		Width:    cfg.World.Width,
		Height:   cfg.World.Height,
		Seed:     cfg.World.Seed,
		SeaLevel: 0.28,
		SandBand: 0.33,
	})
	w := world.NewWorld(gen, cfg.World.MaxAgents, cfg.World.WanderRetries)

	clk := clock.New(clock.Config{
		TimeScale:   cfg.Clock.TimeScale,
		WeatherMin:  cfg.Clock.WeatherMin,
		WeatherMax:  cfg.Clock.WeatherMax,
		StormChance: cfg.Clock.StormEscalation,
	}, store, bus, gen.Seed+101)

	rels := social.NewLedger(w, store, bus, cfg.Social.DecayPerDay)
	convos := social.NewMachine(social.MachineConfig{
		InviteTimeout:   cfg.Social.InviteTimeout,
		MaxDuration:     cfg.Social.MaxDuration,
		SilenceTimeout:  cfg.Social.SilenceTimeout,
		MaxMessages:     cfg.Social.MaxMessages,
		LongBonusAt:     cfg.Social.LongConvoBonusAt,
		MessageCooldown: cfg.Social.MessageCooldown,
	}, w, rels, store, bus)

	trees := resources.NewCycle(resources.Config{
		ChopEnergyCost: cfg.Trees.ChopEnergyCost,
		WoodMin:        cfg.Trees.WoodMin,
		WoodMax:        cfg.Trees.WoodMax,
		RegrowDuration: cfg.Trees.RegrowDuration,
		RainRegrowMult: cfg.Trees.RainRegrowMult,
		SpawnChance:    cfg.Trees.SpawnChance,
		RainSpawnMult:  cfg.Trees.RainSpawnMult,
		MaxTrees:       cfg.Trees.MaxTrees,
	}, w, clk, store, bus, gen.Seed+211)

	builds := buildings.NewLedger(buildings.Config{
		WoodRequired:      cfg.Building.WoodRequired,
		StartContribution: cfg.Building.StartContribution,
		MaxContribution:   cfg.Building.MaxContribution,
		EnergyCost:        cfg.Building.EnergyCost,
		MinSpacing:        cfg.Building.MinSpacing,
	}, w, store, bus)

	return &Game{
		Cfg:           cfg,
		World:         w,
		Conversations: convos,
		Relationships: rels,
		Trees:         trees,
		Buildings:     builds,
		Clock:         clk,
		Bus:           bus,
		Store:         store,
		Activity:      NopActivityLogger{},
		rng:           rand.New(rand.NewSource(gen.Seed + 307)),
	}
}

// Restore loads persisted state into every subsystem, then seeds initial
// trees on any forest sites not already covered by a persisted tile.
func (g *Game) Restore() error {
	if err := g.Clock.Load(); err != nil {
		return err
	}

	agents, err := g.Store.LoadAgents()
	if err != nil {
		return err
	}
	for _, a := range agents {
		if err := g.World.RestoreAgent(a); err != nil {
			slog.Warn("agent restore skipped", "agent", a.ID, "error", err)
		}
	}

	rels, err := g.Store.LoadRelationships()
	if err != nil {
		return err
	}
	g.Relationships.Restore(rels)

	trees, err := g.Store.LoadTrees()
	if err != nil {
		return err
	}
	g.Trees.Restore(trees)
	g.Trees.Seed(g.World.Map.TreeSites)

	builds, err := g.Store.LoadBuildings()
	if err != nil {
		return err
	}
	g.Buildings.Restore(builds)

	slog.Info("world restored",
		"agents", len(agents), "relationships", len(rels),
		"trees", g.Trees.Count(), "buildings", len(builds))
	return nil
}

// Join spawns an agent (or returns the existing one for a repeat name)
// and announces the arrival.
func (g *Game) Join(name string) (world.Agent, error) {
	a, existed, err := g.World.SpawnAgent(name)
	if err != nil {
		return world.Agent{}, err
	}
	if existed {
		return a, nil
	}
	g.Bus.Emit(events.TypeAgentJoin, map[string]any{
		"agent_id": a.ID,
		"name":     a.Name,
		"x":        a.Position.X,
		"y":        a.Position.Y,
	})
	g.logActivity("join", a.ID, a.Name, nil)
	if err := g.Store.SaveAgents([]world.Agent{a}); err != nil {
		slog.Error("agent save failed", "agent", a.ID, "error", err)
	}
	return a, nil
}

// Leave removes an agent, ending any conversation first.
func (g *Game) Leave(agentID string) error {
	if c, ok := g.Conversations.ActiveFor(agentID); ok {
		g.Conversations.End(c.ID)
	}
	if !g.World.RemoveAgent(agentID) {
		return world.ErrAgentNotFound
	}
	g.Bus.Emit(events.TypeAgentLeave, map[string]any{"agent_id": agentID})
	return nil
}

// Move points an agent at a destination; the loop walks it there.
func (g *Game) Move(agentID string, x, y float64) error {
	return g.World.SetTarget(agentID, world.Position{X: x, Y: y})
}

// Greet starts a conversation between two agents.
func (g *Game) Greet(agentID, otherID string) (social.Conversation, error) {
	return g.Conversations.Start(agentID, otherID)
}

// Accept joins an invited conversation.
func (g *Game) Accept(conversationID, agentID string) error {
	return g.Conversations.Accept(conversationID, agentID)
}

// Say adds a message to the agent's current conversation.
func (g *Game) Say(agentID, text string) (social.Message, error) {
	c, ok := g.Conversations.ActiveFor(agentID)
	if !ok {
		return social.Message{}, ErrNoConversation
	}
	return g.Conversations.AddMessage(c.ID, agentID, text)
}

// Chop harvests the tree at a tile for the agent.
func (g *Game) Chop(agentID string, x, y int) (int, error) {
	wood, err := g.Trees.Chop(agentID, x, y)
	if err != nil {
		return 0, err
	}
	v := float64(wood)
	g.logActivity("chop", agentID, "wood", &v)
	return wood, nil
}

// Build places a new foundation for the agent.
func (g *Game) Build(agentID string, x, y int) (buildings.Building, error) {
	b, err := g.Buildings.Start(agentID, x, y)
	if err != nil {
		return buildings.Building{}, err
	}
	g.logActivity("build_start", agentID, b.ID, nil)
	return b, nil
}

// Contribute advances the agent's own building.
func (g *Game) Contribute(agentID, buildingID string) (buildings.Building, error) {
	b, err := g.Buildings.Contribute(agentID, buildingID)
	if err != nil {
		return buildings.Building{}, err
	}
	if b.State == buildings.StateComplete {
		g.logActivity("build_complete", agentID, b.ID, nil)
	}
	return b, nil
}

// Wood price at the vending stall.
const woodSalePrice = 2

// Sell trades the agent's wood for currency at the vending stall. The
// agent must be within the stall's interaction range.
func (g *Game) Sell(agentID string, amount int) (int, error) {
	a, err := g.World.GetAgent(agentID)
	if err != nil {
		return 0, err
	}
	stall, ok := g.World.NearestInteractable(world.InteractVending, a.Position)
	if !ok || a.Position.DistanceTo(stall.Position) > stall.Range {
		return 0, ErrOutOfRange
	}

	var earned int
	err = g.World.WithAgent(agentID, func(ag *world.Agent) error {
		if amount <= 0 || amount > ag.Inventory.Wood {
			amount = ag.Inventory.Wood
		}
		if amount == 0 {
			return buildings.ErrNoWood
		}
		ag.Inventory.RemoveWood(amount)
		earned = amount * woodSalePrice
		ag.Currency += earned
		ag.Touch()
		return nil
	})
	if err != nil {
		return 0, err
	}

	g.Bus.Emit(events.TypeActivityStart, map[string]any{
		"agent_id": agentID,
		"activity": "sell",
		"amount":   amount,
		"earned":   earned,
	})
	v := float64(earned)
	g.logActivity("sell", agentID, "wood", &v)
	return earned, nil
}

// StartActivity uses a point of interest: fishing yields a categorized
// catch, sitting restores a little happiness.
func (g *Game) StartActivity(agentID string, kind world.InteractableKind) error {
	a, err := g.World.GetAgent(agentID)
	if err != nil {
		return err
	}
	poi, ok := g.World.NearestInteractable(kind, a.Position)
	if !ok || a.Position.DistanceTo(poi.Position) > poi.Range {
		return ErrOutOfRange
	}

	err = g.World.WithAgent(agentID, func(ag *world.Agent) error {
		switch kind {
		case world.InteractFishing:
			species := []string{"carp", "perch", "trout"}[g.rng.Intn(3)]
			ag.Inventory.AddCatch(species, 1)
			ag.Experience += int(2 * ag.XPMultiplier())
		case world.InteractSitting:
			ag.Happiness = world.ClampStat(ag.Happiness + 2)
			ag.Mood = world.MoodFor(ag.Happiness)
		}
		ag.Touch()
		return nil
	})
	if err != nil {
		return err
	}

	g.Bus.Emit(events.TypeActivityStart, map[string]any{
		"agent_id": agentID,
		"activity": string(kind),
	})
	g.logActivity("activity", agentID, string(kind), nil)
	return nil
}

// logActivity fans out to the external logger without letting it fail or
// block the engine.
func (g *Game) logActivity(eventKind, agentID, label string, value *float64) {
	logger := g.Activity
	if logger == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Debug("activity logger panicked", "kind", eventKind)
			}
		}()
		logger.Log(eventKind, agentID, label, value)
	}()
}
