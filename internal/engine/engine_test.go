package engine

import (
	"testing"
	"time"

	"github.com/lowlandworks/pixelvale/internal/buildings"
	"github.com/lowlandworks/pixelvale/internal/config"
	"github.com/lowlandworks/pixelvale/internal/persistence"
	"github.com/lowlandworks/pixelvale/internal/world"
)

func testGame(t *testing.T) (*Game, *persistence.MemStore) {
	t.Helper()
	cfg := config.Default()
	cfg.World.Seed = 42
	cfg.Store.Driver = "memory"
	store := persistence.NewMemStore()
	g := NewGame(cfg, store)
	if err := g.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	return g, store
}

func TestJoinAndLeave(t *testing.T) {
	g, _ := testGame(t)

	a, err := g.Join("alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if a.Name != "alice" || a.ID == "" {
		t.Fatalf("bad agent: %+v", a)
	}

	again, err := g.Join("alice")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.ID != a.ID {
		t.Fatalf("rejoin produced new id: %s vs %s", again.ID, a.ID)
	}

	if err := g.Leave(a.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := g.Leave(a.ID); err != world.ErrAgentNotFound {
		t.Fatalf("double leave err = %v, want ErrAgentNotFound", err)
	}
}

func TestMovementWalksOneTilePerTick(t *testing.T) {
	g, _ := testGame(t)
	loop := NewLoop(g, nil)

	a, err := g.Join("alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	// Pin the agent to a known open tile two tiles from the target.
	startX, startY := a.Position.TileX(), a.Position.TileY()
	targetY := startY + 2
	if g.World.IsObstacle(startX, startY+1) || g.World.IsObstacle(startX, targetY) {
		t.Skip("tiles south of spawn blocked at this seed")
	}
	if err := g.Move(a.ID, float64(startX), float64(targetY)); err != nil {
		t.Fatalf("move: %v", err)
	}

	loop.movementStep()
	mid, _ := g.World.GetAgent(a.ID)
	if mid.State != world.StateWalking {
		t.Fatalf("state after tick 1 = %s, want walking", mid.State)
	}
	if mid.Position.TileY() != startY+1 {
		t.Fatalf("y after tick 1 = %d, want %d", mid.Position.TileY(), startY+1)
	}
	if mid.Facing != world.FacingDown {
		t.Fatalf("facing = %s, want down", mid.Facing)
	}

	loop.movementStep()
	end, _ := g.World.GetAgent(a.ID)
	if end.Position.TileY() != targetY {
		t.Fatalf("y after tick 2 = %d, want %d", end.Position.TileY(), targetY)
	}
	if end.State != world.StateIdle || end.Target != nil {
		t.Fatalf("agent not idle at target: state=%s target=%v", end.State, end.Target)
	}
}

func TestDecayPass(t *testing.T) {
	g, store := testGame(t)
	loop := NewLoop(g, nil)

	a, _ := g.Join("alice")
	_ = g.World.WithAgent(a.ID, func(live *world.Agent) error {
		live.Energy = 50
		live.Happiness = 80
		return nil
	})

	loop.decayPass()

	got, _ := g.World.GetAgent(a.ID)
	if got.Energy != 49 {
		t.Fatalf("idle energy = %d, want 49", got.Energy)
	}
	if got.Happiness != 79 {
		t.Fatalf("happiness = %d, want 79 (drift toward 50)", got.Happiness)
	}

	// The whole registry lands in storage.
	saved, err := store.LoadAgents()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(saved) != 1 || saved[0].Energy != 49 {
		t.Fatalf("persisted registry wrong: %+v", saved)
	}
}

func TestDecayPassSleepCycle(t *testing.T) {
	g, _ := testGame(t)
	loop := NewLoop(g, nil)

	a, _ := g.Join("alice")
	_ = g.World.WithAgent(a.ID, func(live *world.Agent) error {
		live.Energy = 9
		return nil
	})

	loop.decayPass()
	got, _ := g.World.GetAgent(a.ID)
	if got.State != world.StateSleeping {
		t.Fatalf("state = %s on exhaustion, want sleeping", got.State)
	}

	// Sleep restores energy until full, then wakes.
	_ = g.World.WithAgent(a.ID, func(live *world.Agent) error {
		live.Energy = 97
		return nil
	})
	loop.decayPass()
	got, _ = g.World.GetAgent(a.ID)
	if got.State != world.StateIdle {
		t.Fatalf("state = %s at full energy, want idle", got.State)
	}
	if got.Energy != world.StatMax {
		t.Fatalf("energy = %d, want clamped at %d", got.Energy, world.StatMax)
	}
}

func TestSellRequiresStallProximity(t *testing.T) {
	g, _ := testGame(t)
	a, _ := g.Join("alice")
	_ = g.World.WithAgent(a.ID, func(live *world.Agent) error {
		live.Inventory.AddWood(10)
		return nil
	})

	stall, ok := g.World.NearestInteractable(world.InteractVending, a.Position)
	if !ok {
		t.Skip("map has no vending stall at this seed")
	}

	// Far away the sale is rejected.
	_ = g.World.WithAgent(a.ID, func(live *world.Agent) error {
		live.Position = world.Position{X: stall.Position.X + stall.Range + 10, Y: stall.Position.Y}
		return nil
	})
	if _, err := g.Sell(a.ID, 5); err != ErrOutOfRange {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}

	// In range the wood converts to currency.
	_ = g.World.WithAgent(a.ID, func(live *world.Agent) error {
		live.Position = stall.Position
		return nil
	})
	earned, err := g.Sell(a.ID, 5)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if earned != 10 {
		t.Fatalf("earned = %d, want 10 (5 wood at price 2)", earned)
	}
	got, _ := g.World.GetAgent(a.ID)
	if got.Inventory.Wood != 5 || got.Currency != 10+earned {
		t.Fatalf("wood = %d currency = %d after sale", got.Inventory.Wood, got.Currency)
	}

	// 0 means "sell everything"; a second empty sale is a typed failure.
	if _, err := g.Sell(a.ID, 0); err != nil {
		t.Fatalf("sell remainder: %v", err)
	}
	if _, err := g.Sell(a.ID, 0); err != buildings.ErrNoWood {
		t.Fatalf("empty sale err = %v, want ErrNoWood", err)
	}
}

func TestStartActivityFishing(t *testing.T) {
	g, _ := testGame(t)
	a, _ := g.Join("alice")

	spot, ok := g.World.NearestInteractable(world.InteractFishing, a.Position)
	if !ok {
		t.Skip("map has no fishing spot at this seed")
	}

	// Out of range is rejected without touching the agent.
	_ = g.World.WithAgent(a.ID, func(live *world.Agent) error {
		live.Position = world.Position{X: spot.Position.X + spot.Range + 10, Y: spot.Position.Y}
		return nil
	})
	if err := g.StartActivity(a.ID, world.InteractFishing); err != ErrOutOfRange {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}

	_ = g.World.WithAgent(a.ID, func(live *world.Agent) error {
		live.Position = spot.Position
		return nil
	})
	if err := g.StartActivity(a.ID, world.InteractFishing); err != nil {
		t.Fatalf("fish: %v", err)
	}

	got, _ := g.World.GetAgent(a.ID)
	total := 0
	for _, n := range got.Inventory.Catch {
		total += n
	}
	if total != 1 {
		t.Fatalf("catch total = %d, want 1", total)
	}
	if got.Experience == 0 {
		t.Fatal("fishing should grant experience")
	}
}

func TestSayWithoutConversation(t *testing.T) {
	g, _ := testGame(t)
	a, _ := g.Join("alice")
	if _, err := g.Say(a.ID, "hello?"); err != ErrNoConversation {
		t.Fatalf("err = %v, want ErrNoConversation", err)
	}
}

func TestGreetAndSayRoundTrip(t *testing.T) {
	g, _ := testGame(t)
	a, _ := g.Join("alice")
	b, _ := g.Join("bob")

	c, err := g.Greet(a.ID, b.ID)
	if err != nil {
		t.Fatalf("greet: %v", err)
	}
	if err := g.Accept(c.ID, b.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	msg, err := g.Say(a.ID, "hello")
	if err != nil {
		t.Fatalf("say: %v", err)
	}
	if msg.ConversationID != c.ID {
		t.Fatalf("message landed in %s, want %s", msg.ConversationID, c.ID)
	}

	// The pair now has a relationship from the start and message bonuses.
	r, ok := g.Relationships.Get(a.ID, b.ID)
	if !ok || r.Score <= 0 {
		t.Fatalf("relationship = %+v ok=%v, want positive score", r, ok)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.World.Seed = 42
	store := persistence.NewMemStore()

	g1 := NewGame(cfg, store)
	if err := g1.Restore(); err != nil {
		t.Fatalf("first restore: %v", err)
	}
	a, _ := g1.Join("alice")
	b, _ := g1.Join("bob")
	if _, err := g1.Relationships.Update(a.ID, b.ID, 15); err != nil {
		t.Fatalf("update: %v", err)
	}
	// Persist the registry the way the loop does.
	if err := store.SaveAgents(g1.World.Agents()); err != nil {
		t.Fatalf("save agents: %v", err)
	}

	// A second process over the same store sees the same world.
	g2 := NewGame(cfg, store)
	if err := g2.Restore(); err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if g2.World.Count() != 2 {
		t.Fatalf("restored population = %d, want 2", g2.World.Count())
	}
	got, err := g2.World.GetAgent(a.ID)
	if err != nil {
		t.Fatalf("restored agent missing: %v", err)
	}
	if got.Name != "alice" {
		t.Fatalf("restored name = %s, want alice", got.Name)
	}
	r, ok := g2.Relationships.Get(a.ID, b.ID)
	if !ok || r.Score != 15 {
		t.Fatalf("restored relationship = %+v ok=%v, want score 15", r, ok)
	}
	// Rejoin by name maps onto the restored agent, not a duplicate.
	again, err := g2.Join("alice")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.ID != a.ID {
		t.Fatalf("rejoin id = %s, want restored %s", again.ID, a.ID)
	}
}

func TestLoopStartStopIdempotent(t *testing.T) {
	g, _ := testGame(t)
	cfgLoop := &g.Cfg.Loop
	cfgLoop.TickInterval = 5 * time.Millisecond

	loop := NewLoop(g, nil)
	loop.Start()
	loop.Start() // no-op
	if !loop.Running() {
		t.Fatal("loop not running after start")
	}

	time.Sleep(30 * time.Millisecond)
	loop.Stop()
	loop.Stop() // no-op
	if loop.Running() {
		t.Fatal("loop running after stop")
	}
	if loop.Tick() == 0 {
		t.Fatal("loop never ticked")
	}
}

func TestBehaviorPassOnlyDrivesNPCs(t *testing.T) {
	g, _ := testGame(t)

	human, _ := g.Join("alice")
	joined := SpawnNPCs(g, []string{"npc-bram"})
	if joined != 1 {
		t.Fatalf("npcs joined = %d, want 1", joined)
	}

	var acted []string
	loop := NewLoop(g, behaviorFunc(func(a world.Agent) { acted = append(acted, a.ID) }))
	loop.behaviorPass()

	for _, id := range acted {
		if id == human.ID {
			t.Fatal("behavior source drove a non-NPC agent")
		}
	}
	if len(acted) != 1 {
		t.Fatalf("acted = %d agents, want 1", len(acted))
	}
}

// behaviorFunc adapts a function to the BehaviorSource interface.
type behaviorFunc func(world.Agent)

func (f behaviorFunc) Act(a world.Agent) { f(a) }
