// Package resources provides the harvestable tree cycle: per-tile state
// machine, regrowth under the weather multiplier, and the population
// spawner.
package resources

import (
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/lowlandworks/pixelvale/internal/events"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// TreeState cycles full → stump → sapling → full. Only full trees are
// harvestable.
type TreeState string

const (
	TreeFull    TreeState = "full"
	TreeStump   TreeState = "stump"
	TreeSapling TreeState = "sapling"
)

// Tree is one harvestable tile, keyed by floored coordinates.
type Tree struct {
	X         int           `json:"x" db:"x"`
	Y         int           `json:"y" db:"y"`
	State     TreeState     `json:"state" db:"state"`
	RegrowAt  time.Time     `json:"regrow_at" db:"regrow_at"`   // zero while full
	RegrowFor time.Duration `json:"regrow_for" db:"regrow_for"` // span of the current deadline
}

// Typed harvest failures.
var (
	ErrNotHarvestable = errors.New("tree is not harvestable")
	ErrNoEnergy       = errors.New("not enough energy")
)

// TreeStore persists tile transitions.
type TreeStore interface {
	SaveTree(Tree) error
}

// WeatherSource reports whether it is raining; rain shortens regrowth
// and boosts sapling spawning.
type WeatherSource interface {
	IsRaining() bool
}

// Config tunes the cycle.
type Config struct {
	ChopEnergyCost int
	WoodMin        int
	WoodMax        int
	RegrowDuration time.Duration
	RainRegrowMult float64
	SpawnChance    float64
	RainSpawnMult  float64
	MaxTrees       int
}

// Cycle owns every tree tile.
type Cycle struct {
	mu    sync.Mutex
	trees map[[2]int]*Tree

	cfg      Config
	world    *world.World
	weather  WeatherSource
	store    TreeStore
	bus      *events.Bus
	rng      *rand.Rand
	lastTick time.Time
}

// NewCycle creates an empty cycle.
func NewCycle(cfg Config, w *world.World, weather WeatherSource, store TreeStore, bus *events.Bus, seed int64) *Cycle {
	return &Cycle{
		trees:    make(map[[2]int]*Tree),
		cfg:      cfg,
		world:    w,
		weather:  weather,
		store:    store,
		bus:      bus,
		rng:      rand.New(rand.NewSource(seed)),
		lastTick: time.Now(),
	}
}

// Seed plants full trees at the generated forest sites.
func (c *Cycle) Seed(sites []world.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range sites {
		key := [2]int{p.TileX(), p.TileY()}
		if _, ok := c.trees[key]; ok {
			continue
		}
		c.trees[key] = &Tree{X: key[0], Y: key[1], State: TreeFull}
	}
}

// Restore loads persisted tiles on startup.
func (c *Cycle) Restore(trees []Tree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range trees {
		tree := t
		c.trees[[2]int{t.X, t.Y}] = &tree
	}
}

// Get returns the tree at a tile.
func (c *Cycle) Get(x, y int) (Tree, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trees[[2]int{x, y}]
	if !ok {
		return Tree{}, false
	}
	return *t, true
}

// All returns copies of every tree tile.
func (c *Cycle) All() []Tree {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tree, 0, len(c.trees))
	for _, t := range c.trees {
		out = append(out, *t)
	}
	return out
}

// Count returns the tree population.
func (c *Cycle) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trees)
}

// NearestFull returns the closest harvestable tree to pos, if any.
func (c *Cycle) NearestFull(pos world.Position) (Tree, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best Tree
	found := false
	bestDist := 0.0
	for _, t := range c.trees {
		if t.State != TreeFull {
			continue
		}
		d := pos.DistanceTo(world.Position{X: float64(t.X), Y: float64(t.Y)})
		if !found || d < bestDist {
			best = *t
			bestDist = d
			found = true
		}
	}
	return best, found
}

// Chop harvests the tree at (x, y) for the agent. Fails with typed
// errors when the tile isn't a full tree or the agent lacks the energy
// cost. On success the agent pays energy, gains a random amount of wood,
// and the tile flips to stump with a regrow deadline. The tile is
// reserved as a stump before the agent is touched and reverted if the
// agent mutation fails, so no error path leaves partial state and a
// concurrent chop of the same tree cannot double-harvest it.
func (c *Cycle) Chop(agentID string, x, y int) (int, error) {
	key := [2]int{x, y}
	regrow := c.regrowDuration()

	c.mu.Lock()
	t, ok := c.trees[key]
	if !ok || t.State != TreeFull {
		c.mu.Unlock()
		return 0, ErrNotHarvestable
	}
	t.State = TreeStump
	t.RegrowAt = time.Now().Add(regrow)
	t.RegrowFor = regrow
	wood := c.cfg.WoodMin + c.rng.Intn(c.cfg.WoodMax-c.cfg.WoodMin+1)
	c.mu.Unlock()

	err := c.world.WithAgent(agentID, func(a *world.Agent) error {
		if a.Energy < c.cfg.ChopEnergyCost {
			return ErrNoEnergy
		}
		a.Energy -= c.cfg.ChopEnergyCost
		a.Inventory.AddWood(wood)
		a.Experience += int(2 * a.XPMultiplier())
		a.Touch()
		return nil
	})

	c.mu.Lock()
	t, ok = c.trees[key]
	if err != nil {
		if ok && t.State != TreeFull {
			t.State = TreeFull
			t.RegrowAt = time.Time{}
			t.RegrowFor = 0
		}
		c.mu.Unlock()
		return 0, err
	}
	if !ok {
		c.mu.Unlock()
		return 0, ErrNotHarvestable
	}
	row := *t
	c.mu.Unlock()

	c.bus.Emit(events.TypeTreeChopped, map[string]any{
		"agent_id": agentID,
		"x":        x,
		"y":        y,
		"wood":     wood,
	})
	if err := c.store.SaveTree(row); err != nil {
		slog.Error("tree save failed", "x", x, "y", y, "error", err)
	}
	return wood, nil
}

// regrowDuration applies the rain multiplier to the configured duration.
func (c *Cycle) regrowDuration() time.Duration {
	d := c.cfg.RegrowDuration
	if c.weather != nil && c.weather.IsRaining() {
		d = time.Duration(float64(d) * c.cfg.RainRegrowMult)
	}
	return d
}

// Tick advances every cached tile's state by elapsed time. Rain pulls
// regrow deadlines closer while it lasts. Stumps become saplings at the
// halfway point and full trees at the deadline.
func (c *Cycle) Tick() {
	now := time.Now()

	c.mu.Lock()
	elapsed := now.Sub(c.lastTick)
	c.lastTick = now

	var rainBonus time.Duration
	if c.weather != nil && c.weather.IsRaining() && c.cfg.RainRegrowMult > 0 && c.cfg.RainRegrowMult < 1 {
		rainBonus = time.Duration(float64(elapsed) * (1/c.cfg.RainRegrowMult - 1))
	}

	var regrown []Tree
	var dirty []Tree
	for _, t := range c.trees {
		if t.State == TreeFull {
			continue
		}
		if rainBonus > 0 {
			t.RegrowAt = t.RegrowAt.Add(-rainBonus)
		}
		// The sapling point is half of the span the deadline was set
		// with, which a rainy chop shortens below RegrowDuration.
		span := t.RegrowFor
		if span <= 0 {
			span = c.cfg.RegrowDuration
		}
		remaining := t.RegrowAt.Sub(now)
		switch {
		case remaining <= 0:
			t.State = TreeFull
			t.RegrowAt = time.Time{}
			t.RegrowFor = 0
			regrown = append(regrown, *t)
		case t.State == TreeStump && remaining <= span/2:
			t.State = TreeSapling
			dirty = append(dirty, *t)
		case rainBonus > 0:
			dirty = append(dirty, *t)
		}
	}
	c.mu.Unlock()

	for _, t := range regrown {
		c.bus.Emit(events.TypeTreeRegrown, map[string]any{"x": t.X, "y": t.Y})
		if err := c.store.SaveTree(t); err != nil {
			slog.Error("tree save failed", "x", t.X, "y", t.Y, "error", err)
		}
	}
	for _, t := range dirty {
		if err := c.store.SaveTree(t); err != nil {
			slog.Error("tree save failed", "x", t.X, "y", t.Y, "error", err)
		}
	}
}

// SpawnTick scans empty grass tiles and, while under the population cap,
// sprouts saplings at a small per-tile probability, boosted in rain.
func (c *Cycle) SpawnTick() {
	chance := c.cfg.SpawnChance
	if c.weather != nil && c.weather.IsRaining() {
		chance *= c.cfg.RainSpawnMult
	}

	type spawn struct{ x, y int }
	var spawned []spawn

	c.mu.Lock()
	if len(c.trees) < c.cfg.MaxTrees {
		m := c.world.Map
		for y := 0; y < m.Height && len(c.trees) < c.cfg.MaxTrees; y++ {
			for x := 0; x < m.Width && len(c.trees) < c.cfg.MaxTrees; x++ {
				t := m.TileAt(x, y)
				if t != world.TileGrass && t != world.TileForest {
					continue
				}
				key := [2]int{x, y}
				if _, taken := c.trees[key]; taken {
					continue
				}
				if c.rng.Float64() >= chance {
					continue
				}
				c.trees[key] = &Tree{
					X:         x,
					Y:         y,
					State:     TreeSapling,
					RegrowAt:  time.Now().Add(c.cfg.RegrowDuration / 2),
					RegrowFor: c.cfg.RegrowDuration / 2,
				}
				spawned = append(spawned, spawn{x, y})
			}
		}
	}
	var rows []Tree
	for _, s := range spawned {
		rows = append(rows, *c.trees[[2]int{s.x, s.y}])
	}
	c.mu.Unlock()

	for i, s := range spawned {
		c.bus.Emit(events.TypeTreeSpawned, map[string]any{"x": s.x, "y": s.y})
		if err := c.store.SaveTree(rows[i]); err != nil {
			slog.Error("tree save failed", "x", s.x, "y", s.y, "error", err)
		}
	}
	if len(spawned) > 0 {
		slog.Info("saplings spawned", "count", len(spawned), "raining", c.weather != nil && c.weather.IsRaining())
	}
}
