package world

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Typed failures returned to callers. These never unwind the game loop.
var (
	ErrWorldFull     = errors.New("world population cap reached")
	ErrAgentNotFound = errors.New("agent not found")
	ErrBadTarget     = errors.New("target tile is not walkable")
	ErrAgentBusy     = errors.New("agent is busy")
)

// World owns the map, the agent registry, and tile occupancy. Every
// mutation happens under its lock so the game loop and external actions
// stay consistent.
type World struct {
	mu sync.Mutex

	Map *GeneratedMap

	agents   map[string]*Agent
	byName   map[string]string   // name → id, for idempotent reconnects
	occupied map[[2]int]string   // building-occupied tiles → building id

	maxAgents     int
	wanderRetries int
	spawnCursor   int
	rng           *rand.Rand
}

// NewWorld wraps a generated map in an empty registry.
func NewWorld(m *GeneratedMap, maxAgents, wanderRetries int) *World {
	return &World{
		Map:           m,
		agents:        make(map[string]*Agent),
		byName:        make(map[string]string),
		occupied:      make(map[[2]int]string),
		maxAgents:     maxAgents,
		wanderRetries: wanderRetries,
		rng:           rand.New(rand.NewSource(m.Seed + 31)),
	}
}

// SpawnAgent registers a new agent, rotating through the spawn points.
// Spawning an existing name returns that agent unchanged, so reconnects
// are idempotent. Returns whether the agent already existed.
func (w *World) SpawnAgent(name string) (Agent, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if id, ok := w.byName[name]; ok {
		return w.agents[id].Snapshot(), true, nil
	}
	if len(w.agents) >= w.maxAgents {
		return Agent{}, false, ErrWorldFull
	}

	pos := w.nextSpawnLocked()

	a := &Agent{
		ID:         uuid.NewString(),
		Name:       name,
		Position:   pos,
		State:      StateIdle,
		Energy:     StatMax,
		Happiness:  70,
		Currency:   10,
		Inventory:  NewInventory(),
		Mood:       MoodFor(70),
		Facing:     FacingDown,
		LastActive: time.Now(),
	}
	w.agents[a.ID] = a
	w.byName[name] = a.ID
	return a.Snapshot(), false, nil
}

// nextSpawnLocked rotates through the spawn points, skipping any that a
// building or water has since blocked. When every point is blocked it
// searches outward from the next point in rotation for the closest
// walkable tile, so a joiner never materializes on an obstacle.
func (w *World) nextSpawnLocked() Position {
	n := len(w.Map.SpawnPoints)
	for i := 0; i < n; i++ {
		pos := w.Map.SpawnPoints[(w.spawnCursor+i)%n]
		if !w.isObstacleLocked(pos.TileX(), pos.TileY()) {
			w.spawnCursor += i + 1
			return pos
		}
	}

	base := w.Map.SpawnPoints[w.spawnCursor%n]
	w.spawnCursor++
	for r := 1; r < w.Map.Width+w.Map.Height; r++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if dx > -r && dx < r && dy > -r && dy < r {
					continue // ring perimeter only
				}
				x, y := base.TileX()+dx, base.TileY()+dy
				if w.InBounds(x, y) && !w.isObstacleLocked(x, y) {
					return Position{X: float64(x), Y: float64(y)}
				}
			}
		}
	}
	return base
}

// RemoveAgent drops an agent from the registry.
func (w *World) RemoveAgent(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.agents[id]
	if !ok {
		return false
	}
	delete(w.byName, a.Name)
	delete(w.agents, id)
	return true
}

// GetAgent returns a copy of the agent.
func (w *World) GetAgent(id string) (Agent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.agents[id]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	return a.Snapshot(), nil
}

// Agents returns copies of every agent.
func (w *World) Agents() []Agent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Agent, 0, len(w.agents))
	for _, a := range w.agents {
		out = append(out, a.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the current population.
func (w *World) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.agents)
}

// WithAgent runs fn on the live agent under the world lock. The typed
// not-found error is returned if the agent no longer exists.
func (w *World) WithAgent(id string, fn func(*Agent) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	return fn(a)
}

// EachAgent runs fn on every live agent under the world lock. Used by the
// game loop's movement and decay passes.
func (w *World) EachAgent(fn func(*Agent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.agents))
	for id := range w.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids) // stable order keeps ticks reproducible
	for _, id := range ids {
		fn(w.agents[id])
	}
}

// SetTarget points an agent at a destination tile. Fails with a typed
// error if the agent is mid-conversation or the tile is an obstacle.
func (w *World) SetTarget(id string, pos Position) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	if a.State == StateTalking {
		return ErrAgentBusy
	}
	if w.isObstacleLocked(pos.TileX(), pos.TileY()) {
		return ErrBadTarget
	}
	target := pos
	a.Target = &target
	a.State = StateWalking
	a.Touch()
	return nil
}

// Wander picks a random walkable tile near the agent, retrying a bounded
// number of times before giving up.
func (w *World) Wander(id string) bool {
	w.mu.Lock()
	a, ok := w.agents[id]
	if !ok || a.State != StateIdle {
		w.mu.Unlock()
		return false
	}
	var target *Position
	for i := 0; i < w.wanderRetries; i++ {
		x := a.Position.TileX() + w.rng.Intn(17) - 8
		y := a.Position.TileY() + w.rng.Intn(17) - 8
		if w.isObstacleLocked(x, y) {
			continue
		}
		target = &Position{X: float64(x), Y: float64(y)}
		break
	}
	w.mu.Unlock()
	if target == nil {
		return false
	}
	return w.SetTarget(id, *target) == nil
}

// NearbyAgents returns agents within radius of pos, nearest first. A full
// scan is fine at a few hundred agents; the contract allows swapping in a
// spatial index later.
func (w *World) NearbyAgents(pos Position, radius float64, excludeID string) []Agent {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Agent
	for _, a := range w.agents {
		if a.ID == excludeID {
			continue
		}
		if a.Position.DistanceTo(pos) <= radius {
			out = append(out, a.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di := out[i].Position.DistanceTo(pos)
		dj := out[j].Position.DistanceTo(pos)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IsObstacle reports whether a tile blocks movement: out of bounds,
// water, or occupied by a building.
func (w *World) IsObstacle(x, y int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isObstacleLocked(x, y)
}

func (w *World) isObstacleLocked(x, y int) bool {
	if w.Map.TileAt(x, y) == TileWater {
		return true
	}
	_, taken := w.occupied[[2]int{x, y}]
	return taken
}

// InBounds reports whether the tile is on the map.
func (w *World) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < w.Map.Width && y < w.Map.Height
}

// TileAt returns the terrain at a tile.
func (w *World) TileAt(x, y int) Tile {
	return w.Map.TileAt(x, y)
}

// OccupyTile marks a tile as taken by a building. Fails when already taken.
func (w *World) OccupyTile(x, y int, buildingID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := [2]int{x, y}
	if _, taken := w.occupied[key]; taken {
		return false
	}
	w.occupied[key] = buildingID
	return true
}

// ReleaseTile clears a building occupation.
func (w *World) ReleaseTile(x, y int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.occupied, [2]int{x, y})
}

// TileOccupied reports whether a building sits on the tile.
func (w *World) TileOccupied(x, y int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, taken := w.occupied[[2]int{x, y}]
	return taken
}

// AgentTiles returns the set of tiles currently holding an agent, used as
// soft obstacles by the path planner.
func (w *World) AgentTiles(excludeID string) map[[2]int]struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	tiles := make(map[[2]int]struct{}, len(w.agents))
	for _, a := range w.agents {
		if a.ID == excludeID {
			continue
		}
		tiles[[2]int{a.Position.TileX(), a.Position.TileY()}] = struct{}{}
	}
	return tiles
}

// Interactables returns the registered points of interest.
func (w *World) Interactables() []Interactable {
	return w.Map.Interactables
}

// NearestInteractable finds the closest point of interest of a kind.
func (w *World) NearestInteractable(kind InteractableKind, pos Position) (Interactable, bool) {
	best := Interactable{}
	found := false
	bestDist := 0.0
	for _, it := range w.Map.Interactables {
		if it.Kind != kind {
			continue
		}
		d := it.Position.DistanceTo(pos)
		if !found || d < bestDist {
			best = it
			bestDist = d
			found = true
		}
	}
	return best, found
}

// Snapshot copies an agent, including its inventory, so callers outside
// the lock can't race the loop.
func (a *Agent) Snapshot() Agent {
	cp := *a
	if a.Target != nil {
		t := *a.Target
		cp.Target = &t
	}
	if a.Inventory != nil {
		inv := &Inventory{
			Wood:  a.Inventory.Wood,
			Catch: make(map[string]int, len(a.Inventory.Catch)),
			Items: make(map[string]int, len(a.Inventory.Items)),
		}
		for k, v := range a.Inventory.Catch {
			inv.Catch[k] = v
		}
		for k, v := range a.Inventory.Items {
			inv.Items[k] = v
		}
		cp.Inventory = inv
	}
	return cp
}

// RestoreAgent reinserts a persisted agent on startup, bypassing the
// spawn rotation. Fails when the name or id is already taken.
func (w *World) RestoreAgent(a Agent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.agents[a.ID]; ok {
		return nil
	}
	if _, ok := w.byName[a.Name]; ok {
		return nil
	}
	if len(w.agents) >= w.maxAgents {
		return ErrWorldFull
	}
	live := a
	if live.Inventory == nil {
		live.Inventory = NewInventory()
	}
	w.agents[live.ID] = &live
	w.byName[live.Name] = live.ID
	return nil
}
