// Package buildings provides building placement and the progressive
// construction state machine.
package buildings

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowlandworks/pixelvale/internal/events"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// BuildingState advances monotonically with construction progress.
type BuildingState string

const (
	StateFoundation BuildingState = "foundation"
	StateFrame      BuildingState = "frame"
	StateWalls      BuildingState = "walls"
	StateRoof       BuildingState = "roof"
	StateComplete   BuildingState = "complete" // terminal
)

// StateForProgress maps a wood fraction onto the fixed 25/50/75/100%
// thresholds.
func StateForProgress(used, required int) BuildingState {
	pct := float64(used) / float64(required) * 100
	switch {
	case pct >= 100:
		return StateComplete
	case pct >= 75:
		return StateRoof
	case pct >= 50:
		return StateWalls
	case pct >= 25:
		return StateFrame
	default:
		return StateFoundation
	}
}

// Building is one owner's construction site.
type Building struct {
	ID           string        `json:"id" db:"id"`
	OwnerID      string        `json:"owner_id" db:"owner_id"`
	X            int           `json:"x" db:"x"`
	Y            int           `json:"y" db:"y"`
	Type         string        `json:"type" db:"type"`
	State        BuildingState `json:"state" db:"state"`
	WoodUsed     int           `json:"wood_used" db:"wood_used"`
	WoodRequired int           `json:"wood_required" db:"wood_required"`
	StartedAt    time.Time     `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// Typed construction failures.
var (
	ErrAlreadyOwns      = errors.New("agent already owns a building")
	ErrBadSite          = errors.New("site is not buildable")
	ErrNoWood           = errors.New("not enough wood")
	ErrNoEnergy         = errors.New("not enough energy")
	ErrBuildingNotFound = errors.New("building not found")
	ErrNotOwner         = errors.New("caller does not own this building")
	ErrComplete         = errors.New("building is already complete")
)

// BuildingStore persists building rows.
type BuildingStore interface {
	SaveBuilding(Building) error
}

// Config tunes construction.
type Config struct {
	WoodRequired      int
	StartContribution int
	MaxContribution   int
	EnergyCost        int
	MinSpacing        float64
}

// Ledger tracks every building and enforces placement rules.
type Ledger struct {
	mu        sync.Mutex
	buildings map[string]*Building
	byOwner   map[string]string

	cfg   Config
	world *world.World
	store BuildingStore
	bus   *events.Bus
}

// NewLedger creates an empty construction ledger.
func NewLedger(cfg Config, w *world.World, store BuildingStore, bus *events.Bus) *Ledger {
	return &Ledger{
		buildings: make(map[string]*Building),
		byOwner:   make(map[string]string),
		cfg:       cfg,
		world:     w,
		store:     store,
		bus:       bus,
	}
}

// Restore loads persisted buildings on startup, re-marking their tiles.
func (l *Ledger) Restore(rows []Building) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range rows {
		row := b
		l.buildings[b.ID] = &row
		l.byOwner[b.OwnerID] = b.ID
		l.world.OccupyTile(b.X, b.Y, b.ID)
	}
}

// CanBuildAt checks placement: in bounds, on the buildable tile type,
// unoccupied, spaced away from every other building, and no water, road,
// or point-of-interest tile in the surrounding 3×3 neighborhood.
func (l *Ledger) CanBuildAt(x, y int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canBuildLocked(x, y)
}

func (l *Ledger) canBuildLocked(x, y int) bool {
	if !l.world.InBounds(x, y) {
		return false
	}
	if l.world.TileAt(x, y) != world.TilePlaza {
		return false
	}
	if l.world.TileOccupied(x, y) {
		return false
	}

	for _, b := range l.buildings {
		dx := float64(b.X - x)
		dy := float64(b.Y - y)
		if math.Sqrt(dx*dx+dy*dy) < l.cfg.MinSpacing {
			return false
		}
	}

	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			switch l.world.TileAt(x+dx, y+dy) {
			case world.TileWater, world.TileRoad:
				return false
			}
		}
	}
	for _, it := range l.world.Interactables() {
		ix, iy := it.Position.TileX(), it.Position.TileY()
		if abs(ix-x) <= 1 && abs(iy-y) <= 1 {
			return false
		}
	}
	return true
}

// Start places a foundation for the agent. One building per owner; the
// starting wood contribution is deducted up front.
func (l *Ledger) Start(agentID string, x, y int) (Building, error) {
	l.mu.Lock()
	if _, owns := l.byOwner[agentID]; owns {
		l.mu.Unlock()
		return Building{}, ErrAlreadyOwns
	}
	if !l.canBuildLocked(x, y) {
		l.mu.Unlock()
		return Building{}, ErrBadSite
	}
	l.mu.Unlock()

	err := l.world.WithAgent(agentID, func(a *world.Agent) error {
		if !a.Inventory.RemoveWood(l.cfg.StartContribution) {
			return ErrNoWood
		}
		a.State = world.StateBuilding
		a.Touch()
		return nil
	})
	if err != nil {
		return Building{}, err
	}

	b := &Building{
		ID:           uuid.NewString(),
		OwnerID:      agentID,
		X:            x,
		Y:            y,
		Type:         "house",
		State:        StateFoundation,
		WoodUsed:     l.cfg.StartContribution,
		WoodRequired: l.cfg.WoodRequired,
		StartedAt:    time.Now(),
	}

	l.mu.Lock()
	// Revalidate under the lock; refund on a lost race.
	if _, owns := l.byOwner[agentID]; owns || !l.canBuildLocked(x, y) {
		l.mu.Unlock()
		_ = l.world.WithAgent(agentID, func(a *world.Agent) error {
			a.Inventory.AddWood(l.cfg.StartContribution)
			a.State = world.StateIdle
			return nil
		})
		return Building{}, ErrBadSite
	}
	l.buildings[b.ID] = b
	l.byOwner[agentID] = b.ID
	row := *b
	l.mu.Unlock()

	l.world.OccupyTile(x, y, b.ID)
	_ = l.world.WithAgent(agentID, func(a *world.Agent) error {
		a.State = world.StateIdle
		return nil
	})

	l.bus.Emit(events.TypeBuildingStarted, map[string]any{
		"building_id": row.ID,
		"owner_id":    agentID,
		"x":           x,
		"y":           y,
	})
	if err := l.store.SaveBuilding(row); err != nil {
		slog.Error("building save failed", "id", row.ID, "error", err)
	}
	return row, nil
}

// Contribute spends the owner's wood and energy to advance construction.
// Progress crosses the fixed thresholds; completion is terminal, emits
// the completion milestone exactly once, and stamps CompletedAt.
func (l *Ledger) Contribute(agentID, buildingID string) (Building, error) {
	l.mu.Lock()
	b, ok := l.buildings[buildingID]
	if !ok {
		l.mu.Unlock()
		return Building{}, ErrBuildingNotFound
	}
	if b.OwnerID != agentID {
		l.mu.Unlock()
		return Building{}, ErrNotOwner
	}
	if b.State == StateComplete {
		l.mu.Unlock()
		return Building{}, ErrComplete
	}
	room := b.WoodRequired - b.WoodUsed
	l.mu.Unlock()

	want := l.cfg.MaxContribution
	if want > room {
		want = room
	}

	var spent int
	err := l.world.WithAgent(agentID, func(a *world.Agent) error {
		if a.Energy < l.cfg.EnergyCost {
			return ErrNoEnergy
		}
		if a.Inventory.Wood <= 0 {
			return ErrNoWood
		}
		spent = want
		if spent > a.Inventory.Wood {
			spent = a.Inventory.Wood
		}
		a.Inventory.RemoveWood(spent)
		a.Energy -= l.cfg.EnergyCost
		a.Experience += int(3 * a.XPMultiplier())
		a.Touch()
		return nil
	})
	if err != nil {
		return Building{}, err
	}

	l.mu.Lock()
	b, ok = l.buildings[buildingID]
	if !ok || b.State == StateComplete {
		l.mu.Unlock()
		// Owner keeps the refund if the site vanished underneath them.
		_ = l.world.WithAgent(agentID, func(a *world.Agent) error {
			a.Inventory.AddWood(spent)
			return nil
		})
		return Building{}, ErrComplete
	}
	b.WoodUsed += spent
	if b.WoodUsed > b.WoodRequired {
		b.WoodUsed = b.WoodRequired
	}
	b.State = StateForProgress(b.WoodUsed, b.WoodRequired)
	completed := b.State == StateComplete && b.CompletedAt == nil
	if completed {
		now := time.Now()
		b.CompletedAt = &now
	}
	row := *b
	l.mu.Unlock()

	if completed {
		l.bus.Emit(events.TypeBuildingCompleted, map[string]any{
			"building_id": row.ID,
			"owner_id":    row.OwnerID,
			"x":           row.X,
			"y":           row.Y,
		})
		slog.Info("building completed", "id", row.ID, "owner", row.OwnerID)
	} else {
		l.bus.Emit(events.TypeBuildingProgress, map[string]any{
			"building_id": row.ID,
			"owner_id":    row.OwnerID,
			"wood_used":   row.WoodUsed,
			"state":       string(row.State),
		})
	}
	if err := l.store.SaveBuilding(row); err != nil {
		slog.Error("building save failed", "id", row.ID, "error", err)
	}
	return row, nil
}

// Get returns a building by id.
func (l *Ledger) Get(buildingID string) (Building, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buildings[buildingID]
	if !ok {
		return Building{}, ErrBuildingNotFound
	}
	return *b, nil
}

// ByOwner returns the agent's building, if any.
func (l *Ledger) ByOwner(agentID string) (Building, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byOwner[agentID]
	if !ok {
		return Building{}, false
	}
	return *l.buildings[id], true
}

// All returns copies of every building.
func (l *Ledger) All() []Building {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Building, 0, len(l.buildings))
	for _, b := range l.buildings {
		out = append(out, *b)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
