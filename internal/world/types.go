// Package world provides the authoritative grid map, the agent registry,
// and proximity queries. All mutation goes through the World's mutex so
// the game loop and externally triggered actions can share it safely.
package world

import (
	"fmt"
	"math"
)

// Tile enumerates the terrain types of the grid.
type Tile uint8

const (
	TileGrass Tile = iota
	TileForest
	TileWater
	TileSand
	TileRoad
	TilePlaza // the only tile type buildings may be placed on
)

// TileName returns a human-readable terrain name.
func TileName(t Tile) string {
	switch t {
	case TileGrass:
		return "grass"
	case TileForest:
		return "forest"
	case TileWater:
		return "water"
	case TileSand:
		return "sand"
	case TileRoad:
		return "road"
	case TilePlaza:
		return "plaza"
	default:
		return "unknown"
	}
}

// Position is a continuous location on the grid. Tile logic rounds it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TileX returns the tile column containing the position.
func (p Position) TileX() int { return int(math.Floor(p.X)) }

// TileY returns the tile row containing the position.
func (p Position) TileY() int { return int(math.Floor(p.Y)) }

// DistanceTo returns the Euclidean distance to another position.
func (p Position) DistanceTo(o Position) float64 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func (p Position) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}

// Facing is the direction an agent last moved in.
type Facing string

const (
	FacingUp    Facing = "up"
	FacingDown  Facing = "down"
	FacingLeft  Facing = "left"
	FacingRight Facing = "right"
)

// InteractableKind enumerates the points of interest placed at generation.
type InteractableKind string

const (
	InteractFishing  InteractableKind = "fishing"
	InteractSitting  InteractableKind = "sitting"
	InteractVending  InteractableKind = "vending"
	InteractChopping InteractableKind = "chopping"
)

// Interactable is a fixed point of interest agents can use when in range.
type Interactable struct {
	Kind     InteractableKind `json:"kind"`
	Position Position         `json:"position"`
	Range    float64          `json:"range"`
}
