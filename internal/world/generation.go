// Map generation using layered simplex noise. Generates elevation and
// moisture fields, derives terrain, then carves roads, a plaza district,
// and points of interest deterministically from the seed.
package world

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds map generation parameters.
type GenConfig struct {
	Width    int
	Height   int
	Seed     int64 // 0 = random
	SeaLevel float64
	SandBand float64
}

// DefaultGenConfig returns the standard town-scale map.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Width:    80,
		Height:   60,
		SeaLevel: 0.28,
		SandBand: 0.33,
	}
}

// GeneratedMap is the output of Generate: terrain plus the derived
// placements the rest of the engine consumes.
type GeneratedMap struct {
	Width, Height int
	Tiles         []Tile // row-major, index y*Width+x
	Interactables []Interactable
	SpawnPoints   []Position
	TreeSites     []Position // forest tiles suitable for initial trees
	Seed          int64
}

// TileAt returns the terrain at (x, y). Out of bounds reads as water so
// callers treat the map edge as impassable.
func (m *GeneratedMap) TileAt(x, y int) Tile {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return TileWater
	}
	return m.Tiles[y*m.Width+x]
}

func (m *GeneratedMap) setTile(x, y int, t Tile) {
	m.Tiles[y*m.Width+x] = t
}

// Generate creates a complete map. The same seed always yields the same
// map, which the tests rely on.
func Generate(cfg GenConfig) *GeneratedMap {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	elevNoise := opensimplex.NewNormalized(seed)
	moistNoise := opensimplex.NewNormalized(seed + 1)

	m := &GeneratedMap{
		Width:  cfg.Width,
		Height: cfg.Height,
		Tiles:  make([]Tile, cfg.Width*cfg.Height),
		Seed:   seed,
	}

	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			fx := float64(x)
			fy := float64(y)

			elev := octaveNoise(elevNoise, fx, fy, 4, 0.05, 0.5)
			moist := octaveNoise(moistNoise, fx, fy, 3, 0.04, 0.5)

			// Lower elevation toward the map edge so water rings the town.
			cx := fx/float64(cfg.Width) - 0.5
			cy := fy/float64(cfg.Height) - 0.5
			edge := math.Sqrt(cx*cx+cy*cy) * 2
			elev *= 1.0 - math.Pow(edge, 3)

			m.setTile(x, y, deriveTile(elev, moist, cfg))
		}
	}

	carveRoads(m)
	placePlaza(m)
	placeInteractables(m, seed)
	collectTreeSites(m, seed)
	pickSpawnPoints(m)

	return m
}

func deriveTile(elev, moist float64, cfg GenConfig) Tile {
	switch {
	case elev < cfg.SeaLevel:
		return TileWater
	case elev < cfg.SandBand:
		return TileSand
	case moist > 0.58:
		return TileForest
	default:
		return TileGrass
	}
}

// carveRoads lays a horizontal and a vertical road through the map center,
// bridged over water.
func carveRoads(m *GeneratedMap) {
	midY := m.Height / 2
	for x := 2; x < m.Width-2; x++ {
		m.setTile(x, midY, TileRoad)
	}
	midX := m.Width / 2
	for y := 2; y < m.Height-2; y++ {
		m.setTile(midX, y, TileRoad)
	}
}

// placePlaza marks a buildable district near the crossroads.
func placePlaza(m *GeneratedMap) {
	cx, cy := m.Width/2, m.Height/2
	for y := cy - 8; y <= cy+8; y++ {
		for x := cx - 10; x <= cx+10; x++ {
			if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
				continue
			}
			t := m.TileAt(x, y)
			if t == TileGrass || t == TileForest {
				m.setTile(x, y, TilePlaza)
			}
		}
	}
}

// placeInteractables registers the fixed points of interest: fishing on
// sand next to water, a bench and a vending stall on the plaza, and a
// chopping post at the forest edge.
func placeInteractables(m *GeneratedMap, seed int64) {
	rng := rand.New(rand.NewSource(seed + 7))

	addAt := func(kind InteractableKind, want Tile, r float64, tries int) {
		for i := 0; i < tries; i++ {
			x := rng.Intn(m.Width)
			y := rng.Intn(m.Height)
			if m.TileAt(x, y) != want {
				continue
			}
			m.Interactables = append(m.Interactables, Interactable{
				Kind:     kind,
				Position: Position{X: float64(x), Y: float64(y)},
				Range:    r,
			})
			return
		}
	}

	addAt(InteractFishing, TileSand, 2.5, 500)
	addAt(InteractSitting, TilePlaza, 1.5, 500)
	addAt(InteractVending, TilePlaza, 2.0, 500)
	addAt(InteractChopping, TileForest, 2.0, 500)
}

// collectTreeSites samples forest tiles for the initial tree population.
func collectTreeSites(m *GeneratedMap, seed int64) {
	rng := rand.New(rand.NewSource(seed + 13))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.TileAt(x, y) != TileForest {
				continue
			}
			if rng.Float64() < 0.35 {
				m.TreeSites = append(m.TreeSites, Position{X: float64(x), Y: float64(y)})
			}
		}
	}
}

// pickSpawnPoints chooses walkable tiles around the plaza edge. Spawns
// rotate through this list so newcomers don't stack on one tile.
func pickSpawnPoints(m *GeneratedMap) {
	cx, cy := m.Width/2, m.Height/2
	offsets := [][2]int{
		{-6, -4}, {6, -4}, {-6, 4}, {6, 4},
		{0, -6}, {0, 6}, {-8, 0}, {8, 0},
	}
	for _, off := range offsets {
		x, y := cx+off[0], cy+off[1]
		if m.TileAt(x, y) == TileWater {
			continue
		}
		m.SpawnPoints = append(m.SpawnPoints, Position{X: float64(x), Y: float64(y)})
	}
	if len(m.SpawnPoints) == 0 {
		m.SpawnPoints = append(m.SpawnPoints, Position{X: float64(cx), Y: float64(cy)})
	}
}

// octaveNoise sums several noise octaves for natural-looking terrain.
func octaveNoise(n opensimplex.Noise, x, y float64, octaves int, freq, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxValue := 0.0
	for i := 0; i < octaves; i++ {
		total += n.Eval2(x*freq, y*freq) * amplitude
		maxValue += amplitude
		amplitude *= persistence
		freq *= 2
	}
	return total / maxValue
}
