package path

import (
	"testing"
)

// gridMap is a test grid built from an ASCII sketch. '#' is an obstacle.
type gridMap struct {
	rows []string
}

func (g gridMap) InBounds(x, y int) bool {
	return y >= 0 && y < len(g.rows) && x >= 0 && x < len(g.rows[0])
}

func (g gridMap) IsObstacle(x, y int) bool {
	return g.rows[y][x] == '#'
}

func TestFindStraightLine(t *testing.T) {
	g := gridMap{rows: []string{
		"..........",
		"..........",
		"..........",
	}}

	got := Find(g, Point{0, 1}, Point{4, 1}, nil)
	want := []Point{{1, 1}, {2, 1}, {3, 1}, {4, 1}}
	if len(got) != len(want) {
		t.Fatalf("path length = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFindExcludesStart(t *testing.T) {
	g := gridMap{rows: []string{"....."}}
	got := Find(g, Point{1, 0}, Point{3, 0}, nil)
	for _, p := range got {
		if p == (Point{1, 0}) {
			t.Fatalf("path contains the start tile: %v", got)
		}
	}
	if got[len(got)-1] != (Point{3, 0}) {
		t.Fatalf("path does not end at goal: %v", got)
	}
}

func TestFindAroundWall(t *testing.T) {
	g := gridMap{rows: []string{
		".....",
		".###.",
		".#...",
		".#.#.",
		".....",
	}}

	got := Find(g, Point{0, 0}, Point{4, 4}, nil)
	if len(got) == 0 {
		t.Fatal("expected a path around the wall")
	}
	if got[len(got)-1] != (Point{4, 4}) {
		t.Fatalf("path ends at %v, want (4,4)", got[len(got)-1])
	}
	for i, p := range got {
		if g.IsObstacle(p.X, p.Y) {
			t.Fatalf("step %d crosses obstacle %v", i, p)
		}
	}
	// Each step must be 4-connected adjacent to the previous one.
	prev := Point{0, 0}
	for i, p := range got {
		if manhattan(prev, p) != 1 {
			t.Fatalf("step %d from %v to %v is not adjacent", i, prev, p)
		}
		prev = p
	}
}

func TestFindStartEqualsGoal(t *testing.T) {
	g := gridMap{rows: []string{"..."}}
	if got := Find(g, Point{1, 0}, Point{1, 0}, nil); got != nil {
		t.Fatalf("expected nil path, got %v", got)
	}
}

func TestFindObstacleGoalRedirects(t *testing.T) {
	g := gridMap{rows: []string{
		".....",
		"..#..",
		".....",
	}}

	got := Find(g, Point{0, 1}, Point{2, 1}, nil)
	if len(got) == 0 {
		t.Fatal("expected a path to a tile near the blocked goal")
	}
	end := got[len(got)-1]
	if g.IsObstacle(end.X, end.Y) {
		t.Fatalf("path ends on an obstacle: %v", end)
	}
	if manhattan(end, Point{2, 1}) > NearestRadius {
		t.Fatalf("path ends too far from blocked goal: %v", end)
	}
}

func TestFindUnreachableGoal(t *testing.T) {
	// Goal walled into a sealed room far wider than NearestRadius would help.
	g := gridMap{rows: []string{
		"..........",
		".########.",
		".#......#.",
		".#......#.",
		".########.",
		"..........",
	}}

	got := Find(g, Point{0, 0}, Point{4, 3}, nil)
	// Best-effort: some progress toward the room is fine, but no step may
	// land inside it.
	for _, p := range got {
		if p.X >= 2 && p.X <= 7 && p.Y >= 2 && p.Y <= 3 {
			t.Fatalf("path entered sealed room at %v", p)
		}
	}
}

func TestSoftObstaclesBendPath(t *testing.T) {
	g := gridMap{rows: []string{
		".....",
		".....",
		".....",
	}}

	// Block the direct corridor with other agents' tiles.
	soft := map[[2]int]struct{}{
		{1, 1}: {},
		{2, 1}: {},
		{3, 1}: {},
	}

	got := Find(g, Point{0, 1}, Point{4, 1}, soft)
	if len(got) == 0 {
		t.Fatal("expected a path")
	}
	crossed := 0
	for _, p := range got {
		if _, ok := soft[[2]int{p.X, p.Y}]; ok {
			crossed++
		}
	}
	if crossed > 0 {
		t.Fatalf("path crossed %d occupied tiles when a detour was cheaper: %v", crossed, got)
	}
}

func TestSoftObstaclesPassableWhenNoDetour(t *testing.T) {
	// Single-row corridor: the occupied tile must still be passable.
	g := gridMap{rows: []string{"....."}}
	soft := map[[2]int]struct{}{{2, 0}: {}}

	got := Find(g, Point{0, 0}, Point{4, 0}, soft)
	if len(got) != 4 {
		t.Fatalf("expected 4-step corridor path, got %v", got)
	}
}

func TestFindDeterministic(t *testing.T) {
	g := gridMap{rows: []string{
		"........",
		"..##....",
		"....#...",
		"........",
		".#......",
		"........",
	}}

	first := Find(g, Point{0, 0}, Point{7, 5}, nil)
	for i := 0; i < 10; i++ {
		again := Find(g, Point{0, 0}, Point{7, 5}, nil)
		if len(again) != len(first) {
			t.Fatalf("run %d length %d, want %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d diverged at step %d: %v vs %v", i, j, again[j], first[j])
			}
		}
	}
}

func TestFindBudgetReturnsProgress(t *testing.T) {
	// A large open grid whose goal needs more expansions than the budget
	// allows still yields forward progress.
	rows := make([]string, 200)
	for i := range rows {
		b := make([]byte, 200)
		for j := range b {
			b[j] = '.'
		}
		rows[i] = string(b)
	}
	g := gridMap{rows: rows}

	start := Point{0, 0}
	goal := Point{199, 199}
	got := Find(g, start, goal, nil)
	if len(got) == 0 {
		t.Fatal("expected best-effort progress on budget exhaustion")
	}
	end := got[len(got)-1]
	if manhattan(end, goal) >= manhattan(start, goal) {
		t.Fatalf("no progress: end %v is not closer to %v than start", end, goal)
	}
}
