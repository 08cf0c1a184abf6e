// Package path provides A* pathfinding over the tile grid. Other agents'
// tiles are soft obstacles: passable at an extra cost, so paths bend
// around crowds without deadlocking when a corridor is fully blocked.
package path

import (
	"container/heap"
)

const (
	// SoftObstacleCost is the fixed extra cost for stepping onto a tile
	// another agent occupies. A constant, not density-scaled.
	SoftObstacleCost = 4.0

	// MaxIterations bounds the search. When the budget runs out the
	// planner returns the path to the closest node seen so far, so
	// agents always make some forward progress.
	MaxIterations = 2000

	// NearestRadius bounds the ring search used when the goal tile
	// itself is an obstacle.
	NearestRadius = 5
)

// Grid is the read-only view of the world the planner needs.
type Grid interface {
	InBounds(x, y int) bool
	IsObstacle(x, y int) bool
}

// Point is a tile coordinate.
type Point struct {
	X, Y int
}

var neighborOffsets = [4]Point{
	{0, -1}, {1, 0}, {0, 1}, {-1, 0},
}

func manhattan(a, b Point) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

type node struct {
	point  Point
	g      float64
	f      float64
	order  int // insertion order: stable tie-break on equal f
	index  int
	parent *node
}

type nodeHeap []*node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].order < h[j].order
}
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *nodeHeap) Push(x any) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return n
}

// Find returns a path from start to goal, excluding the start tile. When
// the goal is an obstacle it retries once against the nearest walkable
// tile. The result is empty only when the start itself has no walkable
// neighbor; otherwise the search yields at least best-effort progress.
func Find(g Grid, start, goal Point, soft map[[2]int]struct{}) []Point {
	if start == goal {
		return nil
	}
	if !g.InBounds(goal.X, goal.Y) || g.IsObstacle(goal.X, goal.Y) {
		alt, ok := nearestWalkable(g, goal)
		if !ok {
			return nil
		}
		goal = alt
		if start == goal {
			return nil
		}
	}
	return search(g, start, goal, soft)
}

func search(g Grid, start, goal Point, soft map[[2]int]struct{}) []Point {
	open := &nodeHeap{}
	heap.Init(open)

	startNode := &node{point: start, f: float64(manhattan(start, goal))}
	heap.Push(open, startNode)

	best := map[Point]*node{start: startNode}
	closed := map[Point]struct{}{}

	// Closest node by heuristic, for budget-exhausted fallback.
	closest := startNode
	closestH := manhattan(start, goal)

	inserted := 0
	for iter := 0; open.Len() > 0 && iter < MaxIterations; iter++ {
		current := heap.Pop(open).(*node)
		if current.point == goal {
			return reconstruct(current)
		}
		closed[current.point] = struct{}{}

		if h := manhattan(current.point, goal); h < closestH {
			closest = current
			closestH = h
		}

		for _, off := range neighborOffsets {
			next := Point{X: current.point.X + off.X, Y: current.point.Y + off.Y}
			if !g.InBounds(next.X, next.Y) || g.IsObstacle(next.X, next.Y) {
				continue
			}
			if _, seen := closed[next]; seen {
				continue
			}

			cost := 1.0
			if _, occupied := soft[[2]int{next.X, next.Y}]; occupied {
				cost += SoftObstacleCost
			}
			tentative := current.g + cost

			if existing, ok := best[next]; ok {
				if tentative >= existing.g {
					continue
				}
				existing.g = tentative
				existing.f = tentative + float64(manhattan(next, goal))
				existing.parent = current
				heap.Fix(open, existing.index)
				continue
			}

			inserted++
			n := &node{
				point:  next,
				g:      tentative,
				f:      tentative + float64(manhattan(next, goal)),
				order:  inserted,
				parent: current,
			}
			best[next] = n
			heap.Push(open, n)
		}
	}

	// Budget exhausted or goal unreachable: best-effort progress.
	if closest == startNode {
		return nil
	}
	return reconstruct(closest)
}

func reconstruct(n *node) []Point {
	var rev []Point
	for cur := n; cur.parent != nil; cur = cur.parent {
		rev = append(rev, cur.point)
	}
	out := make([]Point, len(rev))
	for i, p := range rev {
		out[len(rev)-1-i] = p
	}
	return out
}

// nearestWalkable ring-searches outward from p for a walkable tile.
func nearestWalkable(g Grid, p Point) (Point, bool) {
	for r := 1; r <= NearestRadius; r++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if max(abs(dx), abs(dy)) != r {
					continue // ring perimeter only
				}
				x, y := p.X+dx, p.Y+dy
				if g.InBounds(x, y) && !g.IsObstacle(x, y) {
					return Point{X: x, Y: y}, true
				}
			}
		}
	}
	return Point{}, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
