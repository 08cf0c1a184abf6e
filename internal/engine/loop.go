package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lowlandworks/pixelvale/internal/chronicle"
	"github.com/lowlandworks/pixelvale/internal/events"
	"github.com/lowlandworks/pixelvale/internal/path"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// Loop is the fixed-rate scheduler. Each primary tick runs, in order:
// the movement step, the conversation timeout sweep, the periodic stat
// decay pass, and the periodic snapshot broadcast. Secondary timers run
// on their own cadences, each inside its own error boundary so one
// failing subsystem never stalls the others.
type Loop struct {
	game     *Game
	behavior BehaviorSource

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	tick     uint64
	overruns uint64
}

// NewLoop creates a stopped loop.
func NewLoop(g *Game, behavior BehaviorSource) *Loop {
	if behavior == nil {
		behavior = NewRuleBehavior(g)
	}
	return &Loop{game: g, behavior: behavior}
}

// Tick returns the primary tick counter.
func (l *Loop) Tick() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tick
}

// Running reports whether the loop is live.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start launches the primary tick and the secondary timers. Starting a
// running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	stop := l.stop
	l.mu.Unlock()

	slog.Info("game loop started", "tick_interval", l.game.Cfg.Loop.TickInterval)
	go l.run(stop)
}

// Stop halts the loop and waits for the current tick to finish. Stopping
// a stopped loop is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stop)
	done := l.done
	l.mu.Unlock()

	<-done
	slog.Info("game loop stopped", "ticks", l.Tick())
}

func (l *Loop) run(stop chan struct{}) {
	defer close(l.done)

	cfg := l.game.Cfg.Loop
	primary := time.NewTicker(cfg.TickInterval)
	defer primary.Stop()

	type timer struct {
		name string
		tick func()
		c    *time.Ticker
	}
	timers := []timer{
		{"wander", l.wanderPass, time.NewTicker(cfg.WanderInterval)},
		{"behavior", l.behaviorPass, time.NewTicker(cfg.BehaviorInterval)},
		{"relationship_decay", l.game.Relationships.Decay, time.NewTicker(cfg.DecayRelInterval)},
		{"regrowth", l.game.Trees.Tick, time.NewTicker(cfg.RegrowInterval)},
		{"weather", l.game.Clock.MaybeChangeWeather, time.NewTicker(cfg.WeatherInterval)},
		{"calendar", l.game.Clock.AdvanceCalendar, time.NewTicker(cfg.CalendarInterval)},
		{"tree_spawner", l.game.Trees.SpawnTick, time.NewTicker(cfg.SpawnerInterval)},
		{"maintenance", l.maintenance, time.NewTicker(cfg.MaintInterval)},
		{"chronicle", l.writeChronicle, time.NewTicker(cfg.DigestInterval)},
	}
	for _, t := range timers {
		t := t
		go func() {
			for {
				select {
				case <-t.c.C:
					safeRun(t.name, t.tick)
				case <-stop:
					t.c.Stop()
					return
				}
			}
		}()
	}

	for {
		select {
		case <-primary.C:
			start := time.Now()
			l.step()
			if time.Since(start) > cfg.TickInterval {
				l.mu.Lock()
				l.overruns++
				l.mu.Unlock()
			}
		case <-stop:
			return
		}
	}
}

// step is one primary tick.
func (l *Loop) step() {
	l.mu.Lock()
	l.tick++
	tick := l.tick
	l.mu.Unlock()

	cfg := l.game.Cfg.Loop

	safeRun("movement", l.movementStep)
	safeRun("conversation_sweep", l.game.Conversations.Tick)

	if cfg.DecayEveryTicks > 0 && tick%uint64(cfg.DecayEveryTicks) == 0 {
		safeRun("stat_decay", l.decayPass)
	}
	if cfg.SnapshotTicks > 0 && tick%uint64(cfg.SnapshotTicks) == 0 {
		safeRun("snapshot", func() { l.snapshot(tick) })
	}
}

// safeRun is the error boundary around every subsystem call.
func safeRun(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subsystem panic recovered", "subsystem", name, "panic", r)
		}
	}()
	fn()
}

// movementStep advances every walking agent one tile toward its target.
// Arrival or pathing failure transitions the agent to idle.
func (l *Loop) movementStep() {
	type mover struct {
		id     string
		from   path.Point
		target path.Point
	}
	var movers []mover
	l.game.World.EachAgent(func(a *world.Agent) {
		if a.State != world.StateWalking || a.Target == nil {
			return
		}
		movers = append(movers, mover{
			id:     a.ID,
			from:   path.Point{X: a.Position.TileX(), Y: a.Position.TileY()},
			target: path.Point{X: a.Target.TileX(), Y: a.Target.TileY()},
		})
	})

	for _, m := range movers {
		if m.from == m.target {
			l.arrive(m.id)
			continue
		}
		soft := l.game.World.AgentTiles(m.id)
		steps := path.Find(l.game.World, m.from, m.target, soft)
		if len(steps) == 0 {
			l.arrive(m.id)
			continue
		}
		next := steps[0]
		arrived := next == m.target && len(steps) == 1

		_ = l.game.World.WithAgent(m.id, func(a *world.Agent) error {
			if a.State != world.StateWalking {
				return nil
			}
			a.Facing = facingFor(m.from, next)
			a.Position = world.Position{X: float64(next.X), Y: float64(next.Y)}
			if arrived {
				a.State = world.StateIdle
				a.Target = nil
			}
			a.Touch()
			return nil
		})

		l.game.Bus.Emit(events.TypeAgentMove, map[string]any{
			"agent_id": m.id,
			"x":        float64(next.X),
			"y":        float64(next.Y),
		})
	}
}

func (l *Loop) arrive(id string) {
	_ = l.game.World.WithAgent(id, func(a *world.Agent) error {
		a.State = world.StateIdle
		a.Target = nil
		return nil
	})
}

func facingFor(from, to path.Point) world.Facing {
	switch {
	case to.X > from.X:
		return world.FacingRight
	case to.X < from.X:
		return world.FacingLeft
	case to.Y < from.Y:
		return world.FacingUp
	default:
		return world.FacingDown
	}
}

// decayPass recomputes energy, happiness, mood, and sleep state for
// every agent, persists the whole registry in one transaction, and emits
// state-change events only for agents whose observable state changed.
func (l *Loop) decayPass() {
	type change struct {
		id    string
		state world.AgentState
		mood  string
	}
	var changed []change
	var all []world.Agent

	l.game.World.EachAgent(func(a *world.Agent) {
		prevState, prevMood := a.State, a.Mood

		switch a.State {
		case world.StateSleeping:
			a.Energy = world.ClampStat(a.Energy + 5)
			if a.Energy >= world.StatMax {
				a.State = world.StateIdle
			}
		case world.StateWalking:
			a.Energy = world.ClampStat(a.Energy - 2)
		default:
			a.Energy = world.ClampStat(a.Energy - 1)
		}

		// Exhausted agents fall asleep wherever they stand.
		if a.Energy < 10 && a.State != world.StateSleeping && a.State != world.StateTalking {
			a.State = world.StateSleeping
			a.Target = nil
		}

		// Happiness drifts toward its resting point.
		switch {
		case a.Happiness > 50:
			a.Happiness--
		case a.Happiness < 50:
			a.Happiness++
		}
		a.Mood = world.MoodFor(a.Happiness)

		if a.State != prevState || a.Mood != prevMood {
			changed = append(changed, change{id: a.ID, state: a.State, mood: a.Mood})
		}
		all = append(all, a.Snapshot())
	})

	if err := l.game.Store.SaveAgents(all); err != nil {
		slog.Error("decay pass save failed", "agents", len(all), "error", err)
	}
	for _, c := range changed {
		l.game.Bus.Emit(events.TypeAgentStateChange, map[string]any{
			"agent_id": c.id,
			"state":    string(c.state),
			"mood":     c.mood,
		})
	}
}

// snapshot broadcasts the periodic world summary and reports overruns.
func (l *Loop) snapshot(tick uint64) {
	l.mu.Lock()
	overruns := l.overruns
	l.mu.Unlock()

	st := l.game.Clock.Snapshot()
	l.game.Bus.Emit(events.TypeWorldTick, map[string]any{
		"tick":        tick,
		"agents":      l.game.World.Count(),
		"subscribers": l.game.Bus.SubscriberCount(),
		"day":         st.Day,
		"month":       st.Month,
		"year":        st.Year,
		"weather":     string(st.Weather),
	})
	if overruns > 0 {
		slog.Warn("tick overruns", "count", overruns, "tick", tick)
	}
}

// wanderPass sends a slice of the idle population strolling.
func (l *Loop) wanderPass() {
	var idle []string
	l.game.World.EachAgent(func(a *world.Agent) {
		if a.State == world.StateIdle {
			idle = append(idle, a.ID)
		}
	})
	for i, id := range idle {
		if i%3 == 0 { // roughly a third wander each pass
			l.game.World.Wander(id)
		}
	}
}

// behaviorPass lets the behavior source drive each autonomous agent.
func (l *Loop) behaviorPass() {
	for _, a := range l.game.World.Agents() {
		if !a.NPC {
			continue
		}
		l.behavior.Act(a)
	}
}

// maintenance checkpoints storage and prunes old events.
func (l *Loop) maintenance() {
	l.game.Bus.Flush()
	if err := l.game.Store.Checkpoint(); err != nil {
		slog.Error("checkpoint failed", "error", err)
	}
	cutoff := time.Now().Add(-l.game.Cfg.Events.PruneAfter)
	if n, err := l.game.Store.PruneEvents(cutoff); err != nil {
		slog.Error("event prune failed", "error", err)
	} else if n > 0 {
		slog.Info("old events pruned", "count", n)
	}
}

// writeChronicle persists the periodic narrative digest.
func (l *Loop) writeChronicle() {
	recent, err := l.game.Store.RecentEvents(200)
	if err != nil {
		slog.Error("chronicle read failed", "error", err)
		return
	}
	st := l.game.Clock.Snapshot()
	text := chronicle.Build(st.Day, st.Month, st.Year, l.game.World.Count(), string(st.Weather), recent)
	day := (st.Year*12+st.Month)*30 + st.Day // absolute day index
	if err := l.game.Store.SaveChronicle(day, text); err != nil {
		slog.Error("chronicle save failed", "error", err)
	}
}
