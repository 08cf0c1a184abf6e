package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/lowlandworks/pixelvale/internal/buildings"
	"github.com/lowlandworks/pixelvale/internal/clock"
	"github.com/lowlandworks/pixelvale/internal/events"
	"github.com/lowlandworks/pixelvale/internal/resources"
	"github.com/lowlandworks/pixelvale/internal/social"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// MemStore is the in-memory Store used by tests and by the "memory"
// driver: everything a DB does, nothing survives the process.
type MemStore struct {
	mu            sync.Mutex
	agents        map[string]world.Agent
	conversations map[string]string
	messages      []social.Message
	relationships map[[2]string]social.Relationship
	trees         map[[2]int]resources.Tree
	buildings     map[string]buildings.Building
	clockState    *clock.State
	events        []events.Event
	chronicles    map[int]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		agents:        make(map[string]world.Agent),
		conversations: make(map[string]string),
		relationships: make(map[[2]string]social.Relationship),
		trees:         make(map[[2]int]resources.Tree),
		buildings:     make(map[string]buildings.Building),
		chronicles:    make(map[int]string),
	}
}

func (s *MemStore) SaveAgents(agents []world.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	return nil
}

func (s *MemStore) LoadAgents() ([]world.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]world.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemStore) SaveConversation(id, agentA, agentB string, state string, startedAt time.Time, endedAt *time.Time, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = state
	return nil
}

func (s *MemStore) SaveMessage(m social.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *MemStore) SaveRelationship(r social.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships[[2]string{r.AgentA, r.AgentB}] = r
	return nil
}

func (s *MemStore) LoadRelationships() ([]social.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]social.Relationship, 0, len(s.relationships))
	for _, r := range s.relationships {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemStore) SaveTree(t resources.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[[2]int{t.X, t.Y}] = t
	return nil
}

func (s *MemStore) LoadTrees() ([]resources.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]resources.Tree, 0, len(s.trees))
	for _, t := range s.trees {
		out = append(out, t)
	}
	return out, nil
}

func (s *MemStore) SaveBuilding(b buildings.Building) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildings[b.ID] = b
	return nil
}

func (s *MemStore) LoadBuildings() ([]buildings.Building, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]buildings.Building, 0, len(s.buildings))
	for _, b := range s.buildings {
		out = append(out, b)
	}
	return out, nil
}

func (s *MemStore) LoadClock() (clock.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clockState == nil {
		return clock.State{}, false, nil
	}
	return *s.clockState, true, nil
}

func (s *MemStore) SaveClock(st clock.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockState = &st
	return nil
}

func (s *MemStore) WriteEvents(ctx context.Context, batch []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *MemStore) PruneEvents(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var pruned int64
	for _, e := range s.events {
		if e.Timestamp.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return pruned, nil
}

func (s *MemStore) RecentEvents(limit int) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events)
	if limit > n {
		limit = n
	}
	out := make([]events.Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// StoredEvents returns everything written so far. Test helper.
func (s *MemStore) StoredEvents() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemStore) SaveChronicle(day int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chronicles[day] = text
	return nil
}

func (s *MemStore) LatestChronicle() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := -1
	for day := range s.chronicles {
		if day > best {
			best = day
		}
	}
	if best < 0 {
		return "", nil
	}
	return s.chronicles[best], nil
}

func (s *MemStore) Checkpoint() error { return nil }
func (s *MemStore) Close() error      { return nil }
