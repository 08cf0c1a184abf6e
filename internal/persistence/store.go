// Package persistence provides durable storage for the simulation:
// a SQLite implementation and an in-memory null-object selected by
// configuration. Writes go through bounded retry with exponential
// backoff; exhausting retries surfaces the error to the caller instead
// of crashing the loop.
package persistence

import (
	"context"
	"time"

	"github.com/lowlandworks/pixelvale/internal/buildings"
	"github.com/lowlandworks/pixelvale/internal/clock"
	"github.com/lowlandworks/pixelvale/internal/events"
	"github.com/lowlandworks/pixelvale/internal/resources"
	"github.com/lowlandworks/pixelvale/internal/social"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// Store is the full persistence surface. Each component depends only on
// the narrow slice it uses; this interface exists for wiring and the
// null-object swap.
type Store interface {
	// Agents
	SaveAgents(agents []world.Agent) error
	LoadAgents() ([]world.Agent, error)

	// Conversations
	SaveConversation(id, agentA, agentB string, state string, startedAt time.Time, endedAt *time.Time, summary string) error
	SaveMessage(social.Message) error

	// Relationships
	SaveRelationship(social.Relationship) error
	LoadRelationships() ([]social.Relationship, error)

	// Resource tiles
	SaveTree(resources.Tree) error
	LoadTrees() ([]resources.Tree, error)

	// Buildings
	SaveBuilding(buildings.Building) error
	LoadBuildings() ([]buildings.Building, error)

	// World clock singleton
	LoadClock() (clock.State, bool, error)
	SaveClock(clock.State) error

	// Events
	WriteEvents(ctx context.Context, batch []events.Event) error
	PruneEvents(olderThan time.Time) (int64, error)
	RecentEvents(limit int) ([]events.Event, error)

	// Chronicle
	SaveChronicle(day int, text string) error
	LatestChronicle() (string, error)

	// Maintenance
	Checkpoint() error
	Close() error
}

// RetryPolicy bounds persistence retries.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// withRetry runs op, sleeping with exponential backoff between attempts.
// The last error is returned once the budget is spent.
func withRetry(p RetryPolicy, op func() error) error {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Delay <= 0 {
		p.Delay = 100 * time.Millisecond
	}
	var err error
	delay := p.Delay
	for i := 0; i < p.Attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i < p.Attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
