package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/lowlandworks/pixelvale/internal/buildings"
	"github.com/lowlandworks/pixelvale/internal/clock"
	"github.com/lowlandworks/pixelvale/internal/events"
	"github.com/lowlandworks/pixelvale/internal/resources"
	"github.com/lowlandworks/pixelvale/internal/social"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// DB is the SQLite-backed store.
type DB struct {
	conn  *sqlx.DB
	retry RetryPolicy
}

// Open opens or creates the database at path and runs migrations.
func Open(path string, retry RetryPolicy) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db := &DB{conn: conn, retry: retry}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		x REAL NOT NULL,
		y REAL NOT NULL,
		state TEXT NOT NULL,
		energy INTEGER NOT NULL,
		happiness INTEGER NOT NULL,
		experience INTEGER NOT NULL,
		currency INTEGER NOT NULL,
		mood TEXT NOT NULL,
		facing TEXT NOT NULL,
		npc INTEGER NOT NULL,
		last_active INTEGER NOT NULL,
		inventory_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		agent_a TEXT NOT NULL,
		agent_b TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		summary TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		text TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS relationships (
		agent_a TEXT NOT NULL,
		agent_b TEXT NOT NULL,
		score INTEGER NOT NULL,
		status TEXT NOT NULL,
		interactions INTEGER NOT NULL,
		last_interaction INTEGER NOT NULL,
		last_decay INTEGER NOT NULL,
		PRIMARY KEY (agent_a, agent_b)
	);

	CREATE TABLE IF NOT EXISTS trees (
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		state TEXT NOT NULL,
		regrow_at INTEGER NOT NULL,
		regrow_for INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (x, y)
	);

	CREATE TABLE IF NOT EXISTS buildings (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL UNIQUE,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		type TEXT NOT NULL,
		state TEXT NOT NULL,
		wood_used INTEGER NOT NULL,
		wood_required INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS world_clock (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		started_at INTEGER NOT NULL,
		day INTEGER NOT NULL,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		weather TEXT NOT NULL,
		weather_until INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chronicle (
		day INTEGER PRIMARY KEY,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// unixOrZero converts a time to unix nanos, zero time mapping to 0.
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeOrZero(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SaveAgents writes the whole registry in one transaction. Called by the
// batched decay pass and at shutdown.
func (db *DB) SaveAgents(agents []world.Agent) error {
	return withRetry(db.retry, func() error {
		tx, err := db.conn.Beginx()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Preparex(`INSERT OR REPLACE INTO agents
			(id, name, x, y, state, energy, happiness, experience, currency,
			 mood, facing, npc, last_active, inventory_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range agents {
			invJSON, _ := json.Marshal(a.Inventory)
			npc := 0
			if a.NPC {
				npc = 1
			}
			if _, err := stmt.Exec(
				a.ID, a.Name, a.Position.X, a.Position.Y, string(a.State),
				a.Energy, a.Happiness, a.Experience, a.Currency,
				a.Mood, string(a.Facing), npc, unixOrZero(a.LastActive), string(invJSON),
			); err != nil {
				return fmt.Errorf("upsert agent %s: %w", a.ID, err)
			}
		}
		return tx.Commit()
	})
}

type agentRow struct {
	ID            string  `db:"id"`
	Name          string  `db:"name"`
	X             float64 `db:"x"`
	Y             float64 `db:"y"`
	State         string  `db:"state"`
	Energy        int     `db:"energy"`
	Happiness     int     `db:"happiness"`
	Experience    int     `db:"experience"`
	Currency      int     `db:"currency"`
	Mood          string  `db:"mood"`
	Facing        string  `db:"facing"`
	NPC           int     `db:"npc"`
	LastActive    int64   `db:"last_active"`
	InventoryJSON string  `db:"inventory_json"`
}

// LoadAgents restores the registry. Transient states (walking, talking)
// come back as idle since targets and sessions don't survive restart.
func (db *DB) LoadAgents() ([]world.Agent, error) {
	var rows []agentRow
	if err := db.conn.Select(&rows, "SELECT * FROM agents"); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	out := make([]world.Agent, 0, len(rows))
	for _, r := range rows {
		inv := world.NewInventory()
		if err := json.Unmarshal([]byte(r.InventoryJSON), inv); err != nil {
			slog.Warn("bad inventory row, resetting", "agent", r.ID, "error", err)
			inv = world.NewInventory()
		}
		state := world.AgentState(r.State)
		if state == world.StateWalking || state == world.StateTalking {
			state = world.StateIdle
		}
		out = append(out, world.Agent{
			ID:         r.ID,
			Name:       r.Name,
			Position:   world.Position{X: r.X, Y: r.Y},
			State:      state,
			Energy:     r.Energy,
			Happiness:  r.Happiness,
			Experience: r.Experience,
			Currency:   r.Currency,
			Inventory:  inv,
			Mood:       r.Mood,
			Facing:     world.Facing(r.Facing),
			NPC:        r.NPC != 0,
			LastActive: timeOrZero(r.LastActive),
		})
	}
	return out, nil
}

// SaveConversation upserts a session row.
func (db *DB) SaveConversation(id, agentA, agentB string, state string, startedAt time.Time, endedAt *time.Time, summary string) error {
	return withRetry(db.retry, func() error {
		var ended any
		if endedAt != nil {
			ended = endedAt.UnixNano()
		}
		_, err := db.conn.Exec(`INSERT OR REPLACE INTO conversations
			(id, agent_a, agent_b, state, started_at, ended_at, summary)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, agentA, agentB, state, startedAt.UnixNano(), ended, summary)
		return err
	})
}

// SaveMessage appends a message row.
func (db *DB) SaveMessage(m social.Message) error {
	return withRetry(db.retry, func() error {
		_, err := db.conn.Exec(`INSERT OR REPLACE INTO messages
			(id, conversation_id, sender_id, text, sent_at)
			VALUES (?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, m.SenderID, m.Text, m.SentAt.UnixNano())
		return err
	})
}

// SaveRelationship upserts the canonical pair row.
func (db *DB) SaveRelationship(r social.Relationship) error {
	return withRetry(db.retry, func() error {
		_, err := db.conn.Exec(`INSERT OR REPLACE INTO relationships
			(agent_a, agent_b, score, status, interactions, last_interaction, last_decay)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.AgentA, r.AgentB, r.Score, r.Status, r.Interactions,
			unixOrZero(r.LastInteraction), unixOrZero(r.LastDecay))
		return err
	})
}

type relationshipRow struct {
	AgentA          string `db:"agent_a"`
	AgentB          string `db:"agent_b"`
	Score           int    `db:"score"`
	Status          string `db:"status"`
	Interactions    int    `db:"interactions"`
	LastInteraction int64  `db:"last_interaction"`
	LastDecay       int64  `db:"last_decay"`
}

// LoadRelationships restores every pair row.
func (db *DB) LoadRelationships() ([]social.Relationship, error) {
	var rows []relationshipRow
	if err := db.conn.Select(&rows, "SELECT * FROM relationships"); err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	out := make([]social.Relationship, 0, len(rows))
	for _, r := range rows {
		out = append(out, social.Relationship{
			AgentA:          r.AgentA,
			AgentB:          r.AgentB,
			Score:           r.Score,
			Status:          r.Status,
			Interactions:    r.Interactions,
			LastInteraction: timeOrZero(r.LastInteraction),
			LastDecay:       timeOrZero(r.LastDecay),
		})
	}
	return out, nil
}

// SaveTree upserts a resource tile.
func (db *DB) SaveTree(t resources.Tree) error {
	return withRetry(db.retry, func() error {
		_, err := db.conn.Exec(`INSERT OR REPLACE INTO trees
			(x, y, state, regrow_at, regrow_for) VALUES (?, ?, ?, ?, ?)`,
			t.X, t.Y, string(t.State), unixOrZero(t.RegrowAt), int64(t.RegrowFor))
		return err
	})
}

type treeRow struct {
	X         int    `db:"x"`
	Y         int    `db:"y"`
	State     string `db:"state"`
	RegrowAt  int64  `db:"regrow_at"`
	RegrowFor int64  `db:"regrow_for"`
}

// LoadTrees restores every resource tile.
func (db *DB) LoadTrees() ([]resources.Tree, error) {
	var rows []treeRow
	if err := db.conn.Select(&rows, "SELECT * FROM trees"); err != nil {
		return nil, fmt.Errorf("load trees: %w", err)
	}
	out := make([]resources.Tree, 0, len(rows))
	for _, r := range rows {
		out = append(out, resources.Tree{
			X:         r.X,
			Y:         r.Y,
			State:     resources.TreeState(r.State),
			RegrowAt:  timeOrZero(r.RegrowAt),
			RegrowFor: time.Duration(r.RegrowFor),
		})
	}
	return out, nil
}

// SaveBuilding upserts a building row.
func (db *DB) SaveBuilding(b buildings.Building) error {
	return withRetry(db.retry, func() error {
		var completed any
		if b.CompletedAt != nil {
			completed = b.CompletedAt.UnixNano()
		}
		_, err := db.conn.Exec(`INSERT OR REPLACE INTO buildings
			(id, owner_id, x, y, type, state, wood_used, wood_required, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.OwnerID, b.X, b.Y, b.Type, string(b.State),
			b.WoodUsed, b.WoodRequired, b.StartedAt.UnixNano(), completed)
		return err
	})
}

type buildingRow struct {
	ID           string        `db:"id"`
	OwnerID      string        `db:"owner_id"`
	X            int           `db:"x"`
	Y            int           `db:"y"`
	Type         string        `db:"type"`
	State        string        `db:"state"`
	WoodUsed     int           `db:"wood_used"`
	WoodRequired int           `db:"wood_required"`
	StartedAt    int64         `db:"started_at"`
	CompletedAt  sql.NullInt64 `db:"completed_at"`
}

// LoadBuildings restores every building.
func (db *DB) LoadBuildings() ([]buildings.Building, error) {
	var rows []buildingRow
	if err := db.conn.Select(&rows, "SELECT * FROM buildings"); err != nil {
		return nil, fmt.Errorf("load buildings: %w", err)
	}
	out := make([]buildings.Building, 0, len(rows))
	for _, r := range rows {
		b := buildings.Building{
			ID:           r.ID,
			OwnerID:      r.OwnerID,
			X:            r.X,
			Y:            r.Y,
			Type:         r.Type,
			State:        buildings.BuildingState(r.State),
			WoodUsed:     r.WoodUsed,
			WoodRequired: r.WoodRequired,
			StartedAt:    timeOrZero(r.StartedAt),
		}
		if r.CompletedAt.Valid {
			t := timeOrZero(r.CompletedAt.Int64)
			b.CompletedAt = &t
		}
		out = append(out, b)
	}
	return out, nil
}

type clockRow struct {
	StartedAt    int64  `db:"started_at"`
	Day          int    `db:"day"`
	Month        int    `db:"month"`
	Year         int    `db:"year"`
	Weather      string `db:"weather"`
	WeatherUntil int64  `db:"weather_until"`
}

// LoadClock returns the persisted clock singleton, if present.
func (db *DB) LoadClock() (clock.State, bool, error) {
	var r clockRow
	err := db.conn.Get(&r, "SELECT started_at, day, month, year, weather, weather_until FROM world_clock WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return clock.State{}, false, nil
	}
	if err != nil {
		return clock.State{}, false, fmt.Errorf("load clock: %w", err)
	}
	return clock.State{
		StartedAt:    timeOrZero(r.StartedAt),
		Day:          r.Day,
		Month:        r.Month,
		Year:         r.Year,
		Weather:      clock.Weather(r.Weather),
		WeatherUntil: timeOrZero(r.WeatherUntil),
	}, true, nil
}

// SaveClock writes the clock singleton immediately, not batched.
func (db *DB) SaveClock(st clock.State) error {
	return withRetry(db.retry, func() error {
		_, err := db.conn.Exec(`INSERT OR REPLACE INTO world_clock
			(id, started_at, day, month, year, weather, weather_until)
			VALUES (1, ?, ?, ?, ?, ?, ?)`,
			st.StartedAt.UnixNano(), st.Day, st.Month, st.Year,
			string(st.Weather), st.WeatherUntil.UnixNano())
		return err
	})
}

// WriteEvents appends a durable event batch in one transaction.
func (db *DB) WriteEvents(ctx context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}
	return withRetry(db.retry, func() error {
		tx, err := db.conn.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		stmt, err := tx.Preparex("INSERT INTO events (type, payload_json, created_at) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range batch {
			payload, _ := json.Marshal(e.Payload)
			if _, err := stmt.Exec(e.Type, string(payload), e.Timestamp.UnixNano()); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// PruneEvents deletes events older than the cutoff, returning how many.
func (db *DB) PruneEvents(olderThan time.Time) (int64, error) {
	res, err := db.conn.Exec("DELETE FROM events WHERE created_at < ?", olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

type eventRow struct {
	Type        string `db:"type"`
	PayloadJSON string `db:"payload_json"`
	CreatedAt   int64  `db:"created_at"`
}

// RecentEvents returns the newest durable events, newest first.
func (db *DB) RecentEvents(limit int) ([]events.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		"SELECT type, payload_json, created_at FROM events ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	out := make([]events.Event, 0, len(rows))
	for _, r := range rows {
		var payload map[string]any
		_ = json.Unmarshal([]byte(r.PayloadJSON), &payload)
		out = append(out, events.Event{
			Type:      r.Type,
			Payload:   payload,
			Timestamp: timeOrZero(r.CreatedAt),
		})
	}
	return out, nil
}

// SaveChronicle stores the day's narrative digest.
func (db *DB) SaveChronicle(day int, text string) error {
	return withRetry(db.retry, func() error {
		_, err := db.conn.Exec(`INSERT OR REPLACE INTO chronicle (day, text, created_at)
			VALUES (?, ?, ?)`, day, text, time.Now().UnixNano())
		return err
	})
}

// LatestChronicle returns the newest digest, or empty when none exists.
func (db *DB) LatestChronicle() (string, error) {
	var text string
	err := db.conn.Get(&text, "SELECT text FROM chronicle ORDER BY day DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return text, err
}

// Checkpoint forces a WAL checkpoint so the main file stays current.
func (db *DB) Checkpoint() error {
	_, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
