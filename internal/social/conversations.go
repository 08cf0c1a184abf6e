package social

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowlandworks/pixelvale/internal/events"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// ConversationState is the dialogue session lifecycle.
type ConversationState string

const (
	ConvoInvited ConversationState = "invited"
	ConvoActive  ConversationState = "active"
	ConvoEnded   ConversationState = "ended" // terminal
)

// Typed conversation failures.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrAlreadyTalking       = errors.New("agent already in a conversation")
	ErrNotActive            = errors.New("conversation is not active")
	ErrNotParticipant       = errors.New("sender is not a participant")
	ErrMessageLimit         = errors.New("conversation reached its message limit")
	ErrMessageCooldown      = errors.New("sender is still on message cooldown")
)

// Message is one line of dialogue.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	SenderID       string    `json:"sender_id" db:"sender_id"`
	Text           string    `json:"text" db:"text"`
	SentAt         time.Time `json:"sent_at" db:"sent_at"`
}

// Conversation is a two-party dialogue session. Ended conversations are
// retained for history.
type Conversation struct {
	ID        string            `json:"id"`
	AgentA    string            `json:"agent_a"`
	AgentB    string            `json:"agent_b"`
	State     ConversationState `json:"state"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Messages  []Message         `json:"messages"`
	Summary   string            `json:"summary,omitempty"`

	lastActivity time.Time
	lastBySender map[string]time.Time
	longBonus    bool // long-conversation bonus already granted
}

// participant reports whether id is one of the two parties.
func (c *Conversation) participant(id string) bool {
	return c.AgentA == id || c.AgentB == id
}

func (c *Conversation) other(id string) string {
	if c.AgentA == id {
		return c.AgentB
	}
	return c.AgentA
}

// ConversationStore persists sessions and messages.
type ConversationStore interface {
	SaveConversation(id, agentA, agentB string, state string, startedAt time.Time, endedAt *time.Time, summary string) error
	SaveMessage(Message) error
}

// MachineConfig tunes the conversation machine.
type MachineConfig struct {
	InviteTimeout   time.Duration
	MaxDuration     time.Duration
	SilenceTimeout  time.Duration
	MaxMessages     int
	LongBonusAt     int
	MessageCooldown time.Duration
}

// Relationship deltas granted by conversation milestones.
const (
	startBonus     = 2
	messageBonus   = 1
	longConvoBonus = 3
)

// Machine runs the conversation lifecycle for every agent pair.
type Machine struct {
	mu     sync.Mutex
	convos map[string]*Conversation
	active map[string]string // agent id → non-ended conversation id

	cfg   MachineConfig
	world *world.World
	rels  *Ledger
	store ConversationStore
	bus   *events.Bus
}

// NewMachine creates the conversation machine.
func NewMachine(cfg MachineConfig, w *world.World, rels *Ledger, store ConversationStore, bus *events.Bus) *Machine {
	return &Machine{
		convos: make(map[string]*Conversation),
		active: make(map[string]string),
		cfg:    cfg,
		world:  w,
		rels:   rels,
		store:  store,
		bus:    bus,
	}
}

// Start opens an invited conversation between a and b. Fails when either
// party already has a non-ended conversation or doesn't exist. Both
// agents go to talking immediately, and the pair earns the
// first-conversation relationship bonus.
func (m *Machine) Start(a, b string) (Conversation, error) {
	if a == b {
		return Conversation{}, ErrSameAgent
	}

	// Validate both parties exist before touching any state.
	for _, id := range []string{a, b} {
		if _, err := m.world.GetAgent(id); err != nil {
			return Conversation{}, err
		}
	}

	m.mu.Lock()
	if _, busy := m.active[a]; busy {
		m.mu.Unlock()
		return Conversation{}, ErrAlreadyTalking
	}
	if _, busy := m.active[b]; busy {
		m.mu.Unlock()
		return Conversation{}, ErrAlreadyTalking
	}

	c := &Conversation{
		ID:           uuid.NewString(),
		AgentA:       a,
		AgentB:       b,
		State:        ConvoInvited,
		StartedAt:    time.Now(),
		lastActivity: time.Now(),
		lastBySender: make(map[string]time.Time),
	}
	m.convos[c.ID] = c
	m.active[a] = c.ID
	m.active[b] = c.ID
	snap := *c
	m.mu.Unlock()

	for _, id := range []string{a, b} {
		_ = m.world.WithAgent(id, func(ag *world.Agent) error {
			ag.State = world.StateTalking
			ag.Target = nil
			ag.Touch()
			return nil
		})
	}

	if _, err := m.rels.Update(a, b, startBonus); err != nil {
		slog.Error("start bonus failed", "error", err)
	}

	m.bus.Emit(events.TypeConversationStart, map[string]any{
		"conversation_id": snap.ID,
		"agent_a":         a,
		"agent_b":         b,
	})
	if err := m.store.SaveConversation(snap.ID, a, b, string(snap.State), snap.StartedAt, nil, ""); err != nil {
		slog.Error("conversation save failed", "id", snap.ID, "error", err)
	}
	return snap, nil
}

// Accept flips an invited conversation to active. Only a participant may
// accept; accepting an active conversation is a no-op.
func (m *Machine) Accept(conversationID, agentID string) error {
	m.mu.Lock()
	c, ok := m.convos[conversationID]
	if !ok {
		m.mu.Unlock()
		return ErrConversationNotFound
	}
	if !c.participant(agentID) {
		m.mu.Unlock()
		return ErrNotParticipant
	}
	if c.State == ConvoEnded {
		m.mu.Unlock()
		return ErrNotActive
	}
	if c.State == ConvoActive {
		m.mu.Unlock()
		return nil
	}
	c.State = ConvoActive
	c.lastActivity = time.Now()
	snap := *c
	m.mu.Unlock()

	return m.store.SaveConversation(snap.ID, snap.AgentA, snap.AgentB, string(snap.State), snap.StartedAt, nil, "")
}

// AddMessage appends a line to an active conversation. Hitting the
// message cap force-ends the conversation and reports the typed limit
// error. Each message nudges the pair's relationship; the first time the
// count reaches the long-conversation threshold, a one-time extra bonus
// lands.
func (m *Machine) AddMessage(conversationID, senderID, text string) (Message, error) {
	m.mu.Lock()
	c, ok := m.convos[conversationID]
	if !ok {
		m.mu.Unlock()
		return Message{}, ErrConversationNotFound
	}
	if c.State != ConvoActive {
		m.mu.Unlock()
		return Message{}, ErrNotActive
	}
	if !c.participant(senderID) {
		m.mu.Unlock()
		return Message{}, ErrNotParticipant
	}
	if len(c.Messages) >= m.cfg.MaxMessages {
		m.mu.Unlock()
		m.End(conversationID)
		return Message{}, ErrMessageLimit
	}
	if last, sent := c.lastBySender[senderID]; sent && time.Since(last) < m.cfg.MessageCooldown {
		m.mu.Unlock()
		return Message{}, ErrMessageCooldown
	}

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		SentAt:         time.Now(),
	}
	c.Messages = append(c.Messages, msg)
	c.lastActivity = msg.SentAt
	c.lastBySender[senderID] = msg.SentAt

	bonus := messageBonus
	if len(c.Messages) == m.cfg.LongBonusAt && !c.longBonus {
		c.longBonus = true
		bonus += longConvoBonus
	}
	reachedCap := len(c.Messages) >= m.cfg.MaxMessages
	a, b := c.AgentA, c.AgentB
	m.mu.Unlock()

	if _, err := m.rels.Update(a, b, bonus); err != nil {
		slog.Error("message bonus failed", "error", err)
	}

	m.bus.Emit(events.TypeChatMessage, map[string]any{
		"conversation_id": conversationID,
		"sender_id":       senderID,
		"text":            text,
	})
	if err := m.store.SaveMessage(msg); err != nil {
		slog.Error("message save failed", "id", msg.ID, "error", err)
	}
	if reachedCap {
		m.End(conversationID)
	}
	return msg, nil
}

// End closes a conversation, returning both agents to idle and
// synthesizing a one-line summary. Ending an ended conversation is a
// no-op.
func (m *Machine) End(conversationID string) {
	m.mu.Lock()
	c, ok := m.convos[conversationID]
	if !ok || c.State == ConvoEnded {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	c.State = ConvoEnded
	c.EndedAt = &now
	c.Summary = summarize(len(c.Messages))
	delete(m.active, c.AgentA)
	delete(m.active, c.AgentB)
	snap := *c
	m.mu.Unlock()

	for _, id := range []string{snap.AgentA, snap.AgentB} {
		_ = m.world.WithAgent(id, func(ag *world.Agent) error {
			if ag.State == world.StateTalking {
				ag.State = world.StateIdle
			}
			return nil
		})
	}

	m.bus.Emit(events.TypeConversationEnd, map[string]any{
		"conversation_id": snap.ID,
		"agent_a":         snap.AgentA,
		"agent_b":         snap.AgentB,
		"messages":        len(snap.Messages),
		"summary":         snap.Summary,
	})
	if err := m.store.SaveConversation(snap.ID, snap.AgentA, snap.AgentB, string(snap.State), snap.StartedAt, snap.EndedAt, snap.Summary); err != nil {
		slog.Error("conversation save failed", "id", snap.ID, "error", err)
	}
}

func summarize(messages int) string {
	switch {
	case messages == 0:
		return "They parted without a word."
	case messages < 5:
		return fmt.Sprintf("A brief exchange of %d messages.", messages)
	case messages < 15:
		return fmt.Sprintf("A friendly chat, %d messages long.", messages)
	default:
		return fmt.Sprintf("A long conversation of %d messages.", messages)
	}
}

// Get returns a conversation by id.
func (m *Machine) Get(conversationID string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convos[conversationID]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return *c, nil
}

// ActiveFor returns the agent's current non-ended conversation, if any.
func (m *Machine) ActiveFor(agentID string) (Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[agentID]
	if !ok {
		return Conversation{}, false
	}
	return *m.convos[id], true
}

// Tick enforces the conversation timeouts: invites that were never
// accepted, sessions past the absolute duration cap, and active sessions
// that have gone silent. It also reconciles agents stuck in talking with
// no matching conversation back to idle.
func (m *Machine) Tick() {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, c := range m.convos {
		if c.State == ConvoEnded {
			continue
		}
		switch {
		case c.State == ConvoInvited && now.Sub(c.StartedAt) > m.cfg.InviteTimeout:
			expired = append(expired, id)
		case now.Sub(c.StartedAt) > m.cfg.MaxDuration:
			expired = append(expired, id)
		case c.State == ConvoActive && now.Sub(c.lastActivity) > m.cfg.SilenceTimeout:
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.End(id)
	}

	// Self-healing: a talking agent with no live conversation goes idle.
	var stuck []string
	m.world.EachAgent(func(a *world.Agent) {
		if a.State != world.StateTalking {
			return
		}
		m.mu.Lock()
		_, ok := m.active[a.ID]
		m.mu.Unlock()
		if !ok {
			a.State = world.StateIdle
			stuck = append(stuck, a.ID)
		}
	})
	if len(stuck) > 0 {
		slog.Warn("reconciled stuck talking agents", "count", len(stuck))
	}
}
