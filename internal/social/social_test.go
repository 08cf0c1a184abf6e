package social

import (
	"testing"
	"time"

	"github.com/lowlandworks/pixelvale/internal/events"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// fakeStore records persistence calls without a database.
type fakeStore struct {
	conversations map[string]string // id → last saved state
	messages      []Message
	relationships []Relationship
}

func newFakeStore() *fakeStore {
	return &fakeStore{conversations: make(map[string]string)}
}

func (s *fakeStore) SaveConversation(id, a, b string, state string, startedAt time.Time, endedAt *time.Time, summary string) error {
	s.conversations[id] = state
	return nil
}

func (s *fakeStore) SaveMessage(m Message) error {
	s.messages = append(s.messages, m)
	return nil
}

func (s *fakeStore) SaveRelationship(r Relationship) error {
	s.relationships = append(s.relationships, r)
	return nil
}

type fixture struct {
	world   *world.World
	bus     *events.Bus
	ledger  *Ledger
	machine *Machine
	store   *fakeStore
	alice   string
	bob     string
	carol   string
}

func newFixture(t *testing.T, cfg MachineConfig) *fixture {
	t.Helper()
	gc := world.DefaultGenConfig()
	gc.Seed = 42
	w := world.NewWorld(world.Generate(gc), 10, 8)
	bus := events.NewBus(nil, 100, 1000, 0)
	store := newFakeStore()
	ledger := NewLedger(w, store, bus, 2)
	machine := NewMachine(cfg, w, ledger, store, bus)

	spawn := func(name string) string {
		a, _, err := w.SpawnAgent(name)
		if err != nil {
			t.Fatalf("spawn %s: %v", name, err)
		}
		return a.ID
	}
	return &fixture{
		world: w, bus: bus, ledger: ledger, machine: machine, store: store,
		alice: spawn("alice"), bob: spawn("bob"), carol: spawn("carol"),
	}
}

func defaultMachineConfig() MachineConfig {
	return MachineConfig{
		InviteTimeout:   time.Minute,
		MaxDuration:     10 * time.Minute,
		SilenceTimeout:  2 * time.Minute,
		MaxMessages:     30,
		LongBonusAt:     10,
		MessageCooldown: 0,
	}
}

func TestConversationLifecycle(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())

	c, err := f.machine.Start(f.alice, f.bob)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State != ConvoInvited {
		t.Fatalf("state = %s, want invited", c.State)
	}

	// Both parties flip to talking immediately.
	for _, id := range []string{f.alice, f.bob} {
		a, _ := f.world.GetAgent(id)
		if a.State != world.StateTalking {
			t.Fatalf("agent %s state = %s, want talking", a.Name, a.State)
		}
	}

	// Messages are rejected before acceptance.
	if _, err := f.machine.AddMessage(c.ID, f.alice, "hello?"); err != ErrNotActive {
		t.Fatalf("pre-accept message err = %v, want ErrNotActive", err)
	}

	if err := f.machine.Accept(c.ID, f.bob); err != nil {
		t.Fatalf("accept: %v", err)
	}
	msg, err := f.machine.AddMessage(c.ID, f.alice, "hello")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if msg.SenderID != f.alice || msg.Text != "hello" {
		t.Fatalf("bad message: %+v", msg)
	}

	f.machine.End(c.ID)
	got, err := f.machine.Get(c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != ConvoEnded || got.EndedAt == nil || got.Summary == "" {
		t.Fatalf("end incomplete: %+v", got)
	}
	for _, id := range []string{f.alice, f.bob} {
		a, _ := f.world.GetAgent(id)
		if a.State != world.StateIdle {
			t.Fatalf("agent %s state = %s after end, want idle", a.Name, a.State)
		}
	}
	if f.store.conversations[c.ID] != string(ConvoEnded) {
		t.Fatalf("persisted state = %s, want ended", f.store.conversations[c.ID])
	}
}

func TestConversationSingleActiveInvariant(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())

	if _, err := f.machine.Start(f.alice, f.bob); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.machine.Start(f.alice, f.carol); err != ErrAlreadyTalking {
		t.Fatalf("second start err = %v, want ErrAlreadyTalking", err)
	}
	if _, err := f.machine.Start(f.carol, f.bob); err != ErrAlreadyTalking {
		t.Fatalf("third start err = %v, want ErrAlreadyTalking", err)
	}
}

func TestConversationSelfAndUnknown(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())

	if _, err := f.machine.Start(f.alice, f.alice); err != ErrSameAgent {
		t.Fatalf("self err = %v, want ErrSameAgent", err)
	}
	if _, err := f.machine.Start(f.alice, "ghost"); err != world.ErrAgentNotFound {
		t.Fatalf("unknown err = %v, want ErrAgentNotFound", err)
	}
	// The failed starts must not have marked alice busy.
	if _, err := f.machine.Start(f.alice, f.bob); err != nil {
		t.Fatalf("start after failures: %v", err)
	}
}

func TestConversationMessageCapAutoEnds(t *testing.T) {
	cfg := defaultMachineConfig()
	cfg.MaxMessages = 6
	cfg.LongBonusAt = 4
	f := newFixture(t, cfg)

	c, _ := f.machine.Start(f.alice, f.bob)
	if err := f.machine.Accept(c.ID, f.bob); err != nil {
		t.Fatalf("accept: %v", err)
	}

	sender := f.alice
	for i := 0; i < cfg.MaxMessages; i++ {
		if _, err := f.machine.AddMessage(c.ID, sender, "line"); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		sender = map[string]string{f.alice: f.bob, f.bob: f.alice}[sender]
	}

	// Reaching the cap ends the conversation without another attempt.
	got, _ := f.machine.Get(c.ID)
	if got.State != ConvoEnded {
		t.Fatalf("state = %s after cap, want ended", got.State)
	}
	if len(got.Messages) != cfg.MaxMessages {
		t.Fatalf("messages = %d, want %d", len(got.Messages), cfg.MaxMessages)
	}
	if _, err := f.machine.AddMessage(c.ID, f.alice, "more"); err != ErrNotActive {
		t.Fatalf("post-cap err = %v, want ErrNotActive", err)
	}
	// Both agents are free to talk again.
	if _, err := f.machine.Start(f.alice, f.carol); err != nil {
		t.Fatalf("start after cap end: %v", err)
	}
}

func TestConversationNonParticipantRejected(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())
	c, _ := f.machine.Start(f.alice, f.bob)
	_ = f.machine.Accept(c.ID, f.bob)

	if _, err := f.machine.AddMessage(c.ID, f.carol, "me too"); err != ErrNotParticipant {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
	if err := f.machine.Accept(c.ID, f.carol); err != ErrNotParticipant {
		t.Fatalf("accept err = %v, want ErrNotParticipant", err)
	}
}

func TestConversationMessageCooldown(t *testing.T) {
	cfg := defaultMachineConfig()
	cfg.MessageCooldown = time.Hour
	f := newFixture(t, cfg)

	c, _ := f.machine.Start(f.alice, f.bob)
	_ = f.machine.Accept(c.ID, f.bob)

	if _, err := f.machine.AddMessage(c.ID, f.alice, "one"); err != nil {
		t.Fatalf("first message: %v", err)
	}
	if _, err := f.machine.AddMessage(c.ID, f.alice, "two"); err != ErrMessageCooldown {
		t.Fatalf("err = %v, want ErrMessageCooldown", err)
	}
	// The other party is on an independent cooldown.
	if _, err := f.machine.AddMessage(c.ID, f.bob, "reply"); err != nil {
		t.Fatalf("other party blocked: %v", err)
	}
}

func TestConversationInviteTimeout(t *testing.T) {
	cfg := defaultMachineConfig()
	cfg.InviteTimeout = -time.Second // already expired
	f := newFixture(t, cfg)

	c, _ := f.machine.Start(f.alice, f.bob)
	f.machine.Tick()

	got, _ := f.machine.Get(c.ID)
	if got.State != ConvoEnded {
		t.Fatalf("state = %s after invite timeout, want ended", got.State)
	}
	a, _ := f.world.GetAgent(f.alice)
	if a.State != world.StateIdle {
		t.Fatalf("alice state = %s, want idle", a.State)
	}
}

func TestTickHealsStuckTalkingAgent(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())

	_ = f.world.WithAgent(f.alice, func(a *world.Agent) error {
		a.State = world.StateTalking
		return nil
	})
	f.machine.Tick()

	a, _ := f.world.GetAgent(f.alice)
	if a.State != world.StateIdle {
		t.Fatalf("state = %s after reconcile, want idle", a.State)
	}
}

func TestActiveFor(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())

	if _, ok := f.machine.ActiveFor(f.alice); ok {
		t.Fatal("ActiveFor true before any conversation")
	}
	c, _ := f.machine.Start(f.alice, f.bob)
	got, ok := f.machine.ActiveFor(f.bob)
	if !ok || got.ID != c.ID {
		t.Fatalf("ActiveFor = (%v, %v), want conversation %s", got.ID, ok, c.ID)
	}
	f.machine.End(c.ID)
	if _, ok := f.machine.ActiveFor(f.alice); ok {
		t.Fatal("ActiveFor true after end")
	}
}

func TestStatusForScoreThresholds(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{-100, StatusRival},
		{-21, StatusRival},
		{-20, StatusStranger},
		{0, StatusStranger},
		{9, StatusStranger},
		{10, StatusAcquaintance},
		{39, StatusAcquaintance},
		{40, StatusFriend},
		{74, StatusFriend},
		{75, StatusCloseFriend},
		{100, StatusCloseFriend},
	}
	for _, tc := range cases {
		if got := StatusForScore(tc.score); got != tc.want {
			t.Fatalf("StatusForScore(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestRelationshipUpdateCreatesAndClamps(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())

	r, err := f.ledger.Update(f.bob, f.alice, 5)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// The row is canonical: lower id first regardless of argument order.
	if r.AgentA > r.AgentB {
		t.Fatalf("row not canonical: %s > %s", r.AgentA, r.AgentB)
	}
	if r.Score != 5 || r.Interactions != 1 {
		t.Fatalf("score = %d interactions = %d", r.Score, r.Interactions)
	}

	// Both argument orders address the same row.
	r2, _ := f.ledger.Update(f.alice, f.bob, 5)
	if r2.Score != 10 || r2.Interactions != 2 {
		t.Fatalf("second update: score = %d interactions = %d", r2.Score, r2.Interactions)
	}

	// Clamping at both bounds.
	r3, _ := f.ledger.Update(f.alice, f.bob, 1000)
	if r3.Score != ScoreMax {
		t.Fatalf("score = %d, want %d", r3.Score, ScoreMax)
	}
	r4, _ := f.ledger.Update(f.alice, f.bob, -1000)
	if r4.Score != ScoreMin {
		t.Fatalf("score = %d, want %d", r4.Score, ScoreMin)
	}
}

func TestRelationshipStatusUpgradeGrantsHappiness(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())

	before, _ := f.world.GetAgent(f.alice)

	// 0 → 10 crosses stranger → acquaintance.
	r, err := f.ledger.Update(f.alice, f.bob, 10)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if r.Status != StatusAcquaintance {
		t.Fatalf("status = %s, want acquaintance", r.Status)
	}

	after, _ := f.world.GetAgent(f.alice)
	wantHappiness := world.ClampStat(before.Happiness + 1 + 5)
	if after.Happiness != wantHappiness {
		t.Fatalf("happiness = %d, want %d", after.Happiness, wantHappiness)
	}
	if after.Experience <= before.Experience {
		t.Fatal("experience did not increase")
	}
}

func TestRelationshipSelfRejected(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())
	if _, err := f.ledger.Update(f.alice, f.alice, 1); err != ErrSameAgent {
		t.Fatalf("err = %v, want ErrSameAgent", err)
	}
}

func TestRelationshipDecay(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())

	r, _ := f.ledger.Update(f.alice, f.bob, 30)
	if r.Status != StatusAcquaintance {
		t.Fatalf("status = %s, want acquaintance", r.Status)
	}

	// Backdate the interaction three days.
	f.ledger.mu.Lock()
	for _, row := range f.ledger.pairs {
		row.LastInteraction = time.Now().Add(-72*time.Hour - time.Minute)
	}
	f.ledger.mu.Unlock()

	f.ledger.Decay()

	got, ok := f.ledger.Get(f.alice, f.bob)
	if !ok {
		t.Fatal("row vanished")
	}
	if got.Score != 30-2*3 {
		t.Fatalf("score = %d, want %d", got.Score, 30-2*3)
	}

	// A second sweep within the same day applies nothing.
	f.ledger.Decay()
	again, _ := f.ledger.Get(f.alice, f.bob)
	if again.Score != got.Score {
		t.Fatalf("score moved on same-day sweep: %d → %d", got.Score, again.Score)
	}
}

func TestRelationshipDecayDeepensRivalry(t *testing.T) {
	f := newFixture(t, defaultMachineConfig())

	f.ledger.Update(f.alice, f.bob, -30)
	f.ledger.mu.Lock()
	for _, row := range f.ledger.pairs {
		row.LastInteraction = time.Now().Add(-25 * time.Hour)
	}
	f.ledger.mu.Unlock()

	f.ledger.Decay()
	got, _ := f.ledger.Get(f.alice, f.bob)
	if got.Score != -32 {
		t.Fatalf("score = %d, want -32 (decay pulls negative scores further down)", got.Score)
	}
	if got.Status != StatusRival {
		t.Fatalf("status = %s, want rival", got.Status)
	}
}
