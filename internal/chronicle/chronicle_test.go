package chronicle

import (
	"strings"
	"testing"

	"github.com/lowlandworks/pixelvale/internal/events"
)

func TestBuildQuietDay(t *testing.T) {
	got := Build(3, 2, 1, 12, "sunny", nil)
	if !strings.Contains(got, "Day 3 of month 2, year 1") {
		t.Fatalf("digest missing date: %q", got)
	}
	if !strings.Contains(got, "12 residents") {
		t.Fatalf("digest missing population: %q", got)
	}
	if !strings.Contains(got, "sunny skies") {
		t.Fatalf("digest missing weather: %q", got)
	}
	if !strings.Contains(got, "quiet day") {
		t.Fatalf("empty event list should read as a quiet day: %q", got)
	}
}

func TestBuildCountsEvents(t *testing.T) {
	recent := []events.Event{
		{Type: events.TypeConversationStart},
		{Type: events.TypeConversationStart},
		{Type: events.TypeChatMessage},
		{Type: events.TypeChatMessage},
		{Type: events.TypeChatMessage},
		{Type: events.TypeTreeChopped},
		{Type: events.TypeBuildingCompleted},
		{Type: events.TypeAgentJoin},
	}
	got := Build(30, 12, 2, 40, "stormy", recent)

	for _, want := range []string{
		"2 conversations were struck up",
		"3 messages",
		"Axes rang out 1 times",
		"1 houses stood finished",
		"1 newcomers arrived",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("digest missing %q: %q", want, got)
		}
	}
	if strings.Contains(got, "quiet day") {
		t.Fatalf("busy day should not read as quiet: %q", got)
	}
	if strings.Contains(got, "foundations") {
		t.Fatalf("no building starts in input, digest says otherwise: %q", got)
	}
}

func TestBuildDeterministic(t *testing.T) {
	recent := []events.Event{
		{Type: events.TypeTreeChopped},
		{Type: events.TypeTreeSpawned},
		{Type: events.TypeRelationshipChange},
	}
	a := Build(1, 1, 1, 5, "raining", recent)
	b := Build(1, 1, 1, 5, "raining", recent)
	if a != b {
		t.Fatalf("digest not deterministic:\n%q\n%q", a, b)
	}
}
