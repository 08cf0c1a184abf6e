// Package chronicle compiles recent durable events into a short daily
// narrative digest. The builder is deterministic and template-based; a
// richer generator can replace it behind the same function shape.
package chronicle

import (
	"fmt"
	"strings"

	"github.com/lowlandworks/pixelvale/internal/events"
)

// Build renders a one-paragraph digest of the day from recent events.
func Build(day, month, year, population int, weather string, recent []events.Event) string {
	counts := make(map[string]int)
	for _, e := range recent {
		counts[e.Type]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Day %d of month %d, year %d. ", day, month, year)
	fmt.Fprintf(&b, "The town counts %d residents under %s skies.", population, weather)

	if n := counts[events.TypeConversationStart]; n > 0 {
		fmt.Fprintf(&b, " %d conversations were struck up", n)
		if m := counts[events.TypeChatMessage]; m > 0 {
			fmt.Fprintf(&b, ", carrying %d messages between neighbors", m)
		}
		b.WriteString(".")
	}
	if n := counts[events.TypeTreeChopped]; n > 0 {
		fmt.Fprintf(&b, " Axes rang out %d times in the woods.", n)
	}
	if n := counts[events.TypeTreeSpawned]; n > 0 {
		fmt.Fprintf(&b, " %d new saplings broke ground.", n)
	}
	if n := counts[events.TypeBuildingStarted]; n > 0 {
		fmt.Fprintf(&b, " %d new foundations were laid on the plaza.", n)
	}
	if n := counts[events.TypeBuildingCompleted]; n > 0 {
		fmt.Fprintf(&b, " %d houses stood finished by nightfall.", n)
	}
	if n := counts[events.TypeRelationshipChange]; n > 0 {
		fmt.Fprintf(&b, " %d friendships shifted.", n)
	}
	if n := counts[events.TypeAgentJoin]; n > 0 {
		fmt.Fprintf(&b, " %d newcomers arrived in town.", n)
	}

	if len(counts) == 0 {
		b.WriteString(" A quiet day; nothing of note happened.")
	}
	return b.String()
}
