// Package alert decides which notifications a new reading triggers.
//
// Every alert is edge-triggered: it fires on the cycle where its condition goes from
// false to true between the previous and the current reading, never while the
// condition merely persists.
package alert

import "github.com/mjasion/glucose-tray/glucose"

// Kind identifies what a notification is about
type Kind int

const (
	KindTrendReversal Kind = iota
	KindHighCrossed
	KindLowCrossed
)

func (k Kind) String() string {
	switch k {
	case KindTrendReversal:
		return "trend_reversal"
	case KindHighCrossed:
		return "high_crossed"
	case KindLowCrossed:
		return "low_crossed"
	default:
		return "unknown"
	}
}

// Event is a notification produced for one cycle
type Event struct {
	Kind    Kind
	Reading glucose.Reading
}

// Summary is the human-readable notification text
func (e Event) Summary() string {
	return e.Reading.Summary()
}

// Evaluate compares the previous reading with the current one. Events come back in the
// order trend reversal, high crossing, low crossing. A nil previous reading yields no events.
func Evaluate(previous *glucose.Reading, current glucose.Reading, t glucose.Thresholds) ([]Event, bool) {
	critical := current.Value.LessThanOrEqual(t.CriticalLowBg)

	if previous == nil {
		return nil, critical
	}

	var events []Event

	if !previous.Trend.IsExtreme() && current.Trend.IsExtreme() {
		events = append(events, Event{Kind: KindTrendReversal, Reading: current})
	}

	if previous.Value.LessThan(t.HighBg) && current.Value.GreaterThanOrEqual(t.HighBg) {
		events = append(events, Event{Kind: KindHighCrossed, Reading: current})
	}

	if previous.Value.GreaterThan(t.LowBg) && current.Value.LessThanOrEqual(t.LowBg) {
		events = append(events, Event{Kind: KindLowCrossed, Reading: current})
	}

	return events, critical
}
