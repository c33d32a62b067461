package glucose

import "strings"

// Trend is the direction and rate of change reported with a reading
type Trend int

const (
	TrendUnknown Trend = iota
	TrendRisingFast
	TrendRising
	TrendFlat
	TrendFalling
	TrendFallingFast
)

var trendNames = map[Trend]string{
	TrendUnknown:     "unknown",
	TrendRisingFast:  "rising_fast",
	TrendRising:      "rising",
	TrendFlat:        "flat",
	TrendFalling:     "falling",
	TrendFallingFast: "falling_fast",
}

var trendSymbols = map[Trend]string{
	TrendUnknown:     "?",
	TrendRisingFast:  "⮅",
	TrendRising:      "↑",
	TrendFlat:        "→",
	TrendFalling:     "↓",
	TrendFallingFast: "⮇",
}

func (t Trend) String() string {
	if name, ok := trendNames[t]; ok {
		return name
	}
	return trendNames[TrendUnknown]
}

// Symbol returns the arrow shown next to the value
func (t Trend) Symbol() string {
	if sym, ok := trendSymbols[t]; ok {
		return sym
	}
	return trendSymbols[TrendUnknown]
}

// IsExtreme reports whether the trend is one of the double-arrow states
func (t Trend) IsExtreme() bool {
	return t == TrendRisingFast || t == TrendFallingFast
}

// ParseTrend maps a Dexcom/Nightscout direction name to a Trend
func ParseTrend(direction string) Trend {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "doubleup":
		return TrendRisingFast
	case "singleup", "fortyfiveup":
		return TrendRising
	case "flat":
		return TrendFlat
	case "fortyfivedown", "singledown":
		return TrendFalling
	case "doubledown":
		return TrendFallingFast
	default:
		return TrendUnknown
	}
}

// TrendFromCode maps the numeric trend codes used by older Dexcom Share responses
func TrendFromCode(code int) Trend {
	switch code {
	case 1:
		return TrendRisingFast
	case 2, 3:
		return TrendRising
	case 4:
		return TrendFlat
	case 5, 6:
		return TrendFalling
	case 7:
		return TrendFallingFast
	default:
		return TrendUnknown
	}
}
