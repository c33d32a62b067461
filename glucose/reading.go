package glucose

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Unit identifies the concentration unit a reading is expressed in
type Unit string

const (
	UnitMgDL  Unit = "mg/dL"
	UnitMmolL Unit = "mmol/L"
)

// mgPerMmol converts mg/dL to mmol/L
var mgPerMmol = decimal.NewFromInt(18)

// ParseUnit maps a configured unit preference to a Unit
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mg", "mgdl", "mg/dl":
		return UnitMgDL, nil
	case "mmol", "mmoll", "mmol/l":
		return UnitMmolL, nil
	default:
		return "", fmt.Errorf("unknown glucose unit %q", s)
	}
}

// FromMgDL converts a raw mg/dL value into the given unit
func FromMgDL(mg decimal.Decimal, unit Unit) decimal.Decimal {
	if unit == UnitMmolL {
		return mg.Div(mgPerMmol).Round(1)
	}
	return mg.Round(0)
}

// Reading is one sampled glucose value. A zero Value means the source had no data.
type Reading struct {
	Value     decimal.Decimal
	Unit      Unit
	Trend     Trend
	Timestamp time.Time
}

// IsEmpty reports whether the reading carries the "no data" sentinel
func (r Reading) IsEmpty() bool {
	return r.Value.IsZero()
}

// FormattedValue renders the value the conventional way: whole numbers for mg/dL,
// one decimal place for mmol/L
func (r Reading) FormattedValue() string {
	if r.Unit == UnitMmolL {
		return r.Value.StringFixed(1)
	}
	return r.Value.StringFixed(0)
}

// DisplayValue is FormattedValue with the narrower ' separator in place of the decimal point
func (r Reading) DisplayValue() string {
	return strings.ReplaceAll(r.FormattedValue(), ".", "'")
}

// Summary is the notification text: trend symbol followed by the value
func (r Reading) Summary() string {
	return r.Trend.Symbol() + r.FormattedValue()
}

// Detail is the tooltip text: summary plus the time the sample was taken
func (r Reading) Detail() string {
	return r.Summary() + "\n" + r.Timestamp.Local().Format("15:04:05")
}
