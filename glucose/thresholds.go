package glucose

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidThresholds is returned when the threshold ordering is violated
var ErrInvalidThresholds = errors.New("invalid glucose thresholds")

// Thresholds holds the alerting and banding limits, in the active unit
type Thresholds struct {
	LowBg         decimal.Decimal
	HighBg        decimal.Decimal
	DangerLowBg   decimal.Decimal
	DangerHighBg  decimal.Decimal
	CriticalLowBg decimal.Decimal
}

// Validate checks dangerLow <= low <= high <= dangerHigh and criticalLow <= low
func (t Thresholds) Validate() error {
	if t.DangerLowBg.GreaterThan(t.LowBg) {
		return fmt.Errorf("%w: dangerLowBg %s is above lowBg %s", ErrInvalidThresholds, t.DangerLowBg, t.LowBg)
	}
	if t.LowBg.GreaterThan(t.HighBg) {
		return fmt.Errorf("%w: lowBg %s is above highBg %s", ErrInvalidThresholds, t.LowBg, t.HighBg)
	}
	if t.HighBg.GreaterThan(t.DangerHighBg) {
		return fmt.Errorf("%w: highBg %s is above dangerHighBg %s", ErrInvalidThresholds, t.HighBg, t.DangerHighBg)
	}
	if t.CriticalLowBg.GreaterThan(t.LowBg) {
		return fmt.Errorf("%w: criticalLowBg %s is above lowBg %s", ErrInvalidThresholds, t.CriticalLowBg, t.LowBg)
	}
	return nil
}
