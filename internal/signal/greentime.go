package signal

import (
	"fmt"

	"github.com/intelliflow/signal-core/internal/infrastructure/config"
)

// GreenTimeCalculator derives an adaptive green duration from a queued
// vehicle count. The formula is linear with clamping:
//
//	green = clamp(minGreen + count*perVehicle, minGreen, maxGreen)
//
// All values are seconds.
type GreenTimeCalculator struct {
	minGreen   float64
	maxGreen   float64
	perVehicle float64
}

// NewGreenTimeCalculator validates the timing parameters and builds a
// calculator. Returns ErrInvalidTiming when the parameters cannot produce
// a sane green window.
func NewGreenTimeCalculator(timing config.TimingConfig) (*GreenTimeCalculator, error) {
	if timing.MinGreen <= 0 {
		return nil, fmt.Errorf("%w: min_green must be positive, got %.1f", ErrInvalidTiming, timing.MinGreen)
	}
	if timing.MaxGreen < timing.MinGreen {
		return nil, fmt.Errorf("%w: max_green %.1f below min_green %.1f", ErrInvalidTiming, timing.MaxGreen, timing.MinGreen)
	}
	if timing.PerVehicle < 0 {
		return nil, fmt.Errorf("%w: per_vehicle must not be negative, got %.1f", ErrInvalidTiming, timing.PerVehicle)
	}

	return &GreenTimeCalculator{
		minGreen:   timing.MinGreen,
		maxGreen:   timing.MaxGreen,
		perVehicle: timing.PerVehicle,
	}, nil
}

// Compute returns the green duration in seconds for the given vehicle
// count. Negative counts are treated as zero.
func (c *GreenTimeCalculator) Compute(count int) float64 {
	if count < 0 {
		count = 0
	}

	green := c.minGreen + float64(count)*c.perVehicle
	if green > c.maxGreen {
		return c.maxGreen
	}
	if green < c.minGreen {
		return c.minGreen
	}
	return green
}

// Bounds returns the configured minimum and maximum green durations.
func (c *GreenTimeCalculator) Bounds() (min, max float64) {
	return c.minGreen, c.maxGreen
}
