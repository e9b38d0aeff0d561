// Package lamp models a step-dimmable lamp driven by a single-pole switch.
// The lamp supports a finite ordered table of brightness levels and advances
// one step (wrapping past the top) every time the switch is pulsed off and
// on again; a fresh on-cycle always starts at the bottom step.
package lamp

import (
	"fmt"
	"sort"
)

// DefaultMaxBrightness is the brightness scale used by MQTT JSON lights.
const DefaultMaxBrightness = 255

// IndexOff is the step index reported when the lamp is off or when its
// level could not be determined from a measurement.
const IndexOff = -1

// DefaultSteps is the step table used when a device does not configure one:
// quarter, half and full brightness.
var DefaultSteps = []any{0.25, 0.5, 1.0}

// Lamp holds the normalized step table and the power thresholds that
// partition measured readings into steps. Immutable after construction.
type Lamp struct {
	levels        []int
	thresholds    []float64
	maxBrightness int
}

// New builds a lamp from a step table. Each step is either a float in
// [0.0, 1.0] (a fraction of maxBrightness, converted by truncation) or an
// int in [0, maxBrightness]; mixing both kinds is fine. A maxBrightness of
// zero or less selects DefaultMaxBrightness. Thresholds may be nil, in
// which case the midpoint between each pair of adjacent levels is used;
// when supplied there must be exactly one fewer threshold than steps.
func New(steps []any, maxBrightness int, thresholds []float64) (*Lamp, error) {
	if maxBrightness <= 0 {
		maxBrightness = DefaultMaxBrightness
	}

	levels, err := normalizeSteps(steps, maxBrightness)
	if err != nil {
		return nil, err
	}

	if thresholds == nil {
		thresholds = midpointThresholds(levels)
	} else if len(thresholds) != len(levels)-1 {
		return nil, fmt.Errorf("%w: want %v power thresholds, got %v", ErrConfig, len(levels)-1, len(thresholds))
	}

	return &Lamp{
		levels:        levels,
		thresholds:    thresholds,
		maxBrightness: maxBrightness,
	}, nil
}

func normalizeSteps(steps []any, maxBrightness int) ([]int, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: steps must not be empty", ErrConfig)
	}

	levels := make([]int, 0, len(steps))
	for _, step := range steps {
		switch v := step.(type) {
		case float64:
			if v < 0.0 || v > 1.0 {
				return nil, fmt.Errorf("%w: float step %v must be between 0.0 and 1.0", ErrConfig, v)
			}
			levels = append(levels, int(v*float64(maxBrightness)))
		case int:
			if v < 0 || v > maxBrightness {
				return nil, fmt.Errorf("%w: int step %v must be between 0 and %v", ErrConfig, v, maxBrightness)
			}
			levels = append(levels, v)
		default:
			return nil, fmt.Errorf("%w: %v (%T)", ErrStepType, step, step)
		}
	}

	sort.Ints(levels)

	return levels, nil
}

func midpointThresholds(levels []int) []float64 {
	thresholds := make([]float64, 0, len(levels)-1)
	for i := 0; i < len(levels)-1; i++ {
		thresholds = append(thresholds, float64(levels[i]+levels[i+1])/2.0)
	}

	return thresholds
}

// Levels returns the normalized brightness value of every step, ascending.
func (l *Lamp) Levels() []int {
	levels := make([]int, len(l.levels))
	copy(levels, l.levels)

	return levels
}

// Thresholds returns the power boundaries partitioning readings into steps.
func (l *Lamp) Thresholds() []float64 {
	thresholds := make([]float64, len(l.thresholds))
	copy(thresholds, l.thresholds)

	return thresholds
}

func (l *Lamp) StepCount() int {
	return len(l.levels)
}

func (l *Lamp) MaxBrightness() int {
	return l.maxBrightness
}

// StepBrightness returns the brightness value of the step at index.
func (l *Lamp) StepBrightness(index int) int {
	return l.levels[index]
}

// IndexFromBrightness classifies a requested brightness to the nearest
// step. Zero or negative brightness means off. Ties between two steps go to
// the lower index.
func (l *Lamp) IndexFromBrightness(brightness int) int {
	if brightness <= 0 {
		return IndexOff
	}

	best := IndexOff
	bestDiff := l.maxBrightness + brightness + 1
	for i, level := range l.levels {
		diff := level - brightness
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = i
		}
	}

	return best
}

// IndexFromPower maps a measured power reading to a step: the first
// threshold the reading falls strictly below wins, readings above every
// threshold map to the top step. A nil reading means the level is unknown.
func (l *Lamp) IndexFromPower(power *float64) int {
	if power == nil {
		return IndexOff
	}

	for i, threshold := range l.thresholds {
		if *power < threshold {
			return i
		}
	}

	return len(l.thresholds)
}

// Flicks computes how many off/on pulses of the switch move the lamp from
// current to target. The lamp only advances forward, wrapping past the top
// step; from off, one pulse turns it on at the bottom step.
func (l *Lamp) Flicks(current, target int) (int, error) {
	count := len(l.levels)
	if target < 0 || target >= count {
		return 0, fmt.Errorf("%w: target index %v", ErrRange, target)
	}

	if current == IndexOff {
		return target + 1, nil
	}

	if current < 0 || current >= count {
		return 0, fmt.Errorf("%w: current index %v", ErrRange, current)
	}

	return ((target - current) + count) % count, nil
}
