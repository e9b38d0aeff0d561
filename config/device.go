package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Device configures one step-dimmed light: the MQTT topics of its physical
// switch and power sensor, its step table and its reconciliation timing.
type Device struct {
	Name               string        `json:"name"`
	ObjectID           string        `json:"object_id"`
	SwitchCommandTopic string        `json:"switch_command_topic"`
	SwitchStateTopic   string        `json:"switch_state_topic"`
	LevelStateTopic    string        `json:"level_state_topic"`
	Steps              []json.Number `json:"steps"`
	PowerThresholds    []float64     `json:"power_thresholds"`
	MaxBrightness      int           `json:"max_brightness"`
	FlickDelayMs       int           `json:"flick_delay_ms"`
	StabilizationSec   float64       `json:"stabilization_seconds"`
	DebounceSec        float64       `json:"debounce_seconds"`
	RepublishOnConfirm bool          `json:"republish_on_confirm"`
}

func (d *Device) Validate() error {
	if d.Name == "" {
		return errors.New("device name is required")
	}
	if d.SwitchCommandTopic == "" || d.SwitchStateTopic == "" {
		return fmt.Errorf("switch topics are required for %v", d.Name)
	}
	if d.LevelStateTopic == "" {
		return fmt.Errorf("level_state_topic is required for %v", d.Name)
	}

	return nil
}

// ComputedObjectID returns the configured object id, or derives one from the
// device name and its switch entity with separators normalized.
func (d *Device) ComputedObjectID() string {
	if d.ObjectID != "" {
		return d.ObjectID
	}

	return slug(fmt.Sprintf("%v_%v", d.Name, d.SwitchStateTopic))
}

var slugReplacer = strings.NewReplacer(" ", "_", ".", "_", "/", "_", "-", "_")

func slug(s string) string {
	return slugReplacer.Replace(strings.ToLower(s))
}

// StepValues converts the configured steps, preserving the float/int
// distinction: a JSON number written with a fraction or exponent is a
// fraction of max_brightness, a plain integer is an absolute level.
func (d *Device) StepValues() ([]any, error) {
	if d.Steps == nil {
		return nil, nil
	}

	steps := make([]any, 0, len(d.Steps))
	for _, step := range d.Steps {
		if strings.ContainsAny(step.String(), ".eE") {
			value, err := step.Float64()
			if err != nil {
				return nil, fmt.Errorf("step %v of %v: %w", step, d.Name, err)
			}
			steps = append(steps, value)
		} else {
			value, err := step.Int64()
			if err != nil {
				return nil, fmt.Errorf("step %v of %v: %w", step, d.Name, err)
			}
			steps = append(steps, int(value))
		}
	}

	return steps, nil
}

func (d *Device) FlickDelay() time.Duration {
	return time.Duration(d.FlickDelayMs) * time.Millisecond
}

func (d *Device) Stabilization() time.Duration {
	return time.Duration(d.StabilizationSec * float64(time.Second))
}

func (d *Device) Debounce() time.Duration {
	return time.Duration(d.DebounceSec * float64(time.Second))
}
