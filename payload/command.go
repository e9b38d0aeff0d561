// Package payload decodes inbound MQTT light commands. Malformed input
// degrades to an empty command rather than failing: a bad payload means "no
// instruction", never a crashed subscriber.
package payload

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	StateOn  = "on"
	StateOff = "off"
)

// Command is the structured form of an inbound light command. A nil field
// means the payload carried no opinion on it, not "false" or "zero".
type Command struct {
	State      *string
	Brightness *int
}

func (c Command) On() bool {
	return c.State != nil && *c.State == StateOn
}

func (c Command) Off() bool {
	return c.State != nil && *c.State == StateOff
}

// Empty reports whether the command carries no instruction at all.
func (c Command) Empty() bool {
	return c.State == nil && c.Brightness == nil
}

// Parse decodes raw command text. Anything that is not a JSON object yields
// the empty command. The state field is kept only when it is a string that
// trims and lowercases to "on" or "off". Brightness is kept when it is a
// number or numeric string, truncated to an int and clamped into [0, 255].
func Parse(raw []byte) Command {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Command{}
	}

	var cmd Command

	if state, ok := fields["state"].(string); ok {
		state = strings.ToLower(strings.TrimSpace(state))
		if state == StateOn || state == StateOff {
			cmd.State = &state
		}
	}

	if value, ok := numeric(fields["brightness"]); ok {
		brightness := clamp(int(value), 0, 255)
		cmd.Brightness = &brightness
	}

	return cmd
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}

	return value
}
