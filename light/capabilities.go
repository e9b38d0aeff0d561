package light

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SwitchActuator issues on/off actuations on a named switch entity.
type SwitchActuator interface {
	TurnOn(ctx context.Context, entity string) error
	TurnOff(ctx context.Context, entity string) error
}

// StateReader returns the last known value of a named entity. The second
// return is false when no value has been observed yet.
type StateReader interface {
	State(entity string) (string, bool)
}

// Scheduler runs a callback once after a delay and hands back an opaque
// handle. The callback receives the same handle, so it can tell whether it
// has been superseded without racing the caller. Cancelling a handle that
// already fired, was already cancelled or never existed is a no-op.
type Scheduler interface {
	Schedule(delay time.Duration, fn func(ctx context.Context, id uuid.UUID)) uuid.UUID
	Cancel(id uuid.UUID)
}

// Publisher publishes a retained message on a topic.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Clock supplies wall-clock time and cancellable sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Capabilities bundles the host facilities a reconciler depends on. All
// fields except Clock are required; a nil Clock selects the system clock.
type Capabilities struct {
	Switches  SwitchActuator
	States    StateReader
	Timers    Scheduler
	Publisher Publisher
	Clock     Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LevelProvider tells a reconciler where the lamp's measured power level
// comes from: either a named entity read through the host's StateReader, or
// a caller-supplied callback. Exactly one variant is set.
type LevelProvider struct {
	entity string
	fn     func(context.Context) (*float64, error)
}

// StaticEntity reads the level from a named sensor entity.
func StaticEntity(entity string) LevelProvider {
	return LevelProvider{entity: entity}
}

// DynamicProvider obtains the level from a callback returning the current
// reading, or nil when it is unknown.
func DynamicProvider(fn func(context.Context) (*float64, error)) LevelProvider {
	return LevelProvider{fn: fn}
}

func (p LevelProvider) valid() bool {
	return p.entity != "" || p.fn != nil
}

// resolve binds the provider to the host once, at configuration time. The
// resulting reader never fails: an unreadable or unparsable level is nil.
func (p LevelProvider) resolve(states StateReader) func(context.Context) *float64 {
	if p.fn != nil {
		fn := p.fn
		return func(ctx context.Context) *float64 {
			level, err := fn(ctx)
			if err != nil {
				return nil
			}
			return level
		}
	}

	entity := p.entity
	return func(context.Context) *float64 {
		raw, ok := states.State(entity)
		if !ok {
			return nil
		}
		level, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil
		}
		return &level
	}
}
