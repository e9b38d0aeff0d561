// Package light reconciles the authoritative MQTT-visible state of a
// step-dimmed light against inbound commands and noisy physical sensor
// readings. One Reconciler owns one device; devices share nothing.
package light

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aegishome/go-aegis/homeassistant"
	"github.com/aegishome/go-aegis/lamp"
	"github.com/aegishome/go-aegis/payload"
)

const (
	// DefaultFlickDelay is the pause between each half-pulse of the switch.
	DefaultFlickDelay = 55 * time.Millisecond

	// DefaultStabilization is how long after one of our own commands sensor
	// changes are assumed to be its echo rather than manual interaction.
	DefaultStabilization = 5 * time.Second

	// DefaultDebounce is how long a sensor change must settle before it is
	// trusted as the new physical state.
	DefaultDebounce = time.Second
)

// Options configures a single managed light.
type Options struct {
	// Name is the friendly device name shown in Home Assistant.
	Name string
	// ObjectID identifies the device in topics and logs.
	ObjectID string
	// SwitchEntity names the physical switch pulsed to advance the dimmer.
	SwitchEntity string
	// Level locates the measured power reading for the lamp.
	Level LevelProvider
	// StateTopic is where the authoritative state is published.
	StateTopic string

	// Steps and PowerThresholds configure the lamp; nil Steps selects
	// lamp.DefaultSteps, nil thresholds derive adjacent midpoints.
	Steps           []any
	PowerThresholds []float64
	MaxBrightness   int

	FlickDelay    time.Duration
	Stabilization time.Duration
	Debounce      time.Duration

	// RepublishOnConfirm re-sends an unchanged state payload when a
	// debounced check confirms it, instead of publishing on change only.
	RepublishOnConfirm bool
}

// Reconciler owns the state of one managed light. Command and sensor
// callbacks for the same device are serialized by its mutex; there is no
// shared state between devices.
type Reconciler struct {
	opts  Options
	lamp  *lamp.Lamp
	level func(context.Context) *float64
	caps  Capabilities
	clock Clock
	log   *log.Entry

	mu            sync.Mutex
	isOn          bool
	brightness    *int
	lastPublished []byte
	lastCommand   time.Time
	debounceID    uuid.UUID
}

func New(opts Options, caps Capabilities) (*Reconciler, error) {
	if opts.SwitchEntity == "" {
		return nil, fmt.Errorf("%w: switch entity is required", lamp.ErrConfig)
	}
	if opts.StateTopic == "" {
		return nil, fmt.Errorf("%w: state topic is required", lamp.ErrConfig)
	}
	if !opts.Level.valid() {
		return nil, fmt.Errorf("%w: level provider is required", lamp.ErrConfig)
	}
	if caps.Switches == nil || caps.States == nil || caps.Timers == nil || caps.Publisher == nil {
		return nil, fmt.Errorf("%w: missing host capabilities", lamp.ErrConfig)
	}

	steps := opts.Steps
	if steps == nil {
		steps = lamp.DefaultSteps
	}

	l, err := lamp.New(steps, opts.MaxBrightness, opts.PowerThresholds)
	if err != nil {
		return nil, err
	}
	opts.MaxBrightness = l.MaxBrightness()

	if opts.FlickDelay <= 0 {
		opts.FlickDelay = DefaultFlickDelay
	}
	if opts.Stabilization <= 0 {
		opts.Stabilization = DefaultStabilization
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	clock := caps.Clock
	if clock == nil {
		clock = systemClock{}
	}

	return &Reconciler{
		opts:  opts,
		lamp:  l,
		level: opts.Level.resolve(caps.States),
		caps:  caps,
		clock: clock,
		log:   log.WithField("device", opts.ObjectID),
	}, nil
}

func (r *Reconciler) ObjectID() string {
	return r.opts.ObjectID
}

func (r *Reconciler) Name() string {
	return r.opts.Name
}

// Lamp exposes the device's step table.
func (r *Reconciler) Lamp() *lamp.Lamp {
	return r.lamp
}

// HandleCommand applies one inbound command: it actuates the physical
// switch, updates the device state and publishes the result. An empty
// command is a no-op. Errors propagate to the dispatcher, which logs them.
func (r *Reconciler) HandleCommand(ctx context.Context, cmd payload.Command) error {
	if cmd.Empty() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A fresh command supersedes any pending sensor-driven reconciliation.
	r.lastCommand = r.clock.Now()
	r.cancelDebounceLocked()

	if cmd.Off() {
		r.log.Info("turning off")
		if err := r.caps.Switches.TurnOff(ctx, r.opts.SwitchEntity); err != nil {
			return err
		}
		r.isOn = false
		r.brightness = nil

		return r.publishLocked()
	}

	target := r.opts.MaxBrightness
	if cmd.Brightness != nil {
		target = *cmd.Brightness
	}
	targetIndex := r.lamp.IndexFromBrightness(target)

	currentIndex := lamp.IndexOff
	if r.switchIsOn() {
		currentIndex = r.lamp.IndexFromPower(r.level(ctx))
	}

	if cmd.Brightness == nil && currentIndex == lamp.IndexOff {
		// A bare "turn on" from off is a single pulse; the switch starts a
		// fresh cycle at the bottom step.
		targetIndex = 0
	}

	flicks, err := r.lamp.Flicks(currentIndex, targetIndex)
	if err != nil {
		return err
	}

	r.log.Infof("advancing from step %d to step %d (%d flicks)", currentIndex, targetIndex, flicks)
	if err := r.performFlicks(ctx, flicks); err != nil {
		return err
	}

	brightness := r.lamp.StepBrightness(targetIndex)
	r.isOn = true
	r.brightness = &brightness

	return r.publishLocked()
}

// OnSensorChanged reacts to a physical switch or level change. Changes
// landing inside the stabilization window of our own last command are
// ignored entirely; anything else restarts the debounce timer.
func (r *Reconciler) OnSensorChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelDebounceLocked()

	if !r.lastCommand.IsZero() && r.clock.Now().Sub(r.lastCommand) < r.opts.Stabilization {
		// Echo of our own command, not a manual interaction.
		return
	}

	// The handle is written under the mutex settle also takes, so a timer
	// firing immediately still observes a consistent value.
	r.debounceID = r.caps.Timers.Schedule(r.opts.Debounce, r.settle)
}

// Shutdown cancels any pending debounce timer. The reconciler publishes
// nothing on shutdown; availability is the registry's concern.
func (r *Reconciler) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelDebounceLocked()
}

func (r *Reconciler) cancelDebounceLocked() {
	if r.debounceID == uuid.Nil {
		return
	}

	r.caps.Timers.Cancel(r.debounceID)
	r.debounceID = uuid.Nil
}

// settle fires when a sensor change survived the debounce window: re-read
// the physical state and reconcile the published state against it.
func (r *Reconciler) settle(ctx context.Context, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.debounceID != id {
		// Superseded by a newer command or sensor event while firing.
		return
	}
	r.debounceID = uuid.Nil

	if !r.switchIsOn() {
		r.isOn = false
		if r.brightness != nil {
			r.brightness = nil
			r.publishLoggedLocked()
		} else if r.opts.RepublishOnConfirm {
			r.publishLoggedLocked()
		}
		return
	}

	index := r.lamp.IndexFromPower(r.level(ctx))
	if index == lamp.IndexOff {
		// Ambiguous reading: never overwrite a known good value.
		if r.brightness == nil {
			brightness := r.opts.MaxBrightness
			r.isOn = true
			r.brightness = &brightness
			r.publishLoggedLocked()
		}
		return
	}

	brightness := r.lamp.StepBrightness(index)
	r.isOn = true
	if r.brightness != nil && *r.brightness == brightness {
		if r.opts.RepublishOnConfirm {
			r.publishLoggedLocked()
		}
		return
	}

	r.log.Infof("manual change settled at brightness %d", brightness)
	r.brightness = &brightness
	r.publishLoggedLocked()
}

func (r *Reconciler) performFlicks(ctx context.Context, count int) error {
	for i := 0; i < count; i++ {
		if err := r.caps.Switches.TurnOff(ctx, r.opts.SwitchEntity); err != nil {
			return err
		}
		if err := r.clock.Sleep(ctx, r.opts.FlickDelay); err != nil {
			return err
		}
		if err := r.caps.Switches.TurnOn(ctx, r.opts.SwitchEntity); err != nil {
			return err
		}
		if err := r.clock.Sleep(ctx, r.opts.FlickDelay); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reconciler) switchIsOn() bool {
	state, ok := r.caps.States.State(r.opts.SwitchEntity)

	return ok && strings.EqualFold(state, "on")
}

// publishLocked sends the current state, suppressing payloads byte-identical
// to the last one actually sent.
func (r *Reconciler) publishLocked() error {
	state := homeassistant.LightState{State: homeassistant.StateOff}
	if r.isOn {
		state.State = homeassistant.StateOn
		state.Brightness = r.brightness
	}

	body, err := json.Marshal(state)
	if err != nil {
		return err
	}

	if bytes.Equal(body, r.lastPublished) {
		return nil
	}

	if err := r.caps.Publisher.Publish(r.opts.StateTopic, body); err != nil {
		return err
	}
	r.lastPublished = body

	return nil
}

func (r *Reconciler) publishLoggedLocked() {
	if err := r.publishLocked(); err != nil {
		r.log.WithError(err).Error("state publish failed")
	}
}
