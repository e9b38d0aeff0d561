// Package bridge connects step-dimmed lights to an MQTT broker: it announces
// each device to Home Assistant, dispatches inbound commands to its
// reconciler and feeds physical switch/sensor updates back into it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/aegishome/go-aegis/config"
	"github.com/aegishome/go-aegis/homeassistant"
	"github.com/aegishome/go-aegis/lamp"
	"github.com/aegishome/go-aegis/light"
	"github.com/aegishome/go-aegis/payload"
)

// ErrDuplicateDevice reports a second registration of the same object id.
var ErrDuplicateDevice = fmt.Errorf("%w: device already registered", lamp.ErrConfig)

type device struct {
	cfg               *config.Device
	objectID          string
	reconciler        *light.Reconciler
	commandTopic      string
	availabilityTopic string
}

// Bridge is the device registry and the host capability set its reconcilers
// run against: actuation and publishing go out over MQTT, entity reads come
// from a cache fed by MQTT subscriptions.
type Bridge struct {
	client mqtt.Client
	prefix string
	timers light.Scheduler

	mu       sync.Mutex
	devices  map[string]*device
	states   map[string]string // last seen payload per entity topic
	commands map[string]string // switch state topic -> switch command topic
}

func New(client mqtt.Client, discoveryPrefix string) *Bridge {
	if discoveryPrefix == "" {
		discoveryPrefix = homeassistant.DefaultDiscoveryPrefix
	}

	return &Bridge{
		client:   client,
		prefix:   discoveryPrefix,
		timers:   light.NewScheduler(),
		devices:  make(map[string]*device),
		states:   make(map[string]string),
		commands: make(map[string]string),
	}
}

// Register announces the device to Home Assistant and starts reconciling it:
// the discovery config and availability are published retained, and the
// command and entity state topics are subscribed. Registering an object id
// twice is a configuration error.
func (b *Bridge) Register(cfg *config.Device) (*light.Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	objectID := cfg.ComputedObjectID()

	steps, err := cfg.StepValues()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lamp.ErrConfig, err)
	}

	reconciler, err := light.New(light.Options{
		Name:               cfg.Name,
		ObjectID:           objectID,
		SwitchEntity:       cfg.SwitchStateTopic,
		Level:              light.StaticEntity(cfg.LevelStateTopic),
		StateTopic:         homeassistant.StateTopic(b.prefix, objectID),
		Steps:              steps,
		PowerThresholds:    cfg.PowerThresholds,
		MaxBrightness:      cfg.MaxBrightness,
		FlickDelay:         cfg.FlickDelay(),
		Stabilization:      cfg.Stabilization(),
		Debounce:           cfg.Debounce(),
		RepublishOnConfirm: cfg.RepublishOnConfirm,
	}, light.Capabilities{
		Switches:  b,
		States:    b,
		Timers:    b.timers,
		Publisher: b,
	})
	if err != nil {
		return nil, err
	}

	d := &device{
		cfg:               cfg,
		objectID:          objectID,
		reconciler:        reconciler,
		commandTopic:      homeassistant.CommandTopic(b.prefix, objectID),
		availabilityTopic: homeassistant.AvailabilityTopic(b.prefix, objectID),
	}

	b.mu.Lock()
	if _, exists := b.devices[objectID]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrDuplicateDevice, objectID)
	}
	b.devices[objectID] = d
	b.commands[cfg.SwitchStateTopic] = cfg.SwitchCommandTopic
	b.mu.Unlock()

	// A failure past this point must leave no trace of the device, so a
	// later retry does not trip the duplicate check.
	rollback := func() {
		b.mu.Lock()
		delete(b.devices, objectID)
		delete(b.commands, cfg.SwitchStateTopic)
		b.mu.Unlock()
		b.client.Unsubscribe(d.commandTopic, cfg.SwitchStateTopic, cfg.LevelStateTopic)
	}

	// Publish configuration for MQTT autodiscovery
	configJSON, err := homeassistant.NewLightConfiguration(b.prefix, objectID, cfg.Name, reconciler.Lamp().MaxBrightness()).ConfigJSON()
	if err != nil {
		rollback()
		return nil, fmt.Errorf("error marshalling light configuration: %w", err)
	}
	if err := b.Publish(homeassistant.ConfigTopic(b.prefix, objectID), []byte(configJSON)); err != nil {
		rollback()
		return nil, err
	}
	if err := b.Publish(d.availabilityTopic, []byte(homeassistant.PayloadAvailable)); err != nil {
		rollback()
		return nil, err
	}

	// Subscribe to the light's command topic
	if t := b.client.Subscribe(d.commandTopic, 0, func(client mqtt.Client, msg mqtt.Message) {
		b.dispatchCommand(objectID, reconciler, msg)
	}); t.Wait() && t.Error() != nil {
		rollback()
		return nil, fmt.Errorf("MQTT subscribe error: %w", t.Error())
	}

	// Subscribe to the physical switch and power sensor
	for _, topic := range []string{cfg.SwitchStateTopic, cfg.LevelStateTopic} {
		if t := b.client.Subscribe(topic, 0, func(client mqtt.Client, msg mqtt.Message) {
			b.onEntityState(reconciler, msg)
		}); t.Wait() && t.Error() != nil {
			rollback()
			return nil, fmt.Errorf("MQTT subscribe error: %w", t.Error())
		}
	}

	log.Printf("Registered %v with Home Assistant", cfg.Name)

	return reconciler, nil
}

// Deregister withdraws a device: its pending timers are cancelled, its
// topics are unsubscribed and it is marked offline.
func (b *Bridge) Deregister(objectID string) error {
	b.mu.Lock()
	d, ok := b.devices[objectID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("unknown device %v", objectID)
	}
	delete(b.devices, objectID)
	delete(b.commands, d.cfg.SwitchStateTopic)
	b.mu.Unlock()

	d.reconciler.Shutdown()

	if t := b.client.Unsubscribe(d.commandTopic, d.cfg.SwitchStateTopic, d.cfg.LevelStateTopic); t.Wait() && t.Error() != nil {
		return fmt.Errorf("MQTT unsubscribe error: %w", t.Error())
	}

	return b.Publish(d.availabilityTopic, []byte(homeassistant.PayloadNotAvailable))
}

// Close deregisters every device, marking each unavailable.
func (b *Bridge) Close() error {
	b.mu.Lock()
	ids := lo.Keys(b.devices)
	b.mu.Unlock()

	var errs []error
	for _, objectID := range ids {
		if err := b.Deregister(objectID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// dispatchCommand decodes one inbound command and hands it to the device's
// reconciler. One device's failure must not take down the rest.
func (b *Bridge) dispatchCommand(objectID string, reconciler *light.Reconciler, msg mqtt.Message) {
	defer func() {
		if v := recover(); v != nil {
			log.Errorf("Panic in command callback for %v: %v", objectID, v)
		}
	}()

	cmd := payload.Parse(msg.Payload())
	if err := reconciler.HandleCommand(context.Background(), cmd); err != nil {
		log.Errorf("Error in command callback for %v: %v", objectID, err)
	}
}

func (b *Bridge) onEntityState(reconciler *light.Reconciler, msg mqtt.Message) {
	b.mu.Lock()
	b.states[msg.Topic()] = string(msg.Payload())
	b.mu.Unlock()

	reconciler.OnSensorChanged()
}

// TurnOn implements light.SwitchActuator by publishing to the switch's
// command topic.
func (b *Bridge) TurnOn(_ context.Context, entity string) error {
	return b.actuate(entity, homeassistant.StateOn)
}

// TurnOff implements light.SwitchActuator.
func (b *Bridge) TurnOff(_ context.Context, entity string) error {
	return b.actuate(entity, homeassistant.StateOff)
}

func (b *Bridge) actuate(entity string, state string) error {
	b.mu.Lock()
	topic, ok := b.commands[entity]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no command topic for entity %v", entity)
	}

	return b.publish(topic, []byte(state), false)
}

// State implements light.StateReader from the entity cache.
func (b *Bridge) State(entity string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.states[entity]

	return value, ok
}

// Publish implements light.Publisher; messages are retained.
func (b *Bridge) Publish(topic string, body []byte) error {
	return b.publish(topic, body, true)
}

func (b *Bridge) publish(topic string, body []byte, retain bool) error {
	if t := b.client.Publish(topic, 0, retain, body); t.Wait() && t.Error() != nil {
		return fmt.Errorf("[%v] publish error: %w", topic, t.Error())
	}

	return nil
}
