package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegishome/go-aegis/config"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool {
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool {
	return true
}

func (t *fakeToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)

	return done
}

func (t *fakeToken) Error() error {
	return t.err
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool {
	return false
}

func (m *fakeMessage) Qos() byte {
	return 0
}

func (m *fakeMessage) Retained() bool {
	return false
}

func (m *fakeMessage) Topic() string {
	return m.topic
}

func (m *fakeMessage) MessageID() uint16 {
	return 0
}

func (m *fakeMessage) Payload() []byte {
	return m.payload
}

func (m *fakeMessage) Ack() {}

type publishCall struct {
	topic    string
	retained bool
	payload  string
}

// fakeClient records publishes and keeps subscription handlers so tests can
// inject inbound messages. Everything else of mqtt.Client stays unimplemented.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	published    []publishCall
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	failTopic    string
	failErr      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topic == c.failTopic {
		return &fakeToken{err: c.failErr}
	}
	c.published = append(c.published, publishCall{topic, retained, string(payload.([]byte))})

	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topic == c.failTopic {
		return &fakeToken{err: c.failErr}
	}
	c.handlers[topic] = callback

	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)

	return &fakeToken{}
}

func (c *fakeClient) deliver(t *testing.T, topic string, payload string) {
	t.Helper()

	c.mu.Lock()
	handler := c.handlers[topic]
	c.mu.Unlock()
	require.NotNil(t, handler, "no subscription for %v", topic)

	handler(c, &fakeMessage{topic: topic, payload: []byte(payload)})
}

func (c *fakeClient) calls() []publishCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]publishCall(nil), c.published...)
}

func (c *fakeClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = nil
}

func testDevice() *config.Device {
	return &config.Device{
		Name:               "Test Lamp",
		ObjectID:           "test_lamp",
		SwitchCommandTopic: "zigbee2mqtt/test_switch/set",
		SwitchStateTopic:   "zigbee2mqtt/test_switch",
		LevelStateTopic:    "zigbee2mqtt/test_plug/power",
		FlickDelayMs:       1,
	}
}

func TestRegister_PublishesDiscovery(t *testing.T) {
	client := newFakeClient()
	b := New(client, "")

	_, err := b.Register(testDevice())
	require.NoError(t, err)

	calls := client.calls()
	require.Len(t, calls, 2)

	assert.Equal(t, "homeassistant/light/test_lamp/config", calls[0].topic)
	assert.True(t, calls[0].retained)
	assert.JSONEq(t, `{
		"name": "Test Lamp",
		"unique_id": "test_lamp",
		"schema": "json",
		"state_topic": "homeassistant/light/test_lamp/state",
		"command_topic": "homeassistant/light/test_lamp/set",
		"availability_topic": "homeassistant/light/test_lamp/availability",
		"payload_available": "online",
		"payload_not_available": "offline",
		"brightness": true,
		"brightness_scale": 255,
		"device": {"identifiers": ["test_lamp"], "name": "Test Lamp", "manufacturer": "go-aegis"}
	}`, calls[0].payload)

	assert.Equal(t, publishCall{"homeassistant/light/test_lamp/availability", true, "online"}, calls[1])

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Contains(t, client.handlers, "homeassistant/light/test_lamp/set")
	assert.Contains(t, client.handlers, "zigbee2mqtt/test_switch")
	assert.Contains(t, client.handlers, "zigbee2mqtt/test_plug/power")
}

func TestRegister_Duplicate(t *testing.T) {
	b := New(newFakeClient(), "")

	_, err := b.Register(testDevice())
	require.NoError(t, err)

	_, err = b.Register(testDevice())
	assert.ErrorIs(t, err, ErrDuplicateDevice)
}

func TestRegister_RollsBackOnPublishFailure(t *testing.T) {
	client := newFakeClient()
	client.failTopic = "homeassistant/light/test_lamp/config"
	client.failErr = errors.New("broker unavailable")
	b := New(client, "")

	_, err := b.Register(testDevice())
	require.Error(t, err)

	// Nothing half-registered: Close has no device to mark offline.
	client.reset()
	require.NoError(t, b.Close())
	assert.Empty(t, client.calls())

	// A retry after the broker recovers must not trip the duplicate check.
	client.failTopic = ""
	_, err = b.Register(testDevice())
	assert.NoError(t, err)
}

func TestRegister_RollsBackOnSubscribeFailure(t *testing.T) {
	client := newFakeClient()
	client.failTopic = "zigbee2mqtt/test_switch"
	client.failErr = errors.New("broker unavailable")
	b := New(client, "")

	_, err := b.Register(testDevice())
	require.Error(t, err)

	client.failTopic = ""
	_, err = b.Register(testDevice())
	assert.NoError(t, err)
}

func TestRegister_InvalidDevice(t *testing.T) {
	b := New(newFakeClient(), "")

	device := testDevice()
	device.LevelStateTopic = ""

	_, err := b.Register(device)
	assert.Error(t, err)
}

func TestDispatch_OffCommand(t *testing.T) {
	client := newFakeClient()
	b := New(client, "")

	_, err := b.Register(testDevice())
	require.NoError(t, err)
	client.reset()

	client.deliver(t, "homeassistant/light/test_lamp/set", `{"state": "OFF"}`)

	calls := client.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, publishCall{"zigbee2mqtt/test_switch/set", false, "OFF"}, calls[0])
	assert.Equal(t, publishCall{"homeassistant/light/test_lamp/state", true, `{"state":"OFF"}`}, calls[1])
}

func TestDispatch_BareOnFromOff(t *testing.T) {
	client := newFakeClient()
	b := New(client, "")

	_, err := b.Register(testDevice())
	require.NoError(t, err)
	client.reset()

	client.deliver(t, "homeassistant/light/test_lamp/set", `{"state": "ON"}`)

	calls := client.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, publishCall{"zigbee2mqtt/test_switch/set", false, "OFF"}, calls[0])
	assert.Equal(t, publishCall{"zigbee2mqtt/test_switch/set", false, "ON"}, calls[1])
	assert.Equal(t, publishCall{"homeassistant/light/test_lamp/state", true, `{"state":"ON","brightness":63}`}, calls[2])
}

func TestDispatch_MalformedPayload(t *testing.T) {
	client := newFakeClient()
	b := New(client, "")

	_, err := b.Register(testDevice())
	require.NoError(t, err)
	client.reset()

	client.deliver(t, "homeassistant/light/test_lamp/set", `not json at all`)

	assert.Empty(t, client.calls())
}

func TestEntityState_UpdatesCache(t *testing.T) {
	client := newFakeClient()
	b := New(client, "")

	_, err := b.Register(testDevice())
	require.NoError(t, err)

	_, known := b.State("zigbee2mqtt/test_switch")
	assert.False(t, known)

	client.deliver(t, "zigbee2mqtt/test_switch", "on")
	client.deliver(t, "zigbee2mqtt/test_plug/power", "42.5")

	state, known := b.State("zigbee2mqtt/test_switch")
	assert.True(t, known)
	assert.Equal(t, "on", state)

	level, known := b.State("zigbee2mqtt/test_plug/power")
	assert.True(t, known)
	assert.Equal(t, "42.5", level)
}

func TestDeregister(t *testing.T) {
	client := newFakeClient()
	b := New(client, "")

	_, err := b.Register(testDevice())
	require.NoError(t, err)
	client.reset()

	require.NoError(t, b.Deregister("test_lamp"))

	assert.ElementsMatch(t, []string{
		"homeassistant/light/test_lamp/set",
		"zigbee2mqtt/test_switch",
		"zigbee2mqtt/test_plug/power",
	}, client.unsubscribed)

	calls := client.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, publishCall{"homeassistant/light/test_lamp/availability", true, "offline"}, calls[0])

	assert.Error(t, b.Deregister("test_lamp"))
}

func TestClose_MarksAllUnavailable(t *testing.T) {
	client := newFakeClient()
	b := New(client, "")

	first := testDevice()
	second := testDevice()
	second.ObjectID = "other_lamp"
	second.SwitchCommandTopic = "zigbee2mqtt/other_switch/set"
	second.SwitchStateTopic = "zigbee2mqtt/other_switch"
	second.LevelStateTopic = "zigbee2mqtt/other_plug/power"

	_, err := b.Register(first)
	require.NoError(t, err)
	_, err = b.Register(second)
	require.NoError(t, err)
	client.reset()

	require.NoError(t, b.Close())

	topics := make([]string, 0)
	for _, call := range client.calls() {
		assert.Equal(t, "offline", call.payload)
		topics = append(topics, call.topic)
	}
	assert.ElementsMatch(t, []string{
		"homeassistant/light/test_lamp/availability",
		"homeassistant/light/other_lamp/availability",
	}, topics)
}
