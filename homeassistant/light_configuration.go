// Package homeassistant holds the MQTT payload shapes and topic layout used
// by Home Assistant's MQTT light integration with discovery enabled.
package homeassistant

import (
	"encoding/json"
	"fmt"
)

const (
	StateOn  = "ON"
	StateOff = "OFF"

	// Availability payloads are literal text, not JSON.
	PayloadAvailable    = "online"
	PayloadNotAvailable = "offline"

	// DefaultDiscoveryPrefix is Home Assistant's default discovery topic root.
	DefaultDiscoveryPrefix = "homeassistant"

	Manufacturer = "go-aegis"
)

// LightConfiguration is the discovery payload registering a light, as
// published retained on the config topic.
type LightConfiguration struct {
	Name                string `json:"name"`
	UniqueId            string `json:"unique_id"`
	Schema              string `json:"schema"`
	StateTopic          string `json:"state_topic"`
	CommandTopic        string `json:"command_topic"`
	AvailabilityTopic   string `json:"availability_topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
	Brightness          bool   `json:"brightness"`
	BrightnessScale     int    `json:"brightness_scale"`
	Device              Device `json:"device"`
}

// Device is the registry block grouping a light's entities in Home Assistant.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
}

func NewLightConfiguration(prefix string, objectID string, name string, brightnessScale int) *LightConfiguration {
	return &LightConfiguration{
		Name:                name,
		UniqueId:            objectID,
		Schema:              "json",
		StateTopic:          StateTopic(prefix, objectID),
		CommandTopic:        CommandTopic(prefix, objectID),
		AvailabilityTopic:   AvailabilityTopic(prefix, objectID),
		PayloadAvailable:    PayloadAvailable,
		PayloadNotAvailable: PayloadNotAvailable,
		Brightness:          true,
		BrightnessScale:     brightnessScale,
		Device: Device{
			Identifiers:  []string{objectID},
			Name:         name,
			Manufacturer: Manufacturer,
		},
	}
}

func (l *LightConfiguration) ConfigJSON() (string, error) {
	if configMarshalled, err := json.Marshal(l); err != nil {
		return "", err
	} else {
		return string(configMarshalled), nil
	}
}

func ConfigTopic(prefix string, objectID string) string {
	return fmt.Sprintf("%v/light/%v/config", prefix, objectID)
}

func StateTopic(prefix string, objectID string) string {
	return fmt.Sprintf("%v/light/%v/state", prefix, objectID)
}

func CommandTopic(prefix string, objectID string) string {
	return fmt.Sprintf("%v/light/%v/set", prefix, objectID)
}

func AvailabilityTopic(prefix string, objectID string) string {
	return fmt.Sprintf("%v/light/%v/availability", prefix, objectID)
}
