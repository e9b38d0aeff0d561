package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/samber/lo"

	"github.com/aegishome/go-aegis/homeassistant"
)

type Configuration struct {
	Devices         []*Device `json:"devices"`
	MQTT            *MQTT     `json:"mqtt"`
	DiscoveryPrefix string    `json:"discovery_prefix"`
}

type MQTT struct {
	IpAddress string `json:"ip_address"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

func LoadConfiguration(filename string) (*Configuration, error) {
	var file *os.File
	var err error
	if file, err = os.Open(filename); err != nil {
		return nil, err
	}

	defer file.Close()
	decoder := json.NewDecoder(file)
	configuration := &Configuration{
		DiscoveryPrefix: homeassistant.DefaultDiscoveryPrefix,
	}
	if err := decoder.Decode(configuration); err != nil {
		return nil, err
	}

	// Validate configuration
	if configuration.MQTT == nil || configuration.MQTT.IpAddress == "" {
		return nil, errors.New("mqtt.ip_address is required")
	}
	if len(configuration.Devices) == 0 {
		return nil, errors.New("at least one device is required")
	}
	for _, device := range configuration.Devices {
		if err := device.Validate(); err != nil {
			return nil, err
		}
	}

	ids := lo.Map(configuration.Devices, func(d *Device, _ int) string {
		return d.ComputedObjectID()
	})
	if duplicates := lo.FindDuplicates(ids); len(duplicates) > 0 {
		return nil, fmt.Errorf("duplicate device object ids: %v", duplicates)
	}

	return configuration, nil
}

func (m *MQTT) ClientOptions() *mqtt.ClientOptions {
	port := m.Port
	if port == 0 {
		port = 1883
	}

	return mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%v:%v", m.IpAddress, port)).
		SetUsername(m.Username).
		SetPassword(m.Password).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			log.Printf("MQTT connection lost: %v", err)
		}).
		SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
			log.Printf("MQTT reconnecting")
		})
}
