package main

import (
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/aegishome/go-aegis/bridge"
	"github.com/aegishome/go-aegis/config"
)

func main() {
	var cfg *config.Configuration
	var err error
	if cfg, err = config.LoadConfiguration("aegis.json"); err != nil {
		log.Panicf("Error loading configuration: %v", err)
	}

	log.Printf("Connecting to %v, managing %v devices", cfg.MQTT.IpAddress, len(cfg.Devices))

	mqttClient := mqtt.NewClient(cfg.MQTT.ClientOptions())
	if t := mqttClient.Connect(); t.Wait() && t.Error() != nil {
		log.Panicf("MQTT connection error: %v", t.Error())
	}

	b := bridge.New(mqttClient, cfg.DiscoveryPrefix)
	for _, device := range cfg.Devices {
		if _, err := b.Register(device); err != nil {
			log.Panicf("Error registering %v: %v", device.Name, err)
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	// Mark everything as unavailable before dropping the connection
	if err := b.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	mqttClient.Disconnect(250)
}
