package main

import (
	"flag"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/pinkit/mqtt"
)

const clientID = "pinkit-mqtt-test" // Change this to something random if using a public test server

var (
	broker = flag.String("broker", "mqtt://127.0.0.1:1883", "mqtt broker url")
	topic  = flag.String("topic", "pinkit/test_relay/set", "topic to subscribe to")
)

type Handler struct {
	topic string
}

func (h *Handler) MqttSubscribeTopic() string {
	return h.topic
}

func (h *Handler) MqttHandle(pub *paho.Publish) {
	log.Info("received mqtt message", "topic", pub.Topic, "payload", string(pub.Payload))
}

func main() {
	flag.Parse()

	log.SetLevel(log.DebugLevel)

	mc, err := mqtt.NewMqttClient(*broker, clientID)
	if err != nil {
		log.Error("failed to create mqtt client", "error", err)
		return
	}

	mqttHandlers := []mqtt.MqttHandler{
		&Handler{topic: *topic},
	}

	err = mc.Connect(mqttHandlers)
	if err != nil {
		log.Error("failed to connect to mqtt broker", "error", err)
		return
	}

	log.Info("mqtt client connected")

	err = mc.PublishRetained("pinkit/test_relay/state", []byte("1"))
	if err != nil {
		log.Error("failed to publish test state", "error", err)
	}

	log.Info("sleeping for 10 hours")
	time.Sleep(10 * time.Hour)
}
