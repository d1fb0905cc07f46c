package mqtt

import (
	"testing"
)

func TestPublishWithoutConnection(t *testing.T) {
	mc, err := NewMqttClient("mqtt://127.0.0.1:1883", "pinkit-test")
	if err != nil {
		t.Fatalf("NewMqttClient returned err: %v", err)
	}

	err = mc.Publish("pinkit/test/state", []byte("1"))
	if err == nil {
		t.Error("expected error publishing before Connect")
	}

	err = mc.PublishRetained("pinkit/test/state", []byte("1"))
	if err == nil {
		t.Error("expected error publishing retained before Connect")
	}
}
