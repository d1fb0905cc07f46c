package pinkit

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/pinkit/mqtt"
	"github.com/hubertat/pinkit/pins"
)

const defaultDimmerFrequency = 200

// Dimmer drives an output pin with software PWM, exposed as a HomeKit
// lightbulb with brightness. Brightness percent maps directly to the duty
// cycle.
type Dimmer struct {
	Name       string
	Pin        uint8
	Frequency  int
	Brightness int

	DisableHomekit bool

	pin       pins.Pin
	publisher mqtt.Publisher

	hk         *accessory.Lightbulb
	brightness *characteristic.Brightness

	lock sync.Mutex
}

func (dm *Dimmer) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Dimmer_" + dm.Name))
	return hash.Sum64()
}

func (dm *Dimmer) Init(factory pins.Factory) error {
	if !factory.IsReady() {
		return fmt.Errorf("Init failed, factory not ready")
	}
	dm.lock = sync.Mutex{}
	var err error

	dm.pin, err = factory.Pin(dm.Pin)
	if err != nil {
		return errors.Wrap(err, "Init failed")
	}

	if dm.Frequency == 0 {
		dm.Frequency = defaultDimmerFrequency
	}

	err = dm.pin.OutputWithState(pins.Low)
	if err != nil {
		return errors.Wrap(err, "Init failed, setting output")
	}
	err = dm.pin.SetFrequency(dm.Frequency)
	if err != nil {
		return errors.Wrap(err, "Init failed, starting PWM")
	}
	if dm.Brightness > 0 {
		err = dm.pin.SetState(pins.State(dm.Brightness) / 100)
		if err != nil {
			return errors.Wrap(err, "Init failed, setting initial brightness")
		}
	}

	if dm.DisableHomekit {
		return nil
	}

	info := accessory.Info{
		Name:         dm.Name,
		SerialNumber: fmt.Sprintf("dimmer:%s:%02d", factory.Name(), dm.Pin),
	}
	dm.hk = accessory.NewLightbulb(info)

	dm.brightness = characteristic.NewBrightness()
	dm.brightness.SetValue(dm.Brightness)
	dm.hk.Lightbulb.AddC(dm.brightness.C)

	dm.hk.Lightbulb.On.OnValueRemoteUpdate(dm.SetOn)
	dm.brightness.OnValueRemoteUpdate(dm.SetBrightness)
	return nil
}

// SetBrightness sets the duty cycle from a percentage, clamped to 0 - 100.
func (dm *Dimmer) SetBrightness(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	dm.lock.Lock()
	dm.Brightness = percent
	dm.pin.SetState(pins.State(percent) / 100)
	dm.lock.Unlock()

	dm.publishState(percent)
}

func (dm *Dimmer) SetOn(on bool) {
	if on {
		dm.lock.Lock()
		if dm.Brightness == 0 {
			dm.Brightness = 100
		}
		percent := dm.Brightness
		dm.lock.Unlock()

		dm.SetBrightness(percent)
		return
	}

	dm.lock.Lock()
	dm.pin.SetState(0)
	dm.lock.Unlock()

	dm.publishState(0)
}

func (dm *Dimmer) Sync() error {
	dm.lock.Lock()
	defer dm.lock.Unlock()

	percent := int(float64(dm.pin.State()) * 100)

	if dm.hk != nil {
		dm.hk.Lightbulb.On.SetValue(percent > 0)
		if percent > 0 {
			dm.brightness.SetValue(percent)
		}
	}

	return nil
}

func (dm *Dimmer) GetHk() *accessory.A {
	if dm.hk == nil {
		return nil
	}
	return dm.hk.A
}

func (dm *Dimmer) SetMqtt(publisher mqtt.Publisher) []mqtt.MqttHandler {
	dm.publisher = publisher
	return []mqtt.MqttHandler{dm}
}

func (dm *Dimmer) MqttSubscribeTopic() string {
	return fmt.Sprintf("pinkit/%s/set", topicName(dm.Name))
}

func (dm *Dimmer) MqttHandle(pub *paho.Publish) {
	payload := strings.ToLower(strings.TrimSpace(string(pub.Payload)))
	switch payload {
	case "on", "true":
		dm.SetOn(true)
		return
	case "off", "false":
		dm.SetOn(false)
		return
	}

	percent, err := strconv.Atoi(payload)
	if err != nil {
		return
	}
	dm.SetBrightness(percent)
}

// publishState sends the retained brightness percent. It runs without the
// lock, the broker timeout must not stall the HomeKit callbacks.
func (dm *Dimmer) publishState(percent int) {
	if dm.publisher == nil {
		return
	}

	dm.publisher.PublishRetained(fmt.Sprintf("pinkit/%s/state", topicName(dm.Name)), []byte(strconv.Itoa(percent)))
}
