package pinkit

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/pinkit/mqtt"
	"github.com/hubertat/pinkit/pins"
)

// Output is a digital output pin exposed as a HomeKit switch and over mqtt.
type Output struct {
	Name           string
	State          bool
	Pin            uint8
	Invert         bool
	DisableHomekit bool
	IsFaulty       bool

	pin       pins.Pin
	publisher mqtt.Publisher

	hk    *accessory.Switch
	fault *characteristic.StatusFault

	lock sync.Mutex
}

func (ou *Output) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Output_" + ou.Name))
	return hash.Sum64()
}

func (ou *Output) Init(factory pins.Factory) error {
	if !factory.IsReady() {
		return fmt.Errorf("Init failed, factory not ready")
	}
	ou.lock = sync.Mutex{}
	var err error

	ou.pin, err = factory.Pin(ou.Pin)
	if err != nil {
		return errors.Wrap(err, "Init failed")
	}

	err = ou.pin.OutputWithState(boolToState(ou.State != ou.Invert))
	if err != nil {
		return errors.Wrap(err, "Init failed, setting output state")
	}

	if ou.DisableHomekit {
		return nil
	}
	info := accessory.Info{
		Name:         ou.Name,
		SerialNumber: fmt.Sprintf("output:%s:%02d", factory.Name(), ou.Pin),
	}
	ou.hk = accessory.NewSwitch(info)

	ou.fault = characteristic.NewStatusFault()
	ou.fault.SetValue(characteristic.StatusFaultNoFault)
	ou.hk.Switch.AddC(ou.fault.C)

	ou.hk.Switch.On.OnValueRemoteUpdate(ou.SetValue)
	return nil
}

func (ou *Output) Sync() error {
	ou.lock.Lock()
	oldState := ou.State
	ou.State = (ou.pin.State() == pins.High) != ou.Invert
	state := ou.State
	ou.lock.Unlock()

	if oldState != state {
		if ou.hk != nil {
			ou.hk.Switch.On.SetValue(state)
		}
		ou.publishState(state)
	}

	return nil
}

func (ou *Output) GetHk() *accessory.A {
	if ou.hk == nil {
		return nil
	}
	return ou.hk.A
}

func (ou *Output) SetValue(state bool) {
	ou.lock.Lock()
	ou.State = state
	err := ou.pin.SetState(boolToState(state != ou.Invert))

	if ou.hk != nil {
		if err != nil {
			ou.fault.SetValue(characteristic.StatusFaultGeneralFault)
			ou.IsFaulty = true
		} else {
			ou.fault.SetValue(characteristic.StatusFaultNoFault)
			ou.IsFaulty = false
		}
	}
	ou.lock.Unlock()

	ou.publishState(state)
}

func (ou *Output) Toggle() {
	ou.lock.Lock()
	state := ou.State
	ou.lock.Unlock()

	ou.SetValue(!state)
}

func (ou *Output) SetMqtt(publisher mqtt.Publisher) []mqtt.MqttHandler {
	ou.publisher = publisher
	return []mqtt.MqttHandler{ou}
}

func (ou *Output) MqttSubscribeTopic() string {
	return fmt.Sprintf("pinkit/%s/set", topicName(ou.Name))
}

func (ou *Output) MqttHandle(pub *paho.Publish) {
	var state bool
	switch strings.ToLower(strings.TrimSpace(string(pub.Payload))) {
	case "1", "on", "true":
		state = true
	case "0", "off", "false":
		state = false
	default:
		return
	}

	ou.SetValue(state)
	if ou.hk != nil {
		ou.hk.Switch.On.SetValue(state)
	}
}

// publishState sends the retained state topic. It runs without the lock,
// the broker timeout must not stall SetValue or Sync.
func (ou *Output) publishState(state bool) {
	if ou.publisher == nil {
		return
	}

	payload := []byte("0")
	if state {
		payload = []byte("1")
	}
	ou.publisher.PublishRetained(fmt.Sprintf("pinkit/%s/state", topicName(ou.Name)), payload)
}
