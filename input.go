package pinkit

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
	"github.com/pkg/errors"

	"github.com/hubertat/pinkit/mqtt"
	"github.com/hubertat/pinkit/pins"
)

// Input watches an input pin. State changes arrive through the pin change
// callback; the sync ticker doubles as a safety net poll.
type Input struct {
	Name  string
	State bool
	Pin   uint8

	Pull   string
	Edges  string
	Bounce string
	Invert bool

	DisableHomekit bool

	pin       pins.Pin
	publisher mqtt.Publisher
	recorder  StateRecorder

	hkAccessory *accessory.A
	hkService   *service.MotionSensor

	lock sync.Mutex
}

func (in *Input) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Input_" + in.Name))
	return hash.Sum64()
}

func (in *Input) Init(factory pins.Factory) error {
	if !factory.IsReady() {
		return fmt.Errorf("Init failed, factory not ready")
	}

	pull, err := pins.ParsePull(in.Pull)
	if err != nil {
		return errors.Wrap(err, "Init failed")
	}
	edges, err := pins.ParseEdge(in.Edges)
	if err != nil {
		return errors.Wrap(err, "Init failed")
	}
	bounce := time.Duration(0)
	if len(in.Bounce) > 0 {
		bounce, err = time.ParseDuration(in.Bounce)
		if err != nil {
			return errors.Wrap(err, "Init failed, parsing bounce duration")
		}
	}

	in.pin, err = factory.Pin(in.Pin)
	if err != nil {
		return errors.Wrap(err, "Init failed")
	}

	err = in.pin.InputWithPull(pull)
	if err != nil {
		return errors.Wrap(err, "Init failed, setting input pull")
	}
	err = in.pin.SetBounce(bounce)
	if err != nil {
		return errors.Wrap(err, "Init failed, setting bounce")
	}
	err = in.pin.SetEdges(edges)
	if err != nil {
		return errors.Wrap(err, "Init failed, setting edges")
	}
	in.pin.SetWhenChanged(in.onChange)

	in.lock = sync.Mutex{}
	in.State = in.readState()

	if in.DisableHomekit {
		return nil
	}

	info := accessory.Info{
		Name:         in.Name,
		SerialNumber: fmt.Sprintf("input:%s:%02d", factory.Name(), in.Pin),
	}

	in.hkAccessory = accessory.New(info, accessory.TypeSensor)
	in.hkService = service.NewMotionSensor()
	in.hkAccessory.AddS(in.hkService.S)
	in.hkService.MotionDetected.SetValue(in.State)

	return nil
}

func (in *Input) readState() bool {
	return (in.pin.State() == pins.High) != in.Invert
}

func (in *Input) onChange() {
	in.applyState(in.readState())
}

func (in *Input) Sync() error {
	in.applyState(in.readState())
	return nil
}

// applyState runs both on the pin change callback and on the sync ticker,
// the lock keeps those two writers apart. Publishing happens after unlock
// so a slow broker never stalls the callback.
func (in *Input) applyState(state bool) {
	in.lock.Lock()
	changed := state != in.State
	in.State = state
	in.lock.Unlock()

	if in.hkService != nil {
		in.hkService.MotionDetected.SetValue(state)
	}

	if !changed {
		return
	}

	if in.publisher != nil {
		payload := []byte("0")
		if state {
			payload = []byte("1")
		}
		in.publisher.PublishRetained(fmt.Sprintf("pinkit/%s/state", topicName(in.Name)), payload)
	}

	if in.recorder != nil {
		value := float64(0)
		if state {
			value = 1
		}
		in.recorder.RecordState(in.Name, in.Pin, value)
	}
}

func (in *Input) GetHk() *accessory.A {
	return in.hkAccessory
}

func (in *Input) GetValue() bool {
	in.lock.Lock()
	defer in.lock.Unlock()

	return in.State
}

func (in *Input) SetMqtt(publisher mqtt.Publisher) {
	in.publisher = publisher
}

// Release detaches the change callback, for clean shutdown before the
// factory closes the pin.
func (in *Input) Release() {
	if in.pin != nil {
		in.pin.SetWhenChanged(nil)
	}
}
