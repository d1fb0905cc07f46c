package pins

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

const mockFactoryName = "mock"

// MockFactory hands out in-memory pins following the same state machine and
// validation rules as the real board. Each factory keeps its own pin cache,
// so tests stay isolated from each other.
type MockFactory struct {
	pins     map[uint8]*MockPin
	reserved []uint8
	ready    bool

	monitor io.Writer
}

func (mf *MockFactory) Name() string {
	return mockFactoryName
}

func (mf *MockFactory) Setup(ctx context.Context) error {
	mf.pins = map[uint8]*MockPin{}
	mf.ready = true
	return nil
}

func (mf *MockFactory) IsReady() bool {
	return mf.ready
}

func (mf *MockFactory) Close() error {
	for _, pin := range mf.pins {
		pin.Close()
	}
	mf.reserved = nil
	mf.ready = false
	return nil
}

func (mf *MockFactory) Pin(number uint8) (Pin, error) {
	return mf.MockPin(number)
}

// MockPin reserves a pin and returns the concrete type, so tests and the
// mock runner can Drive it.
func (mf *MockFactory) MockPin(number uint8) (*MockPin, error) {
	if !mf.ready {
		return nil, errors.Wrapf(ErrNotReady, "%s factory", mockFactoryName)
	}

	pin, found := mf.pins[number]
	if !found {
		pin = &MockPin{
			number:   number,
			function: FunctionInput,
			pull:     defaultPull(number),
			edges:    EdgeBoth,
			monitor:  mf.monitor,
		}
		if pin.pull == PullUp {
			pin.level = true
		}
		mf.pins[number] = pin
		mf.reserved = append(mf.reserved, number)
	}

	return pin, nil
}

func (mf *MockFactory) ReservedPins() []uint8 {
	reserved := make([]uint8, len(mf.reserved))
	copy(reserved, mf.reserved)
	return reserved
}

// MonitorStateChanges makes every pin write a line to the writer whenever
// its level changes.
func (mf *MockFactory) MonitorStateChanges(writer io.Writer) {
	mf.monitor = writer
	for _, pin := range mf.pins {
		pin.monitor = writer
	}
}

// MockPin mimics a board pin without hardware. Software PWM only tracks the
// frequency and duty cycle, no goroutine toggles anything. Drive simulates
// an external level change and dispatches the change callback synchronously.
type MockPin struct {
	number uint8

	function    Function
	pull        Pull
	level       bool
	pwmActive   bool
	frequency   int
	duty        State
	bounce      time.Duration
	edges       Edge
	whenChanged func()
	lastChange  time.Time

	monitor io.Writer
}

func (p *MockPin) Number() uint8 {
	return p.number
}

func (p *MockPin) String() string {
	return fmt.Sprintf("MOCK%d", p.number)
}

func (p *MockPin) Function() Function {
	return p.function
}

func (p *MockPin) SetFunction(function Function) error {
	switch function {
	case FunctionInput:
		p.stopPwm()
	case FunctionOutput:
		p.pull = PullFloating
	default:
		return errors.Wrapf(ErrInvalidFunction, "function %s for pin %s", function, p)
	}

	p.function = function
	return nil
}

func (p *MockPin) State() State {
	if p.pwmActive {
		return p.duty
	}
	if p.level {
		return High
	}
	return Low
}

func (p *MockPin) SetState(state State) error {
	if p.pwmActive {
		if state < 0 || state > 1 {
			return errors.Wrapf(ErrInvalidState, "duty cycle %v for pin %s", float64(state), p)
		}
		p.duty = state
		return nil
	}

	if p.function != FunctionOutput {
		return errors.Wrapf(ErrSetInput, "pin %s", p)
	}
	if state != Low && state != High {
		return errors.Wrapf(ErrInvalidState, "state %v for pin %s", float64(state), p)
	}

	p.setLevel(state == High)
	return nil
}

func (p *MockPin) Pull() Pull {
	return p.pull
}

func (p *MockPin) SetPull(pull Pull) error {
	if p.function != FunctionInput {
		return errors.Wrapf(ErrFixedPull, "cannot set pull on non-input pin %s", p)
	}
	if pull != PullUp && (p.number == 2 || p.number == 3) {
		return errors.Wrapf(ErrFixedPull, "pin %s has a physical pull-up resistor", p)
	}

	p.pull = pull
	// An unconnected input follows its pull resistor.
	p.setLevel(pull == PullUp)
	return nil
}

func (p *MockPin) Frequency() int {
	return p.frequency
}

func (p *MockPin) SetFrequency(frequency int) error {
	if frequency < 0 || frequency > maxSoftPwmFrequency {
		return errors.Wrapf(ErrInvalidFrequency, "%d Hz (limit %d Hz) for pin %s", frequency, maxSoftPwmFrequency, p)
	}

	switch {
	case !p.pwmActive && frequency > 0:
		if p.function != FunctionOutput {
			return errors.Wrapf(ErrPWMUnsupported, "pin %s is not an output", p)
		}
		p.pwmActive = true
		p.duty = 0
		p.frequency = frequency
	case p.pwmActive && frequency > 0:
		p.frequency = frequency
	case p.pwmActive && frequency == 0:
		p.stopPwm()
	}

	return nil
}

func (p *MockPin) stopPwm() {
	if !p.pwmActive {
		return
	}
	p.pwmActive = false
	p.duty = 0
	p.frequency = 0
	p.setLevel(false)
}

func (p *MockPin) Bounce() time.Duration {
	return p.bounce
}

func (p *MockPin) SetBounce(bounce time.Duration) error {
	if bounce < 0 {
		return errors.Wrapf(ErrInvalidBounce, "negative bounce %v for pin %s", bounce, p)
	}
	p.bounce = bounce
	return nil
}

func (p *MockPin) Edges() Edge {
	return p.edges
}

func (p *MockPin) SetEdges(edges Edge) error {
	switch edges {
	case EdgeBoth, EdgeRising, EdgeFalling:
	default:
		return errors.Wrapf(ErrInvalidEdges, "edges %d for pin %s", uint8(edges), p)
	}
	p.edges = edges
	return nil
}

func (p *MockPin) WhenChanged() func() {
	return p.whenChanged
}

func (p *MockPin) SetWhenChanged(callback func()) {
	p.whenChanged = callback
}

func (p *MockPin) OutputWithState(state State) error {
	if state != Low && state != High {
		return errors.Wrapf(ErrInvalidState, "state %v for pin %s", float64(state), p)
	}

	p.stopPwm()
	p.pull = PullFloating
	p.function = FunctionOutput
	p.setLevel(state == High)
	return nil
}

func (p *MockPin) InputWithPull(pull Pull) error {
	if pull != PullUp && (p.number == 2 || p.number == 3) {
		return errors.Wrapf(ErrFixedPull, "pin %s has a physical pull-up resistor", p)
	}

	p.stopPwm()
	p.function = FunctionInput
	p.pull = pull
	p.setLevel(pull == PullUp)
	return nil
}

func (p *MockPin) Close() error {
	p.stopPwm()
	p.whenChanged = nil
	p.function = FunctionInput
	p.pull = defaultPull(p.number)
	p.bounce = 0
	p.edges = EdgeBoth
	return nil
}

// Drive simulates an external level change on the pin, the way a button or
// sensor would. An installed change callback fires synchronously when the
// transition matches the configured edges and clears the bounce window.
func (p *MockPin) Drive(high bool) {
	if p.level == high {
		return
	}
	p.setLevel(high)

	if p.function != FunctionInput || p.whenChanged == nil {
		return
	}

	switch p.edges {
	case EdgeRising:
		if !high {
			return
		}
	case EdgeFalling:
		if high {
			return
		}
	}

	if p.bounce > 0 && time.Since(p.lastChange) < p.bounce {
		return
	}
	p.lastChange = time.Now()

	p.whenChanged()
}

func (p *MockPin) setLevel(high bool) {
	if p.monitor != nil && p.level != high {
		fmt.Fprintf(p.monitor, "[pin %d] state changed to %v\n", p.number, high)
	}
	p.level = high
}
