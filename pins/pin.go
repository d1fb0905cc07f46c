package pins

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Function describes what a pin is multiplexed to. Only input and output can
// be requested on the Raspberry Pi back end; the remaining values exist so a
// pin function can be parsed and reported by name.
type Function uint8

const (
	FunctionInput Function = iota
	FunctionOutput
	FunctionI2C
	FunctionSPI
	FunctionPWM
	FunctionSerial
	FunctionUnknown
)

func (f Function) String() string {
	switch f {
	case FunctionInput:
		return "input"
	case FunctionOutput:
		return "output"
	case FunctionI2C:
		return "i2c"
	case FunctionSPI:
		return "spi"
	case FunctionPWM:
		return "pwm"
	case FunctionSerial:
		return "serial"
	}
	return "unknown"
}

func ParseFunction(raw string) (Function, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "input", "in":
		return FunctionInput, nil
	case "output", "out":
		return FunctionOutput, nil
	case "i2c":
		return FunctionI2C, nil
	case "spi":
		return FunctionSPI, nil
	case "pwm":
		return FunctionPWM, nil
	case "serial":
		return FunctionSerial, nil
	case "unknown":
		return FunctionUnknown, nil
	}
	return FunctionUnknown, errors.Wrapf(ErrInvalidFunction, "unrecognized function %q", raw)
}

// Pull selects the internal pull resistor of an input pin.
type Pull uint8

const (
	PullFloating Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullFloating:
		return "floating"
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	}
	return fmt.Sprintf("Pull(%d)", uint8(p))
}

func ParsePull(raw string) (Pull, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "floating", "off", "":
		return PullFloating, nil
	case "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	}
	return PullFloating, errors.Wrapf(ErrInvalidPull, "unrecognized pull %q", raw)
}

// Edge selects which level transitions fire the change callback.
type Edge uint8

const (
	EdgeBoth Edge = iota
	EdgeRising
	EdgeFalling
)

func (e Edge) String() string {
	switch e {
	case EdgeBoth:
		return "both"
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	}
	return fmt.Sprintf("Edge(%d)", uint8(e))
}

func ParseEdge(raw string) (Edge, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "both", "":
		return EdgeBoth, nil
	case "rising":
		return EdgeRising, nil
	case "falling":
		return EdgeFalling, nil
	}
	return EdgeBoth, errors.Wrapf(ErrInvalidEdges, "unrecognized edges %q", raw)
}

// State carries a digital level as 0 or 1. While software PWM runs on a pin
// its state is the duty cycle instead, anywhere in [0, 1].
type State float64

const (
	Low  State = 0
	High State = 1
)

// Pin is a single GPIO pin, addressed by its BCM number. Factories cache one
// instance per number, so concurrent holders always share state.
//
// SetState writes a digital level to an output pin; while software PWM is
// active on the pin it adjusts the duty cycle instead. SetFrequency with a
// positive value starts software PWM at duty 0, with zero stops it.
// A change callback installed with SetWhenChanged fires on the transitions
// selected by Edges, at most once per Bounce when a bounce time is set.
type Pin interface {
	Number() uint8
	String() string

	Function() Function
	SetFunction(Function) error

	State() State
	SetState(State) error

	Pull() Pull
	SetPull(Pull) error

	Frequency() int
	SetFrequency(int) error

	Bounce() time.Duration
	SetBounce(time.Duration) error

	Edges() Edge
	SetEdges(Edge) error

	WhenChanged() func()
	SetWhenChanged(func())

	// OutputWithState makes the pin an output already driven to the given
	// level, InputWithPull an input with the given pull, each in one step.
	OutputWithState(State) error
	InputWithPull(Pull) error

	// Close stops PWM, removes any change callback and returns the pin to a
	// plain input. The pin stays reserved and can be configured again.
	Close() error
}

// Factory reserves pins on one board back end.
type Factory interface {
	Name() string
	Setup(ctx context.Context) error
	Close() error
	IsReady() bool

	// Pin reserves the pin with the given BCM number, or returns the already
	// reserved instance.
	Pin(number uint8) (Pin, error)
	ReservedPins() []uint8
}
