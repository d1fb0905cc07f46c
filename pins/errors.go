package pins

import "github.com/pkg/errors"

// Sentinel errors returned (wrapped, with pin context) by Pin and Factory
// implementations. Match with errors.Is.
var (
	ErrInvalidFunction  = errors.New("invalid pin function")
	ErrInvalidState     = errors.New("invalid pin state")
	ErrInvalidPull      = errors.New("invalid pin pull")
	ErrInvalidEdges     = errors.New("invalid pin edges")
	ErrInvalidBounce    = errors.New("invalid pin bounce")
	ErrInvalidFrequency = errors.New("invalid PWM frequency")
	ErrInvalidPin       = errors.New("invalid pin number")
	ErrFixedPull        = errors.New("pin has a fixed pull")
	ErrSetInput         = errors.New("cannot set state of an input pin")
	ErrPWMUnsupported   = errors.New("cannot start PWM on this pin")
	ErrNotReady         = errors.New("factory not set up")
)
