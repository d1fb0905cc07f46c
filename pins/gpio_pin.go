package pins

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const gpioFactoryName = "gpio"

// Software PWM is bit banged from a goroutine, frequencies above this
// produce more jitter than signal.
const maxSoftPwmFrequency = 10000

const watchInterval = 5 * time.Millisecond

// Pins are cached process wide: the hardware has one set of registers no
// matter how many factories are around. The memory map is refcounted so the
// last factory Close unmaps it.
var (
	gpioMu    sync.Mutex
	gpioConn  hwConn = rpioConn{}
	gpioPins         = map[uint8]*GpioPin{}
	gpioOpens int
)

// GpioFactory reserves the Raspberry Pi header pins, addressed by BCM
// number. The zero value is usable after Setup.
type GpioFactory struct {
	reserved []uint8
	ready    bool
}

func (gf *GpioFactory) Name() string {
	return gpioFactoryName
}

func (gf *GpioFactory) Setup(ctx context.Context) error {
	gpioMu.Lock()
	defer gpioMu.Unlock()

	if gf.ready {
		return nil
	}

	if gpioOpens == 0 {
		err := gpioConn.open()
		if err != nil {
			return errors.Wrap(err, "failed to open memory mapped gpio")
		}
	}
	gpioOpens++
	gf.ready = true

	return nil
}

func (gf *GpioFactory) IsReady() bool {
	gpioMu.Lock()
	defer gpioMu.Unlock()

	return gf.ready
}

func (gf *GpioFactory) Pin(number uint8) (Pin, error) {
	gpioMu.Lock()
	defer gpioMu.Unlock()

	if !gf.ready {
		return nil, errors.Wrapf(ErrNotReady, "%s factory", gpioFactoryName)
	}

	pin, found := gpioPins[number]
	if !found {
		pin = newGpioPin(number)
		gpioPins[number] = pin
	}

	alreadyReserved := false
	for _, num := range gf.reserved {
		if num == number {
			alreadyReserved = true
		}
	}
	if !alreadyReserved {
		gf.reserved = append(gf.reserved, number)
	}

	return pin, nil
}

func (gf *GpioFactory) ReservedPins() []uint8 {
	gpioMu.Lock()
	defer gpioMu.Unlock()

	reserved := make([]uint8, len(gf.reserved))
	copy(reserved, gf.reserved)
	return reserved
}

func (gf *GpioFactory) Close() (err error) {
	gpioMu.Lock()
	if !gf.ready {
		gpioMu.Unlock()
		return nil
	}
	reserved := gf.reserved
	gf.reserved = nil
	gf.ready = false
	pinsToClose := []*GpioPin{}
	for _, number := range reserved {
		if pin, found := gpioPins[number]; found {
			pinsToClose = append(pinsToClose, pin)
		}
	}
	gpioMu.Unlock()

	for _, pin := range pinsToClose {
		closeErr := pin.Close()
		if closeErr != nil {
			err = errors.Wrapf(closeErr, "failed to close pin %s", pin)
		}
	}

	gpioMu.Lock()
	defer gpioMu.Unlock()
	gpioOpens--
	if gpioOpens == 0 {
		closeErr := gpioConn.close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to unmap gpio memory")
		}
	}

	return
}

// defaultPull returns the pull a pin is reserved with. BCM 2 and 3 carry the
// board's physical I2C pull-up resistors.
func defaultPull(number uint8) Pull {
	if number == 2 || number == 3 {
		return PullUp
	}
	return PullFloating
}

// GpioPin drives one header pin. Obtain instances from GpioFactory.Pin,
// never directly: every holder of the same BCM number must share state.
type GpioPin struct {
	number uint8

	mu          sync.Mutex
	function    Function
	pull        Pull
	frequency   int
	duty        State
	bounce      time.Duration
	edges       Edge
	whenChanged func()
	lastChange  time.Time

	pwm       *softPwm
	watchStop chan struct{}
	watchDone chan struct{}
}

// newGpioPin configures the hardware to the reservation defaults: input,
// floating (pulled up on BCM 2 and 3), edge detection off.
// Callers hold gpioMu.
func newGpioPin(number uint8) *GpioPin {
	pin := &GpioPin{
		number:   number,
		function: FunctionInput,
		pull:     defaultPull(number),
		edges:    EdgeBoth,
	}
	gpioConn.input(number)
	gpioConn.pull(number, pin.pull)

	return pin
}

func (p *GpioPin) Number() uint8 {
	return p.number
}

func (p *GpioPin) String() string {
	return fmt.Sprintf("GPIO%d", p.number)
}

func (p *GpioPin) Function() Function {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.function
}

// SetFunction accepts input and output only, the alternate functions cannot
// be requested through memory mapped gpio. Leaving input lets go of the pull
// resistor; coming back restores the one set last.
func (p *GpioPin) SetFunction(function Function) error {
	switch function {
	case FunctionInput, FunctionOutput:
	default:
		return errors.Wrapf(ErrInvalidFunction, "function %s for pin %s", function, p)
	}

	if function == FunctionInput {
		p.stopPwm()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if function == FunctionInput {
		gpioConn.input(p.number)
		gpioConn.pull(p.number, p.pull)
	} else {
		p.pull = PullFloating
		gpioConn.pull(p.number, p.pull)
		gpioConn.output(p.number)
	}

	p.function = function
	return nil
}

// stopPwm halts a running software PWM engine, leaving the line low.
func (p *GpioPin) stopPwm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pwm != nil {
		p.pwm.halt()
		p.pwm = nil
		p.duty = 0
		p.frequency = 0
	}
}

// State reads the line level. While software PWM is running it returns the
// duty cycle instead.
func (p *GpioPin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pwm != nil {
		return p.duty
	}

	if gpioConn.read(p.number) {
		return High
	}
	return Low
}

func (p *GpioPin) SetState(state State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pwm != nil {
		if state < 0 || state > 1 {
			return errors.Wrapf(ErrInvalidState, "duty cycle %v for pin %s", float64(state), p)
		}
		p.duty = state
		p.pwm.update(p.frequency, state)
		return nil
	}

	if p.function != FunctionOutput {
		return errors.Wrapf(ErrSetInput, "pin %s", p)
	}

	if state != Low && state != High {
		return errors.Wrapf(ErrInvalidState, "state %v for pin %s", float64(state), p)
	}

	gpioConn.write(p.number, state == High)
	return nil
}

func (p *GpioPin) Pull() Pull {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pull
}

func (p *GpioPin) SetPull(pull Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.function != FunctionInput {
		return errors.Wrapf(ErrFixedPull, "cannot set pull on non-input pin %s", p)
	}
	if pull != PullUp && (p.number == 2 || p.number == 3) {
		return errors.Wrapf(ErrFixedPull, "pin %s has a physical pull-up resistor", p)
	}

	gpioConn.pull(p.number, pull)
	p.pull = pull
	return nil
}

func (p *GpioPin) Frequency() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.frequency
}

// SetFrequency controls software PWM: a positive frequency on an output pin
// starts it at duty cycle 0, a new frequency retunes it, zero stops it and
// leaves the line low.
func (p *GpioPin) SetFrequency(frequency int) error {
	if frequency < 0 || frequency > maxSoftPwmFrequency {
		return errors.Wrapf(ErrInvalidFrequency, "%d Hz (limit %d Hz) for pin %s", frequency, maxSoftPwmFrequency, p)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.pwm == nil && frequency > 0:
		if p.function != FunctionOutput {
			return errors.Wrapf(ErrPWMUnsupported, "pin %s is not an output", p)
		}
		number := p.number
		p.pwm = startSoftPwm(frequency, func(high bool) {
			gpioConn.write(number, high)
		})
		p.duty = 0
		p.frequency = frequency
	case p.pwm != nil && frequency > 0:
		p.pwm.update(frequency, p.duty)
		p.frequency = frequency
	case p.pwm != nil && frequency == 0:
		p.pwm.halt()
		p.pwm = nil
		p.duty = 0
		p.frequency = 0
	}

	return nil
}

func (p *GpioPin) Bounce() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.bounce
}

func (p *GpioPin) SetBounce(bounce time.Duration) error {
	if bounce < 0 {
		return errors.Wrapf(ErrInvalidBounce, "negative bounce %v for pin %s", bounce, p)
	}

	callback := p.WhenChanged()
	if callback != nil {
		p.SetWhenChanged(nil)
	}

	p.mu.Lock()
	p.bounce = bounce
	p.mu.Unlock()

	if callback != nil {
		p.SetWhenChanged(callback)
	}
	return nil
}

func (p *GpioPin) Edges() Edge {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.edges
}

// SetEdges re-wires an installed callback so the new edge selection takes
// effect on the hardware detector.
func (p *GpioPin) SetEdges(edges Edge) error {
	switch edges {
	case EdgeBoth, EdgeRising, EdgeFalling:
	default:
		return errors.Wrapf(ErrInvalidEdges, "edges %d for pin %s", uint8(edges), p)
	}

	callback := p.WhenChanged()
	if callback != nil {
		p.SetWhenChanged(nil)
	}

	p.mu.Lock()
	p.edges = edges
	p.mu.Unlock()

	if callback != nil {
		p.SetWhenChanged(callback)
	}
	return nil
}

func (p *GpioPin) WhenChanged() func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.whenChanged
}

// SetWhenChanged installs the change callback and arms hardware edge
// detection; a nil callback disarms it. The callback is delivered off the
// pin lock, so it may call back into the pin.
func (p *GpioPin) SetWhenChanged(callback func()) {
	p.mu.Lock()

	installed := p.whenChanged != nil
	p.whenChanged = callback

	switch {
	case callback != nil && !installed:
		gpioConn.detect(p.number, p.edges)
		p.watchStop = make(chan struct{})
		p.watchDone = make(chan struct{})
		go p.watch(p.watchStop, p.watchDone)
		p.mu.Unlock()
	case callback == nil && installed:
		stop, done := p.watchStop, p.watchDone
		p.watchStop, p.watchDone = nil, nil
		p.mu.Unlock()
		close(stop)
		<-done
		gpioConn.stopDetect(p.number)
	default:
		p.mu.Unlock()
	}
}

// watch polls the latched edge detect status of the pin. The hardware latch
// catches edges between polls, so short pulses are not lost, only delayed.
func (p *GpioPin) watch(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !gpioConn.edgeDetected(p.number) {
				continue
			}

			p.mu.Lock()
			callback := p.whenChanged
			if p.bounce > 0 && time.Since(p.lastChange) < p.bounce {
				p.mu.Unlock()
				continue
			}
			p.lastChange = time.Now()
			p.mu.Unlock()

			if callback != nil {
				callback()
			}
		}
	}
}

// OutputWithState makes the pin an output already driven to the given level.
func (p *GpioPin) OutputWithState(state State) error {
	if state != Low && state != High {
		return errors.Wrapf(ErrInvalidState, "state %v for pin %s", float64(state), p)
	}

	p.stopPwm()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pull = PullFloating
	gpioConn.pull(p.number, p.pull)
	gpioConn.output(p.number)
	gpioConn.write(p.number, state == High)
	p.function = FunctionOutput

	return nil
}

// InputWithPull makes the pin an input with the given pull in one step.
func (p *GpioPin) InputWithPull(pull Pull) error {
	if pull != PullUp && (p.number == 2 || p.number == 3) {
		return errors.Wrapf(ErrFixedPull, "pin %s has a physical pull-up resistor", p)
	}

	p.stopPwm()

	p.mu.Lock()
	defer p.mu.Unlock()

	gpioConn.input(p.number)
	gpioConn.pull(p.number, pull)
	p.function = FunctionInput
	p.pull = pull

	return nil
}

// Close stops PWM, removes the change callback and returns the pin to a
// floating input. The pin stays in the cache and can be configured again.
func (p *GpioPin) Close() error {
	err := p.SetFrequency(0)
	if err != nil {
		return errors.Wrapf(err, "failed to stop PWM closing pin %s", p)
	}
	p.SetWhenChanged(nil)

	p.mu.Lock()
	defer p.mu.Unlock()

	gpioConn.input(p.number)
	gpioConn.pull(p.number, PullFloating)
	p.function = FunctionInput
	p.pull = defaultPull(p.number)
	p.bounce = 0
	p.edges = EdgeBoth

	return nil
}
