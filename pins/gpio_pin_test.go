package pins

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// connRecorder stands in for memory mapped gpio: it records every native
// call the state machine makes and serves line levels and latched edges
// from maps.
type connRecorder struct {
	mu     sync.Mutex
	calls  []string
	levels map[uint8]bool
	latch  map[uint8]bool

	opened int
	closed int
}

func (c *connRecorder) record(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *connRecorder) open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened++
	return nil
}

func (c *connRecorder) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *connRecorder) input(number uint8) {
	c.record("input %d", number)
}

func (c *connRecorder) output(number uint8) {
	c.record("output %d", number)
}

func (c *connRecorder) read(number uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levels[number]
}

func (c *connRecorder) write(number uint8, high bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf("write %d %v", number, high))
	c.levels[number] = high
}

func (c *connRecorder) pull(number uint8, pull Pull) {
	c.record("pull %d %s", number, pull)
}

func (c *connRecorder) detect(number uint8, edges Edge) {
	c.record("detect %d %s", number, edges)
}

func (c *connRecorder) stopDetect(number uint8) {
	c.record("stopdetect %d", number)
}

func (c *connRecorder) edgeDetected(number uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	detected := c.latch[number]
	c.latch[number] = false
	return detected
}

func (c *connRecorder) setLevel(number uint8, high bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels[number] = high
}

func (c *connRecorder) setLatch(number uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latch[number] = true
}

func (c *connRecorder) hasCall(call string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, recorded := range c.calls {
		if recorded == call {
			return true
		}
	}
	return false
}

func (c *connRecorder) level(number uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levels[number]
}

func newTestFactory(t testing.TB) (*GpioFactory, *connRecorder) {
	t.Helper()

	rec := &connRecorder{levels: map[uint8]bool{}, latch: map[uint8]bool{}}

	gpioMu.Lock()
	gpioConn = rec
	gpioPins = map[uint8]*GpioPin{}
	gpioOpens = 0
	gpioMu.Unlock()

	t.Cleanup(func() {
		gpioMu.Lock()
		gpioConn = rpioConn{}
		gpioPins = map[uint8]*GpioPin{}
		gpioOpens = 0
		gpioMu.Unlock()
	})

	gf := &GpioFactory{}
	err := gf.Setup(context.Background())
	if err != nil {
		t.Fatalf("factory Setup returned err: %v", err)
	}

	return gf, rec
}

func assertNoError(t testing.TB, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("got err: %v want nil", err)
	}
}

func assertErrorIs(t testing.TB, err, want error) {
	t.Helper()

	if !errors.Is(err, want) {
		t.Errorf("got err %v want %v", err, want)
	}
}

func assertCall(t testing.TB, rec *connRecorder, call string) {
	t.Helper()

	if !rec.hasCall(call) {
		t.Errorf("call %q not recorded, got:\n%v", call, rec.calls)
	}
}

func waitLevel(t testing.TB, rec *connRecorder, number uint8, want bool) {
	t.Helper()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if rec.level(number) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Errorf("pin %d level never reached %v", number, want)
}

func TestGpioPinReservationDefaults(t *testing.T) {
	gf, rec := newTestFactory(t)

	pin, err := gf.Pin(17)
	assertNoError(t, err)

	if pin.Function() != FunctionInput {
		t.Errorf("got function %s want input", pin.Function())
	}
	if pin.Pull() != PullFloating {
		t.Errorf("got pull %s want floating", pin.Pull())
	}
	if pin.Edges() != EdgeBoth {
		t.Errorf("got edges %s want both", pin.Edges())
	}
	if pin.Bounce() != 0 {
		t.Errorf("got bounce %v want 0", pin.Bounce())
	}
	if pin.String() != "GPIO17" {
		t.Errorf("got %s want GPIO17", pin.String())
	}

	assertCall(t, rec, "input 17")
	assertCall(t, rec, "pull 17 floating")

	t.Run("i2c pins reserve pulled up", func(t *testing.T) {
		sda, err := gf.Pin(2)
		assertNoError(t, err)

		if sda.Pull() != PullUp {
			t.Errorf("got pull %s want up", sda.Pull())
		}
		assertCall(t, rec, "pull 2 up")
	})
}

func TestGpioPinCache(t *testing.T) {
	gf, _ := newTestFactory(t)

	first, err := gf.Pin(22)
	assertNoError(t, err)
	second, err := gf.Pin(22)
	assertNoError(t, err)

	if first != second {
		t.Error("same pin number returned different instances")
	}

	other := &GpioFactory{}
	assertNoError(t, other.Setup(context.Background()))
	shared, err := other.Pin(22)
	assertNoError(t, err)

	if shared != first {
		t.Error("second factory returned a different instance for the same pin")
	}
}

func TestGpioFactoryNotReady(t *testing.T) {
	newTestFactory(t)

	gf := &GpioFactory{}
	_, err := gf.Pin(4)
	assertErrorIs(t, err, ErrNotReady)
}

func TestGpioFactoryRefcount(t *testing.T) {
	first, rec := newTestFactory(t)

	second := &GpioFactory{}
	assertNoError(t, second.Setup(context.Background()))

	if rec.opened != 1 {
		t.Errorf("got %d opens want 1", rec.opened)
	}

	assertNoError(t, first.Close())
	if rec.closed != 0 {
		t.Errorf("gpio unmapped while a factory still holds it")
	}

	assertNoError(t, second.Close())
	if rec.closed != 1 {
		t.Errorf("got %d closes want 1", rec.closed)
	}
}

func TestGpioSetFunction(t *testing.T) {
	gf, rec := newTestFactory(t)
	pin, err := gf.Pin(17)
	assertNoError(t, err)

	t.Run("only input and output allowed", func(t *testing.T) {
		assertErrorIs(t, pin.SetFunction(FunctionI2C), ErrInvalidFunction)
		assertErrorIs(t, pin.SetFunction(FunctionSPI), ErrInvalidFunction)
	})

	t.Run("output lets go of the pull", func(t *testing.T) {
		assertNoError(t, pin.SetPull(PullDown))

		assertNoError(t, pin.SetFunction(FunctionOutput))
		assertCall(t, rec, "output 17")

		if pin.Pull() != PullFloating {
			t.Errorf("got pull %s want floating", pin.Pull())
		}
	})

	t.Run("back to input restores the cached pull", func(t *testing.T) {
		assertNoError(t, pin.SetFunction(FunctionInput))

		if pin.Function() != FunctionInput {
			t.Errorf("got function %s want input", pin.Function())
		}
		if pin.Pull() != PullFloating {
			t.Errorf("got pull %s want floating", pin.Pull())
		}
	})
}

func TestGpioRejectedFunctionKeepsPwm(t *testing.T) {
	gf, _ := newTestFactory(t)
	pin, err := gf.Pin(19)
	assertNoError(t, err)

	assertNoError(t, pin.SetFunction(FunctionOutput))
	assertNoError(t, pin.SetFrequency(120))
	assertNoError(t, pin.SetState(0.6))

	assertErrorIs(t, pin.SetFunction(FunctionSerial), ErrInvalidFunction)

	if pin.Frequency() != 120 {
		t.Errorf("got frequency %d want 120", pin.Frequency())
	}
	if pin.State() != 0.6 {
		t.Errorf("got state %v want 0.6", pin.State())
	}

	assertNoError(t, pin.Close())
}

func TestGpioSetState(t *testing.T) {
	gf, rec := newTestFactory(t)
	pin, err := gf.Pin(23)
	assertNoError(t, err)

	t.Run("input refuses writes", func(t *testing.T) {
		assertErrorIs(t, pin.SetState(High), ErrSetInput)
	})

	t.Run("output takes digital levels only", func(t *testing.T) {
		assertNoError(t, pin.SetFunction(FunctionOutput))

		assertErrorIs(t, pin.SetState(0.5), ErrInvalidState)
		assertErrorIs(t, pin.SetState(-1), ErrInvalidState)

		assertNoError(t, pin.SetState(High))
		assertCall(t, rec, "write 23 true")
		if pin.State() != High {
			t.Errorf("got state %v want high", pin.State())
		}

		assertNoError(t, pin.SetState(Low))
		assertCall(t, rec, "write 23 false")
	})
}

func TestGpioSetPull(t *testing.T) {
	gf, rec := newTestFactory(t)

	t.Run("pull follows input", func(t *testing.T) {
		pin, err := gf.Pin(24)
		assertNoError(t, err)

		assertNoError(t, pin.SetPull(PullDown))
		assertCall(t, rec, "pull 24 down")

		assertNoError(t, pin.SetFunction(FunctionOutput))
		assertErrorIs(t, pin.SetPull(PullUp), ErrFixedPull)
	})

	t.Run("i2c pins only pull up", func(t *testing.T) {
		sda, err := gf.Pin(2)
		assertNoError(t, err)

		assertErrorIs(t, sda.SetPull(PullDown), ErrFixedPull)
		assertErrorIs(t, sda.SetPull(PullFloating), ErrFixedPull)
		assertNoError(t, sda.SetPull(PullUp))
	})
}

func TestGpioSoftPwm(t *testing.T) {
	gf, rec := newTestFactory(t)
	pin, err := gf.Pin(18)
	assertNoError(t, err)

	t.Run("input cannot start pwm", func(t *testing.T) {
		assertErrorIs(t, pin.SetFrequency(100), ErrPWMUnsupported)
	})

	t.Run("frequency bounds", func(t *testing.T) {
		assertErrorIs(t, pin.SetFrequency(-1), ErrInvalidFrequency)
		assertErrorIs(t, pin.SetFrequency(maxSoftPwmFrequency+1), ErrInvalidFrequency)
	})

	assertNoError(t, pin.SetFunction(FunctionOutput))

	t.Run("starting pwm zeroes the duty cycle", func(t *testing.T) {
		assertNoError(t, pin.SetFrequency(100))

		if pin.Frequency() != 100 {
			t.Errorf("got frequency %d want 100", pin.Frequency())
		}
		if pin.State() != 0 {
			t.Errorf("got state %v want 0", pin.State())
		}
		waitLevel(t, rec, 18, false)
	})

	t.Run("state is the duty cycle", func(t *testing.T) {
		assertNoError(t, pin.SetState(1))
		if pin.State() != 1 {
			t.Errorf("got state %v want 1", pin.State())
		}
		waitLevel(t, rec, 18, true)

		assertErrorIs(t, pin.SetState(1.5), ErrInvalidState)
		assertErrorIs(t, pin.SetState(-0.5), ErrInvalidState)
	})

	t.Run("retune keeps the duty cycle", func(t *testing.T) {
		assertNoError(t, pin.SetFrequency(200))
		if pin.State() != 1 {
			t.Errorf("got state %v want 1", pin.State())
		}
	})

	t.Run("stopping drives the line low", func(t *testing.T) {
		assertNoError(t, pin.SetFrequency(0))

		if pin.Frequency() != 0 {
			t.Errorf("got frequency %d want 0", pin.Frequency())
		}
		waitLevel(t, rec, 18, false)
		if pin.State() != Low {
			t.Errorf("got state %v want low", pin.State())
		}
	})
}

func TestGpioWhenChanged(t *testing.T) {
	gf, rec := newTestFactory(t)
	pin, err := gf.Pin(27)
	assertNoError(t, err)

	fired := make(chan struct{}, 16)
	pin.SetWhenChanged(func() {
		fired <- struct{}{}
	})
	assertCall(t, rec, "detect 27 both")

	rec.setLatch(27)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("change callback never fired")
	}

	t.Run("bounce suppresses rapid callbacks", func(t *testing.T) {
		debounced, err := gf.Pin(22)
		assertNoError(t, err)
		assertNoError(t, debounced.SetBounce(time.Hour))

		bouncedFired := make(chan struct{}, 16)
		debounced.SetWhenChanged(func() {
			bouncedFired <- struct{}{}
		})

		rec.setLatch(22)
		select {
		case <-bouncedFired:
		case <-time.After(time.Second):
			t.Fatal("first edge never fired")
		}

		rec.setLatch(22)
		select {
		case <-bouncedFired:
			t.Error("bounced edge fired the callback")
		case <-time.After(50 * time.Millisecond):
		}

		debounced.SetWhenChanged(nil)
	})

	t.Run("setting edges rewires detection", func(t *testing.T) {
		assertNoError(t, pin.SetEdges(EdgeFalling))

		assertCall(t, rec, "stopdetect 27")
		assertCall(t, rec, "detect 27 falling")

		if pin.WhenChanged() == nil {
			t.Error("callback lost while rewiring edges")
		}
	})

	t.Run("clearing the callback disarms detection", func(t *testing.T) {
		pin.SetWhenChanged(nil)

		if pin.WhenChanged() != nil {
			t.Error("callback still installed")
		}
	})

	t.Run("negative bounce rejected", func(t *testing.T) {
		assertErrorIs(t, pin.SetBounce(-time.Millisecond), ErrInvalidBounce)
	})
}

func TestGpioOutputWithState(t *testing.T) {
	gf, rec := newTestFactory(t)
	pin, err := gf.Pin(5)
	assertNoError(t, err)

	assertErrorIs(t, pin.OutputWithState(0.3), ErrInvalidState)

	assertNoError(t, pin.OutputWithState(High))
	assertCall(t, rec, "output 5")
	assertCall(t, rec, "write 5 true")

	if pin.Function() != FunctionOutput {
		t.Errorf("got function %s want output", pin.Function())
	}
}

func TestGpioInputWithPull(t *testing.T) {
	gf, rec := newTestFactory(t)

	pin, err := gf.Pin(6)
	assertNoError(t, err)
	assertNoError(t, pin.SetFunction(FunctionOutput))

	assertNoError(t, pin.InputWithPull(PullUp))
	assertCall(t, rec, "pull 6 up")
	if pin.Function() != FunctionInput {
		t.Errorf("got function %s want input", pin.Function())
	}
	if pin.Pull() != PullUp {
		t.Errorf("got pull %s want up", pin.Pull())
	}

	scl, err := gf.Pin(3)
	assertNoError(t, err)
	assertErrorIs(t, scl.InputWithPull(PullDown), ErrFixedPull)
}

func TestGpioPinClose(t *testing.T) {
	gf, rec := newTestFactory(t)
	pin, err := gf.Pin(13)
	assertNoError(t, err)

	assertNoError(t, pin.SetFunction(FunctionOutput))
	assertNoError(t, pin.SetFrequency(50))
	pin.SetWhenChanged(func() {})

	assertNoError(t, pin.Close())

	if pin.Function() != FunctionInput {
		t.Errorf("got function %s want input", pin.Function())
	}
	if pin.Frequency() != 0 {
		t.Errorf("got frequency %d want 0", pin.Frequency())
	}
	if pin.WhenChanged() != nil {
		t.Error("callback survived Close")
	}
	assertCall(t, rec, "pull 13 floating")

	t.Run("closed pin can be reserved again", func(t *testing.T) {
		again, err := gf.Pin(13)
		assertNoError(t, err)
		if again != pin {
			t.Error("cache entry lost after Close")
		}
	})
}
