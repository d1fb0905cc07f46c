package pins

import (
	"time"
)

type pwmSettings struct {
	frequency int
	duty      State
}

// softPwm bit bangs a PWM waveform onto a line from its own goroutine.
// Duty cycles 0 and 1 degenerate to a steady level with the timer parked,
// so an idle engine costs nothing.
type softPwm struct {
	write    func(high bool)
	settings chan pwmSettings
	stop     chan struct{}
	done     chan struct{}
}

// startSoftPwm launches the engine at the given frequency with duty cycle 0,
// the line driven low.
func startSoftPwm(frequency int, write func(high bool)) *softPwm {
	pwm := &softPwm{
		write:    write,
		settings: make(chan pwmSettings),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go pwm.loop(pwmSettings{frequency: frequency})

	return pwm
}

// update retunes the running engine. The new settings take effect at the
// next waveform phase.
func (pwm *softPwm) update(frequency int, duty State) {
	pwm.settings <- pwmSettings{frequency: frequency, duty: duty}
}

// halt stops the engine, drives the line low and waits for the goroutine to
// exit.
func (pwm *softPwm) halt() {
	close(pwm.stop)
	<-pwm.done
}

func (set pwmSettings) phases() (high, low time.Duration) {
	period := time.Second / time.Duration(set.frequency)
	high = time.Duration(float64(period) * float64(set.duty))
	low = period - high
	return
}

func (pwm *softPwm) loop(set pwmSettings) {
	defer close(pwm.done)

	timer := time.NewTimer(time.Second)
	if !timer.Stop() {
		<-timer.C
	}
	running := false
	high := false

	apply := func() {
		if running && !timer.Stop() {
			<-timer.C
		}
		running = false

		switch {
		case set.duty <= 0:
			high = false
			pwm.write(false)
		case set.duty >= 1:
			high = true
			pwm.write(true)
		default:
			highFor, _ := set.phases()
			high = true
			pwm.write(true)
			timer.Reset(highFor)
			running = true
		}
	}

	apply()

	for {
		select {
		case <-pwm.stop:
			if running && !timer.Stop() {
				<-timer.C
			}
			pwm.write(false)
			return

		case set = <-pwm.settings:
			apply()

		case <-timer.C:
			highFor, lowFor := set.phases()
			high = !high
			pwm.write(high)
			if high {
				timer.Reset(highFor)
			} else {
				timer.Reset(lowFor)
			}
		}
	}
}
