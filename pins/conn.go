package pins

import (
	"github.com/stianeikeland/go-rpio/v4"
)

// hwConn is the narrow surface of the native gpio library the pin state
// machine talks through. Production uses package rpio; tests substitute a
// recorder.
type hwConn interface {
	open() error
	close() error

	input(number uint8)
	output(number uint8)
	read(number uint8) bool
	write(number uint8, high bool)
	pull(number uint8, pull Pull)
	detect(number uint8, edges Edge)
	stopDetect(number uint8)
	edgeDetected(number uint8) bool
}

// rpioConn drives the Raspberry Pi pins through memory mapped gpio
// (github.com/stianeikeland/go-rpio).
type rpioConn struct{}

func (rpioConn) open() error {
	return rpio.Open()
}

func (rpioConn) close() error {
	return rpio.Close()
}

func (rpioConn) input(number uint8) {
	rpio.Pin(number).Input()
}

func (rpioConn) output(number uint8) {
	rpio.Pin(number).Output()
}

func (rpioConn) read(number uint8) bool {
	return rpio.Pin(number).Read() == rpio.High
}

func (rpioConn) write(number uint8, high bool) {
	if high {
		rpio.Pin(number).High()
	} else {
		rpio.Pin(number).Low()
	}
}

func (rpioConn) pull(number uint8, pull Pull) {
	switch pull {
	case PullUp:
		rpio.Pin(number).PullUp()
	case PullDown:
		rpio.Pin(number).PullDown()
	default:
		rpio.Pin(number).PullOff()
	}
}

func (rpioConn) detect(number uint8, edges Edge) {
	switch edges {
	case EdgeRising:
		rpio.Pin(number).Detect(rpio.RiseEdge)
	case EdgeFalling:
		rpio.Pin(number).Detect(rpio.FallEdge)
	default:
		rpio.Pin(number).Detect(rpio.AnyEdge)
	}
}

func (rpioConn) stopDetect(number uint8) {
	rpio.Pin(number).Detect(rpio.NoEdge)
}

func (rpioConn) edgeDetected(number uint8) bool {
	return rpio.Pin(number).EdgeDetected()
}
