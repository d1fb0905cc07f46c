package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/hubertat/pinkit"
	"github.com/hubertat/pinkit/pins"
)

var (
	Version string
	Build   string
)

func main() {
	var err error

	log.Println("pinkit started")
	log.Println("mock instance for testing purposes, should work on MacOs")

	syncDuration := 250 * time.Millisecond
	log.Println("syncDuration is ", syncDuration)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pk := &pinkit.PinKit{}

	pk.HkPin = "88008800"

	pk.Outputs = append(pk.Outputs, &pinkit.Output{Name: "fake relay", Pin: 2})
	pk.Dimmers = append(pk.Dimmers, &pinkit.Dimmer{Name: "fake dimmer", Pin: 4, Frequency: 100})
	pk.Inputs = append(pk.Inputs, &pinkit.Input{Name: "fake button", Pin: 7, Pull: "up", Edges: "falling", Bounce: "50ms"})
	pk.Mock = &pins.MockFactory{}

	log.Println("will init pinkit factory...")
	err = pk.InitFactory(ctx)
	defer pk.Close()
	if err != nil {
		panic(err)
	}
	log.Println("will init pinkit devices...")
	err = pk.InitDevices()
	if err != nil {
		panic(err)
	}

	pk.Mock.MonitorStateChanges(os.Stdout)

	pk.PrintPinStatus(os.Stdout)

	// Toggle the fake button like someone poking it, so the motion sensor
	// accessory shows some life.
	go func() {
		button, err := pk.Mock.MockPin(7)
		if err != nil {
			log.Println("failed to get fake button pin: ", err)
			return
		}

		pressed := false
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pressed = !pressed
				button.Drive(!pressed)
			}
		}
	}()

	log.Println("starting mock with HomeKit service")

	go pk.StartTicker(syncDuration)

	pk.HkDirectory = "./mock_homekit"
	log.Fatal(pk.StartHomeKit(ctx, "mock: "+Version))

}
