package pinkit

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/pkg/errors"

	"github.com/hubertat/pinkit/mqtt"
	"github.com/hubertat/pinkit/pins"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "pinkit"
const homeKitBridgeAuthor = "github.com/hubertat"

type PinKit struct {
	Name string

	Outputs []*Output
	Inputs  []*Input
	Dimmers []*Dimmer

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string

	HttpAddr  string
	HttpToken string

	Influx *InfluxRecorder

	Gpio *pins.GpioFactory
	Mock *pins.MockFactory

	factory    pins.Factory
	mqttClient *mqtt.MqttClient
	ticker     *time.Ticker
}

type Device interface {
	Init(factory pins.Factory) error
	Sync() error
}

type HkThing interface {
	GetHk() *accessory.A
	GetUniqueId() uint64
	Sync() error
}

func (pk *PinKit) getDevices() []Device {
	devices := []Device{}
	for _, out := range pk.Outputs {
		devices = append(devices, out)
	}
	for _, in := range pk.Inputs {
		devices = append(devices, in)
	}
	for _, dim := range pk.Dimmers {
		devices = append(devices, dim)
	}

	return devices
}

func (pk *PinKit) getHkThings() (things []HkThing) {
	for _, th := range pk.Outputs {
		things = append(things, th)
	}
	for _, th := range pk.Inputs {
		things = append(things, th)
	}
	for _, th := range pk.Dimmers {
		things = append(things, th)
	}

	return
}

// InitFactory picks the pin back end from the config: exactly one factory
// section must be present.
func (pk *PinKit) InitFactory(ctx context.Context) error {
	factories := []pins.Factory{}
	if pk.Gpio != nil {
		factories = append(factories, pk.Gpio)
	}
	if pk.Mock != nil {
		factories = append(factories, pk.Mock)
	}

	if len(factories) == 0 {
		return errors.New("no pin factory configured")
	}
	if len(factories) > 1 {
		return errors.Errorf("%d pin factories configured, want exactly one", len(factories))
	}

	pk.factory = factories[0]
	err := pk.factory.Setup(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to setup %s factory", pk.factory.Name())
	}

	return nil
}

func (pk *PinKit) InitDevices() error {
	if pk.Influx != nil {
		err := pk.Influx.Setup()
		if err != nil {
			return errors.Wrap(err, "failed to setup influx recorder")
		}
		for _, in := range pk.Inputs {
			in.recorder = pk.Influx
		}
	}

	for _, device := range pk.getDevices() {
		err := device.Init(pk.factory)
		if err != nil {
			return errors.Wrapf(err, "failed to init device")
		}
	}

	return nil
}

func (pk *PinKit) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, th := range pk.getHkThings() {
		accessory := th.GetHk()
		if accessory != nil {
			if accessory.Info != nil && accessory.Info.FirmwareRevision != nil {
				accessory.Info.FirmwareRevision.SetValue(firmwareVersion)
			}
			accessory.Id = th.GetUniqueId()
			acc = append(acc, accessory)
		}
	}

	return
}

func (pk *PinKit) StartTicker(interval time.Duration) {

	pk.ticker = time.NewTicker(interval)

	for {
		select {
		case <-pk.ticker.C:
			{
				for _, device := range pk.getDevices() {
					err := device.Sync()
					if err != nil {
						log.Printf("Received error(s) from syncing device:\n%v", err)
					}
				}
			}
		}
	}
}

func (pk *PinKit) Close() (err error) {
	if pk.ticker != nil {
		pk.ticker.Stop()
	}

	if pk.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		disconnectErr := pk.mqttClient.Disconnect(ctx)
		if disconnectErr != nil {
			err = errors.Wrap(disconnectErr, "failed to disconnect mqtt client")
		}
	}

	for _, in := range pk.Inputs {
		in.Release()
	}

	if pk.factory != nil {
		closeErr := pk.factory.Close()
		if closeErr != nil {
			if err != nil {
				err = errors.Wrap(closeErr, err.Error())
			} else {
				err = errors.Wrap(closeErr, "failed to close pin factory")
			}
		}
	}

	return
}

func (pk *PinKit) PrintPinStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== reserved pins ===")
	fmt.Fprintf(writer, "| factory: %s\n", pk.factory.Name())
	for _, number := range pk.factory.ReservedPins() {
		pin, err := pk.factory.Pin(number)
		if err != nil {
			fmt.Fprintf(writer, "| pin %d: %v\n", number, err)
			continue
		}
		fmt.Fprintf(writer, "| %s: %s, state %.2f, pull %s\n", pin, pin.Function(), float64(pin.State()), pin.Pull())
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}

func (pk *PinKit) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	hkName := pk.Name
	if len(hkName) < 1 {
		hkName = homeKitBridgeName
	}
	bridge := accessory.NewBridge(accessory.Info{
		Name:         hkName,
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	var store hap.Store
	if len(pk.HkDirectory) > 1 {
		store = hap.NewFsStore(pk.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}
	hkServer, err := hap.NewServer(store, bridge.A, pk.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = pk.HkPin
	if len(pk.HkAddress) > 0 {
		hkServer.Addr = pk.HkAddress
	}

	if pk.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-c
		// Stop delivering signals.
		signal.Stop(c)
		// Cancel the context to stop the server.
		cancel()
	}()

	return hkServer.ListenAndServe(ctx)
}

func (pk *PinKit) InitMqtt() (err error) {
	if len(pk.MqttBroker) == 0 {
		err = errors.New("mqtt broker not set")
		return
	}

	mc, err := mqtt.NewMqttClient(pk.MqttBroker, pk.Name)
	if err != nil {
		err = errors.Wrap(err, "failed to create mqtt client")
		return
	}

	pk.mqttClient = mc

	mqttHandlers := []mqtt.MqttHandler{}
	for _, out := range pk.Outputs {
		mqttHandlers = append(mqttHandlers, out.SetMqtt(mc)...)
	}
	for _, dim := range pk.Dimmers {
		mqttHandlers = append(mqttHandlers, dim.SetMqtt(mc)...)
	}
	for _, in := range pk.Inputs {
		in.SetMqtt(mc)
	}

	err = mc.Connect(mqttHandlers)
	if err != nil {
		err = errors.Wrap(err, "failed to connect to mqtt broker")
	}

	return
}

// topicName flattens a device name into an mqtt topic segment.
func topicName(name string) string {
	flat := strings.ToLower(strings.TrimSpace(name))
	flat = strings.ReplaceAll(flat, " ", "_")
	flat = strings.ReplaceAll(flat, "/", "_")
	return flat
}

func boolToState(high bool) pins.State {
	if high {
		return pins.High
	}
	return pins.Low
}
