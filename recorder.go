package pinkit

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/pkg/errors"
)

const defaultInfluxMeasurement = "pinkit"
const influxWriteTimeoutSeconds = 5

// StateRecorder receives pin state changes for persistence.
type StateRecorder interface {
	RecordState(device string, pin uint8, value float64)
}

// InfluxRecorder writes a point per pin state change. A failed write is
// logged and dropped, recording never blocks device handling for long.
type InfluxRecorder struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	logger *log.Logger
}

func (ir *InfluxRecorder) Setup() error {
	if len(ir.Host) == 0 {
		return errors.New("influx recorder: host not set")
	}
	if len(ir.Organization) == 0 || len(ir.Bucket) == 0 {
		return errors.New("influx recorder: organization and bucket must be set")
	}
	if len(ir.Measurement) == 0 {
		ir.Measurement = defaultInfluxMeasurement
	}

	ir.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "InfluxRecorder: ",
		Level:  log.GetLevel(),
	})

	return nil
}

func (ir *InfluxRecorder) RecordState(device string, pin uint8, value float64) {
	client := influxdb2.NewClient(ir.Host, ir.Token)
	defer client.Close()

	writeApi := client.WriteAPIBlocking(ir.Organization, ir.Bucket)

	point := influxdb2.NewPoint(ir.Measurement,
		map[string]string{
			"device": device,
			"pin":    fmt.Sprintf("%d", pin),
		},
		map[string]interface{}{
			"state": value,
		},
		time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), influxWriteTimeoutSeconds*time.Second)
	defer cancel()

	err := writeApi.WritePoint(ctx, point)
	if err != nil {
		ir.logger.Error("failed to write pin state point", "device", device, "err", err)
	}
}
