package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/hubertat/servicemaker"

	"github.com/hubertat/pinkit"
)

const defaultSyncInterval = "330ms"

var (
	Version string
	Build   string

	config       = flag.String("config", "config.json", "path of the configuration file")
	flagInstall  = flag.Bool("install", false, "Install service in os")
	syncInterval = flag.String("sync", defaultSyncInterval, "sync interval (time.Duration)")

	pinkitService = servicemaker.ServiceMaker{
		User:               "pinkit",
		UserGroups:         []string{"gpio"},
		ServicePath:        "/etc/systemd/system/pinkit.service",
		ServiceDescription: "PinKit service: HomeKit enabled gpio pin controller. github.com/hubertat/pinkit",
		ExecDir:            "/srv/pinkit",
		ExecName:           "pinkit",
	}
)

func main() {
	log.Printf("pinkit %s started\n", Version)
	flag.Parse()

	if *flagInstall {
		err := pinkitService.InstallService()
		if err != nil {
			panic(err)
		} else {
			log.Println("service installed!")
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncDuration, err := time.ParseDuration(*syncInterval)
	if err != nil {
		panic(err)
	}

	pk := &pinkit.PinKit{}
	configFile, err := os.Open(*config)
	if err == nil {
		cBuff, err := io.ReadAll(configFile)
		if err != nil {
			log.Fatalf("failed reading config file: %v\n", err)
		}

		err = json.Unmarshal(cBuff, pk)
		if err != nil {
			log.Fatalf("failed unmarshalling json config: %v", err)
		}
	} else {
		log.Fatalf("can't find/open config file (%s), will terminate. Reason: \n%v\n", *config, err)
	}

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

	if len(pk.MqttBroker) > 0 {
		log.Println("connecting to mqtt broker...")
		err = pk.InitMqtt()
		if err != nil {
			log.Printf("mqtt init returned error: %v\n we will proceed...", err)
		} else {
			log.Println("mqtt OK!")
		}
	}

	if len(pk.HttpAddr) > 0 {
		log.Println("starting http api...")
		_, err = pk.StartHttpServer(ctx)
		if err != nil {
			panic(err)
		}
	}

	pk.PrintPinStatus(os.Stdout)

	if len(pk.HkPin) == 8 {
		log.Println("Starting with HomeKit server")

		go pk.StartTicker(syncDuration)
		log.Fatal(pk.StartHomeKit(context.Background(), Version))
	} else {
		log.Println("HomeKit not configured, disabled")
		pk.StartTicker(syncDuration)
	}

}
