package main

import (
	"flag"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/resinworks/sled/engine"
	"github.com/resinworks/sled/motor"
	"github.com/resinworks/sled/motor/bridge"
	"github.com/resinworks/sled/motor/i2cbus"
	"github.com/resinworks/sled/motor/uart"
	"github.com/resinworks/sled/projector"
	"github.com/resinworks/sled/settings"
)

func main() {
	log := logrus.New()

	port := flag.String("port", "/dev/ttyAMA0", "Serial port of the motor controller (or remote port name if using a bridge).")
	baud := flag.Int("baud", 115200, "Serial baud rate.")
	bridgeURL := flag.String("bridge", "", "Websocket URL of a serial bridge server; empty uses a local port.")
	i2cDev := flag.String("i2c-dev", "", "I2C device node of the motor controller; overrides the serial port.")
	i2cAddr := flag.Int("i2c-addr", 0x10, "I2C peripheral address of the motor controller.")
	motorGPIO := flag.Int("motor-gpio", 60, "GPIO pin carrying the motor controller interrupt line (I2C only).")
	panelAddr := flag.Int("panel-addr", 0x11, "I2C peripheral address of the front panel (I2C only).")
	panelGPIO := flag.Int("panel-gpio", 30, "GPIO pin carrying the front panel interrupt line; 0 disables the panel.")
	doorGPIO := flag.Int("door-gpio", 47, "GPIO pin of the door switch; 0 disables the door interlock.")
	addr := flag.String("addr", ":9091", "Address to bind the control server to.")
	dataDir := flag.String("data", "./data", "Print data directory.")
	settingsPath := flag.String("settings", "./settings.json", "Settings file.")
	pipePath := flag.String("pipe", "/tmp/PrinterStatusPipe", "Named pipe for status broadcast; empty disables it.")
	flag.Parse()

	store, err := settings.Open(*settingsPath)
	if err != nil {
		log.Fatal(err)
	}

	var bus motor.Bus
	var interrupts <-chan byte
	switch {
	case *bridgeURL != "":
		b := bridge.New(*bridgeURL, *port)
		bus = b
		interrupts = b.Interrupts()
	case *i2cDev != "":
		dev, err := i2cbus.Open(*i2cDev, byte(*i2cAddr))
		if err != nil {
			log.Fatal(err)
		}
		bus = dev
		ch := make(chan byte)
		interrupts = ch
		// the controller raises a GPIO line, then the status byte is
		// fetched over the bus
		go func() {
			err := watchGPIO(*motorGPIO, "rising", func(byte) {
				status, err := dev.ReadStatus()
				if err != nil {
					log.WithError(err).Error("motor status read failed")
					return
				}
				ch <- status
			})
			log.WithError(err).Fatal("motor interrupt watch ended")
		}()
	default:
		s, err := serial.OpenPort(&serial.Config{Name: *port, Baud: *baud})
		if err != nil {
			log.Fatal(err)
		}
		conn := uart.NewConn(s)
		bus = conn
		interrupts = conn.Interrupts()
	}

	disp := projector.New(*dataDir, nil, log)

	eng, err := engine.New(engine.Config{
		Motor:          motor.New(bus, store),
		Layers:         store,
		Display:        disp,
		Settings:       store,
		Log:            log,
		StatusPipePath: *pipePath,
	})
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		for status := range interrupts {
			eng.Post(engine.Event{Type: engine.MotorInterrupt, Data: status})
		}
	}()

	if *i2cDev != "" && *panelGPIO != 0 {
		panel, err := i2cbus.Open(*i2cDev, byte(*panelAddr))
		if err != nil {
			log.WithError(err).Error("front panel unavailable")
		} else {
			go func() {
				err := watchGPIO(*panelGPIO, "rising", func(byte) {
					status, err := panel.ReadStatus()
					if err != nil {
						log.WithError(err).Error("panel status read failed")
						return
					}
					eng.Post(engine.Event{Type: engine.ButtonInterrupt, Data: status})
				})
				log.WithError(err).Error("panel interrupt watch ended")
			}()
		}
	}

	if *doorGPIO != 0 {
		go func() {
			err := watchGPIO(*doorGPIO, "both", func(level byte) {
				eng.Post(engine.Event{Type: engine.DoorInterrupt, Data: level})
			})
			log.WithError(err).Error("door watch ended")
		}()
	}

	eng.Begin()

	api := newAPI(eng, disp, store, *dataDir, log)

	err = http.ListenAndServe(*addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Infof("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
		api.ServeHTTP(w, req)
	}))
	if err != nil {
		log.Fatal(err)
	}
}
