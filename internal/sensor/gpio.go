package sensor

import (
	"fmt"
	"sync"

	dht "github.com/MichaelS11/go-dht"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// HostInit loads the GPIO drivers. It must succeed before any pin is opened;
// callers treat a failure as fatal.
func HostInit() error {
	hostOnce.Do(func() {
		hostErr = dht.HostInit()
	})
	return hostErr
}

// PinName maps a BCM pin number to the registry name.
func PinName(bcm int) string {
	return fmt.Sprintf("GPIO%d", bcm)
}

// DHT22 reads a DHT22 on a BCM pin, in Celsius.
type DHT22 struct {
	dev     *dht.DHT
	retries int
}

func NewDHT22(bcm, retries int) (*DHT22, error) {
	if retries <= 0 {
		retries = 11
	}
	dev, err := dht.NewDHT(PinName(bcm), dht.Celsius, "dht22")
	if err != nil {
		return nil, fmt.Errorf("dht22 on %s: %w", PinName(bcm), err)
	}
	return &DHT22{dev: dev, retries: retries}, nil
}

func (d *DHT22) ReadRetry() (float64, float64, error) {
	humidity, celsius, err := d.dev.ReadRetry(d.retries)
	if err != nil {
		return 0, 0, err
	}
	return humidity, celsius, nil
}

// InputPin is a BCM pin configured as a floating input.
type InputPin struct {
	pin gpio.PinIO
}

func NewInputPin(bcm int) (*InputPin, error) {
	pin := gpioreg.ByName(PinName(bcm))
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %s not found", PinName(bcm))
	}
	if err := pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure %s as input: %w", PinName(bcm), err)
	}
	return &InputPin{pin: pin}, nil
}

func (p *InputPin) Read() (Level, error) {
	return Level(p.pin.Read() == gpio.High), nil
}
