// Package sensor reads the physical sensors attached to the board.
package sensor

import "math"

// Thermometer is a DHT-class temperature/humidity sensor.
// ReadRetry blocks until a checksum-valid frame is read or retries run out.
type Thermometer interface {
	ReadRetry() (humidity, celsius float64, err error)
}

// Level is the electrical level of a digital pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// DigitalInput is a GPIO pin configured as input.
type DigitalInput interface {
	Read() (Level, error)
}

// IsWet maps a moisture sensor level to wet/dry. The sensor is active-low:
// it pulls the line low when the soil is wet.
func IsWet(l Level) bool {
	return !bool(l)
}

func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// Round2 rounds half away from zero to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Fahrenheit converts a Celsius reading to the recorded temperature.
func Fahrenheit(c float64) float64 {
	return Round2(CelsiusToFahrenheit(c))
}
