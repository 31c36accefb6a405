package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ====== Tunables ======
const (
	// baseCelsius/baseHumidity: centre of the simulated day.
	baseCelsius  = 21.0
	baseHumidity = 50.0

	// dryPerMin: soil water lost per minute, in [0..1].
	dryPerMin = 0.002

	// wetThreshold: below this the sensor reads dry (line high).
	wetThreshold = 0.35
)

// Simulator stands in for the DHT22 and the moisture sensor when the sampler
// runs off-device. Temperature follows a daily sine with noise; soil water
// decays over time and is topped up when it gets too dry.
type Simulator struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	now    func() time.Time
	last   time.Time
	seeded bool
	water  float64 // [0..1]
}

func NewSimulator(seed int64) *Simulator {
	return &Simulator{
		rnd: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// ReadRetry implements Thermometer.
func (s *Simulator) ReadRetry() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	hours := float64(now.Hour()) + float64(now.Minute())/60
	// warmest mid-afternoon
	daily := math.Sin((hours - 9) / 24 * 2 * math.Pi)

	celsius := baseCelsius + 4*daily + s.rnd.NormFloat64()*0.3
	humidity := clamp(baseHumidity-10*daily+s.rnd.NormFloat64(), 0, 100)
	return humidity, celsius, nil
}

// Read implements DigitalInput for the moisture sensor.
func (s *Simulator) Read() (Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if !s.seeded {
		s.water = 0.6
		s.last = now
		s.seeded = true
	}
	dtMin := now.Sub(s.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	s.water = clamp(s.water-dryPerMin*dtMin, 0, 1)
	if s.water < 0.1 {
		// someone watered the bed
		s.water = 0.8
	}
	s.last = now

	if s.water >= wetThreshold {
		return Low, nil
	}
	return High, nil
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
