package spine

import (
	"math"
	"math/rand"
)

// HAL is the hardware abstraction the iron thread drives. Every call must
// return within T/4 of the configured cycle period; implementations that
// cannot guarantee this (e.g. a real Modbus link) are expected to enforce
// their own bounded timeout and report it as a transient error.
type HAL interface {
	ReadSensors() (SensorSample, error)
	WriteSpeed(ValidatedSetpoint) error
	EmergencyStop() error
}

// SimHAL is a simple in-process plant model: speed drifts toward the last
// commanded value, temperature rises with load, pressure tracks speed. It
// exists so the iron thread and bridge can be exercised without real
// hardware or a Modbus/OPC UA link, which are out of scope here.
type SimHAL struct {
	tb *TimeBase

	speed       float64
	temperature float64
	pressure    float64
	rng         *rand.Rand
}

// NewSimHAL constructs a simulated plant starting at rest and ambient
// temperature.
func NewSimHAL(tb *TimeBase) *SimHAL {
	return &SimHAL{
		tb:          tb,
		temperature: 22.0,
		pressure:    1.0,
		rng:         rand.New(rand.NewSource(1)),
	}
}

func (h *SimHAL) ReadSensors() (SensorSample, error) {
	h.speed += (h.rng.Float64() - 0.5) * 0.5
	h.temperature += h.speed / 20000.0
	h.pressure = 1.0 + h.speed/5000.0

	return SensorSample{
		SpeedRPM:     h.speed,
		TemperatureC: h.temperature,
		PressureBar:  h.pressure,
		TimestampUS:  h.tb.NowUS(),
	}, nil
}

func (h *SimHAL) WriteSpeed(v ValidatedSetpoint) error {
	target := v.Value()
	if math.IsNaN(target) {
		return nil
	}
	step := target - h.speed
	h.speed += step * 0.2
	return nil
}

func (h *SimHAL) EmergencyStop() error {
	h.speed = 0
	return nil
}
