package spine

import "math"

// Validate runs the ordered firewall checks against a candidate setpoint and
// returns either a ValidatedSetpoint or the first SafetyViolation
// encountered. It is a pure function: no package state is read or mutated,
// and nowUS is the only external input besides its arguments.
//
// cycleIndex is the 0-based count of cycles executed so far (used by the
// warmup check); currentSpeed is last_commanded, i.e. the speed the
// actuator is presently holding.
func Validate(limits SafetyLimits, currentSpeed float64, sensor SensorSample, candidate CandidateSetpoint, cycleIndex uint64, nowUS int64) (*ValidatedSetpoint, *SafetyViolation) {
	target := candidate.TargetRPM

	if math.IsNaN(target) || math.IsInf(target, 0) {
		return nil, &SafetyViolation{Kind: NonFinite}
	}

	if target < limits.MinRPM {
		return nil, &SafetyViolation{Kind: BelowMin, Value: target, Min: limits.MinRPM}
	}
	if target > limits.MaxRPM {
		return nil, &SafetyViolation{Kind: ExceedsMax, Value: target, Max: limits.MaxRPM}
	}

	if sensor.TemperatureC > limits.MaxTempC && target > currentSpeed {
		return nil, &SafetyViolation{Kind: TemperatureInterlock, Temp: sensor.TemperatureC, MaxTemp: limits.MaxTempC}
	}

	if cycleIndex < limits.WarmupCycles {
		if target != 0 {
			return nil, &SafetyViolation{Kind: RateTooHigh, Delta: target - 0, MaxRate: limits.MaxRateRPMPerCycle}
		}
	} else if !limits.DisableRateLimit {
		delta := target - currentSpeed
		if math.Abs(delta) > limits.MaxRateRPMPerCycle {
			return nil, &SafetyViolation{Kind: RateTooHigh, Delta: delta, MaxRate: limits.MaxRateRPMPerCycle}
		}
	}

	return &ValidatedSetpoint{value: target, committedAt: nowUS}, nil
}
