package spine

// SupervisorConfig carries the hysteresis thresholds. Defaults are chosen
// and documented here rather than hardcoded, per the open jitter-threshold
// question: jitter figures are picked to trip meaningfully earlier than a
// full watchdog window.
type SupervisorConfig struct {
	JitterWarnUS int32
	JitterTripUS int32
	K            int // consecutive-cycle threshold for Normal<->Degraded
	R            int // consecutive-rejection threshold for Degraded
}

// DefaultSupervisorConfig returns the documented defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		JitterWarnUS: 200,
		JitterTripUS: 800,
		K:            5,
		R:            3,
	}
}

// CycleResult is what the iron thread hands the supervisor once per cycle.
type CycleResult struct {
	Violation      *SafetyViolation
	JitterUS       int32
	WatchdogFired  bool
	MailboxStaleUS int64 // age of the last seen candidate if mailbox was empty, else 0
	SensorNonFinite bool
	HALFault       bool // HAL read failed this cycle; last known sensor values were retained
}

// Supervisor owns the safety state machine. It is single-threaded: only the
// iron thread calls Update.
type Supervisor struct {
	cfg SupervisorConfig

	state SafetyState

	jitterWarnStreak  int
	cleanStreak       int
	rejectionStreak   int
	halFaultStreak    int
	lastViolationKind ViolationKind
	hasLastViolation  bool
}

// NewSupervisor constructs a supervisor in the initial Normal state.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{cfg: cfg, state: Normal}
}

// State returns the current safety state.
func (s *Supervisor) State() SafetyState { return s.state }

// LastViolation returns the most recently recorded violation kind, if any.
func (s *Supervisor) LastViolation() (ViolationKind, bool) {
	return s.lastViolationKind, s.hasLastViolation
}

// Update evaluates one cycle's outcome and advances the state machine.
// It returns true if the actuator must be zeroed this cycle (a Trip->Safe
// transition just occurred).
func (s *Supervisor) Update(r CycleResult) (mustZero bool) {
	if r.Violation != nil {
		s.lastViolationKind = r.Violation.Kind
		s.hasLastViolation = true
		s.rejectionStreak++
		s.cleanStreak = 0
	} else {
		s.rejectionStreak = 0
		s.cleanStreak++
	}

	if r.JitterUS > s.cfg.JitterWarnUS {
		s.jitterWarnStreak++
	} else {
		s.jitterWarnStreak = 0
	}

	if r.HALFault {
		s.halFaultStreak++
	} else {
		s.halFaultStreak = 0
	}

	tripping := false

	switch s.state {
	case Normal:
		staleMailbox := r.MailboxStaleUS > 0
		if s.jitterWarnStreak >= s.cfg.K || staleMailbox || s.rejectionStreak >= s.cfg.R || s.halFaultStreak >= s.cfg.K {
			s.state = Degraded
			s.cleanStreak = 0
		}
	case Degraded:
		if r.JitterUS > s.cfg.JitterTripUS || s.rejectionStreak >= 2*s.cfg.R || r.SensorNonFinite {
			tripping = true
		} else if s.cleanStreak >= 2*s.cfg.K {
			s.state = Normal
			s.jitterWarnStreak = 0
		}
	case Safe:
		// Latched until Reset is called explicitly.
	}

	// A watchdog timeout trips from any state. Trip is never observed as a
	// standing state: the same cycle that detects it also commands the
	// actuator to zero and latches Safe.
	if r.WatchdogFired && s.state != Safe {
		tripping = true
	}

	if tripping {
		s.state = Safe
		mustZero = true
	}

	return mustZero
}

// Reset clears the latch and returns the supervisor to Normal. It is the
// explicit external reset the specification requires for leaving Safe.
func (s *Supervisor) Reset() {
	s.state = Normal
	s.jitterWarnStreak = 0
	s.cleanStreak = 0
	s.rejectionStreak = 0
	s.halFaultStreak = 0
	s.hasLastViolation = false
}
