package spine

import (
	"context"
	"math"
	"time"

	"github.com/hadijannat/NeuroPLC/internal/circuitbreaker"
)

// AuditSink is the narrow interface the iron thread needs from the audit
// subsystem. Accepting this interface here (instead of importing the audit
// package) keeps the real-time path decoupled from the hash-chain/JSON
// details of how events are persisted.
type AuditSink interface {
	RecommendationApplied(sequence uint64, value float64)
	SafetyRejection(v *SafetyViolation)
	EmergencyStop()
	WatchdogTimeout()
	SequenceRegressionDropped(got, last uint64)
}

// MetricsSink is the narrow interface the iron thread needs from the
// telemetry subsystem, decoupled the same way AuditSink is.
type MetricsSink interface {
	CycleObserved(jitterUS int32)
	RejectionObserved(kind string)
	ApplyObserved()
	WatchdogObserved()
}

// IronThreadConfig bundles the tunables from spec §6's CLI surface that
// govern cycle behavior.
type IronThreadConfig struct {
	Period       time.Duration
	WatchdogUS   int64
	RunDuration  time.Duration // 0 means run until ctx is cancelled
	Limits       SafetyLimits
	Supervisor   SupervisorConfig
	StopOnSafe   bool
}

// IronThread is the fixed-cadence real-time control loop (C4). It owns the
// actuator HAL and the safety state machine exclusively; the only
// cross-thread surfaces it touches are the TripleBuffer, the Mailbox, and
// the AuditSink.
type IronThread struct {
	cfg     IronThreadConfig
	tb      *TimeBase
	hal     HAL
	mbox    *Mailbox
	pub     *TripleBuffer
	sup     *Supervisor
	sink    AuditSink
	metrics MetricsSink

	// haReadBreaker/haWriteBreaker guard the two HAL calls. Each cycle makes
	// at most one call of each; a failed call is not repeated within the
	// same cycle, and the next cycle tries again while the breaker is
	// Closed. After MaxFailures consecutive failures the breaker trips Open
	// and fast-fails until its reset timeout allows a probe.
	haReadBreaker  *circuitbreaker.Breaker
	haWriteBreaker *circuitbreaker.Breaker
	lastSensor     SensorSample
	haveLastSensor bool

	lastCommanded      float64
	lastAppliedSeq     uint64
	haveLastAppliedSeq bool
	cycleIndex         uint64

	// lastCandidate/lastCandidateAt track the most recent recommendation
	// seen (accepted or not) purely to compute mailbox staleness per §4.3(b)
	// when the mailbox goes empty.
	haveLastCandidate bool
	lastCandidateAt   int64
}

// NewIronThread wires the loop's collaborators together. hal, mbox, pub and
// sink must not be nil. metrics may be nil (e.g. in tests).
func NewIronThread(cfg IronThreadConfig, tb *TimeBase, hal HAL, mbox *Mailbox, pub *TripleBuffer, sink AuditSink, metrics MetricsSink) *IronThread {
	resetTimeout := cfg.Period * 50
	if resetTimeout <= 0 {
		resetTimeout = time.Second
	}
	breakerCfg := circuitbreaker.Config{MaxFailures: 3, ResetTimeout: resetTimeout}
	return &IronThread{
		cfg:            cfg,
		tb:             tb,
		hal:            hal,
		mbox:           mbox,
		pub:            pub,
		sup:            NewSupervisor(cfg.Supervisor),
		sink:           sink,
		metrics:        metrics,
		haReadBreaker:  circuitbreaker.New("hal_read", breakerCfg, nil),
		haWriteBreaker: circuitbreaker.New("hal_write", breakerCfg, nil),
	}
}

// Supervisor exposes the safety state machine for inspection/reset from
// outside the loop (e.g. a bridge "reset" admission).
func (t *IronThread) Supervisor() *Supervisor { return t.sup }

// Run drives the loop until ctx is cancelled, RunDuration elapses, or
// (StopOnSafe is set and) the supervisor latches Safe. It returns the exit
// reason so the caller (cmd/neuroplc) can pick the right process exit code.
func (t *IronThread) Run(ctx context.Context) ExitReason {
	t0 := time.Now()
	deadline := t0

	var runUntil time.Time
	hasDeadline := t.cfg.RunDuration > 0
	if hasDeadline {
		runUntil = t0.Add(t.cfg.RunDuration)
	}

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return ExitShutdown
		default:
		}

		if hasDeadline && time.Now().After(runUntil) {
			t.shutdown()
			return ExitNormal
		}

		// tick runs against the deadline just reached (t0 for the very first
		// cycle, otherwise the time sleepUntil was last asked to reach), so
		// jitterUS measures actual_wake - target instead of being biased by
		// a full Period.
		t.tick(deadline)
		t.cycleIndex++

		if t.cfg.StopOnSafe && t.sup.State() == Safe {
			t.shutdown()
			return ExitSafeLatched
		}

		deadline = deadline.Add(t.cfg.Period)
		sleepUntil(deadline)
	}
}

func (t *IronThread) shutdown() {
	_ = t.hal.EmergencyStop()
}

// tick executes exactly one cycle body per spec §4.4. No heap allocation
// occurs here beyond what Go's escape analysis cannot avoid for interface
// calls into the HAL.
func (t *IronThread) tick(targetDeadline time.Time) {
	var sensor SensorSample
	halFault := false
	readErr := t.haReadBreaker.Execute(context.Background(), func(context.Context) error {
		s, err := t.hal.ReadSensors()
		if err != nil {
			return err
		}
		sensor = s
		return nil
	})
	if readErr != nil {
		// Transient or breaker-tripped read failure: retain the last known
		// sensor values (spec §4.4 step 1) and count this as a HAL fault so
		// persistent failures escalate the supervisor to Degraded (§7).
		halFault = true
		if t.haveLastSensor {
			sensor = t.lastSensor
		}
	} else {
		t.lastSensor = sensor
		t.haveLastSensor = true
	}

	sensorNonFinite := math.IsNaN(sensor.SpeedRPM) || math.IsInf(sensor.SpeedRPM, 0) ||
		math.IsNaN(sensor.TemperatureC) || math.IsInf(sensor.TemperatureC, 0)

	// Jitter is measured once the HAL read (the one unbounded-ish call in
	// the cycle body) has returned, so a stalled sensor read shows up as
	// overrun the same cycle it happens in rather than the next one.
	jitterUS := int32(time.Since(targetDeadline).Microseconds())

	var candidate *CandidateSetpoint
	var staleUS int64
	if raw := t.mbox.Take(); raw != nil {
		age := t.tb.NowUS() - raw.ReceivedAt
		if t.haveLastAppliedSeq && raw.Sequence <= t.lastAppliedSeq {
			t.sink.SequenceRegressionDropped(raw.Sequence, t.lastAppliedSeq)
			if t.metrics != nil {
				t.metrics.RejectionObserved(SequenceRegression.String())
			}
		} else if age > int64(raw.TTLUS) {
			// Stale by its own TTL: treated as absent this cycle, but still
			// an auditable/observable rejection in its own right.
			v := &SafetyViolation{Kind: TtlExceeded, AgeUS: age, LimitUS: int64(raw.TTLUS)}
			t.sink.SafetyRejection(v)
			if t.metrics != nil {
				t.metrics.RejectionObserved(v.Kind.String())
			}
		} else {
			candidate = raw
		}
		t.haveLastCandidate = true
		t.lastCandidateAt = t.tb.NowUS()
	} else if t.haveLastCandidate {
		age := t.tb.NowUS() - t.lastCandidateAt
		if age > t.cfg.Limits.StateStaleUS {
			staleUS = age
			v := &SafetyViolation{Kind: Stale, AgeUS: age, LimitUS: t.cfg.Limits.StateStaleUS}
			t.sink.SafetyRejection(v)
			if t.metrics != nil {
				t.metrics.RejectionObserved(v.Kind.String())
			}
		}
	}

	var violation *SafetyViolation
	if candidate != nil {
		var validated *ValidatedSetpoint
		validated, violation = Validate(t.cfg.Limits, t.lastCommanded, sensor, *candidate, t.cycleIndex, t.tb.NowUS())
		if violation != nil {
			t.sink.SafetyRejection(violation)
			if t.metrics != nil {
				t.metrics.RejectionObserved(violation.Kind.String())
			}
		} else {
			writeErr := t.haWriteBreaker.Execute(context.Background(), func(context.Context) error {
				return t.hal.WriteSpeed(*validated)
			})
			if writeErr == nil {
				t.lastCommanded = validated.Value()
				t.lastAppliedSeq = candidate.Sequence
				t.haveLastAppliedSeq = true
				t.sink.RecommendationApplied(candidate.Sequence, validated.Value())
				if t.metrics != nil {
					t.metrics.ApplyObserved()
				}
			}
		}
	}

	watchdogFired := jitterUS > 0 && int64(jitterUS) > t.cfg.WatchdogUS

	mustZero := t.sup.Update(CycleResult{
		Violation:       violation,
		JitterUS:        jitterUS,
		WatchdogFired:   watchdogFired,
		MailboxStaleUS:  staleUS,
		SensorNonFinite: sensorNonFinite,
		HALFault:        halFault,
	})

	if t.metrics != nil {
		t.metrics.CycleObserved(jitterUS)
	}

	if watchdogFired {
		t.sink.WatchdogTimeout()
		if t.metrics != nil {
			t.metrics.WatchdogObserved()
		}
	}
	if mustZero {
		_ = t.hal.EmergencyStop()
		t.lastCommanded = 0
		t.sink.EmergencyStop()
	}

	lastViolation, hasViolation := t.sup.LastViolation()
	frame := StateFrame{
		Sensor:           sensor,
		CommandedRPM:     t.lastCommanded,
		CycleCount:       t.cycleIndex,
		SafetyState:      t.sup.State(),
		LastViolation:    lastViolation,
		HasLastViolation: hasViolation,
		JitterUS:         jitterUS,
	}
	t.pub.Write(frame)
}

// ExitReason mirrors the CLI exit-code taxonomy in spec §6.
type ExitReason int

const (
	ExitNormal ExitReason = iota
	ExitShutdown
	ExitSafeLatched
	ExitWatchdogTrip
	ExitHALFailure
)

func sleepUntil(t time.Time) {
	d := time.Until(t)
	if d <= 0 {
		return
	}
	// Sleep for all but the last slice, then spin: matches the Rust
	// spin_loop() tail used for sub-millisecond deadlines without handing
	// the scheduler a full timer-quantum's worth of slack.
	const spinWindow = 100 * time.Microsecond
	if d > spinWindow {
		time.Sleep(d - spinWindow)
	}
	for time.Now().Before(t) {
	}
}
