package spine

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeHAL struct {
	speed      float64
	stallRead  time.Duration
	failReads  int // number of subsequent ReadSensors calls that return an error
	writeCount int
	stopCount  int
}

func (h *fakeHAL) ReadSensors() (SensorSample, error) {
	if h.stallRead > 0 {
		time.Sleep(h.stallRead)
	}
	if h.failReads > 0 {
		h.failReads--
		return SensorSample{}, errors.New("sensor read failed")
	}
	return SensorSample{SpeedRPM: h.speed, TemperatureC: 22}, nil
}

func (h *fakeHAL) WriteSpeed(v ValidatedSetpoint) error {
	h.speed = v.Value()
	h.writeCount++
	return nil
}

func (h *fakeHAL) EmergencyStop() error {
	h.speed = 0
	h.stopCount++
	return nil
}

type recordingSink struct {
	applied     []float64
	rejections []ViolationKind
	regressions int
	estops      int
	watchdogs   int
}

func (s *recordingSink) RecommendationApplied(sequence uint64, value float64) { s.applied = append(s.applied, value) }
func (s *recordingSink) SafetyRejection(v *SafetyViolation)                   { s.rejections = append(s.rejections, v.Kind) }
func (s *recordingSink) EmergencyStop()                                       { s.estops++ }
func (s *recordingSink) WatchdogTimeout()                                    { s.watchdogs++ }
func (s *recordingSink) SequenceRegressionDropped(got, last uint64)           { s.regressions++ }

func newTestThread(hal *fakeHAL, sink *recordingSink, limits SafetyLimits) (*IronThread, *Mailbox, *TripleBuffer) {
	tb := NewTimeBase()
	mbox := NewMailbox()
	pub := NewTripleBuffer()
	thread := NewIronThread(IronThreadConfig{
		Period:     time.Millisecond,
		WatchdogUS: 100000,
		Limits:     limits,
		Supervisor: DefaultSupervisorConfig(),
	}, tb, hal, mbox, pub, sink, nil)
	return thread, mbox, pub
}

func TestScenarioOverspeedRejection(t *testing.T) {
	hal := &fakeHAL{speed: 200}
	sink := &recordingSink{}
	limits := SafetyLimits{MinRPM: 0, MaxRPM: 3000, MaxRateRPMPerCycle: 50, MaxTempC: 80}
	thread, mbox, _ := newTestThread(hal, sink, limits)

	mbox.Put(CandidateSetpoint{Sequence: 1, TargetRPM: 5000, TTLUS: 1_000_000, ReceivedAt: thread.tb.NowUS()})
	thread.tick(time.Now())

	if thread.lastCommanded != 200 {
		t.Fatalf("expected commanded_rpm to remain 200, got %v", thread.lastCommanded)
	}
	if len(sink.rejections) != 1 || sink.rejections[0] != ExceedsMax {
		t.Fatalf("expected one ExceedsMax rejection, got %v", sink.rejections)
	}
}

func TestScenarioRateLimitedAccept(t *testing.T) {
	hal := &fakeHAL{speed: 200}
	sink := &recordingSink{}
	limits := SafetyLimits{MinRPM: 0, MaxRPM: 3000, MaxRateRPMPerCycle: 50, MaxTempC: 80}
	thread, mbox, _ := newTestThread(hal, sink, limits)

	mbox.Put(CandidateSetpoint{Sequence: 1, TargetRPM: 240,TTLUS: 1_000_000, ReceivedAt: thread.tb.NowUS()})
	thread.tick(time.Now())

	if thread.lastCommanded != 240 {
		t.Fatalf("expected commanded_rpm=240, got %v", thread.lastCommanded)
	}
	if len(sink.applied) != 1 || sink.applied[0] != 240 {
		t.Fatalf("expected RecommendationApplied(240), got %v", sink.applied)
	}
}

func TestScenarioSequenceRegression(t *testing.T) {
	hal := &fakeHAL{speed: 200}
	sink := &recordingSink{}
	limits := SafetyLimits{MinRPM: 0, MaxRPM: 3000, MaxRateRPMPerCycle: 1000, MaxTempC: 80}
	thread, mbox, _ := newTestThread(hal, sink, limits)

	for _, seq := range []uint64{10, 11, 9} {
		mbox.Put(CandidateSetpoint{Sequence: seq, TargetRPM: 210, TTLUS: 1_000_000, ReceivedAt: thread.tb.NowUS()})
		thread.tick(time.Now())
	}

	if thread.lastAppliedSeq != 11 {
		t.Fatalf("expected last_applied_sequence=11, got %d", thread.lastAppliedSeq)
	}
	if sink.regressions != 1 {
		t.Fatalf("expected 1 recorded sequence regression, got %d", sink.regressions)
	}
}

func TestScenarioWatchdogTripWithinOneCycle(t *testing.T) {
	hal := &fakeHAL{speed: 200, stallRead: 50 * time.Millisecond}
	sink := &recordingSink{}
	limits := SafetyLimits{MinRPM: 0, MaxRPM: 3000, MaxRateRPMPerCycle: 50, MaxTempC: 80}
	thread, _, _ := newTestThread(hal, sink, limits)
	thread.cfg.WatchdogUS = 10000

	deadline := time.Now()
	thread.tick(deadline)

	if thread.sup.State() != Safe {
		t.Fatalf("expected Safe after watchdog overrun, got %v", thread.sup.State())
	}
	if hal.stopCount != 1 {
		t.Fatalf("expected EmergencyStop called once, got %d", hal.stopCount)
	}
	if sink.watchdogs != 1 {
		t.Fatalf("expected one WatchdogTimeout audit event, got %d", sink.watchdogs)
	}
}

func TestScenarioHALReadFaultRetainsLastKnownSensorAndEscalates(t *testing.T) {
	hal := &fakeHAL{speed: 200}
	sink := &recordingSink{}
	limits := SafetyLimits{MinRPM: 0, MaxRPM: 3000, MaxRateRPMPerCycle: 50, MaxTempC: 80}
	thread, _, _ := newTestThread(hal, sink, limits)

	thread.tick(time.Now()) // establishes a good reading at speed=200

	hal.failReads = 5
	for i := 0; i < 5; i++ {
		thread.tick(time.Now())
	}

	if thread.lastSensor.SpeedRPM != 200 {
		t.Fatalf("expected last known sensor reading retained at 200, got %v", thread.lastSensor.SpeedRPM)
	}
	if thread.sup.State() != Degraded {
		t.Fatalf("expected Degraded after persistent HAL read failures, got %v", thread.sup.State())
	}
}

func TestRunExitsOnContextCancel(t *testing.T) {
	hal := &fakeHAL{speed: 0}
	sink := &recordingSink{}
	limits := SafetyLimits{MinRPM: 0, MaxRPM: 3000, MaxRateRPMPerCycle: 50, MaxTempC: 80}
	thread, _, _ := newTestThread(hal, sink, limits)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan ExitReason, 1)
	go func() { done <- thread.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case reason := <-done:
		if reason != ExitShutdown {
			t.Fatalf("expected ExitShutdown, got %v", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
