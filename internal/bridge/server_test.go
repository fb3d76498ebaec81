package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hadijannat/NeuroPLC/internal/spine"
)

type fakeSink struct {
	rejections []spine.ViolationKind
	received   []uint64
}

func (f *fakeSink) SafetyRejection(v *spine.SafetyViolation)    { f.rejections = append(f.rejections, v.Kind) }
func (f *fakeSink) RecommendationReceived(seq uint64, _ int64)  { f.received = append(f.received, seq) }
func (f *fakeSink) ClientConnected(string, int64)               {}
func (f *fakeSink) ClientDisconnected(string, int64)             {}

func newTestServer(sink AuditSink) (*Server, *spine.Mailbox) {
	tb := spine.NewTimeBase()
	mbox := spine.NewMailbox()
	pub := spine.NewTripleBuffer()
	sup := spine.NewSupervisor(spine.DefaultSupervisorConfig())
	s := NewServer(Config{Framing: FramingJSON}, tb, mbox, pub, sup, sink, nil, nil)
	return s, mbox
}

func TestAdmitRecommendationEnqueuesToMailbox(t *testing.T) {
	sink := &fakeSink{}
	s, mbox := newTestServer(sink)
	c := &conn{state: stateRunning}

	s.admitRecommendation(c, RecommendationMessage{Sequence: 1, TargetRPM: 240, TTLMs: 500})

	got := mbox.Take()
	if got == nil || got.Sequence != 1 || got.TargetRPM != 240 {
		t.Fatalf("expected candidate enqueued, got %+v", got)
	}
	if len(sink.received) != 1 || sink.received[0] != 1 {
		t.Fatalf("expected RecommendationReceived(1), got %v", sink.received)
	}
}

func TestAdmitRecommendationSequenceRegressionDropped(t *testing.T) {
	sink := &fakeSink{}
	s, mbox := newTestServer(sink)
	c := &conn{state: stateRunning}

	s.admitRecommendation(c, RecommendationMessage{Sequence: 10, TargetRPM: 100, TTLMs: 500})
	mbox.Take()
	s.admitRecommendation(c, RecommendationMessage{Sequence: 11, TargetRPM: 110, TTLMs: 500})
	mbox.Take()
	s.admitRecommendation(c, RecommendationMessage{Sequence: 9, TargetRPM: 999, TTLMs: 500})

	if got := mbox.Take(); got != nil {
		t.Fatalf("expected regression to be dropped, got %+v", got)
	}
	if len(sink.rejections) != 1 || sink.rejections[0] != spine.SequenceRegression {
		t.Fatalf("expected one SequenceRegression rejection, got %v", sink.rejections)
	}
	if c.lastAccSeq != 11 {
		t.Fatalf("expected last_applied_sequence to remain 11, got %d", c.lastAccSeq)
	}
}

func TestAdmitRecommendationInvalidTokenDropped(t *testing.T) {
	sink := &fakeSink{}
	tb := spine.NewTimeBase()
	mbox := spine.NewMailbox()
	pub := spine.NewTripleBuffer()
	sup := spine.NewSupervisor(spine.DefaultSupervisorConfig())
	s := NewServer(Config{Framing: FramingJSON, AuthSecret: "s3cret", AuthMaxAge: 30 * time.Second}, tb, mbox, pub, sup, sink, nil, nil)
	c := &conn{state: stateRunning}

	s.admitRecommendation(c, RecommendationMessage{Sequence: 1, TargetRPM: 240, TTLMs: 500, Token: "garbage"})

	if got := mbox.Take(); got != nil {
		t.Fatalf("expected token-invalid recommendation dropped, got %+v", got)
	}
	if len(sink.rejections) != 1 || sink.rejections[0] != spine.TokenInvalid {
		t.Fatalf("expected TokenInvalid rejection, got %v", sink.rejections)
	}
}

func TestHandleFrameRejectsWrongVersion(t *testing.T) {
	s, _ := newTestServer(&fakeSink{})
	c := &conn{state: stateRunning}
	raw, _ := json.Marshal(RecommendationMessage{Type: TypeRecommendation, Version: 2, Sequence: 1})
	if keepOpen := s.handleFrame(c, raw); keepOpen {
		t.Fatalf("expected connection to close on wrong version")
	}
}

func TestHandleFrameRequiresHelloFirst(t *testing.T) {
	s, _ := newTestServer(&fakeSink{})
	c := &conn{state: stateAwaitingHello}
	raw, _ := json.Marshal(RecommendationMessage{Type: TypeRecommendation, Version: SupportedVersion, Sequence: 1})
	if keepOpen := s.handleFrame(c, raw); keepOpen {
		t.Fatalf("expected connection to close when hello required but not sent first")
	}
}

func TestHandleFrameHelloTransitionsToRunning(t *testing.T) {
	s, _ := newTestServer(&fakeSink{})
	c := &conn{state: stateAwaitingHello}
	raw, _ := json.Marshal(HelloMessage{Type: TypeHello, Version: SupportedVersion, ClientID: "abc"})
	if keepOpen := s.handleFrame(c, raw); !keepOpen {
		t.Fatalf("expected connection to stay open after hello")
	}
	if c.state != stateRunning {
		t.Fatalf("expected state Running after hello, got %v", c.state)
	}
}

func TestHandleFrameResetClearsSupervisor(t *testing.T) {
	tb := spine.NewTimeBase()
	mbox := spine.NewMailbox()
	pub := spine.NewTripleBuffer()
	sup := spine.NewSupervisor(spine.DefaultSupervisorConfig())
	sup.Update(spine.CycleResult{WatchdogFired: true})
	if sup.State() != spine.Safe {
		t.Fatalf("setup failed: expected Safe")
	}
	s := NewServer(Config{Framing: FramingJSON}, tb, mbox, pub, sup, &fakeSink{}, nil, nil)
	c := &conn{state: stateRunning}
	raw, _ := json.Marshal(ResetMessage{Type: TypeReset, Version: SupportedVersion})
	s.handleFrame(c, raw)
	if sup.State() != spine.Normal {
		t.Fatalf("expected Normal after reset, got %v", sup.State())
	}
}
