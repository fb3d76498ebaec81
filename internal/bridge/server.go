package bridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hadijannat/NeuroPLC/internal/spine"
)

// AuditSink is the subset of audit.Logger the bridge needs. Declared here
// (rather than importing the concrete type) so tests can supply a fake.
type AuditSink interface {
	SafetyRejection(v *spine.SafetyViolation)
	RecommendationReceived(sequence uint64, nowUS int64)
	ClientConnected(clientID string, nowUS int64)
	ClientDisconnected(clientID string, nowUS int64)
}

// MetricsSink is the narrow interface the bridge needs from the telemetry
// subsystem, decoupled the same way AuditSink is.
type MetricsSink interface {
	ConnectionOpened()
	ConnectionClosed()
	RejectionObserved(kind string)
}

// Config configures the listener and its admission policy.
type Config struct {
	Addr             string
	Framing          Framing
	RequireHandshake bool
	AuthSecret       string
	AuthMaxAge       time.Duration
	PublishHz        float64 // 0 falls back to 100 Hz; cmd/neuroplc passes cycle_rate/10
	// TLSConfig is optional; when non-nil, Serve wraps the listener with it
	// instead of listening in the clear. The caller (cmd/neuroplc) builds
	// this from --tls-cert/--tls-key via internal/tlsconfig.
	TLSConfig *tls.Config
}

// Server accepts bridge connections, admits inbound recommendations into
// the Mailbox, and publishes StateFrames read from the TripleBuffer.
type Server struct {
	cfg     Config
	tb      *spine.TimeBase
	mbox    *spine.Mailbox
	pub     *spine.TripleBuffer
	sup     *spine.Supervisor
	sink    AuditSink
	metrics MetricsSink
	auth    *TokenValidator
	lg      *slog.Logger

	listener net.Listener

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewServer constructs a bridge server. sup is used only to honor a
// `reset` message's effect on the safety state machine. metrics may be
// nil (e.g. in tests).
func NewServer(cfg Config, tb *spine.TimeBase, mbox *spine.Mailbox, pub *spine.TripleBuffer, sup *spine.Supervisor, sink AuditSink, metrics MetricsSink, lg *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		tb:      tb,
		mbox:    mbox,
		pub:     pub,
		sup:     sup,
		sink:    sink,
		metrics: metrics,
		auth:    NewTokenValidator(cfg.AuthSecret, cfg.AuthMaxAge),
		lg:      lg,
		conns:   make(map[*conn]struct{}),
	}
}

// Serve listens and accepts connections until ctx is cancelled. When
// cfg.TLSConfig is set, the listener is wrapped so every accepted
// connection negotiates TLS before admission processing begins.
func (s *Server) Serve(ctx context.Context) error {
	var ln net.Listener
	var err error
	if s.cfg.TLSConfig != nil {
		ln, err = tls.Listen("tcp", s.cfg.Addr, s.cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", s.cfg.Addr)
	}
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if s.lg != nil {
				s.lg.Warn("bridge accept error", "error", err)
			}
			continue
		}
		c := s.newConn(nc)
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(ctx, c)
	}
}

// Close stops the listener and closes all live connections.
func (s *Server) Close() error {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.nc.Close()
	}
	return nil
}

type connState int

const (
	stateAccept connState = iota
	stateAwaitingHello
	stateRunning
	stateClosed
)

type conn struct {
	nc       net.Conn
	reader   FrameReader
	writer   FrameWriter
	state    connState
	clientID string

	mu          sync.Mutex
	lastAccSeq  uint64
	haveLastSeq bool
}

func (s *Server) newConn(nc net.Conn) *conn {
	c := &conn{
		nc:     nc,
		reader: NewFrameReader(s.cfg.Framing, nc),
		writer: NewFrameWriter(s.cfg.Framing, nc),
		state:  stateAccept,
	}
	if s.cfg.RequireHandshake {
		c.state = stateAwaitingHello
	} else {
		c.state = stateRunning
	}
	return c
}

func (s *Server) serveConn(ctx context.Context, c *conn) {
	clientID := uuid.NewString()
	c.clientID = clientID
	if s.sink != nil {
		s.sink.ClientConnected(clientID, s.tb.NowUS())
	}
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}

	defer func() {
		c.nc.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		if s.sink != nil {
			s.sink.ClientDisconnected(clientID, s.tb.NowUS())
		}
		if s.metrics != nil {
			s.metrics.ConnectionClosed()
		}
	}()

	// Each connection gets its own publisher goroutine so a slow/blocked
	// writer never stalls admission processing on the same socket.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.publishLoop(ctx, c)
	}()

	for {
		raw, err := c.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrOversizedFrame) {
				if s.lg != nil {
					s.lg.Warn("bridge: oversized frame, closing connection", "client", clientID)
				}
			} else if err != io.EOF && s.lg != nil {
				s.lg.Debug("bridge: read error, closing connection", "client", clientID, "error", err)
			}
			return
		}
		if len(raw) == 0 {
			continue
		}
		if !s.handleFrame(c, raw) {
			return
		}
	}
}

// handleFrame runs the admission pipeline for one inbound frame. It returns
// false if the connection must be closed.
func (s *Server) handleFrame(c *conn, raw []byte) bool {
	env, err := sniffType(raw)
	if err != nil {
		// Malformed JSON: drop message, keep connection (spec §4.5 step 5).
		return true
	}

	if env.Version != SupportedVersion {
		if s.lg != nil {
			s.lg.Warn("bridge: wrong protocol version, closing", "client", c.clientID, "version", env.Version)
		}
		if s.sink != nil {
			s.sink.SafetyRejection(&spine.SafetyViolation{Kind: spine.WrongVersion})
		}
		if s.metrics != nil {
			s.metrics.RejectionObserved(spine.WrongVersion.String())
		}
		return false
	}

	if c.state == stateAwaitingHello && env.Type != TypeHello {
		if s.lg != nil {
			s.lg.Warn("bridge: expected hello, closing", "client", c.clientID)
		}
		return false
	}

	switch env.Type {
	case TypeHello:
		var h HelloMessage
		if err := json.Unmarshal(raw, &h); err != nil {
			return true
		}
		if s.auth.Enabled() {
			if err := s.auth.Validate(h.Token); err != nil {
				if s.lg != nil {
					s.lg.Warn("bridge: hello token invalid", "client", c.clientID)
				}
				return true
			}
		}
		if h.ClientID != "" {
			c.clientID = h.ClientID
		}
		c.state = stateRunning
		return true

	case TypeRecommendation:
		var rec RecommendationMessage
		if err := json.Unmarshal(raw, &rec); err != nil {
			return true
		}
		s.admitRecommendation(c, rec)
		return true

	case TypeReset:
		var rm ResetMessage
		if err := json.Unmarshal(raw, &rm); err != nil {
			return true
		}
		if s.auth.Enabled() {
			if err := s.auth.Validate(rm.Token); err != nil {
				return true
			}
		}
		if s.sup != nil {
			s.sup.Reset()
		}
		return true

	default:
		// Unknown/unexpected type (e.g. a client sending "state"): drop.
		return true
	}
}

func (s *Server) admitRecommendation(c *conn, rec RecommendationMessage) {
	if s.auth.Enabled() {
		if err := s.auth.Validate(rec.Token); err != nil {
			if s.sink != nil {
				s.sink.SafetyRejection(&spine.SafetyViolation{Kind: spine.TokenInvalid})
			}
			if s.metrics != nil {
				s.metrics.RejectionObserved(spine.TokenInvalid.String())
			}
			return
		}
	}

	c.mu.Lock()
	if c.haveLastSeq && rec.Sequence <= c.lastAccSeq {
		c.mu.Unlock()
		if s.sink != nil {
			s.sink.SafetyRejection(&spine.SafetyViolation{
				Kind: spine.SequenceRegression,
				Got:  rec.Sequence,
				Last: c.lastAccSeq,
			})
		}
		if s.metrics != nil {
			s.metrics.RejectionObserved(spine.SequenceRegression.String())
		}
		return
	}
	c.lastAccSeq = rec.Sequence
	c.haveLastSeq = true
	c.mu.Unlock()

	now := s.tb.NowUS()
	if s.sink != nil {
		s.sink.RecommendationReceived(rec.Sequence, now)
	}

	s.mbox.Put(spine.CandidateSetpoint{
		TargetRPM:  rec.TargetRPM,
		Confidence: rec.Confidence,
		Sequence:   rec.Sequence,
		TTLUS:      rec.TTLMs * 1000,
		ReceivedAt: now,
	})
}

// publishLoop pushes StateFrames to this connection at the configured
// bounded rate, dropping the oldest undelivered frame rather than blocking
// the iron thread (spec §4.5 "Outbound").
func (s *Server) publishLoop(ctx context.Context, c *conn) {
	hz := s.cfg.PublishHz
	if hz <= 0 {
		hz = 100 // fallback; cmd/neuroplc normally resolves cycle_rate/10
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := s.pub.Read()
			msg := toStateMessage(frame)
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			c.nc.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
			if err := c.writer.WriteFrame(payload); err != nil {
				// Write would block or failed: latest-wins means we simply
				// try again next tick rather than queueing.
				continue
			}
		}
	}
}

func toStateMessage(f spine.StateFrame) StateMessage {
	msg := StateMessage{
		Type:         TypeState,
		Version:      SupportedVersion,
		Cycle:        f.CycleCount,
		TSUS:         uint64(f.Sensor.TimestampUS),
		SpeedRPM:     f.Sensor.SpeedRPM,
		TemperatureC: f.Sensor.TemperatureC,
		PressureBar:  f.Sensor.PressureBar,
		CommandedRPM: f.CommandedRPM,
		SafetyState:  f.SafetyState.String(),
		JitterUS:     f.JitterUS,
	}
	if f.HasLastViolation {
		v := f.LastViolation.String()
		msg.LastViolation = &v
	}
	return msg
}
