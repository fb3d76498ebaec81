// Package bridge implements the wire protocol and per-connection admission
// controls between the advisor ("cortex") and the iron thread: framing
// (newline-delimited JSON or length-prefixed binary), handshake, token
// check, and sequence/TTL admission.
package bridge

import "fmt"

// SupportedVersion is the only protocol major version this bridge accepts.
const SupportedVersion = 1

// MessageType tags the three JSON message kinds plus the reset extension
// SPEC_FULL.md adds to make Safe-latch testing possible in-process.
type MessageType string

const (
	TypeHello          MessageType = "hello"
	TypeRecommendation MessageType = "recommendation"
	TypeState          MessageType = "state"
	TypeReset          MessageType = "reset"
)

// HelloMessage is the optional handshake frame.
type HelloMessage struct {
	Type     MessageType `json:"type"`
	Version  int         `json:"version"`
	ClientID string      `json:"client_id"`
	Token    string      `json:"token,omitempty"`
}

// RecommendationMessage is an inbound advisory setpoint.
type RecommendationMessage struct {
	Type       MessageType `json:"type"`
	Version    int         `json:"version"`
	Sequence   uint64      `json:"sequence"`
	TargetRPM  float64     `json:"target_rpm"`
	Confidence float64     `json:"confidence"`
	TTLMs      uint32      `json:"ttl_ms"`
	Token      string      `json:"token,omitempty"`
}

// StateMessage is the outbound published state.
type StateMessage struct {
	Type         MessageType `json:"type"`
	Version      int         `json:"version"`
	Cycle        uint64      `json:"cycle"`
	TSUS         uint64      `json:"ts_us"`
	SpeedRPM     float64     `json:"speed_rpm"`
	TemperatureC float64     `json:"temperature_c"`
	PressureBar  float64     `json:"pressure_bar"`
	CommandedRPM float64     `json:"commanded_rpm"`
	SafetyState  string      `json:"safety_state"`
	LastViolation *string    `json:"last_violation,omitempty"`
	JitterUS     int32       `json:"jitter_us"`
}

// ResetMessage requests the supervisor leave the latched Safe state. It is
// an addition to the three wire message kinds named in spec §4.5/§6,
// introduced to make the Safe-latch-until-explicit-reset property
// (spec §4.3, §9 open question) testable end to end through the bridge.
type ResetMessage struct {
	Type    MessageType `json:"type"`
	Version int         `json:"version"`
	Token   string      `json:"token,omitempty"`
}

// envelope is used only to sniff the `type` field before decoding into the
// concrete message struct.
type envelope struct {
	Type    MessageType `json:"type"`
	Version int         `json:"version"`
}

// MaxFrameBytes is the oversized-frame cutoff (spec §4.5 step 5): frames
// larger than this close the connection rather than merely being dropped.
const MaxFrameBytes = 64 * 1024

// ErrOversizedFrame is returned by the frame reader when a frame exceeds
// MaxFrameBytes.
var ErrOversizedFrame = fmt.Errorf("frame exceeds %d bytes", MaxFrameBytes)
