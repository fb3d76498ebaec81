package bridge

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrTokenInvalid covers every way a token can fail validation: malformed
// encoding, bad HMAC, or excessive clock skew. Callers only need to know
// it failed, not which sub-reason, to emit the TokenInvalid violation.
var ErrTokenInvalid = errors.New("bridge: token invalid")

// TokenValidator checks the `base64(ts_secs ":" HMAC-SHA256(ts_secs,
// secret))` tokens specified in spec §4.5/§6. This is the one place wall
// clock is used, per spec §9's documented exception.
type TokenValidator struct {
	secret  []byte
	maxSkew time.Duration
}

// NewTokenValidator builds a validator. An empty secret means auth is not
// configured; callers should skip validation entirely in that case (the
// admission pipeline checks this via Enabled()).
func NewTokenValidator(secret string, maxSkew time.Duration) *TokenValidator {
	return &TokenValidator{secret: []byte(secret), maxSkew: maxSkew}
}

// Enabled reports whether an auth secret was configured.
func (v *TokenValidator) Enabled() bool { return len(v.secret) > 0 }

// Validate checks token against the current wall-clock time.
func (v *TokenValidator) Validate(token string) error {
	return v.validateAt(token, time.Now())
}

func (v *TokenValidator) validateAt(token string, now time.Time) error {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenInvalid
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return ErrTokenInvalid
	}
	tsSecsStr, mac := parts[0], parts[1]

	tsSecs, err := strconv.ParseInt(tsSecsStr, 10, 64)
	if err != nil {
		return ErrTokenInvalid
	}

	skew := now.Unix() - tsSecs
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > v.maxSkew {
		return ErrTokenInvalid
	}

	expected := computeMAC(v.secret, tsSecsStr)
	if subtle.ConstantTimeCompare([]byte(mac), []byte(expected)) != 1 {
		return ErrTokenInvalid
	}
	return nil
}

func computeMAC(secret []byte, tsSecsStr string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(tsSecsStr))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// MakeToken is a helper for clients/tests: builds a valid token for the
// given secret and wall-clock second.
func MakeToken(secret string, tsSecs int64) string {
	tsSecsStr := strconv.FormatInt(tsSecs, 10)
	mac := computeMAC([]byte(secret), tsSecsStr)
	return base64.StdEncoding.EncodeToString([]byte(tsSecsStr + ":" + mac))
}
