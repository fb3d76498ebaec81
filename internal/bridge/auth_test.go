package bridge

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	v := NewTokenValidator("s3cret", 30*time.Second)
	tok := MakeToken("s3cret", time.Now().Unix())
	if err := v.Validate(tok); err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	v := NewTokenValidator("s3cret", 30*time.Second)
	tok := MakeToken("wrong", time.Now().Unix())
	if err := v.Validate(tok); err == nil {
		t.Fatalf("expected rejection for wrong secret")
	}
}

func TestTokenSkewExceeded(t *testing.T) {
	v := NewTokenValidator("s3cret", 5*time.Second)
	tok := MakeToken("s3cret", time.Now().Add(-time.Minute).Unix())
	if err := v.Validate(tok); err == nil {
		t.Fatalf("expected rejection for excessive skew")
	}
}

func TestTokenMalformed(t *testing.T) {
	v := NewTokenValidator("s3cret", 30*time.Second)
	if err := v.Validate("not-base64!!!"); err == nil {
		t.Fatalf("expected rejection for malformed token")
	}
}

func TestValidatorDisabledWithoutSecret(t *testing.T) {
	v := NewTokenValidator("", 30*time.Second)
	if v.Enabled() {
		t.Fatalf("expected Enabled() false with empty secret")
	}
}
