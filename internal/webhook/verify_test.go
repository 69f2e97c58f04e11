package webhook

import (
	"errors"
	"strings"
	"testing"
)

func TestVerifySubscription_Valid(t *testing.T) {
	v := NewVerifier("my-token", "secret")
	got, err := v.VerifySubscription("subscribe", "my-token", "1158201444")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "1158201444" {
		t.Fatalf("challenge should be echoed unchanged, got %q", got)
	}
}

func TestVerifySubscription_Rejects(t *testing.T) {
	tests := []struct {
		name, configured, mode, token string
	}{
		{"wrong mode", "tok", "unsubscribe", "tok"},
		{"wrong token", "tok", "subscribe", "other"},
		{"empty mode", "tok", "", "tok"},
		{"unconfigured token", "", "subscribe", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.configured, "secret")
			_, err := v.VerifySubscription(tt.mode, tt.token, "abc")
			if !errors.Is(err, ErrVerification) {
				t.Fatalf("expected ErrVerification, got %v", err)
			}
		})
	}
}

func TestVerifySignature_Valid(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	v := NewVerifier("tok", "app-secret")
	if !v.VerifySignature(body, Sign("app-secret", body)) {
		t.Error("valid signature should verify")
	}
}

func TestVerifySignature_UppercaseHex(t *testing.T) {
	body := []byte(`{}`)
	sig := Sign("app-secret", body)
	upper := signaturePrefix + strings.ToUpper(sig[len(signaturePrefix):])
	if !NewVerifier("tok", "app-secret").VerifySignature(body, upper) {
		t.Error("hex case should not matter")
	}
}

func TestVerifySignature_Invalid(t *testing.T) {
	body := []byte(`{"a":1}`)
	v := NewVerifier("tok", "app-secret")

	cases := map[string]string{
		"empty":         "",
		"no prefix":     Sign("app-secret", body)[len(signaturePrefix):],
		"not hex":       "sha256=zzzz",
		"short":         "sha256=abcd",
		"wrong secret":  Sign("other-secret", body),
		"sha1 prefixed": "sha1=" + Sign("app-secret", body)[len(signaturePrefix):],
	}
	for name, header := range cases {
		if v.VerifySignature(body, header) {
			t.Errorf("%s: signature should not verify", name)
		}
	}
}

func TestVerifySignature_UsesRawBytes(t *testing.T) {
	// Same JSON value, different bytes.
	signed := []byte(`{"a": 1}`)
	sent := []byte(`{"a":1}`)
	v := NewVerifier("tok", "app-secret")
	if v.VerifySignature(sent, Sign("app-secret", signed)) {
		t.Error("re-serialized body must not verify")
	}
}

func TestVerifySignature_NoSecret(t *testing.T) {
	body := []byte(`{}`)
	if NewVerifier("tok", "").VerifySignature(body, Sign("", body)) {
		t.Error("an unconfigured secret must reject everything")
	}
}
