package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"
)

func expectedSignature(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestNewSignerRequiresCredentials(t *testing.T) {
	if _, err := NewSigner("", "secret"); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := NewSigner("key", " "); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

func TestSignRequestCanonicalString(t *testing.T) {
	signer, err := NewSigner("key", "secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.FixedZone("CET", 3600))
	headers := signer.SignRequest(now, 1710000000000, "get", "api.ox.fun", "/v3/positions", "marketCode=ENA-USD-SWAP-LIN")

	if headers.Timestamp != "2024-03-09T13:05:07" {
		t.Fatalf("expected UTC timestamp, got %q", headers.Timestamp)
	}
	if headers.Nonce != "1710000000000" {
		t.Fatalf("unexpected nonce %q", headers.Nonce)
	}
	if headers.AccessKey != "key" {
		t.Fatalf("unexpected access key %q", headers.AccessKey)
	}
	want := expectedSignature("secret", "2024-03-09T13:05:07\n1710000000000\nGET\napi.ox.fun\n/v3/positions\nmarketCode=ENA-USD-SWAP-LIN")
	if headers.Signature != want {
		t.Fatalf("expected signature %q, got %q", want, headers.Signature)
	}
}

func TestSignLogin(t *testing.T) {
	signer, err := NewSigner("key", "secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	now := time.UnixMilli(1710000000123)
	login := signer.SignLogin(now)
	if login.Timestamp != "1710000000123" {
		t.Fatalf("unexpected login timestamp %q", login.Timestamp)
	}
	want := expectedSignature("secret", "1710000000123GET/auth/self/verify")
	if login.Signature != want {
		t.Fatalf("expected signature %q, got %q", want, login.Signature)
	}
	if login.APIKey != "key" {
		t.Fatalf("unexpected api key %q", login.APIKey)
	}
}
