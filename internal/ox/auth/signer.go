package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the UTC second-resolution layout the REST API expects
// in the Timestamp header.
const TimestampLayout = "2006-01-02T15:04:05"

const wsLoginPath = "GET/auth/self/verify"

type Signer struct {
	apiKey string
	secret []byte
}

func NewSigner(apiKey, apiSecret string) (*Signer, error) {
	apiKey = strings.TrimSpace(apiKey)
	apiSecret = strings.TrimSpace(apiSecret)
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	if apiSecret == "" {
		return nil, errors.New("api secret is required")
	}
	return &Signer{apiKey: apiKey, secret: []byte(apiSecret)}, nil
}

func (s *Signer) APIKey() string {
	return s.apiKey
}

// RequestHeaders carries the authentication headers for one REST call.
type RequestHeaders struct {
	AccessKey string
	Timestamp string
	Nonce     string
	Signature string
}

// SignRequest signs "ts\nnonce\nMETHOD\nhost\npath\npayload" where payload
// is the JSON body for writes and the raw query string for reads.
func (s *Signer) SignRequest(now time.Time, nonce uint64, method, host, path, payload string) RequestHeaders {
	ts := now.UTC().Format(TimestampLayout)
	nonceStr := strconv.FormatUint(nonce, 10)
	msg := strings.Join([]string{ts, nonceStr, strings.ToUpper(method), host, path, payload}, "\n")
	return RequestHeaders{
		AccessKey: s.apiKey,
		Timestamp: ts,
		Nonce:     nonceStr,
		Signature: s.sign(msg),
	}
}

// LoginPayload is the data block of a websocket login request.
type LoginPayload struct {
	APIKey    string `json:"apiKey"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
}

func (s *Signer) SignLogin(now time.Time) LoginPayload {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	return LoginPayload{
		APIKey:    s.apiKey,
		Timestamp: ts,
		Signature: s.sign(ts + wsLoginPath),
	}
}

func (s *Signer) sign(msg string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
