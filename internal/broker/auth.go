package broker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

// Credentials holds the API key pair a venue issues out-of-band; the
// OAuth/key-issuance flow that produces them is out of scope here — they
// arrive pre-validated via configuration.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Auth signs venue requests with HMAC-SHA256 over
// timestamp + method + path [+ body], the same shape used by every REST
// venue in the pack that authenticates trading endpoints with a shared
// secret rather than a wallet signature.
type Auth struct {
	creds Credentials
}

// NewAuth creates an Auth from a pre-issued API key pair.
func NewAuth(creds Credentials) *Auth {
	return &Auth{creds: creds}
}

// HasCredentials reports whether both halves of the key pair are set.
func (a *Auth) HasCredentials() bool {
	return a.creds.APIKey != "" && a.creds.APISecret != ""
}

// Headers computes the signed header set for a single request.
func (a *Auth) Headers(method, path, body string) (map[string]string, error) {
	if !a.HasCredentials() {
		return nil, errors.New("broker: no API credentials configured")
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.sign(timestamp, method, path, body)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"X-API-KEY":   a.creds.APIKey,
		"X-SIGNATURE": sig,
		"X-TIMESTAMP": timestamp,
	}, nil
}

// sign computes the HMAC-SHA256 signature over
// timestamp + method + path [+ body], base64url-encoded.
func (a *Auth) sign(timestamp, method, path, body string) (string, error) {
	secret, err := base64.URLEncoding.DecodeString(a.creds.APISecret)
	if err != nil {
		// Fall back to treating the secret as raw bytes — not every
		// venue issues base64-encoded secrets.
		secret = []byte(a.creds.APISecret)
	}

	message := timestamp + method + path + body

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
