// Package session encodes the (name, secret) pair into a tamper-evident
// cookie value. The secret inside is an opaque bearer token; the HMAC
// only stops clients from forging the cookie shape, it is not a hardened
// session scheme.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// CookieName is the cookie the HTTP layer stores sessions under.
const CookieName = "session"

// Session identifies a registered user to the chat core.
type Session struct {
	Name   string
	Secret string
}

// Codec signs and verifies session cookie values with an HMAC key.
type Codec struct {
	key []byte
}

// NewCodec creates a Codec with the given signing key.
func NewCodec(key []byte) *Codec {
	return &Codec{key: key}
}

// Encode serializes the session as a signed "payload|signature" value,
// both halves base64url encoded. The payload is a two-element JSON array
// [name, secret].
func (c *Codec) Encode(s Session) string {
	payload, _ := json.Marshal([2]string{s.Name, s.Secret})
	return base64.URLEncoding.EncodeToString(payload) + "|" + c.sign(payload)
}

// Decode verifies a cookie value and returns the session it carries.
// It reports false for any malformed, tampered, or unsigned value.
func (c *Codec) Decode(value string) (Session, bool) {
	payloadB64, sig, found := strings.Cut(value, "|")
	if !found {
		return Session{}, false
	}
	payload, err := base64.URLEncoding.DecodeString(payloadB64)
	if err != nil {
		return Session{}, false
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(payload))) {
		return Session{}, false
	}

	var pair [2]string
	if err := json.Unmarshal(payload, &pair); err != nil {
		return Session{}, false
	}
	if pair[0] == "" || pair[1] == "" {
		return Session{}, false
	}
	return Session{Name: pair[0], Secret: pair[1]}, true
}

func (c *Codec) sign(payload []byte) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
