// Package signature signs and verifies frames exchanged with the Card Data
// Environment. A signature is the base64url-encoded HMAC-SHA256 of
// `RFC3339Nano(timestamp) + "." + canonicalJSON(body)`.
package signature

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

// KeySize is the length in bytes of keys produced by [NewKey].
const KeySize = 32

// ErrInvalidSignature is returned when a signature does not match its material.
var ErrInvalidSignature = errors.New("signature: invalid signature")

// Material captures the inputs needed to validate a signed frame.
type Material struct {
	Signature     string
	Timestamp     time.Time
	CanonicalBody []byte
}

// Signer produces signatures for canonical bodies.
type Signer interface {
	Sign(ts time.Time, canonicalBody []byte) (string, error)
}

// Verifier validates the authenticity of incoming frames.
type Verifier interface {
	Verify(ctx context.Context, material Material) error
}

// VerifierFunc lifts bare functions into [Verifier].
type VerifierFunc func(ctx context.Context, material Material) error

// Verify delegates to the wrapped function.
func (f VerifierFunc) Verify(ctx context.Context, material Material) error {
	return f(ctx, material)
}

// HMAC signs and verifies with a shared channel key.
type HMAC struct {
	Key []byte
}

// Sign implements [Signer].
func (h HMAC) Sign(ts time.Time, canonicalBody []byte) (string, error) {
	if len(h.Key) == 0 {
		return "", errors.New("signature: HMAC requires a non-empty key")
	}
	mac := hmac.New(sha256.New, h.Key)
	if _, err := mac.Write(BuildSigningPayload(ts, canonicalBody)); err != nil {
		return "", fmt.Errorf("signature: compute signature: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify implements [Verifier] by recomputing the expected HMAC signature.
func (h HMAC) Verify(_ context.Context, material Material) error {
	if len(h.Key) == 0 {
		return errors.New("signature: HMAC requires a non-empty key")
	}
	mac := hmac.New(sha256.New, h.Key)
	if _, err := mac.Write(BuildSigningPayload(material.Timestamp, material.CanonicalBody)); err != nil {
		return fmt.Errorf("signature: compute signature: %w", err)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(material.Signature)
	if err != nil {
		return fmt.Errorf("signature: decode signature: %w", err)
	}
	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// NewKey returns a fresh random channel key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("signature: generate key: %w", err)
	}
	return key, nil
}

// EncodeKey renders a key for transport inside a handshake frame.
func EncodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// DecodeKey reverses [EncodeKey].
func DecodeKey(value string) ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("signature: decode key: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("signature: empty key")
	}
	return key, nil
}

// ReadAndBufferBody reads the request body while keeping it accessible for later handlers.
func ReadAndBufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		r.Body = io.NopCloser(bytes.NewReader(nil))
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

// Canonicalize marshals v and normalizes the result into canonical JSON.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("signature: marshal: %w", err)
	}
	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON normalizes arbitrary JSON into canonical form for signing.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("signature: multiple JSON documents in body")
	}
	return canonicaljson.Marshal(payload)
}

// ParseTimestamp accepts timestamps in RFC3339 or RFC3339Nano format.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("signature: empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

// FormatTimestamp renders ts the way [BuildSigningPayload] expects it.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// AbsDuration returns the absolute value of the supplied duration.
func AbsDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// BuildSigningPayload constructs the canonical string that is HMAC-signed.
func BuildSigningPayload(ts time.Time, canonicalBody []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(FormatTimestamp(ts))
	buf.WriteByte('.')
	buf.Write(canonicalBody)
	return buf.Bytes()
}
