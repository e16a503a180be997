package cde

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sumup/ojs/signature"
)

// FrameKind labels a frame on the CDE channel.
type FrameKind string

const (
	FrameHello    FrameKind = "hello"
	FrameHelloAck FrameKind = "hello_ack"
	FrameCall     FrameKind = "call"
	FrameReply    FrameKind = "reply"
)

// Frame is the unit carried by a [Transport].
type Frame struct {
	Kind      FrameKind       `json:"kind"`
	Channel   string          `json:"channel"`
	ID        string          `json:"id"`
	Operation Operation       `json:"op,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	Timestamp string          `json:"ts,omitempty"`
	Signature string          `json:"sig,omitempty"`
}

type helloBody struct {
	Key string `json:"key"`
}

// HelloKey extracts the channel key carried by a hello frame.
func HelloKey(f Frame) ([]byte, error) {
	if f.Kind != FrameHello {
		return nil, fmt.Errorf("cde: expected hello frame got %q", f.Kind)
	}
	var body helloBody
	if err := json.Unmarshal(f.Body, &body); err != nil {
		return nil, fmt.Errorf("cde: decode hello: %w", err)
	}
	return signature.DecodeKey(body.Key)
}

// SignFrame stamps f with ts and signs it with key.
func SignFrame(key []byte, f Frame, ts time.Time) (Frame, error) {
	f.Timestamp = signature.FormatTimestamp(ts)
	f.Signature = ""
	canonical, err := signature.Canonicalize(f)
	if err != nil {
		return Frame{}, err
	}
	sig, err := signature.HMAC{Key: key}.Sign(ts, canonical)
	if err != nil {
		return Frame{}, err
	}
	f.Signature = sig
	return f, nil
}

// VerifyFrame checks the signature on f and rejects timestamps further than
// maxSkew from now. A zero maxSkew disables the skew check.
func VerifyFrame(ctx context.Context, key []byte, f Frame, now time.Time, maxSkew time.Duration) error {
	if f.Signature == "" || f.Timestamp == "" {
		return signature.ErrInvalidSignature
	}
	ts, err := signature.ParseTimestamp(f.Timestamp)
	if err != nil {
		return fmt.Errorf("cde: frame timestamp: %w", err)
	}
	if maxSkew > 0 && signature.AbsDuration(now.Sub(ts)) > maxSkew {
		return fmt.Errorf("cde: frame timestamp skew exceeds %s", maxSkew)
	}
	sig := f.Signature
	f.Signature = ""
	canonical, err := signature.Canonicalize(f)
	if err != nil {
		return err
	}
	return signature.HMAC{Key: key}.Verify(ctx, signature.Material{
		Signature:     sig,
		Timestamp:     ts,
		CanonicalBody: canonical,
	})
}
