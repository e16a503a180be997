package ojs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sumup/ojs/cde"
)

// Envelope is one message exchanged between the form and its elements.
type Envelope struct {
	Event     Event
	Nonce     string
	FormID    string
	ElementID string
}

type wireEnvelope struct {
	Payload   Payload `json:"payload"`
	Nonce     string  `json:"nonce" validate:"required"`
	FormID    string  `json:"formId" validate:"required"`
	ElementID string  `json:"elementId" validate:"required"`
}

var envelopeValidator = cde.NewValidator()

// NewEnvelope wraps ev with a fresh nonce.
func NewEnvelope(formID, elementID string, ev Event) *Envelope {
	return &Envelope{
		Event:     ev,
		Nonce:     uuid.NewString(),
		FormID:    formID,
		ElementID: elementID,
	}
}

// MarshalJSON encodes the envelope in its wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	var p Payload
	if err := p.FromEvent(e.Event); err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		Payload:   p,
		Nonce:     e.Nonce,
		FormID:    e.FormID,
		ElementID: e.ElementID,
	})
}

// ParseEnvelope decodes and schema-validates raw. Every failure is a *ParseError.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := envelopeValidator.Struct(wire); err != nil {
		return nil, &ParseError{Err: cde.NormalizeValidationError(err)}
	}
	ev, err := wire.Payload.AsEvent()
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := envelopeValidator.Struct(ev); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("%s payload: %w", ev.EventType(), cde.NormalizeValidationError(err))}
	}
	return &Envelope{
		Event:     ev,
		Nonce:     wire.Nonce,
		FormID:    wire.FormID,
		ElementID: wire.ElementID,
	}, nil
}

var errEnvelopeRejected = errors.New("envelope rejected")

// ValidateEnvelope reports whether env belongs to formID and carries an
// unseen nonce. It does not record the nonce.
func ValidateEnvelope(env *Envelope, formID string, seen *NonceSet) bool {
	return checkEnvelope(env, formID, seen) == nil
}

func checkEnvelope(env *Envelope, formID string, seen *NonceSet) error {
	switch {
	case env == nil:
		return fmt.Errorf("%w: nil", errEnvelopeRejected)
	case env.FormID != formID:
		return fmt.Errorf("%w: form %q", errEnvelopeRejected, env.FormID)
	case env.Nonce == "":
		return fmt.Errorf("%w: empty nonce", errEnvelopeRejected)
	case seen != nil && seen.Contains(env.Nonce):
		return fmt.Errorf("%w: replayed nonce", errEnvelopeRejected)
	}
	return nil
}

// NonceSet records the nonces already processed by one form. Nonces are
// kept for the lifetime of the form.
type NonceSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewNonceSet returns an empty set.
func NewNonceSet() *NonceSet {
	return &NonceSet{seen: make(map[string]struct{})}
}

// Contains reports whether nonce was added before.
func (s *NonceSet) Contains(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[nonce]
	return ok
}

// Add records nonce and reports whether it was new.
func (s *NonceSet) Add(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[nonce]; ok {
		return false
	}
	s.seen[nonce] = struct{}{}
	return true
}

// Len returns the number of recorded nonces.
func (s *NonceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
