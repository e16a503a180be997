// Package cdetest provides an in-memory Card Data Environment for tests and
// examples. A [Server] speaks the same signed frame protocol as a real CDE
// and can be reached directly as a cde.Transport, through a [Port], or over
// HTTP.
package cdetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sumup/ojs/cde"
	"github.com/sumup/ojs/signature"
)

// ErrUnreachable is returned while the server is marked unreachable.
var ErrUnreachable = errors.New("cdetest: server unreachable")

// Handler answers one CDE operation. Returning a *cde.CdeError produces an
// error envelope with its message and headers.
type Handler func(ctx context.Context, body json.RawMessage) (any, error)

// Call records one operation received by the server.
type Call struct {
	Channel   string
	Operation cde.Operation
	Body      json.RawMessage
}

// Server is a fake CDE. The zero value is not usable; call [NewServer].
type Server struct {
	mu          sync.Mutex
	handlers    map[cde.Operation]Handler
	channels    map[string][]byte
	calls       []Call
	unreachable bool
	clock       func() time.Time
}

// NewServer returns a server that answers ping with true.
func NewServer() *Server {
	s := &Server{
		handlers: make(map[cde.Operation]Handler),
		channels: make(map[string][]byte),
		clock:    time.Now,
	}
	s.Reply(cde.OpPing, true)
	return s
}

// Handle registers h for op, replacing any previous handler.
func (s *Server) Handle(op cde.Operation, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[op] = h
}

// Reply registers a handler that always answers op with v.
func (s *Server) Reply(op cde.Operation, v any) {
	s.Handle(op, func(context.Context, json.RawMessage) (any, error) {
		return v, nil
	})
}

// Fail registers a handler that always answers op with an error envelope.
func (s *Server) Fail(op cde.Operation, message string, headers map[string]string) {
	s.Handle(op, func(context.Context, json.RawMessage) (any, error) {
		return nil, &cde.CdeError{Operation: op, Message: message, Headers: headers}
	})
}

// SetUnreachable makes every round trip fail until reset.
func (s *Server) SetUnreachable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreachable = v
}

// Calls returns the recorded calls, filtered by op when any are given.
func (s *Server) Calls(ops ...cde.Operation) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ops) == 0 {
		return append([]Call(nil), s.calls...)
	}
	var out []Call
	for _, c := range s.calls {
		for _, op := range ops {
			if c.Operation == op {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Count returns how many times op was called.
func (s *Server) Count(op cde.Operation) int {
	return len(s.Calls(op))
}

// RoundTrip implements cde.Transport.
func (s *Server) RoundTrip(ctx context.Context, f cde.Frame) (cde.Frame, error) {
	if err := ctx.Err(); err != nil {
		return cde.Frame{}, err
	}
	s.mu.Lock()
	if s.unreachable {
		s.mu.Unlock()
		return cde.Frame{}, ErrUnreachable
	}
	s.mu.Unlock()

	switch f.Kind {
	case cde.FrameHello:
		return s.hello(f)
	case cde.FrameCall:
		return s.call(ctx, f)
	default:
		return cde.Frame{}, fmt.Errorf("cdetest: unexpected %q frame", f.Kind)
	}
}

func (s *Server) hello(f cde.Frame) (cde.Frame, error) {
	key, err := cde.HelloKey(f)
	if err != nil {
		return cde.Frame{}, err
	}
	s.mu.Lock()
	s.channels[f.Channel] = key
	s.mu.Unlock()
	return cde.SignFrame(key, cde.Frame{
		Kind:    cde.FrameHelloAck,
		Channel: f.Channel,
		ID:      f.ID,
	}, s.clock())
}

func (s *Server) call(ctx context.Context, f cde.Frame) (cde.Frame, error) {
	s.mu.Lock()
	key, ok := s.channels[f.Channel]
	handler := s.handlers[f.Operation]
	s.mu.Unlock()
	if !ok {
		return cde.Frame{}, fmt.Errorf("cdetest: unknown channel %q", f.Channel)
	}
	if err := cde.VerifyFrame(ctx, key, f, s.clock(), cde.DefaultMaxClockSkew); err != nil {
		return cde.Frame{}, fmt.Errorf("cdetest: %w", err)
	}

	if f.Operation != cde.OpPing {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Channel: f.Channel, Operation: f.Operation, Body: f.Body})
		s.mu.Unlock()
	}

	var body []byte
	var err error
	if handler == nil {
		body, err = cde.NewErrorBody(fmt.Sprintf("unknown operation %s", f.Operation), nil)
	} else {
		body, err = s.invoke(ctx, handler, f.Body)
	}
	if err != nil {
		return cde.Frame{}, err
	}
	return cde.SignFrame(key, cde.Frame{
		Kind:      cde.FrameReply,
		Channel:   f.Channel,
		ID:        f.ID,
		Operation: f.Operation,
		Body:      body,
	}, s.clock())
}

func (s *Server) invoke(ctx context.Context, h Handler, body json.RawMessage) ([]byte, error) {
	out, err := h(ctx, body)
	if err != nil {
		var cdeErr *cde.CdeError
		if errors.As(err, &cdeErr) {
			return cde.NewErrorBody(cdeErr.Message, cdeErr.Headers)
		}
		return cde.NewErrorBody(err.Error(), nil)
	}
	return json.Marshal(out)
}

// ServeHTTP accepts frames posted to cde.RPCPath.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != cde.RPCPath {
		http.NotFound(w, r)
		return
	}
	raw, err := signature.ReadAndBufferBody(r)
	if err != nil {
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}
	var f cde.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		http.Error(w, "request body must be a frame", http.StatusBadRequest)
		return
	}
	reply, err := s.RoundTrip(r.Context(), f)
	if err != nil {
		if errors.Is(err, ErrUnreachable) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}
