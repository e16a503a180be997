package cde

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
)

// Transport carries one request frame to the CDE side and returns its reply.
type Transport interface {
	RoundTrip(ctx context.Context, f Frame) (Frame, error)
}

// TransportFunc lifts bare functions into [Transport].
type TransportFunc func(ctx context.Context, f Frame) (Frame, error)

// RoundTrip delegates to the wrapped function.
func (fn TransportFunc) RoundTrip(ctx context.Context, f Frame) (Frame, error) {
	return fn(ctx, f)
}

// PortMessage is one message received on a [Port].
type PortMessage struct {
	Origin string
	Data   []byte
}

// Port is an asynchronous, unordered message channel to a frame's content
// window.
type Port interface {
	Post(ctx context.Context, data []byte) error
	Receive() <-chan PortMessage
}

// PortTransport multiplexes concurrent round trips over a single [Port],
// correlating replies by frame id. Messages from an unexpected origin and
// replies nobody waits for are dropped.
type PortTransport struct {
	port   Port
	origin string
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Frame
	closed  bool
	done    chan struct{}
	once    sync.Once
}

// NewPortTransport starts reading from port. expectedOrigin is compared by
// scheme, host and port; an empty value accepts any origin.
func NewPortTransport(port Port, expectedOrigin string, logger *slog.Logger) *PortTransport {
	if port == nil {
		panic("cde: port is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &PortTransport{
		port:    port,
		origin:  NormalizeOrigin(expectedOrigin),
		logger:  logger,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// RoundTrip posts f and waits for the reply carrying the same id.
func (t *PortTransport) RoundTrip(ctx context.Context, f Frame) (Frame, error) {
	if f.ID == "" {
		return Frame{}, fmt.Errorf("cde: frame id is required")
	}
	reply := make(chan Frame, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Frame{}, ErrTransportClosed
	}
	t.pending[f.ID] = reply
	t.mu.Unlock()
	defer t.forget(f.ID)

	data, err := json.Marshal(f)
	if err != nil {
		return Frame{}, fmt.Errorf("cde: encode frame: %w", err)
	}
	if err := t.port.Post(ctx, data); err != nil {
		return Frame{}, fmt.Errorf("cde: post frame: %w", err)
	}
	select {
	case resp := <-reply:
		return resp, nil
	case <-t.done:
		return Frame{}, ErrTransportClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close stops the read loop and fails every pending round trip.
func (t *PortTransport) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
	})
	return nil
}

func (t *PortTransport) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *PortTransport) readLoop() {
	in := t.port.Receive()
	for {
		select {
		case <-t.done:
			return
		case msg, ok := <-in:
			if !ok {
				_ = t.Close()
				return
			}
			t.deliver(msg)
		}
	}
}

func (t *PortTransport) deliver(msg PortMessage) {
	if t.origin != "" && NormalizeOrigin(msg.Origin) != t.origin {
		return
	}
	var f Frame
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		t.logger.Debug("cde: dropping undecodable port message", slog.String("error", err.Error()))
		return
	}
	if f.Kind != FrameReply && f.Kind != FrameHelloAck {
		return
	}
	t.mu.Lock()
	ch, ok := t.pending[f.ID]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("cde: dropping unsolicited reply", slog.String("id", f.ID))
		return
	}
	select {
	case ch <- f:
	default:
	}
}

// NormalizeOrigin reduces a URL to its scheme://host[:port] origin. Values
// that do not parse are returned lowercased and trimmed.
func NormalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.ToLower(strings.TrimRight(raw, "/"))
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	scheme := strings.ToLower(u.Scheme)
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}
