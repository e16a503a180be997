package cde

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sumup/ojs/signature"
)

const (
	// DefaultHandshakeTimeout bounds the handshake and liveness ping.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultMaxClockSkew is the tolerated drift between frame timestamps and the local clock.
	DefaultMaxClockSkew = 5 * time.Minute
)

type config struct {
	handshakeTimeout time.Duration
	maxClockSkew     time.Duration
	clock            func() time.Time
	logger           *slog.Logger
}

// Option customizes [Connect].
type Option func(*config)

// WithHandshakeTimeout bounds the handshake and the liveness ping.
func WithHandshakeTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("cde: handshake timeout must be positive")
	}
	return func(cfg *config) {
		cfg.handshakeTimeout = d
	}
}

// WithMaxClockSkew sets the tolerated skew on reply timestamps.
func WithMaxClockSkew(d time.Duration) Option {
	return func(cfg *config) {
		cfg.maxClockSkew = d
	}
}

// WithLogger sets the connection logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// withClock provides deterministic time in tests.
func withClock(fn func() time.Time) Option {
	return func(cfg *config) {
		cfg.clock = fn
	}
}

// Connection is an RPC handle bound to one CDE frame. It is safe for
// concurrent use.
type Connection struct {
	transport Transport
	channel   string
	key       []byte
	cfg       config
}

// Connect performs the channel handshake over t and checks liveness with a
// ping that must return a literal true. Any failure is a [*ConnectionError].
func Connect(ctx context.Context, t Transport, opts ...Option) (*Connection, error) {
	cfg := config{
		handshakeTimeout: DefaultHandshakeTimeout,
		maxClockSkew:     DefaultMaxClockSkew,
		clock:            time.Now,
		logger:           slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if t == nil {
		return nil, &ConnectionError{Stage: "handshake", Err: errors.New("transport is nil")}
	}

	key, err := signature.NewKey()
	if err != nil {
		return nil, &ConnectionError{Stage: "handshake", Err: err}
	}
	hello, err := json.Marshal(helloBody{Key: signature.EncodeKey(key)})
	if err != nil {
		return nil, &ConnectionError{Stage: "handshake", Err: err}
	}

	hsCtx, cancel := context.WithTimeout(ctx, cfg.handshakeTimeout)
	defer cancel()

	channel := uuid.NewString()
	ack, err := t.RoundTrip(hsCtx, Frame{
		Kind:    FrameHello,
		Channel: channel,
		ID:      uuid.NewString(),
		Body:    hello,
	})
	if err != nil {
		return nil, &ConnectionError{Stage: "handshake", Err: err}
	}
	if ack.Kind != FrameHelloAck || ack.Channel != channel {
		return nil, &ConnectionError{Stage: "handshake", Err: fmt.Errorf("unexpected %q frame", ack.Kind)}
	}
	if err := VerifyFrame(hsCtx, key, ack, cfg.clock(), cfg.maxClockSkew); err != nil {
		return nil, &ConnectionError{Stage: "handshake", Err: err}
	}

	conn := &Connection{
		transport: t,
		channel:   channel,
		key:       key,
		cfg:       cfg,
	}
	ok, err := conn.Ping(hsCtx)
	if err != nil {
		return nil, &ConnectionError{Stage: "ping", Err: err}
	}
	if !ok {
		return nil, &ConnectionError{Stage: "ping", Err: ErrPingFailed}
	}
	cfg.logger.Debug("cde: connection established", slog.String("channel", channel))
	return conn, nil
}

// Channel returns the channel id negotiated during the handshake.
func (c *Connection) Channel() string {
	return c.channel
}

// Ping reports whether the remote side answered with a literal true.
func (c *Connection) Ping(ctx context.Context) (bool, error) {
	raw, err := c.Send(ctx, OpPing, struct{}{})
	if err != nil {
		return false, err
	}
	return bytes.Equal(bytes.TrimSpace(raw), []byte("true")), nil
}

// Send issues op with payload and returns the raw reply body. An error
// envelope from the CDE is returned as a [*CdeError].
func (c *Connection) Send(ctx context.Context, op Operation, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("cde: %s: encode payload: %w", op, err)
	}
	req, err := SignFrame(c.key, Frame{
		Kind:      FrameCall,
		Channel:   c.channel,
		ID:        uuid.NewString(),
		Operation: op,
		Body:      body,
	}, c.cfg.clock())
	if err != nil {
		return nil, fmt.Errorf("cde: %s: sign: %w", op, err)
	}
	reply, err := c.transport.RoundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("cde: %s: %w", op, err)
	}
	if reply.Kind != FrameReply || reply.ID != req.ID || reply.Channel != c.channel {
		return nil, fmt.Errorf("cde: %s: unexpected reply frame", op)
	}
	if err := VerifyFrame(ctx, c.key, reply, c.cfg.clock(), c.cfg.maxClockSkew); err != nil {
		return nil, fmt.Errorf("cde: %s: reply rejected: %w", op, err)
	}
	if cdeErr := detectError(op, reply.Body); cdeErr != nil {
		c.cfg.logger.Debug("cde: operation returned error",
			slog.String("op", string(op)),
			slog.String("message", cdeErr.Message),
		)
		return nil, cdeErr
	}
	return reply.Body, nil
}

// Close releases the underlying transport when it owns resources.
func (c *Connection) Close() error {
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Call sends op and decodes the reply into T, validating it against T's
// schema tags. Schema mismatches fail with [*SchemaValidationError].
func Call[T any](ctx context.Context, c *Connection, op Operation, payload any) (*T, error) {
	raw, err := c.Send(ctx, op, payload)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &SchemaValidationError{Operation: op, Err: err}
	}
	if err := Validate(&out); err != nil {
		return nil, &SchemaValidationError{Operation: op, Err: err}
	}
	return &out, nil
}

func detectError(op Operation, body json.RawMessage) *CdeError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env errorEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}
	if env.ResponseType != responseTypeError {
		return nil
	}
	return &CdeError{Operation: op, Message: env.Message, Headers: env.Headers}
}
