package ojs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sumup/ojs/cde"
)

const (
	// ThreeDSPollInterval is how often the challenge overlay is asked for its status.
	ThreeDSPollInterval = time.Second
	// ThreeDSResultDisplayDelay keeps the overlay open after the challenge
	// resolved so the user sees the outcome page.
	ThreeDSResultDisplayDelay = 1500 * time.Millisecond
)

// PopupStatus is the outcome of a challenge overlay.
type PopupStatus string

const (
	PopupSuccess   PopupStatus = "success"
	PopupFailure   PopupStatus = "failure"
	PopupCancelled PopupStatus = "cancelled"
)

// PopupResult is what [RunPopupFlow] resolves with.
type PopupResult struct {
	Status PopupStatus
	Href   string
}

type popupConfig struct {
	pollInterval time.Duration
	displayDelay time.Duration
	logger       *slog.Logger
	connectOpts  []cde.Option
}

// PopupOption customizes [RunPopupFlow].
type PopupOption func(*popupConfig)

// WithPollInterval overrides ThreeDSPollInterval.
func WithPollInterval(d time.Duration) PopupOption {
	if d <= 0 {
		panic("ojs: poll interval must be positive")
	}
	return func(cfg *popupConfig) {
		cfg.pollInterval = d
	}
}

// WithResultDisplayDelay overrides ThreeDSResultDisplayDelay.
func WithResultDisplayDelay(d time.Duration) PopupOption {
	return func(cfg *popupConfig) {
		cfg.displayDelay = d
	}
}

// WithPopupLogger sets the logger used while polling.
func WithPopupLogger(logger *slog.Logger) PopupOption {
	return func(cfg *popupConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithPopupConnectOptions passes options to the per-poll cde.Connect.
func WithPopupConnectOptions(opts ...cde.Option) PopupOption {
	return func(cfg *popupConfig) {
		cfg.connectOpts = append(cfg.connectOpts, opts...)
	}
}

// RunPopupFlow shows url in an overlay and polls the page inside it, first
// right away and then every poll interval, until the challenge resolves or
// the user cancels. A poll that cannot connect or reports pending does not
// resolve the popup. The overlay is always removed before returning.
func RunPopupFlow(ctx context.Context, host Host, url string, opts ...PopupOption) (*PopupResult, error) {
	cfg := popupConfig{
		pollInterval: ThreeDSPollInterval,
		displayDelay: ThreeDSResultDisplayDelay,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	overlay, err := host.ShowOverlay(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("show challenge overlay: %w", err)
	}
	defer overlay.Remove()

	// A cancel click aborts the poll in flight.
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	go func() {
		select {
		case <-overlay.Cancelled():
			stopPolling()
		case <-pollCtx.Done():
		}
	}()

	ticker := time.NewTicker(cfg.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-overlay.Cancelled():
			return &PopupResult{Status: PopupCancelled}, nil
		default:
		}

		if res, ok := pollChallenge(pollCtx, overlay, cfg); ok {
			ticker.Stop()
			if cfg.displayDelay > 0 {
				timer := time.NewTimer(cfg.displayDelay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
				}
			}
			return res, nil
		}

		select {
		case <-overlay.Cancelled():
			return &PopupResult{Status: PopupCancelled}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func pollChallenge(ctx context.Context, overlay Overlay, cfg popupConfig) (*PopupResult, bool) {
	pollCtx, cancel := context.WithTimeout(ctx, cfg.pollInterval)
	defer cancel()

	connectOpts := append([]cde.Option{cde.WithHandshakeTimeout(cfg.pollInterval), cde.WithLogger(cfg.logger)}, cfg.connectOpts...)
	conn, err := cde.Connect(pollCtx, overlay.Transport(), connectOpts...)
	if err != nil {
		cfg.logger.Debug("ojs: challenge page not reachable yet", slog.String("error", err.Error()))
		return nil, false
	}
	status, err := conn.Check3DSStatus(pollCtx)
	if err != nil {
		cfg.logger.Debug("ojs: challenge status unavailable", slog.String("error", err.Error()))
		return nil, false
	}
	switch status.Status {
	case cde.ThreeDSStatusSuccess:
		return &PopupResult{Status: PopupSuccess, Href: status.Href}, true
	case cde.ThreeDSStatusFailure:
		return &PopupResult{Status: PopupFailure, Href: status.Href}, true
	default:
		return nil, false
	}
}

// RunPopupFlowStrict is RunPopupFlow that fails unless the challenge
// succeeded, returning the final href.
func RunPopupFlowStrict(ctx context.Context, host Host, url string, opts ...PopupOption) (string, error) {
	res, err := RunPopupFlow(ctx, host, url, opts...)
	if err != nil {
		return "", err
	}
	switch res.Status {
	case PopupSuccess:
		return res.Href, nil
	case PopupCancelled:
		return "", NewCheckoutError(UserCancelled, cancelled3DSMessage)
	default:
		return "", NewCheckoutError(PaymentDeclined, declinedErrorMessage)
	}
}
