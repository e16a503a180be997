// Command cdeprobe checks that a Card Data Environment is reachable. It
// performs the signed handshake over HTTP, pings the CDE and, when a secure
// token is configured, fetches the checkout prefill and an optional
// promotion-code preview.
//
// Usage:
//
//	CDEPROBE_BASE_URL=https://cde.example.com go run ./cmd/cdeprobe
//	CDEPROBE_SECURE_TOKEN=cs_... CDEPROBE_PROMOTION_CODE=SAVE10 go run ./cmd/cdeprobe
//
// Variables may also be placed in a .env file in the working directory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sumup/ojs/cde"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cdeprobe: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := cde.NewHTTPTransport(cfg.BaseURL, cde.WithUserAgent("cdeprobe"))
	if err := run(ctx, cfg, transport, os.Stdout, logger); err != nil {
		logger.Error("probe failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.level()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// report is printed as JSON on success.
type report struct {
	BaseURL string               `json:"base_url"`
	Channel string               `json:"channel"`
	Alive   bool                 `json:"alive"`
	Prefill *cde.Prefill         `json:"prefill,omitempty"`
	Preview *cde.CheckoutPreview `json:"preview,omitempty"`
}

func run(ctx context.Context, cfg *Config, t cde.Transport, out io.Writer, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	conn, err := cde.Connect(ctx, t, cde.WithHandshakeTimeout(cfg.HandshakeTimeout), cde.WithLogger(logger))
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("connected", slog.String("channel", conn.Channel()))

	alive, err := conn.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	rep := report{BaseURL: cfg.BaseURL, Channel: conn.Channel(), Alive: alive}

	if cfg.SecureToken != "" {
		rep.Prefill, err = conn.GetPrefill(ctx, cde.GetPrefillRequest{SecureToken: cfg.SecureToken})
		if err != nil {
			return fmt.Errorf("get prefill: %w", err)
		}
		logger.Debug("prefill fetched",
			slog.String("mode", string(rep.Prefill.CheckoutPreview.Mode)),
			slog.Int64("amount_total_atoms", rep.Prefill.CheckoutPreview.AmountTotalAtoms))

		if cfg.PromotionCode != "" {
			rep.Preview, err = conn.GetCheckoutPreview(ctx, cde.GetCheckoutPreviewRequest{
				SecureToken:   cfg.SecureToken,
				PromotionCode: cfg.PromotionCode,
			})
			if err != nil {
				return fmt.Errorf("preview checkout: %w", err)
			}
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
