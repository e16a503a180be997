package ojs

import (
	"log/slog"
	"maps"

	"github.com/sumup/ojs/cde"
)

type config struct {
	logger       *slog.Logger
	registry     *Registry
	wallets      Wallets
	middleware   []RunMiddleware
	connectOpts  []cde.Option
	popupOpts    []PopupOption
	customParams CustomParams
}

// Option customizes a [Form].
type Option func(*config)

// WithLogger sets the form logger. Forms log nothing by default.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithRegistry replaces the built-in flows.
func WithRegistry(registry *Registry) Option {
	if registry == nil {
		panic("ojs: registry must not be nil")
	}
	return func(cfg *config) {
		cfg.registry = registry
	}
}

// WithWallets provides the wallet clients used by wallet flows.
func WithWallets(wallets Wallets) Option {
	return func(cfg *config) {
		cfg.wallets = wallets
	}
}

// WithRunMiddleware wraps every flow run, in the order provided. The
// callback bracket stays outermost.
func WithRunMiddleware(mw ...RunMiddleware) Option {
	return func(cfg *config) {
		for _, m := range mw {
			if m == nil {
				continue
			}
			cfg.middleware = append(cfg.middleware, m)
		}
	}
}

// WithConnectOptions passes options to every element connection.
func WithConnectOptions(opts ...cde.Option) Option {
	return func(cfg *config) {
		cfg.connectOpts = append(cfg.connectOpts, opts...)
	}
}

// WithPopupOptions customizes challenge overlays opened by flows.
func WithPopupOptions(opts ...PopupOption) Option {
	return func(cfg *config) {
		cfg.popupOpts = append(cfg.popupOpts, opts...)
	}
}

// WithCustomParams sets per-flow parameters.
func WithCustomParams(params CustomParams) Option {
	return func(cfg *config) {
		cfg.customParams = params
	}
}

// SubmitOptions customize one SubmitWith call.
type SubmitOptions struct {
	// CustomParams are merged over the form's custom params of the flow.
	CustomParams map[string]any
	// FormInputs take precedence over the non-CDE inputs read from the page.
	FormInputs map[string]string
}

// SubmitOption customizes one submit.
type SubmitOption func(*SubmitOptions)

// WithSubmitParams adds custom params for this submit only.
func WithSubmitParams(params map[string]any) SubmitOption {
	return func(o *SubmitOptions) {
		if o.CustomParams == nil {
			o.CustomParams = make(map[string]any, len(params))
		}
		maps.Copy(o.CustomParams, params)
	}
}

// WithSubmitInputs overrides non-CDE form inputs for this submit only.
func WithSubmitInputs(inputs map[string]string) SubmitOption {
	return func(o *SubmitOptions) {
		if o.FormInputs == nil {
			o.FormInputs = make(map[string]string, len(inputs))
		}
		maps.Copy(o.FormInputs, inputs)
	}
}

func (o SubmitOptions) mergeParams(base map[string]any) map[string]any {
	if len(o.CustomParams) == 0 {
		return base
	}
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(o.CustomParams))
	}
	maps.Copy(out, o.CustomParams)
	return out
}
