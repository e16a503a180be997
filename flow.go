package ojs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sumup/ojs/cde"
)

// FlowName identifies a payment flow in the registry.
type FlowName string

// Built-in flows.
const (
	FlowCard               FlowName = "card"
	FlowStripeApplePay     FlowName = "stripe-apple-pay"
	FlowStripeGooglePay    FlowName = "stripe-google-pay"
	FlowAirwallexApplePay  FlowName = "airwallex-apple-pay"
	FlowAirwallexGooglePay FlowName = "airwallex-google-pay"
	FlowStripeLink         FlowName = "stripe-link"
	FlowLoopCrypto         FlowName = "loop-crypto"
	FlowPockytPayPal       FlowName = "pockyt-paypal"
)

// InitResult is the outcome of a flow's background preparation.
type InitResult struct {
	IsAvailable bool
	// Reason explains an unavailable flow.
	Reason string
	// Data is flow-specific state handed to Run.
	Data any
	// Err is the Init failure that made the flow unavailable.
	Err error
}

// InitParams are passed to a flow's Init.
type InitParams struct {
	Context       *OjsContext
	Callbacks     *FormCallbacks
	PaymentMethod cde.CheckoutPaymentMethod
	CustomParams  map[string]any
}

// RunParams are passed to a flow's Run.
type RunParams struct {
	Context          *OjsContext
	PaymentMethod    cde.CheckoutPaymentMethod
	NonCdeFormInputs FormInputs
	Callbacks        *FormCallbacks
	CustomParams     map[string]any
	// InitResult is nil for flows without Init.
	InitResult *InitResult
}

// InitFunc prepares a flow after the form loaded.
type InitFunc func(ctx context.Context, p InitParams) (*InitResult, error)

// RunFunc performs one payment attempt.
type RunFunc func(ctx context.Context, p RunParams) (*Result, error)

// RunMiddleware decorates a RunFunc.
type RunMiddleware func(RunFunc) RunFunc

func applyRunMiddleware(h RunFunc, middleware ...RunMiddleware) RunFunc {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

// Flow is a named payment flow bound to one (provider, processor) pair.
// An empty Processor matches any processor of the provider.
type Flow struct {
	Name      FlowName
	Provider  string
	Processor string
	Init      InitFunc
	Run       RunFunc
}

// Matches reports whether cpm is served by the flow.
func (f Flow) Matches(cpm cde.CheckoutPaymentMethod) bool {
	if cpm.Provider != f.Provider {
		return false
	}
	return f.Processor == "" || cpm.ProcessorName == f.Processor
}

// Mode tells which branch of a [Result] is set.
type Mode string

const (
	ModeCheckout Mode = "checkout"
	ModeSetup    Mode = "setup"
)

// CheckoutResult is a completed payment.
type CheckoutResult struct {
	InvoiceURLs     []string
	SubscriptionIDs []string
	CustomerID      string
}

// SetupResult is a saved payment method.
type SetupResult struct {
	PaymentMethodID string
}

// Result is the outcome of a successful run. Exactly one of Checkout and
// Setup is set, matching Mode.
type Result struct {
	Mode     Mode
	Checkout *CheckoutResult
	Setup    *SetupResult
}

// NewCheckoutResult builds a checkout-mode result.
func NewCheckoutResult(invoiceURLs, subscriptionIDs []string, customerID string) *Result {
	return &Result{
		Mode: ModeCheckout,
		Checkout: &CheckoutResult{
			InvoiceURLs:     invoiceURLs,
			SubscriptionIDs: subscriptionIDs,
			CustomerID:      customerID,
		},
	}
}

// NewSetupResult builds a setup-mode result.
func NewSetupResult(paymentMethodID string) *Result {
	return &Result{Mode: ModeSetup, Setup: &SetupResult{PaymentMethodID: paymentMethodID}}
}

// Validate checks the union invariant.
func (r *Result) Validate() error {
	switch {
	case r == nil:
		return errors.New("nil result")
	case r.Mode == ModeCheckout && r.Checkout != nil && r.Setup == nil:
		return nil
	case r.Mode == ModeSetup && r.Setup != nil && r.Checkout == nil && r.Setup.PaymentMethodID != "":
		return nil
	default:
		return fmt.Errorf("invalid %q result", r.Mode)
	}
}

// resultFromPayment converts a validated CDE payment result.
func resultFromPayment(res *cde.PaymentResult) (*Result, error) {
	if res == nil {
		return nil, NewCheckoutError(UnexpectedResult, genericErrorMessage)
	}
	if res.Mode == cde.CheckoutModeSetup {
		return NewSetupResult(res.PaymentMethodID), nil
	}
	return NewCheckoutResult(res.InvoiceURLs, res.SubscriptionIDs, res.CustomerID), nil
}

// withInitErrorCatcher turns Init failures and panics into an unavailable
// result so one broken flow never affects the others. The returned InitFunc
// never fails.
func withInitErrorCatcher(name FlowName, logger *slog.Logger, next InitFunc) InitFunc {
	return func(ctx context.Context, p InitParams) (res *InitResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("ojs: flow init panicked", slog.String("flow", string(name)), slog.String("panic", fmt.Sprint(r)))
				res, err = unavailable(fmt.Errorf("flow %s init panicked: %v", name, r)), nil
			}
		}()
		res, err = next(ctx, p)
		if err != nil {
			logger.Warn("ojs: flow init failed", slog.String("flow", string(name)), slog.String("error", err.Error()))
			return unavailable(err), nil
		}
		if res == nil {
			res = &InitResult{IsAvailable: true}
		}
		return res, nil
	}
}

func unavailable(err error) *InitResult {
	return &InitResult{IsAvailable: false, Reason: err.Error(), Err: err}
}

// withCheckoutCallbacks brackets a run with OnCheckoutStarted and exactly
// one terminal callback. Panics become errors.
func withCheckoutCallbacks(next RunFunc) RunFunc {
	return func(ctx context.Context, p RunParams) (res *Result, err error) {
		cb := p.Callbacks
		cb.CheckoutStarted()
		defer func() {
			if r := recover(); r != nil {
				res, err = nil, NewCheckoutError(Unexpected, genericErrorMessage, WithCause(fmt.Errorf("panic: %v", r)))
			}
			if err == nil {
				if verr := res.Validate(); verr != nil {
					res, err = nil, NewCheckoutError(UnexpectedResult, genericErrorMessage, WithCause(verr))
				}
			}
			if err != nil {
				var vErr *Error
				if errors.As(err, &vErr) && vErr.Type == ValidationError {
					cb.reportFieldErrors(vErr.Fields)
				}
				cb.CheckoutError(FriendlyMessage(err))
				return
			}
			switch res.Mode {
			case ModeSetup:
				cb.SetupPaymentMethodSuccess(res.Setup.PaymentMethodID)
			default:
				cb.CheckoutSuccess(res.Checkout.InvoiceURLs, res.Checkout.SubscriptionIDs, res.Checkout.CustomerID)
			}
		}()
		return next(ctx, p)
	}
}

// withSubmitLogging logs the start and outcome of a run.
func withSubmitLogging(logger *slog.Logger) RunMiddleware {
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, p RunParams) (*Result, error) {
			attrs := []any{}
			if info := SubmitInfoFromContext(ctx); info != nil {
				attrs = append(attrs, slog.String("flow", string(info.Flow)), slog.String("attempt_id", info.AttemptID))
			}
			logger.Debug("ojs: flow started", attrs...)
			res, err := next(ctx, p)
			if err != nil {
				logger.Info("ojs: flow failed", append(attrs, slog.String("error", err.Error()))...)
				return res, err
			}
			logger.Debug("ojs: flow completed", attrs...)
			return res, nil
		}
	}
}
