package ojs

import (
	"fmt"
	"log/slog"
)

// Callbacks are the integrator hooks of a form. Every field is optional.
type Callbacks struct {
	OnLoad                      func(totalAmountAtoms int64, currency string)
	OnLoadError                 func(message string)
	OnFocus                     func(elementType ElementType, elementID string)
	OnBlur                      func(elementType ElementType, elementID string)
	OnChange                    func(elementType ElementType, elementID string, errors []string)
	OnValidationError           func(field string, errors []string, elementID string)
	OnCheckoutStarted           func()
	OnCheckoutSuccess           func(invoiceURLs, subscriptionIDs []string, customerID string)
	OnSetupPaymentMethodSuccess func(paymentMethodID string)
	OnCheckoutError             func(message string)
	OnPaymentRequestLoad        func(status InitStatus)
}

// FormCallbacks invokes Callbacks safely: missing hooks are skipped and a
// panicking hook is logged instead of unwinding into the caller.
type FormCallbacks struct {
	cb     Callbacks
	logger *slog.Logger
}

// NewFormCallbacks wraps cb. A nil logger discards panic reports.
func NewFormCallbacks(cb Callbacks, logger *slog.Logger) *FormCallbacks {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FormCallbacks{cb: cb, logger: logger}
}

func (c *FormCallbacks) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("ojs: callback panicked", slog.String("callback", name), slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

func (c *FormCallbacks) Load(totalAmountAtoms int64, currency string) {
	if c.cb.OnLoad != nil {
		c.invoke("OnLoad", func() { c.cb.OnLoad(totalAmountAtoms, currency) })
	}
}

func (c *FormCallbacks) LoadError(message string) {
	if c.cb.OnLoadError != nil {
		c.invoke("OnLoadError", func() { c.cb.OnLoadError(message) })
	}
}

func (c *FormCallbacks) Focus(typ ElementType, elementID string) {
	if c.cb.OnFocus != nil {
		c.invoke("OnFocus", func() { c.cb.OnFocus(typ, elementID) })
	}
}

func (c *FormCallbacks) Blur(typ ElementType, elementID string) {
	if c.cb.OnBlur != nil {
		c.invoke("OnBlur", func() { c.cb.OnBlur(typ, elementID) })
	}
}

func (c *FormCallbacks) Change(typ ElementType, elementID string, errs []string) {
	if c.cb.OnChange != nil {
		c.invoke("OnChange", func() { c.cb.OnChange(typ, elementID, errs) })
	}
}

func (c *FormCallbacks) ValidationError(field string, errs []string, elementID string) {
	if c.cb.OnValidationError != nil {
		c.invoke("OnValidationError", func() { c.cb.OnValidationError(field, errs, elementID) })
	}
}

func (c *FormCallbacks) CheckoutStarted() {
	if c.cb.OnCheckoutStarted != nil {
		c.invoke("OnCheckoutStarted", c.cb.OnCheckoutStarted)
	}
}

func (c *FormCallbacks) CheckoutSuccess(invoiceURLs, subscriptionIDs []string, customerID string) {
	if c.cb.OnCheckoutSuccess != nil {
		c.invoke("OnCheckoutSuccess", func() { c.cb.OnCheckoutSuccess(invoiceURLs, subscriptionIDs, customerID) })
	}
}

func (c *FormCallbacks) SetupPaymentMethodSuccess(paymentMethodID string) {
	if c.cb.OnSetupPaymentMethodSuccess != nil {
		c.invoke("OnSetupPaymentMethodSuccess", func() { c.cb.OnSetupPaymentMethodSuccess(paymentMethodID) })
	}
}

func (c *FormCallbacks) CheckoutError(message string) {
	if c.cb.OnCheckoutError != nil {
		c.invoke("OnCheckoutError", func() { c.cb.OnCheckoutError(message) })
	}
}

func (c *FormCallbacks) PaymentRequestLoad(status InitStatus) {
	if c.cb.OnPaymentRequestLoad != nil {
		c.invoke("OnPaymentRequestLoad", func() { c.cb.OnPaymentRequestLoad(status) })
	}
}

// reportFieldErrors surfaces every field error through ValidationError.
func (c *FormCallbacks) reportFieldErrors(fields []FieldError) {
	for _, f := range fields {
		c.ValidationError(f.Field, f.Errors, f.ElementID)
	}
}
