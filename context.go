package ojs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sumup/ojs/cde"
)

// OjsContext is the read-only snapshot of form state handed to flows.
type OjsContext struct {
	FormID              string
	CheckoutSecureToken string
	SessionID           string
	TotalAmountAtoms    int64
	Currency            string
	// CheckoutPaymentMethods are the methods the server enabled for the session.
	CheckoutPaymentMethods []cde.CheckoutPaymentMethod
	// Elements lists the loaded elements in mount order.
	Elements []ElementRef
	// Connections holds the CDE connection of each loaded element.
	Connections map[string]*cde.Connection
	// AnyConnection is the connection of the first loaded element.
	AnyConnection *cde.Connection
	Host          Host
	Resources     *Resources
	Wallets       Wallets
	Logger        *slog.Logger

	popup   []PopupOption
	prefill *Singleton[*cde.Prefill]
}

// FindCheckoutPaymentMethod returns the unique method for provider. A
// non-empty processor narrows the match.
func (c *OjsContext) FindCheckoutPaymentMethod(provider, processor string) (cde.CheckoutPaymentMethod, error) {
	return findPaymentMethod(c.CheckoutPaymentMethods, Flow{Provider: provider, Processor: processor})
}

func findPaymentMethod(methods []cde.CheckoutPaymentMethod, f Flow) (cde.CheckoutPaymentMethod, error) {
	var matches []cde.CheckoutPaymentMethod
	for _, cpm := range methods {
		if f.Matches(cpm) {
			matches = append(matches, cpm)
		}
	}
	label := f.Provider
	if f.Processor != "" {
		label += "/" + f.Processor
	}
	switch len(matches) {
	case 0:
		return cde.CheckoutPaymentMethod{}, NewConfigurationError(MissingPaymentMethod,
			fmt.Sprintf("payment method %s is not enabled for this checkout", label))
	case 1:
		return matches[0], nil
	default:
		return cde.CheckoutPaymentMethod{}, NewConfigurationError(AmbiguousPaymentMethod,
			fmt.Sprintf("%d payment methods match %s", len(matches), label))
	}
}

// Prefill fetches the checkout prefill once per form through AnyConnection.
func (c *OjsContext) Prefill(ctx context.Context) (*cde.Prefill, error) {
	fetch := func() (*cde.Prefill, error) {
		if c.AnyConnection == nil {
			return nil, NewCheckoutError(MissingElement, "no element is connected")
		}
		return c.AnyConnection.GetPrefill(ctx, cde.GetPrefillRequest{SecureToken: c.CheckoutSecureToken})
	}
	if c.prefill == nil {
		return fetch()
	}
	return c.prefill.Get(fetch)
}

// cardElements returns the loaded elements holding card data.
func (c *OjsContext) cardElements() []ElementRef {
	var out []ElementRef
	for _, el := range c.Elements {
		if el.Type.IsCard() {
			out = append(out, el)
		}
	}
	return out
}

// Singleton holds a lazily created per-form value. Failed creations are
// retried on the next Get.
type Singleton[T any] struct {
	mu    sync.Mutex
	set   bool
	value T
}

// Get returns the value, calling create on first use.
func (s *Singleton[T]) Get(create func() (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return s.value, nil
	}
	v, err := create()
	if err != nil {
		var zero T
		return zero, err
	}
	s.value, s.set = v, true
	return v, nil
}

// Set assigns the value. It fails with ErrSingletonAlreadySet when a value
// exists.
func (s *Singleton[T]) Set(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return ErrSingletonAlreadySet
	}
	s.value, s.set = v, true
	return nil
}

// Value returns the current value and whether one is set.
func (s *Singleton[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Resources holds the third-party clients shared by the flows of one form.
type Resources struct {
	mu      sync.Mutex
	wallets map[FlowName]*Singleton[Wallet]
}

// NewResources returns an empty set of resources.
func NewResources() *Resources {
	return &Resources{wallets: make(map[FlowName]*Singleton[Wallet])}
}

// Wallet returns the singleton holding the wallet client of flow.
func (r *Resources) Wallet(flow FlowName) *Singleton[Wallet] {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.wallets[flow]
	if !ok {
		s = &Singleton[Wallet]{}
		r.wallets[flow] = s
	}
	return s
}
