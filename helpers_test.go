package ojs_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sumup/ojs"
	"github.com/sumup/ojs/cde"
	"github.com/sumup/ojs/cde/cdetest"
	"github.com/sumup/ojs/ojstest"
)

const (
	testOrigin  = "https://cde.example.com"
	testToken   = "cs_secure_token"
	testSession = "sess_1"
)

var stripeCard = cde.CheckoutPaymentMethod{Provider: ojs.ProviderCreditCard, ProcessorName: ojs.ProcessorStripe}

func loadedPayload(methods ...cde.CheckoutPaymentMethod) ojs.LoadedPayload {
	if len(methods) == 0 {
		methods = []cde.CheckoutPaymentMethod{stripeCard}
	}
	return ojs.LoadedPayload{
		SessionID:              testSession,
		TotalAmountAtoms:       4200,
		Currency:               "usd",
		CheckoutPaymentMethods: methods,
	}
}

func ptr[T any](v T) *T {
	return &v
}

func prefill(mode cde.CheckoutMode) cde.Prefill {
	return cde.Prefill{
		Token: testToken,
		CheckoutPreview: cde.CheckoutPreview{
			Mode:             mode,
			Currency:         "usd",
			AmountTotalAtoms: 4200,
		},
	}
}

func paymentResult() cde.PaymentResult {
	return cde.PaymentResult{
		Mode:            cde.CheckoutModePayment,
		InvoiceURLs:     []string{"https://invoices.example/inv_1"},
		SubscriptionIDs: []string{"sub_1"},
		CustomerID:      "cust_1",
	}
}

// newCheckoutServer answers the calls of a successful card checkout.
func newCheckoutServer() *cdetest.Server {
	server := cdetest.NewServer()
	server.Reply(cde.OpTokenizeCard, cde.TokenizeCardResponse{Success: true})
	server.Reply(cde.OpGetPrefill, prefill(cde.CheckoutModePayment))
	server.Reply(cde.OpCheckoutCardElements, paymentResult())
	server.Reply(cde.OpConfirmPaymentFlow, paymentResult())
	return server
}

// recorder captures callbacks as strings in invocation order.
type recorder struct {
	mu     sync.Mutex
	events []string
	loaded chan struct{}
	once   sync.Once
}

func newRecorder() *recorder {
	return &recorder{loaded: make(chan struct{})}
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Count returns how many events start with prefix.
func (r *recorder) Count(prefix string) int {
	n := 0
	for _, e := range r.Events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// Terminal returns the terminal checkout callbacks.
func (r *recorder) Terminal() []string {
	var out []string
	for _, e := range r.Events() {
		for _, prefix := range []string{"checkout_success", "setup_success", "checkout_error"} {
			if strings.HasPrefix(e, prefix) {
				out = append(out, e)
			}
		}
	}
	return out
}

func (r *recorder) Callbacks() ojs.Callbacks {
	return ojs.Callbacks{
		OnLoad: func(total int64, currency string) {
			r.add("load:%d:%s", total, currency)
			r.once.Do(func() { close(r.loaded) })
		},
		OnLoadError: func(message string) { r.add("load_error:%s", message) },
		OnFocus:     func(typ ojs.ElementType, id string) { r.add("focus:%s", typ) },
		OnBlur:      func(typ ojs.ElementType, id string) { r.add("blur:%s", typ) },
		OnChange: func(typ ojs.ElementType, id string, errs []string) {
			r.add("change:%s:%s", typ, strings.Join(errs, ","))
		},
		OnValidationError: func(field string, errs []string, id string) {
			r.add("validation_error:%s:%s", field, strings.Join(errs, ","))
		},
		OnCheckoutStarted: func() { r.add("checkout_started") },
		OnCheckoutSuccess: func(invoices, subs []string, customer string) {
			r.add("checkout_success:%s", customer)
		},
		OnSetupPaymentMethodSuccess: func(pm string) { r.add("setup_success:%s", pm) },
		OnCheckoutError:             func(message string) { r.add("checkout_error:%s", message) },
		OnPaymentRequestLoad: func(s ojs.InitStatus) {
			r.add("init:%s:%s", s.Flow, s.State)
		},
	}
}

func (r *recorder) waitLoaded(t *testing.T) {
	t.Helper()
	select {
	case <-r.loaded:
	case <-time.After(2 * time.Second):
		t.Fatalf("form did not load; events: %v", r.Events())
	}
}

func newForm(t *testing.T, host *ojstest.Host, rec *recorder, opts ...ojs.Option) *ojs.Form {
	t.Helper()
	opts = append([]ojs.Option{
		ojs.WithPopupOptions(ojs.WithPollInterval(5*time.Millisecond), ojs.WithResultDisplayDelay(0)),
	}, opts...)
	form, err := ojs.New(ojs.Config{
		CheckoutSecureToken: testToken,
		FormTarget:          "#checkout",
		BaseURL:             testOrigin,
		Callbacks:           rec.Callbacks(),
	}, host, opts...)
	require.NoError(t, err)
	t.Cleanup(form.Destroy)
	return form
}

// loadedCardForm mounts one card element and waits for the load barrier.
func loadedCardForm(t *testing.T, server *cdetest.Server, rec *recorder, opts ...ojs.Option) (*ojs.Form, *ojstest.Host) {
	t.Helper()
	host := ojstest.NewHost(testOrigin, server)
	host.SetFormInputs(map[string]string{ojs.FieldEmail: "buyer@example.com", ojs.FieldZipCode: "10001"})
	form := newForm(t, host, rec, opts...)
	_, err := form.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.NoError(t, err)
	host.LoadAll(loadedPayload())
	rec.waitLoaded(t)
	return form, host
}
