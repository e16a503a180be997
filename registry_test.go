package ojs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumup/ojs"
	"github.com/sumup/ojs/cde"
)

var (
	stripeApplePay    = cde.CheckoutPaymentMethod{Provider: ojs.ProviderApplePay, ProcessorName: ojs.ProcessorStripe}
	airwallexApplePay = cde.CheckoutPaymentMethod{Provider: ojs.ProviderApplePay, ProcessorName: ojs.ProcessorAirwallex}
	stripeGooglePay   = cde.CheckoutPaymentMethod{Provider: ojs.ProviderGooglePay, ProcessorName: ojs.ProcessorStripe}
	pockytPayPal      = cde.CheckoutPaymentMethod{Provider: ojs.ProviderPayPal, ProcessorName: ojs.ProcessorPockyt}
)

// fakeWallet is a scripted payment sheet.
type fakeWallet struct {
	available  bool
	canErr     error
	payment    *ojs.WalletPayment
	paymentErr error

	mu       sync.Mutex
	requests []ojs.WalletRequest
}

func (w *fakeWallet) CanMakePayments(_ context.Context, req ojs.WalletRequest) (bool, error) {
	if w.canErr != nil && req.PaymentMethod.ProcessorName == ojs.ProcessorAirwallex {
		return false, w.canErr
	}
	return w.available, nil
}

func (w *fakeWallet) RequestPayment(_ context.Context, req ojs.WalletRequest) (*ojs.WalletPayment, error) {
	w.mu.Lock()
	w.requests = append(w.requests, req)
	w.mu.Unlock()
	return w.payment, w.paymentErr
}

func (w *fakeWallet) Requests() []ojs.WalletRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ojs.WalletRequest(nil), w.requests...)
}

// factory returns a WalletFactory for w and a counter of its invocations.
func (w *fakeWallet) factory() (ojs.WalletFactory, *atomic.Int32) {
	var calls atomic.Int32
	return func(context.Context, cde.CheckoutPaymentMethod) (ojs.Wallet, error) {
		calls.Add(1)
		return w, nil
	}, &calls
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := ojs.DefaultRegistry()
	methods := []cde.CheckoutPaymentMethod{stripeCard, stripeApplePay, airwallexApplePay}

	flow, cpm, err := reg.Resolve(ojs.FlowAirwallexApplePay, methods)
	require.NoError(t, err)
	assert.Equal(t, ojs.FlowAirwallexApplePay, flow.Name)
	assert.Equal(t, airwallexApplePay, cpm)

	flow, cpm, err = reg.Resolve(ojs.FlowCard, methods)
	require.NoError(t, err)
	assert.Equal(t, ojs.FlowCard, flow.Name)
	assert.Equal(t, stripeCard, cpm)

	tests := map[string]struct {
		name    ojs.FlowName
		methods []cde.CheckoutPaymentMethod
		code    ojs.ErrorCode
	}{
		"unknown flow": {name: "venmo", methods: methods, code: ojs.UnknownFlow},
		"not enabled":  {name: ojs.FlowStripeGooglePay, methods: methods, code: ojs.MissingPaymentMethod},
		"ambiguous card": {
			name:    ojs.FlowCard,
			methods: []cde.CheckoutPaymentMethod{stripeCard, {Provider: ojs.ProviderCreditCard, ProcessorName: ojs.ProcessorAirwallex}},
			code:    ojs.AmbiguousPaymentMethod,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, _, err := reg.Resolve(tt.name, tt.methods)
			var ojsErr *ojs.Error
			require.ErrorAs(t, err, &ojsErr)
			assert.Equal(t, ojs.ConfigurationError, ojsErr.Type)
			assert.Equal(t, tt.code, ojsErr.Code)
		})
	}
}

func TestNewRegistryRejectsInvalidFlows(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { ojs.NewRegistry(ojs.Flow{Name: "nameless-run", Provider: "x"}) })
	assert.Panics(t, func() { ojs.NewRegistry(ojs.CardFlow(), ojs.CardFlow()) })
	assert.Equal(t, []ojs.FlowName{ojs.FlowCard, ojs.FlowPockytPayPal}, ojs.NewRegistry(ojs.CardFlow(), ojs.PockytPayPalFlow()).Names())
}

func TestInitAllPublishesEveryInitFlow(t *testing.T) {
	t.Parallel()

	wallet := &fakeWallet{available: true, canErr: errors.New("merchant not registered")}
	applePay, applePayCalls := wallet.factory()

	var mu sync.Mutex
	var seen []ojs.InitStatus
	pub := ojs.NewStatusPublisher(func(s ojs.InitStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})
	octx := &ojs.OjsContext{
		CheckoutPaymentMethods: []cde.CheckoutPaymentMethod{stripeCard, stripeApplePay, airwallexApplePay, stripeGooglePay},
		Wallets:                ojs.Wallets{ApplePay: applePay},
		Resources:              ojs.NewResources(),
	}

	err := ojs.DefaultRegistry().InitAll(t.Context(), octx, ojs.NewFormCallbacks(ojs.Callbacks{}, nil), nil, pub)
	require.NoError(t, err)

	latest := func(name ojs.FlowName) ojs.InitStatus {
		s, ok := pub.Latest(name)
		require.True(t, ok, "no status for %s", name)
		return s
	}

	s := latest(ojs.FlowStripeApplePay)
	assert.Equal(t, ojs.InitLoaded, s.State)
	assert.True(t, s.Result.IsAvailable)

	s = latest(ojs.FlowAirwallexApplePay)
	assert.Equal(t, ojs.InitError, s.State)
	assert.Contains(t, s.Message, "merchant not registered")
	require.NotNil(t, s.Result, "a failed init still yields a result")
	assert.False(t, s.Result.IsAvailable)
	assert.Equal(t, s.Message, s.Result.Reason)

	s = latest(ojs.FlowStripeGooglePay)
	assert.Equal(t, ojs.InitLoaded, s.State)
	assert.False(t, s.Result.IsAvailable)
	assert.Equal(t, "wallet is not configured", s.Result.Reason)

	s = latest(ojs.FlowLoopCrypto)
	assert.Equal(t, ojs.InitLoaded, s.State)
	assert.False(t, s.Result.IsAvailable)

	_, ok := pub.Latest(ojs.FlowCard)
	assert.False(t, ok, "flows without Init publish nothing")
	_, ok = pub.Latest(ojs.FlowPockytPayPal)
	assert.False(t, ok)

	assert.Equal(t, int32(2), applePayCalls.Load(), "one wallet client per flow")

	mu.Lock()
	defer mu.Unlock()
	var loading int
	for _, st := range seen {
		if st.State == ojs.InitLoading {
			loading++
		}
	}
	assert.Equal(t, 3, loading, "only flows with an enabled method start loading")
}

func TestStatusPublisherSubscribe(t *testing.T) {
	t.Parallel()

	pub := ojs.NewStatusPublisher(nil)
	pub.Publish(ojs.InitStatus{Flow: ojs.FlowStripeLink, State: ojs.InitLoading})

	ch, cancel := pub.Subscribe(ojs.FlowStripeLink)
	assert.Equal(t, ojs.InitLoading, (<-ch).State)

	pub.Publish(ojs.InitStatus{Flow: ojs.FlowStripeLink, State: ojs.InitLoading})
	pub.Publish(ojs.InitStatus{Flow: ojs.FlowStripeLink, State: ojs.InitLoaded, Result: &ojs.InitResult{IsAvailable: true}})
	got := <-ch
	assert.Equal(t, ojs.InitLoaded, got.State, "slow subscribers see the latest status")

	cancel()
	pub.Publish(ojs.InitStatus{Flow: ojs.FlowStripeLink, State: ojs.InitError})
	select {
	case s := <-ch:
		t.Fatalf("cancelled subscription received %v", s)
	default:
	}

	other, cancelOther := pub.Subscribe(ojs.FlowLoopCrypto)
	defer cancelOther()
	select {
	case s := <-other:
		t.Fatalf("unexpected status %v", s)
	default:
	}
}
