package ojs_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumup/ojs"
	"github.com/sumup/ojs/cde"
	"github.com/sumup/ojs/cde/cdetest"
	"github.com/sumup/ojs/ojstest"
)

func decodeCall[T any](t *testing.T, call cdetest.Call) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(call.Body, &v))
	return v
}

func requireCode(t *testing.T, err error, code ojs.ErrorCode) *ojs.Error {
	t.Helper()
	var ojsErr *ojs.Error
	require.ErrorAs(t, err, &ojsErr)
	require.Equal(t, code, ojsErr.Code)
	return ojsErr
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	host := ojstest.NewHost(testOrigin, cdetest.NewServer())
	_, err := ojs.New(ojs.Config{CheckoutSecureToken: testToken, FormTarget: "#checkout", BaseURL: "not a url"}, host)
	ojsErr := requireCode(t, err, ojs.InvalidConfig)
	assert.Equal(t, ojs.ConfigurationError, ojsErr.Type)
	assert.Zero(t, host.Listeners())

	assert.Panics(t, func() { _, _ = ojs.New(ojs.Config{}, nil) })
}

func TestCreateElementBuildsFrameURL(t *testing.T) {
	t.Parallel()

	host := ojstest.NewHost(testOrigin, cdetest.NewServer())
	form := newForm(t, host, newRecorder())

	el, err := form.CreateElement(t.Context(), ojs.ElementCardNumber, map[string]string{"color": "#111"})
	require.NoError(t, err)
	assert.Equal(t, ojs.ElementLoading, el.State())

	frames := host.Frames()
	require.Len(t, frames, 1)
	req := frames[0].Request
	assert.Equal(t, form.ID(), req.FormID)
	assert.Equal(t, el.ID, req.ElementID)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	assert.Equal(t, "cde.example.com", u.Host)
	assert.Equal(t, "/app/v1/card-number-element/", u.Path)
	q := u.Query()
	assert.Equal(t, testToken, q.Get("secure_token"))
	assert.Equal(t, form.ID(), q.Get("form_id"))
	assert.Equal(t, el.ID, q.Get("element_id"))
	assert.JSONEq(t, `{"color":"#111"}`, q.Get("styles"))
}

// earlyLoadHost posts LOADED from inside MountFrame, before the frame is
// handed back to the form.
type earlyLoadHost struct {
	*ojstest.Host
}

func (h *earlyLoadHost) MountFrame(ctx context.Context, req ojs.FrameRequest) (ojs.Frame, error) {
	fr, err := h.Host.MountFrame(ctx, req)
	if err != nil {
		return nil, err
	}
	payload := loadedPayload()
	h.Emit(req.FormID, req.ElementID, &payload)
	time.Sleep(30 * time.Millisecond)
	return fr, nil
}

func TestCreateElementLoadedDuringMount(t *testing.T) {
	t.Parallel()

	host := &earlyLoadHost{Host: ojstest.NewHost(testOrigin, newCheckoutServer())}
	rec := newRecorder()
	form, err := ojs.New(ojs.Config{
		CheckoutSecureToken: testToken,
		FormTarget:          "#checkout",
		BaseURL:             testOrigin,
		Callbacks:           rec.Callbacks(),
	}, host)
	require.NoError(t, err)
	t.Cleanup(form.Destroy)

	el, err := form.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.NoError(t, err)
	rec.waitLoaded(t)
	assert.Equal(t, ojs.ElementLoaded, el.State())
	assert.Zero(t, rec.Count("load_error"))
}

func TestWaitLoaded(t *testing.T) {
	t.Parallel()

	host := ojstest.NewHost(testOrigin, newCheckoutServer())
	form := newForm(t, host, newRecorder())
	_, err := form.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, form.WaitLoaded(ctx), context.DeadlineExceeded)

	host.LoadAll(loadedPayload())
	ctx, cancel = context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, form.WaitLoaded(ctx))
}

func TestCreateElementMountFailure(t *testing.T) {
	t.Parallel()

	host := ojstest.NewHost(testOrigin, cdetest.NewServer())
	host.FailMount(errors.New("target not found"))
	form := newForm(t, host, newRecorder())

	_, err := form.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.ErrorContains(t, err, "target not found")
	assert.Empty(t, host.Frames())
}

func TestFormResizesFrameOnLayout(t *testing.T) {
	t.Parallel()

	server := newCheckoutServer()
	form, host := loadedCardForm(t, server, newRecorder())

	frame := host.Frames()[0]
	host.Emit(form.ID(), frame.Request.ElementID, &ojs.LayoutPayload{Height: ptr(312)})
	assert.Equal(t, 312, frame.Height())
}

func TestSubmitCardCheckout(t *testing.T) {
	t.Parallel()

	server := newCheckoutServer()
	rec := newRecorder()
	var info *ojs.SubmitInfo
	form, host := loadedCardForm(t, server, rec, ojs.WithRunMiddleware(func(next ojs.RunFunc) ojs.RunFunc {
		return func(ctx context.Context, p ojs.RunParams) (*ojs.Result, error) {
			info = ojs.SubmitInfoFromContext(ctx)
			return next(ctx, p)
		}
	}))

	res, err := form.SubmitWith(t.Context(), ojs.FlowCard)
	require.NoError(t, err)
	require.Equal(t, ojs.ModeCheckout, res.Mode)
	assert.Equal(t, "cust_1", res.Checkout.CustomerID)
	assert.Equal(t, []string{"sub_1"}, res.Checkout.SubscriptionIDs)

	assert.Equal(t, 1, rec.Count("checkout_started"))
	assert.Equal(t, []string{"checkout_success:cust_1"}, rec.Terminal())

	elementID := host.Frames()[0].Request.ElementID
	tokenize := server.Calls(cde.OpTokenizeCard)
	require.Len(t, tokenize, 1)
	assert.Equal(t, cde.TokenizeCardRequest{SessionID: testSession, ElementID: elementID}, decodeCall[cde.TokenizeCardRequest](t, tokenize[0]))

	checkout := server.Calls(cde.OpCheckoutCardElements)
	require.Len(t, checkout, 1)
	body := decodeCall[cde.CheckoutCardElementsRequest](t, checkout[0])
	assert.Equal(t, testToken, body.SecureToken)
	assert.Equal(t, testSession, body.SessionID)
	assert.Equal(t, stripeCard, body.CheckoutPaymentMethod)
	assert.Equal(t, map[string]string{ojs.FieldEmail: "buyer@example.com", ojs.FieldZipCode: "10001"}, body.NonCdeFormInputs)
	assert.Equal(t, 1, server.Count(cde.OpGetPrefill))
	assert.Zero(t, server.Count(cde.OpConfirmPaymentFlow))

	require.NotNil(t, info)
	assert.Equal(t, form.ID(), info.FormID)
	assert.Equal(t, ojs.FlowCard, info.Flow)
	assert.Equal(t, "credit_card/stripe", info.PaymentMethod)
	assert.NotEmpty(t, info.AttemptID)

	require.NoError(t, form.Submit(t.Context()))
	assert.Equal(t, 1, server.Count(cde.OpGetPrefill), "prefill is fetched once per form")
	assert.Equal(t, 2, server.Count(cde.OpCheckoutCardElements))
}

func TestSubmitCardSetupMode(t *testing.T) {
	t.Parallel()

	server := newCheckoutServer()
	server.Reply(cde.OpGetPrefill, prefill(cde.CheckoutModeSetup))
	server.Reply(cde.OpSetupCheckout, cde.PaymentResult{Mode: cde.CheckoutModeSetup, PaymentMethodID: "pm_1"})
	rec := newRecorder()
	form, _ := loadedCardForm(t, server, rec)

	res, err := form.SubmitWith(t.Context(), ojs.FlowCard)
	require.NoError(t, err)
	assert.Equal(t, ojs.NewSetupResult("pm_1"), res)
	assert.Equal(t, []string{"setup_success:pm_1"}, rec.Terminal())
	assert.Zero(t, server.Count(cde.OpCheckoutCardElements))
}

func TestSubmitCardThreeDSStepUp(t *testing.T) {
	t.Parallel()

	server := newCheckoutServer()
	server.Fail(cde.OpCheckoutCardElements, "authentication required", map[string]string{
		cde.HeaderShouldUseNewFlow: "true",
		cde.HeaderCommon3DSURL:     challengeURL,
		cde.HeaderPaymentFlowID:    "pf_1",
	})
	rec := newRecorder()
	form, host := loadedCardForm(t, server, rec)

	res, err := form.SubmitWith(t.Context(), ojs.FlowCard)
	require.NoError(t, err)
	assert.Equal(t, "cust_1", res.Checkout.CustomerID)
	assert.Equal(t, []string{"checkout_success:cust_1"}, rec.Terminal())

	overlays := host.Overlays()
	require.Len(t, overlays, 1)
	assert.Equal(t, challengeURL, overlays[0].URL)
	assert.True(t, overlays[0].Removed())

	confirms := server.Calls(cde.OpConfirmPaymentFlow)
	require.Len(t, confirms, 1)
	assert.Equal(t, cde.ConfirmPaymentFlowRequest{SecureToken: testToken, PaymentFlowID: "pf_1"},
		decodeCall[cde.ConfirmPaymentFlowRequest](t, confirms[0]))
}

func TestSubmitCardNewFlowWithoutURL(t *testing.T) {
	t.Parallel()

	server := newCheckoutServer()
	server.Fail(cde.OpCheckoutCardElements, "use new flow", map[string]string{cde.HeaderShouldUseNewFlow: "true"})
	server.Reply(cde.OpStartPaymentFlowForCC, cde.StartPaymentFlowResponse{PaymentFlowID: "pf_cc", RedirectURL: challengeURL})
	rec := newRecorder()
	form, host := loadedCardForm(t, server, rec)

	_, err := form.SubmitWith(t.Context(), ojs.FlowCard)
	require.NoError(t, err)
	assert.Len(t, host.Overlays(), 1)

	confirms := server.Calls(cde.OpConfirmPaymentFlow)
	require.Len(t, confirms, 1)
	assert.Equal(t, "pf_cc", decodeCall[cde.ConfirmPaymentFlowRequest](t, confirms[0]).PaymentFlowID)
}

func TestSubmitCardThreeDSCancelled(t *testing.T) {
	t.Parallel()

	server := newCheckoutServer()
	server.Fail(cde.OpCheckoutCardElements, "authentication required", map[string]string{
		cde.HeaderCommon3DSURL:  challengeURL,
		cde.HeaderPaymentFlowID: "pf_1",
	})
	rec := newRecorder()
	form, host := loadedCardForm(t, server, rec)
	host.ChallengeServer.Reply(cde.OpCheck3DSStatus, cde.Check3DSStatusResponse{Status: cde.ThreeDSStatusPending})
	host.OnOverlay(func(o *ojstest.Overlay) { o.Cancel() })

	_, err := form.SubmitWith(t.Context(), ojs.FlowCard)
	requireCode(t, err, ojs.UserCancelled)
	assert.Equal(t, []string{"checkout_error:3DS verification cancelled"}, rec.Terminal())
	assert.Zero(t, server.Count(cde.OpConfirmPaymentFlow))
}

func TestSubmitCardDeclined(t *testing.T) {
	t.Parallel()

	server := newCheckoutServer()
	server.Fail(cde.OpCheckoutCardElements, "Your card was declined.", nil)
	rec := newRecorder()
	form, _ := loadedCardForm(t, server, rec)

	_, err := form.SubmitWith(t.Context(), ojs.FlowCard)
	var cdeErr *cde.CdeError
	require.ErrorAs(t, err, &cdeErr)
	assert.Equal(t, []string{"checkout_error:Your card was declined. Please try a different card."}, rec.Terminal())
}

func TestSubmitCardValidation(t *testing.T) {
	t.Parallel()

	t.Run("missing email", func(t *testing.T) {
		t.Parallel()

		server := newCheckoutServer()
		rec := newRecorder()
		form, host := loadedCardForm(t, server, rec)
		host.SetFormInputs(map[string]string{ojs.FieldZipCode: "10001"})

		_, err := form.SubmitWith(t.Context(), ojs.FlowCard)
		ojsErr := requireCode(t, err, ojs.InvalidFields)
		assert.Equal(t, ojs.ValidationError, ojsErr.Type)
		assert.Equal(t, 1, rec.Count("validation_error:email:Email is required"))
		assert.Equal(t, []string{"checkout_error:Please check the following fields: email"}, rec.Terminal())
		assert.Zero(t, server.Count(cde.OpTokenizeCard))
	})

	t.Run("card rejected by element", func(t *testing.T) {
		t.Parallel()

		server := newCheckoutServer()
		server.Reply(cde.OpTokenizeCard, cde.TokenizeCardResponse{Errors: []string{"Card number is incomplete"}})
		rec := newRecorder()
		form, _ := loadedCardForm(t, server, rec)

		_, err := form.SubmitWith(t.Context(), ojs.FlowCard)
		requireCode(t, err, ojs.InvalidFields)
		assert.Equal(t, 1, rec.Count("validation_error:card:Card number is incomplete"))
		assert.Zero(t, server.Count(cde.OpCheckoutCardElements))
	})
}

func TestSubmitRefusedBeforeLoad(t *testing.T) {
	t.Parallel()

	host := ojstest.NewHost(testOrigin, newCheckoutServer())
	rec := newRecorder()
	form := newForm(t, host, rec)
	_, err := form.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.NoError(t, err)

	_, err = form.SubmitWith(t.Context(), ojs.FlowCard)
	requireCode(t, err, ojs.FormNotLoaded)
	assert.Empty(t, rec.Events(), "refused submits fire no callbacks")
}

func TestSubmitRefusedWhileInProgress(t *testing.T) {
	t.Parallel()

	server := newCheckoutServer()
	release := make(chan struct{})
	server.Handle(cde.OpCheckoutCardElements, func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-release
		return paymentResult(), nil
	})
	rec := newRecorder()
	form, _ := loadedCardForm(t, server, rec)

	done := make(chan error, 1)
	go func() {
		_, err := form.SubmitWith(context.Background(), ojs.FlowCard)
		done <- err
	}()
	require.Eventually(t, func() bool { return server.Count(cde.OpCheckoutCardElements) == 1 }, 2*time.Second, time.Millisecond)

	_, err := form.SubmitWith(t.Context(), ojs.FlowCard)
	requireCode(t, err, ojs.SubmitInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"checkout_success:cust_1"}, rec.Terminal())
}

func TestSubmitUnknownFlow(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	form, _ := loadedCardForm(t, newCheckoutServer(), rec)

	_, err := form.SubmitWith(t.Context(), "venmo")
	requireCode(t, err, ojs.UnknownFlow)
	_, err = form.SubmitWith(t.Context(), ojs.FlowStripeApplePay)
	requireCode(t, err, ojs.MissingPaymentMethod)
	assert.Zero(t, rec.Count("checkout_started"))
}

// walletForm loads a form whose session also enables Stripe Apple Pay and
// waits for the wallet flow to initialise.
func walletForm(t *testing.T, server *cdetest.Server, rec *recorder, wallet *fakeWallet, opts ...ojs.Option) *ojs.Form {
	t.Helper()
	factory, _ := wallet.factory()
	host := ojstest.NewHost(testOrigin, server)
	host.SetFormInputs(map[string]string{ojs.FieldEmail: "buyer@example.com"})
	form := newForm(t, host, rec, append([]ojs.Option{ojs.WithWallets(ojs.Wallets{ApplePay: factory})}, opts...)...)
	_, err := form.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.NoError(t, err)
	host.LoadAll(loadedPayload(stripeCard, stripeApplePay))
	rec.waitLoaded(t)

	require.Eventually(t, func() bool {
		return rec.Count("init:stripe-apple-pay:loaded") == 1
	}, 2*time.Second, time.Millisecond)
	s, ok := form.InitStatus(ojs.FlowStripeApplePay)
	require.True(t, ok)
	require.Equal(t, ojs.InitLoaded, s.State)
	return form
}

func walletServer() *cdetest.Server {
	server := newCheckoutServer()
	server.Reply(cde.OpUpdateCheckoutCustomer, cde.UpdateCheckoutCustomerResponse{CustomerID: "cust_1"})
	server.Reply(cde.OpStartPaymentFlow, cde.StartPaymentFlowResponse{PaymentFlowID: "pf_wallet"})
	return server
}

func TestSubmitWalletCheckout(t *testing.T) {
	t.Parallel()

	server := walletServer()
	rec := newRecorder()
	wallet := &fakeWallet{
		available: true,
		payment: &ojs.WalletPayment{
			Token:   "tok_apple",
			Contact: ojs.WalletContact{Email: "wallet@example.com", GivenName: "Ada", FamilyName: "Lovelace", CountryCode: "GB"},
		},
	}
	form := walletForm(t, server, rec, wallet, ojs.WithCustomParams(ojs.CustomParams{
		ojs.FlowStripeApplePay: {"statement_descriptor": "ACME"},
	}))

	res, err := form.SubmitWith(t.Context(), ojs.FlowStripeApplePay)
	require.NoError(t, err)
	assert.Equal(t, "cust_1", res.Checkout.CustomerID)
	assert.Equal(t, []string{"checkout_success:cust_1"}, rec.Terminal())

	reqs := wallet.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, int64(4200), reqs[0].TotalAmountAtoms)
	assert.Equal(t, "usd", reqs[0].Currency)

	update := server.Calls(cde.OpUpdateCheckoutCustomer)
	require.Len(t, update, 1)
	assert.Equal(t, map[string]string{
		ojs.FieldEmail:     "buyer@example.com",
		ojs.FieldFirstName: "Ada",
		ojs.FieldLastName:  "Lovelace",
		ojs.FieldCountry:   "GB",
		ojs.FieldZipCode:   ojs.DefaultWalletZipCode,
	}, decodeCall[cde.UpdateCheckoutCustomerRequest](t, update[0]).NonCdeFormInputs)

	start := server.Calls(cde.OpStartPaymentFlow)
	require.Len(t, start, 1)
	startBody := decodeCall[map[string]any](t, start[0])
	assert.Equal(t, "tok_apple", startBody["wallet_token"])
	assert.Equal(t, "ACME", startBody["statement_descriptor"])

	confirms := server.Calls(cde.OpConfirmPaymentFlow)
	require.Len(t, confirms, 1)
	assert.Equal(t, cde.ConfirmPaymentFlowRequest{SecureToken: testToken, PaymentFlowID: "pf_wallet", WalletToken: "tok_apple"},
		decodeCall[cde.ConfirmPaymentFlowRequest](t, confirms[0]))
	assert.Zero(t, server.Count(cde.OpTokenizeCard))
}

func TestSubmitWalletSetupMode(t *testing.T) {
	t.Parallel()

	server := walletServer()
	server.Reply(cde.OpGetPrefill, prefill(cde.CheckoutModeSetup))
	server.Reply(cde.OpFinalizeSetupPaymentMethod, cde.FinalizeSetupPaymentMethodResponse{PaymentMethodID: "pm_wallet"})
	rec := newRecorder()
	wallet := &fakeWallet{available: true, payment: &ojs.WalletPayment{Token: "tok_apple"}}
	form := walletForm(t, server, rec, wallet)

	res, err := form.SubmitWith(t.Context(), ojs.FlowStripeApplePay)
	require.NoError(t, err)
	assert.Equal(t, ojs.NewSetupResult("pm_wallet"), res)
	assert.Equal(t, []string{"setup_success:pm_wallet"}, rec.Terminal())
	assert.Zero(t, server.Count(cde.OpConfirmPaymentFlow))
}

func TestSubmitWalletFailures(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		wallet   *fakeWallet
		wantCode ojs.ErrorCode
		wantMsg  string
	}{
		"cancelled": {
			wallet:   &fakeWallet{available: true, paymentErr: ojs.ErrWalletCancelled},
			wantCode: ojs.UserCancelled,
			wantMsg:  "Payment cancelled",
		},
		"unavailable": {
			wallet:   &fakeWallet{available: false},
			wantCode: ojs.FlowUnavailable,
			wantMsg:  "This payment method is not available.",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			server := walletServer()
			rec := newRecorder()
			form := walletForm(t, server, rec, tt.wallet)

			_, err := form.SubmitWith(t.Context(), ojs.FlowStripeApplePay)
			requireCode(t, err, tt.wantCode)
			assert.Equal(t, []string{"checkout_error:" + tt.wantMsg}, rec.Terminal())
			assert.Zero(t, server.Count(cde.OpStartPaymentFlow))
		})
	}
}

func TestSubmitRefusesFlowWhoseInitFailed(t *testing.T) {
	t.Parallel()

	server := walletServer()
	rec := newRecorder()
	wallet := &fakeWallet{available: true, canErr: errors.New("merchant not registered"), payment: &ojs.WalletPayment{Token: "tok_apple"}}
	factory, _ := wallet.factory()
	host := ojstest.NewHost(testOrigin, server)
	host.SetFormInputs(map[string]string{ojs.FieldEmail: "buyer@example.com"})
	form := newForm(t, host, rec, ojs.WithWallets(ojs.Wallets{ApplePay: factory}))
	_, err := form.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.NoError(t, err)
	host.LoadAll(loadedPayload(stripeCard, airwallexApplePay))
	rec.waitLoaded(t)
	require.Eventually(t, func() bool {
		return rec.Count("init:airwallex-apple-pay:error") == 1
	}, 2*time.Second, time.Millisecond)

	s, ok := form.InitStatus(ojs.FlowAirwallexApplePay)
	require.True(t, ok)
	require.NotNil(t, s.Result)
	assert.False(t, s.Result.IsAvailable)

	_, err = form.SubmitWith(t.Context(), ojs.FlowAirwallexApplePay)
	requireCode(t, err, ojs.FlowUnavailable)
	assert.ErrorContains(t, errors.Unwrap(err), "merchant not registered")
	assert.Empty(t, wallet.Requests(), "the wallet sheet is never opened")
	assert.Zero(t, rec.Count("checkout_started"))
	assert.Empty(t, rec.Terminal())
	assert.Zero(t, server.Count(cde.OpStartPaymentFlow))
}

// gatedWallet holds CanMakePayments until release is closed.
type gatedWallet struct {
	release chan struct{}
}

func (w *gatedWallet) CanMakePayments(ctx context.Context, _ ojs.WalletRequest) (bool, error) {
	select {
	case <-w.release:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (w *gatedWallet) RequestPayment(context.Context, ojs.WalletRequest) (*ojs.WalletPayment, error) {
	return &ojs.WalletPayment{Token: "tok_apple"}, nil
}

func TestSubmitRefusesFlowStillInitialising(t *testing.T) {
	t.Parallel()

	server := walletServer()
	rec := newRecorder()
	wallet := &gatedWallet{release: make(chan struct{})}
	host := ojstest.NewHost(testOrigin, server)
	host.SetFormInputs(map[string]string{ojs.FieldEmail: "buyer@example.com"})
	form := newForm(t, host, rec, ojs.WithWallets(ojs.Wallets{
		ApplePay: func(context.Context, cde.CheckoutPaymentMethod) (ojs.Wallet, error) { return wallet, nil },
	}))
	_, err := form.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.NoError(t, err)
	host.LoadAll(loadedPayload(stripeCard, stripeApplePay))
	rec.waitLoaded(t)
	require.Eventually(t, func() bool {
		return rec.Count("init:stripe-apple-pay:loading") == 1
	}, 2*time.Second, time.Millisecond)

	_, err = form.SubmitWith(t.Context(), ojs.FlowStripeApplePay)
	requireCode(t, err, ojs.FlowNotReady)
	assert.Zero(t, rec.Count("checkout_started"))

	close(wallet.release)
	require.Eventually(t, func() bool {
		return rec.Count("init:stripe-apple-pay:loaded") == 1
	}, 2*time.Second, time.Millisecond)
	res, err := form.SubmitWith(t.Context(), ojs.FlowStripeApplePay)
	require.NoError(t, err)
	assert.Equal(t, "cust_1", res.Checkout.CustomerID)
}

func TestSubmitOptions(t *testing.T) {
	t.Parallel()

	server := walletServer()
	rec := newRecorder()
	wallet := &fakeWallet{available: true, payment: &ojs.WalletPayment{Token: "tok_apple"}}
	params := ojs.CustomParams{ojs.FlowStripeApplePay: {"statement_descriptor": "ACME", "channel": "web"}}
	form := walletForm(t, server, rec, wallet, ojs.WithCustomParams(params))

	_, err := form.SubmitWith(t.Context(), ojs.FlowStripeApplePay,
		ojs.WithSubmitParams(map[string]any{"statement_descriptor": "ACME SALE", "order_ref": "ord_1"}),
		ojs.WithSubmitInputs(map[string]string{ojs.FieldEmail: "override@example.com", ojs.FieldZipCode: "94107"}),
	)
	require.NoError(t, err)

	start := server.Calls(cde.OpStartPaymentFlow)
	require.Len(t, start, 1)
	body := decodeCall[map[string]any](t, start[0])
	assert.Equal(t, "ACME SALE", body["statement_descriptor"])
	assert.Equal(t, "ord_1", body["order_ref"])
	assert.Equal(t, "web", body["channel"])
	assert.Equal(t, map[string]any{"statement_descriptor": "ACME", "channel": "web"}, params[ojs.FlowStripeApplePay],
		"form-level params are not modified")

	inputs := decodeCall[cde.UpdateCheckoutCustomerRequest](t, server.Calls(cde.OpUpdateCheckoutCustomer)[0]).NonCdeFormInputs
	assert.Equal(t, "override@example.com", inputs[ojs.FieldEmail])
	assert.Equal(t, "94107", inputs[ojs.FieldZipCode])
}

func TestSubmitPockytPayPal(t *testing.T) {
	t.Parallel()

	server := newCheckoutServer()
	server.Reply(cde.OpStartPaymentFlow, cde.StartPaymentFlowResponse{PaymentFlowID: "pf_pp", RedirectURL: "https://paypal.example/approve", CorrelationID: "txn_1"})
	host := ojstest.NewHost(testOrigin, server)
	host.SetFormInputs(map[string]string{ojs.FieldEmail: "buyer@example.com"})
	rec := newRecorder()
	form := newForm(t, host, rec)
	_, err := form.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.NoError(t, err)
	host.LoadAll(loadedPayload(stripeCard, pockytPayPal))
	rec.waitLoaded(t)

	_, err = form.SubmitWith(t.Context(), ojs.FlowPockytPayPal)
	require.NoError(t, err)
	assert.Equal(t, "https://paypal.example/approve", host.Overlays()[0].URL)

	confirms := server.Calls(cde.OpConfirmPaymentFlow)
	require.Len(t, confirms, 1)
	body := decodeCall[cde.ConfirmPaymentFlowRequest](t, confirms[0])
	assert.Equal(t, "pf_pp", body.PaymentFlowID)
	assert.Equal(t, "txn_1", body.TransactionRef)
}

func TestPreviewCheckout(t *testing.T) {
	t.Parallel()

	server := newCheckoutServer()
	server.Reply(cde.OpGetCheckoutPreview, cde.CheckoutPreview{Mode: cde.CheckoutModePayment, Currency: "usd", AmountTotalAtoms: 3780})
	form, _ := loadedCardForm(t, server, newRecorder())

	preview, err := form.PreviewCheckout(t.Context(), " SAVE10 ")
	require.NoError(t, err)
	assert.Equal(t, int64(3780), preview.AmountTotalAtoms)

	calls := server.Calls(cde.OpGetCheckoutPreview)
	require.Len(t, calls, 1)
	assert.Equal(t, cde.GetCheckoutPreviewRequest{SecureToken: testToken, PromotionCode: "SAVE10"},
		decodeCall[cde.GetCheckoutPreviewRequest](t, calls[0]))
}

func TestDestroy(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	form, host := loadedCardForm(t, newCheckoutServer(), rec)
	require.Equal(t, 1, host.Listeners())

	form.Destroy()
	form.Destroy()

	assert.Zero(t, host.Listeners())
	for _, f := range host.Frames() {
		assert.True(t, f.Unmounted())
	}
	_, err := form.SubmitWith(t.Context(), ojs.FlowCard)
	requireCode(t, err, ojs.FormDestroyed)
	_, err = form.CreateElement(t.Context(), ojs.ElementCard, nil)
	requireCode(t, err, ojs.FormDestroyed)
}

func TestFormIDIsolation(t *testing.T) {
	t.Parallel()

	host := ojstest.NewHost(testOrigin, cdetest.NewServer())
	recA, recB := newRecorder(), newRecorder()
	formA := newForm(t, host, recA)
	formB := newForm(t, host, recB)
	elA, err := formA.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.NoError(t, err)
	_, err = formB.CreateElement(t.Context(), ojs.ElementCard, nil)
	require.NoError(t, err)

	host.Emit(formA.ID(), elA.ID, &ojs.FocusPayload{ElementType: ojs.ElementCard})
	assert.Equal(t, []string{"focus:card"}, recA.Events())
	assert.Empty(t, recB.Events())
}

func TestElementUnmount(t *testing.T) {
	t.Parallel()

	host := ojstest.NewHost(testOrigin, cdetest.NewServer())
	rec := newRecorder()
	form := newForm(t, host, rec)
	el, err := form.CreateElement(t.Context(), ojs.ElementCardCVC, nil)
	require.NoError(t, err)

	require.NoError(t, el.Unmount())
	assert.True(t, host.Frames()[0].Unmounted())
	assert.Equal(t, ojs.ElementUnmounted, el.State())

	host.Emit(form.ID(), el.ID, &ojs.FocusPayload{ElementType: ojs.ElementCardCVC})
	assert.Empty(t, rec.Events())
}

func TestActiveForm(t *testing.T) {
	t.Parallel()

	host := ojstest.NewHost(testOrigin, cdetest.NewServer())
	var active ojs.ActiveForm
	created := 0
	create := func() (*ojs.Form, error) {
		created++
		return newForm(t, host, newRecorder()), nil
	}

	first, err := active.Acquire(create)
	require.NoError(t, err)
	again, err := active.Acquire(create)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, created)

	active.Release(first)
	assert.Nil(t, active.Current())
	_, err = first.SubmitWith(t.Context(), ojs.FlowCard)
	requireCode(t, err, ojs.FormDestroyed)

	second, err := active.Acquire(create)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Same(t, second, active.Current())
}
