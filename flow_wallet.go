package ojs

import (
	"context"
	"errors"

	"github.com/sumup/ojs/cde"
)

// Wallet providers and processors.
const (
	ProviderApplePay   = "apple_pay"
	ProviderGooglePay  = "google_pay"
	ProviderStripeLink = "stripe_link"
	ProviderLoopCrypto = "loop_crypto"

	ProcessorStripe    = "stripe"
	ProcessorAirwallex = "airwallex"
	ProcessorLoop      = "loop"
)

// StripeApplePayFlow pays with Apple Pay through Stripe.
func StripeApplePayFlow() Flow {
	return walletFlow(FlowStripeApplePay, ProviderApplePay, ProcessorStripe, func(w Wallets) WalletFactory { return w.ApplePay })
}

// StripeGooglePayFlow pays with Google Pay through Stripe.
func StripeGooglePayFlow() Flow {
	return walletFlow(FlowStripeGooglePay, ProviderGooglePay, ProcessorStripe, func(w Wallets) WalletFactory { return w.GooglePay })
}

// AirwallexApplePayFlow pays with Apple Pay through Airwallex.
func AirwallexApplePayFlow() Flow {
	return walletFlow(FlowAirwallexApplePay, ProviderApplePay, ProcessorAirwallex, func(w Wallets) WalletFactory { return w.ApplePay })
}

// AirwallexGooglePayFlow pays with Google Pay through Airwallex.
func AirwallexGooglePayFlow() Flow {
	return walletFlow(FlowAirwallexGooglePay, ProviderGooglePay, ProcessorAirwallex, func(w Wallets) WalletFactory { return w.GooglePay })
}

// StripeLinkFlow pays with a Stripe Link wallet.
func StripeLinkFlow() Flow {
	return walletFlow(FlowStripeLink, ProviderStripeLink, ProcessorStripe, func(w Wallets) WalletFactory { return w.StripeLink })
}

// LoopCryptoFlow pays with a crypto wallet through Loop.
func LoopCryptoFlow() Flow {
	return walletFlow(FlowLoopCrypto, ProviderLoopCrypto, ProcessorLoop, func(w Wallets) WalletFactory { return w.LoopCrypto })
}

// walletFlow builds a flow that collects a credential from a wallet sheet
// and exchanges it on the CDE.
func walletFlow(name FlowName, provider, processor string, pick func(Wallets) WalletFactory) Flow {
	return Flow{
		Name:      name,
		Provider:  provider,
		Processor: processor,
		Init: func(ctx context.Context, p InitParams) (*InitResult, error) {
			octx := p.Context
			w, err := octx.wallet(ctx, name, pick(octx.Wallets), p.PaymentMethod)
			if err != nil {
				var ojsErr *Error
				if errors.As(err, &ojsErr) && ojsErr.Code == WalletUnavailable {
					return &InitResult{IsAvailable: false, Reason: "wallet is not configured"}, nil
				}
				return nil, err
			}
			ok, err := w.CanMakePayments(ctx, walletRequest(name, octx, p.PaymentMethod, p.CustomParams))
			if err != nil {
				return nil, err
			}
			if !ok {
				return &InitResult{IsAvailable: false, Reason: "wallet cannot make payments on this device"}, nil
			}
			return &InitResult{IsAvailable: true}, nil
		},
		Run: func(ctx context.Context, p RunParams) (*Result, error) {
			return runWallet(ctx, name, pick(p.Context.Wallets), p)
		},
	}
}

func walletRequest(name FlowName, octx *OjsContext, cpm cde.CheckoutPaymentMethod, custom map[string]any) WalletRequest {
	return WalletRequest{
		Flow:             name,
		PaymentMethod:    cpm,
		Currency:         octx.Currency,
		TotalAmountAtoms: octx.TotalAmountAtoms,
		CustomParams:     custom,
	}
}

func runWallet(ctx context.Context, name FlowName, factory WalletFactory, p RunParams) (*Result, error) {
	octx := p.Context
	if p.InitResult != nil && !p.InitResult.IsAvailable {
		return nil, NewCheckoutError(FlowUnavailable, "This payment method is not available.")
	}
	conn := octx.AnyConnection
	if conn == nil {
		return nil, NewCheckoutError(MissingElement, "No payment element is ready.")
	}
	w, err := octx.wallet(ctx, name, factory, p.PaymentMethod)
	if err != nil {
		return nil, err
	}
	payment, err := w.RequestPayment(ctx, walletRequest(name, octx, p.PaymentMethod, p.CustomParams))
	if err != nil {
		if errors.Is(err, ErrWalletCancelled) {
			return nil, NewCheckoutError(UserCancelled, "Payment cancelled", WithCause(err))
		}
		return nil, err
	}

	inputs := p.NonCdeFormInputs.FillFrom(payment.Contact.inputs()).withWalletDefaults()
	if fields := validateWalletInputs(inputs); len(fields) > 0 {
		return nil, NewValidationError(fields)
	}
	if _, err := conn.UpdateCheckoutCustomer(ctx, cde.UpdateCheckoutCustomerRequest{
		SecureToken:      octx.CheckoutSecureToken,
		NonCdeFormInputs: inputs.Map(),
	}); err != nil {
		return nil, err
	}

	body, err := mergeCustomParams(cde.StartPaymentFlowRequest{
		SecureToken:           octx.CheckoutSecureToken,
		CheckoutPaymentMethod: p.PaymentMethod,
		NonCdeFormInputs:      inputs.Map(),
		WalletToken:           payment.Token,
	}, p.CustomParams)
	if err != nil {
		return nil, err
	}
	confirm := cde.ConfirmPaymentFlowRequest{SecureToken: octx.CheckoutSecureToken, WalletToken: payment.Token}
	start, err := cde.Call[cde.StartPaymentFlowResponse](ctx, conn, cde.OpStartPaymentFlow, body)
	if err != nil {
		if ch, ok := asStepUp(err); ok {
			return completeStepUp(ctx, p, inputs, ch, confirm)
		}
		return nil, err
	}
	confirm.PaymentFlowID = start.PaymentFlowID

	prefill, err := octx.Prefill(ctx)
	if err != nil {
		return nil, err
	}
	if prefill.CheckoutPreview.Mode == cde.CheckoutModeSetup {
		fin, err := conn.FinalizeSetupPaymentMethod(ctx, cde.FinalizeSetupPaymentMethodRequest{
			SecureToken:   octx.CheckoutSecureToken,
			PaymentFlowID: start.PaymentFlowID,
		})
		if err != nil {
			return nil, err
		}
		return NewSetupResult(fin.PaymentMethodID), nil
	}

	res, err := confirmPayment(ctx, conn, confirm)
	if err != nil {
		if ch, ok := asStepUp(err); ok {
			return completeStepUp(ctx, p, inputs, ch, confirm)
		}
		return nil, err
	}
	return res, nil
}
