package ojs

import (
	"context"

	"github.com/sumup/ojs/cde"
)

const (
	ProviderPayPal  = "paypal"
	ProcessorPockyt = "pockyt"
)

// PockytPayPalFlow pays with PayPal through a Pockyt redirect shown in the
// challenge overlay.
func PockytPayPalFlow() Flow {
	return Flow{
		Name:      FlowPockytPayPal,
		Provider:  ProviderPayPal,
		Processor: ProcessorPockyt,
		Run:       runPockytPayPal,
	}
}

func runPockytPayPal(ctx context.Context, p RunParams) (*Result, error) {
	octx := p.Context
	conn := octx.AnyConnection
	if conn == nil {
		return nil, NewCheckoutError(MissingElement, "No payment element is ready.")
	}
	inputs := p.NonCdeFormInputs.Clone()
	if fields := validateEmailInput(inputs); len(fields) > 0 {
		return nil, NewValidationError(fields)
	}

	body, err := mergeCustomParams(cde.StartPaymentFlowRequest{
		SecureToken:           octx.CheckoutSecureToken,
		CheckoutPaymentMethod: p.PaymentMethod,
		NonCdeFormInputs:      inputs.Map(),
	}, p.CustomParams)
	if err != nil {
		return nil, err
	}
	confirm := cde.ConfirmPaymentFlowRequest{SecureToken: octx.CheckoutSecureToken}
	start, err := cde.Call[cde.StartPaymentFlowResponse](ctx, conn, cde.OpStartPaymentFlow, body)
	if err != nil {
		if ch, ok := asStepUp(err); ok {
			return completeStepUp(ctx, p, inputs, ch, confirm)
		}
		return nil, err
	}
	if start.RedirectURL == "" {
		return nil, NewCheckoutError(RedirectMissing, genericErrorMessage)
	}

	if _, err := RunPopupFlowStrict(ctx, octx.Host, start.RedirectURL, octx.popup...); err != nil {
		return nil, err
	}
	confirm.PaymentFlowID = start.PaymentFlowID
	confirm.TransactionRef = start.CorrelationID
	return confirmPayment(ctx, conn, confirm)
}
