package ojs

import (
	"context"

	"github.com/sumup/ojs/cde"
)

// ProviderCreditCard is the provider of card payment methods.
const ProviderCreditCard = "credit_card"

// CardFlow pays with the card entered in the form's card elements. It
// accepts any card processor.
func CardFlow() Flow {
	return Flow{
		Name:     FlowCard,
		Provider: ProviderCreditCard,
		Run:      runCard,
	}
}

func runCard(ctx context.Context, p RunParams) (*Result, error) {
	octx := p.Context
	cards := octx.cardElements()
	if len(cards) == 0 || octx.AnyConnection == nil {
		return nil, NewCheckoutError(MissingElement, "No card element is ready.")
	}
	inputs := p.NonCdeFormInputs.Clone()
	if fields := validateCardInputs(inputs); len(fields) > 0 {
		return nil, NewValidationError(fields)
	}

	for _, el := range cards {
		conn, ok := octx.Connections[el.ID]
		if !ok {
			return nil, NewCheckoutError(MissingElement, "No card element is ready.")
		}
		tok, err := conn.TokenizeCard(ctx, cde.TokenizeCardRequest{SessionID: octx.SessionID, ElementID: el.ID})
		if err != nil {
			return nil, err
		}
		if !tok.Success {
			errs := tok.Errors
			if len(errs) == 0 {
				errs = []string{"Card details are invalid"}
			}
			return nil, NewValidationError([]FieldError{{Field: string(el.Type), Errors: errs, ElementID: el.ID}})
		}
	}

	prefill, err := octx.Prefill(ctx)
	if err != nil {
		return nil, err
	}
	conn := octx.AnyConnection
	var res *cde.PaymentResult
	if prefill.CheckoutPreview.Mode == cde.CheckoutModeSetup {
		res, err = conn.SetupCheckout(ctx, cde.SetupCheckoutRequest{
			SecureToken:      octx.CheckoutSecureToken,
			SessionID:        octx.SessionID,
			NonCdeFormInputs: inputs.Map(),
		})
	} else {
		res, err = conn.CheckoutCardElements(ctx, cde.CheckoutCardElementsRequest{
			SecureToken:           octx.CheckoutSecureToken,
			SessionID:             octx.SessionID,
			CheckoutPaymentMethod: p.PaymentMethod,
			NonCdeFormInputs:      inputs.Map(),
		})
	}
	if err != nil {
		if ch, ok := asStepUp(err); ok {
			return completeStepUp(ctx, p, inputs, ch, cde.ConfirmPaymentFlowRequest{SecureToken: octx.CheckoutSecureToken})
		}
		return nil, err
	}
	return resultFromPayment(res)
}
