package ojs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/oapi-codegen/runtime"

	"github.com/sumup/ojs/cde"
)

// asStepUp extracts a step-up challenge from a CDE error.
func asStepUp(err error) (*cde.StepUpChallenge, bool) {
	var cdeErr *cde.CdeError
	if !errors.As(err, &cdeErr) {
		return nil, false
	}
	return cdeErr.StepUp()
}

// completeStepUp shows the challenge and confirms the payment flow once it
// succeeded. A challenge without URL first starts the card payment flow to
// obtain one.
func completeStepUp(ctx context.Context, p RunParams, inputs FormInputs, ch *cde.StepUpChallenge, confirm cde.ConfirmPaymentFlowRequest) (*Result, error) {
	octx := p.Context
	conn := octx.AnyConnection
	url := ch.ChallengeURL
	if url == "" {
		start, err := conn.StartPaymentFlowForCC(ctx, cde.StartPaymentFlowForCCRequest{
			SecureToken:           octx.CheckoutSecureToken,
			SessionID:             octx.SessionID,
			CheckoutPaymentMethod: p.PaymentMethod,
			NonCdeFormInputs:      inputs.Map(),
		})
		if err != nil {
			return nil, err
		}
		confirm.PaymentFlowID = start.PaymentFlowID
		confirm.ExistingCCPMID = start.ExistingCCPMID
		if start.RedirectURL == "" {
			return confirmPayment(ctx, conn, confirm)
		}
		url = start.RedirectURL
	}

	if _, err := RunPopupFlowStrict(ctx, octx.Host, url, octx.popup...); err != nil {
		return nil, err
	}

	switch ch.Processor {
	case cde.StepUpAirwallex:
		confirm.ConsentID = ch.CorrelationID
	case cde.StepUpPockyt:
		confirm.TransactionRef = ch.CorrelationID
	default:
		if confirm.PaymentFlowID == "" {
			confirm.PaymentFlowID = ch.CorrelationID
		}
	}
	return confirmPayment(ctx, conn, confirm)
}

func confirmPayment(ctx context.Context, conn *cde.Connection, req cde.ConfirmPaymentFlowRequest) (*Result, error) {
	res, err := conn.ConfirmPaymentFlow(ctx, req)
	if err != nil {
		return nil, err
	}
	return resultFromPayment(res)
}

// mergeCustomParams overlays integrator-supplied params on a request body.
func mergeCustomParams(req any, custom map[string]any) (any, error) {
	if len(custom) == 0 {
		return req, nil
	}
	base, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	patch, err := json.Marshal(custom)
	if err != nil {
		return nil, err
	}
	merged, err := runtime.JSONMerge(base, patch)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(merged), nil
}
