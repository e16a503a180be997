// Package ojs is the client side of an embeddable checkout form whose card
// data never leaves a separate Card Data Environment (CDE).
//
// # Forms and elements
//
// Create a [Form] with [New], passing the checkout secure token and a [Host]
// that bridges to the page the form lives on. [Form.CreateElement] mounts
// element iframes; each element announces itself with a LOADED envelope and
// the form then opens a signed RPC channel to it with the cde package. Once
// every element is connected the form calls OnLoad and starts initialising
// wallet flows in the background.
//
// Messages between the form and its elements are [Envelope] values. The
// [Router] accepts only envelopes from the CDE origin that carry the form's
// id and an unseen nonce, then dispatches each [Event] exhaustively.
//
// # Payment flows
//
// [Form.Submit] pays with the card elements. [Form.SubmitWith] runs any flow
// of the [Registry]: Apple Pay and Google Pay through Stripe or Airwallex,
// Stripe Link, Loop crypto and PayPal through Pockyt. Every run reports
// OnCheckoutStarted followed by exactly one of OnCheckoutSuccess,
// OnSetupPaymentMethodSuccess and OnCheckoutError.
//
// When the CDE answers with a step-up challenge, the flow shows the
// challenge page with [RunPopupFlow], polls it for the 3DS status, and
// confirms the payment flow once it succeeded.
package ojs
