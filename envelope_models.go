package ojs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oapi-codegen/runtime"

	"github.com/sumup/ojs/cde"
)

// EventType is the discriminator of an envelope payload.
type EventType string

// Events emitted by elements.
const (
	EventLayout                 EventType = "LAYOUT"
	EventLoaded                 EventType = "LOADED"
	EventLoadError              EventType = "LOAD_ERROR"
	EventFocus                  EventType = "FOCUS"
	EventBlur                   EventType = "BLUR"
	EventChange                 EventType = "CHANGE"
	EventValidationError        EventType = "VALIDATION_ERROR"
	EventTokenizeStarted        EventType = "TOKENIZE_STARTED"
	EventTokenizeSuccess        EventType = "TOKENIZE_SUCCESS"
	EventTokenizeError          EventType = "TOKENIZE_ERROR"
	EventCheckoutStarted        EventType = "CHECKOUT_STARTED"
	EventCheckoutSuccess        EventType = "CHECKOUT_SUCCESS"
	EventCheckoutError          EventType = "CHECKOUT_ERROR"
	EventPaymentFlowStarted     EventType = "PAYMENT_FLOW_STARTED"
	EventSetupPaymentMethodDone EventType = "SETUP_PAYMENT_METHOD_SUCCESS"
)

// Commands sent to elements.
const (
	CommandTokenize         EventType = "TOKENIZE"
	CommandCheckout         EventType = "CHECKOUT"
	CommandStartPaymentFlow EventType = "START_PAYMENT_FLOW"
)

// ElementType identifies what an element iframe collects.
type ElementType string

const (
	ElementCard       ElementType = "card"
	ElementCardNumber ElementType = "card-number"
	ElementCardExpiry ElementType = "card-expiry"
	ElementCardCVC    ElementType = "card-cvc"
)

// IsCard reports whether the element holds card data that must be tokenized on submit.
func (t ElementType) IsCard() bool {
	switch t {
	case ElementCard, ElementCardNumber, ElementCardExpiry, ElementCardCVC:
		return true
	default:
		return false
	}
}

// Event is one decoded envelope payload. The set of implementations is
// closed: every payload type is routed by the form.
type Event interface {
	EventType() EventType
	dispatch(r *Router, env *Envelope)
}

// LayoutPayload reports the content height of an element.
type LayoutPayload struct {
	Height *int `json:"height" validate:"required,gte=0"`
}

// LoadedPayload is sent once an element has rendered and knows its session.
type LoadedPayload struct {
	SessionID              string                      `json:"sessionId" validate:"required"`
	TotalAmountAtoms       int64                       `json:"totalAmountAtoms" validate:"gte=0"`
	Currency               string                      `json:"currency" validate:"required,currency"`
	CheckoutPaymentMethods []cde.CheckoutPaymentMethod `json:"checkoutPaymentMethods" validate:"required,dive"`
}

// LoadErrorPayload reports that an element failed to initialise.
type LoadErrorPayload struct {
	Message string `json:"message" validate:"required"`
}

// FocusPayload is sent when an element gains focus.
type FocusPayload struct {
	ElementType ElementType `json:"elementType" validate:"required"`
}

// BlurPayload is sent when an element loses focus.
type BlurPayload struct {
	ElementType ElementType `json:"elementType" validate:"required"`
}

// ChangePayload is sent when the content of an element changes.
type ChangePayload struct {
	ElementType ElementType `json:"elementType" validate:"required"`
	Errors      []string    `json:"errors,omitempty"`
}

// ValidationErrorPayload lists field errors detected inside an element.
type ValidationErrorPayload struct {
	ElementType ElementType `json:"elementType" validate:"required"`
	Errors      []string    `json:"errors" validate:"required,min=1"`
}

// TokenizeStartedPayload is sent when an element starts tokenizing.
type TokenizeStartedPayload struct{}

// TokenizeSuccessPayload is sent once the element's card data is tokenized.
type TokenizeSuccessPayload struct {
	IsReadyForCheckout *bool `json:"isReadyForCheckout" validate:"required"`
}

// TokenizeErrorPayload reports a tokenization failure.
type TokenizeErrorPayload struct {
	Message string `json:"message" validate:"required"`
}

// CheckoutStartedPayload is sent when an element starts a checkout on its own.
type CheckoutStartedPayload struct{}

// CheckoutSuccessPayload reports an element-driven checkout that completed.
type CheckoutSuccessPayload struct {
	InvoiceURLs     []string `json:"invoiceUrls" validate:"omitempty,dive,url"`
	SubscriptionIDs []string `json:"subscriptionIds"`
	CustomerID      string   `json:"customerId" validate:"required"`
}

// CheckoutErrorPayload reports an element-driven checkout that failed.
type CheckoutErrorPayload struct {
	Message string   `json:"message" validate:"required"`
	Errors  []string `json:"errors,omitempty"`
}

// PaymentFlowStartedPayload is sent when the CDE opened a payment flow.
type PaymentFlowStartedPayload struct {
	PaymentFlowID      string            `json:"paymentFlowId" validate:"required"`
	NextActionMetadata map[string]string `json:"nextActionMetadata,omitempty"`
}

// SetupPaymentMethodSuccessPayload reports a saved payment method.
type SetupPaymentMethodSuccessPayload struct {
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
}

// TokenizeCommand asks an element to tokenize its card data.
type TokenizeCommand struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// CheckoutCommand asks an element to check out the session.
type CheckoutCommand struct {
	SessionID             string                    `json:"sessionId" validate:"required"`
	CheckoutSecureToken   string                    `json:"checkoutSecureToken" validate:"required"`
	NonCdeFormInputs      map[string]string         `json:"nonCdeFormInputs"`
	CheckoutPaymentMethod cde.CheckoutPaymentMethod `json:"checkoutPaymentMethod" validate:"required"`
}

// StartPaymentFlowCommand asks an element to open a payment flow.
type StartPaymentFlowCommand struct {
	SessionID             string                    `json:"sessionId" validate:"required"`
	CheckoutSecureToken   string                    `json:"checkoutSecureToken" validate:"required"`
	NonCdeFormInputs      map[string]string         `json:"nonCdeFormInputs"`
	CheckoutPaymentMethod cde.CheckoutPaymentMethod `json:"checkoutPaymentMethod" validate:"required"`
}

func (*LayoutPayload) EventType() EventType                    { return EventLayout }
func (*LoadedPayload) EventType() EventType                    { return EventLoaded }
func (*LoadErrorPayload) EventType() EventType                 { return EventLoadError }
func (*FocusPayload) EventType() EventType                     { return EventFocus }
func (*BlurPayload) EventType() EventType                      { return EventBlur }
func (*ChangePayload) EventType() EventType                    { return EventChange }
func (*ValidationErrorPayload) EventType() EventType           { return EventValidationError }
func (*TokenizeStartedPayload) EventType() EventType           { return EventTokenizeStarted }
func (*TokenizeSuccessPayload) EventType() EventType           { return EventTokenizeSuccess }
func (*TokenizeErrorPayload) EventType() EventType             { return EventTokenizeError }
func (*CheckoutStartedPayload) EventType() EventType           { return EventCheckoutStarted }
func (*CheckoutSuccessPayload) EventType() EventType           { return EventCheckoutSuccess }
func (*CheckoutErrorPayload) EventType() EventType             { return EventCheckoutError }
func (*PaymentFlowStartedPayload) EventType() EventType        { return EventPaymentFlowStarted }
func (*SetupPaymentMethodSuccessPayload) EventType() EventType { return EventSetupPaymentMethodDone }
func (*TokenizeCommand) EventType() EventType                  { return CommandTokenize }
func (*CheckoutCommand) EventType() EventType                  { return CommandCheckout }
func (*StartPaymentFlowCommand) EventType() EventType          { return CommandStartPaymentFlow }

var eventFactories = map[EventType]func() Event{
	EventLayout:                 func() Event { return &LayoutPayload{} },
	EventLoaded:                 func() Event { return &LoadedPayload{} },
	EventLoadError:              func() Event { return &LoadErrorPayload{} },
	EventFocus:                  func() Event { return &FocusPayload{} },
	EventBlur:                   func() Event { return &BlurPayload{} },
	EventChange:                 func() Event { return &ChangePayload{} },
	EventValidationError:        func() Event { return &ValidationErrorPayload{} },
	EventTokenizeStarted:        func() Event { return &TokenizeStartedPayload{} },
	EventTokenizeSuccess:        func() Event { return &TokenizeSuccessPayload{} },
	EventTokenizeError:          func() Event { return &TokenizeErrorPayload{} },
	EventCheckoutStarted:        func() Event { return &CheckoutStartedPayload{} },
	EventCheckoutSuccess:        func() Event { return &CheckoutSuccessPayload{} },
	EventCheckoutError:          func() Event { return &CheckoutErrorPayload{} },
	EventPaymentFlowStarted:     func() Event { return &PaymentFlowStartedPayload{} },
	EventSetupPaymentMethodDone: func() Event { return &SetupPaymentMethodSuccessPayload{} },
	CommandTokenize:             func() Event { return &TokenizeCommand{} },
	CommandCheckout:             func() Event { return &CheckoutCommand{} },
	CommandStartPaymentFlow:     func() Event { return &StartPaymentFlowCommand{} },
}

// Payload is the wire form of an envelope payload: a JSON object whose
// "type" member selects the event.
type Payload struct {
	union json.RawMessage
}

type payloadDiscriminator struct {
	Type EventType `json:"type"`
}

// Discriminator returns the "type" member of the payload.
func (t Payload) Discriminator() (EventType, error) {
	var d payloadDiscriminator
	if err := json.Unmarshal(t.union, &d); err != nil {
		return "", err
	}
	if d.Type == "" {
		return "", errors.New("payload has no type")
	}
	return d.Type, nil
}

// AsEvent decodes the payload into the event its discriminator selects.
func (t Payload) AsEvent() (Event, error) {
	typ, err := t.Discriminator()
	if err != nil {
		return nil, err
	}
	factory, ok := eventFactories[typ]
	if !ok {
		return nil, fmt.Errorf("unknown payload type %q", typ)
	}
	ev := factory()
	if err := json.Unmarshal(t.union, ev); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return ev, nil
}

// FromEvent overwrites the payload with ev, tagged with its type.
func (t *Payload) FromEvent(ev Event) error {
	if ev == nil {
		return errors.New("nil event")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	tag, err := json.Marshal(payloadDiscriminator{Type: ev.EventType()})
	if err != nil {
		return err
	}
	merged, err := runtime.JSONMerge(b, tag)
	if err != nil {
		return err
	}
	t.union = merged
	return nil
}

// MergeEvent merges ev into the payload, keeping members ev does not set.
func (t *Payload) MergeEvent(ev Event) error {
	var next Payload
	if err := next.FromEvent(ev); err != nil {
		return err
	}
	if len(t.union) == 0 {
		t.union = next.union
		return nil
	}
	merged, err := runtime.JSONMerge(t.union, next.union)
	if err != nil {
		return err
	}
	t.union = merged
	return nil
}

// MarshalJSON serializes the underlying union.
func (t Payload) MarshalJSON() ([]byte, error) {
	if len(t.union) == 0 {
		return []byte("null"), nil
	}
	return t.union.MarshalJSON()
}

// UnmarshalJSON loads union data.
func (t *Payload) UnmarshalJSON(b []byte) error {
	return t.union.UnmarshalJSON(b)
}
