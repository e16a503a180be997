package cde

import "context"

// Operation names a CDE RPC.
type Operation string

// Defines values for Operation.
const (
	OpPing                       Operation = "ping"
	OpGetPrefill                 Operation = "get_prefill"
	OpGetCheckoutPreview         Operation = "get_checkout_preview"
	OpStartPaymentFlow           Operation = "start_payment_flow"
	OpStartPaymentFlowForCC      Operation = "start_payment_flow_for_cc"
	OpConfirmPaymentFlow         Operation = "confirm_payment_flow"
	OpSetupCheckout              Operation = "setup_checkout"
	OpCheckoutCardElements       Operation = "checkout_card_elements"
	OpTokenizeCard               Operation = "tokenize_card"
	OpUpdateCheckoutCustomer     Operation = "update_checkout_customer"
	OpFinalizeSetupPaymentMethod Operation = "finalize_setup_payment_method"
	OpCheck3DSStatus             Operation = "check_3ds_status"
)

// CheckoutMode distinguishes paying now from saving a payment method.
type CheckoutMode string

// Defines values for CheckoutMode.
const (
	CheckoutModePayment CheckoutMode = "payment"
	CheckoutModeSetup   CheckoutMode = "setup"
)

// CheckoutPaymentMethod is a server-declared way the current session can be paid.
type CheckoutPaymentMethod struct {
	Provider      string         `json:"provider" validate:"required"`
	ProcessorName string         `json:"processor_name" validate:"required"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// LineItem defines model for CheckoutPreview.line_items.Item.
type LineItem struct {
	Description      string `json:"description"`
	Quantity         int    `json:"quantity" validate:"gte=0"`
	AmountAtoms      int64  `json:"amount_atoms"`
	PriceID          string `json:"price_id,omitempty"`
	IsTrial          bool   `json:"is_trial,omitempty"`
	TrialPeriodDays  *int   `json:"trial_period_days,omitempty"`
	RecurringPeriod  string `json:"recurring_period,omitempty"`
	CouponPercentOff *int   `json:"coupon_percent_off,omitempty"`
}

// CheckoutPreview is the priced view of the checkout session.
type CheckoutPreview struct {
	Mode             CheckoutMode `json:"mode" validate:"required,oneof=payment setup"`
	Currency         string       `json:"currency" validate:"required,currency"`
	AmountTotalAtoms int64        `json:"amount_total_atoms" validate:"gte=0"`
	LineItems        []LineItem   `json:"line_items" validate:"omitempty,dive"`
}

// Prefill is server-supplied initial checkout data fetched at form load.
type Prefill struct {
	Token           string          `json:"token" validate:"required"`
	CheckoutPreview CheckoutPreview `json:"checkout_preview" validate:"required"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	CustomerZipCode string          `json:"customer_zip_code,omitempty"`
}

// GetPrefillRequest defines model for get_prefill.
type GetPrefillRequest struct {
	SecureToken string `json:"secure_token"`
}

// GetCheckoutPreviewRequest defines model for get_checkout_preview.
type GetCheckoutPreviewRequest struct {
	SecureToken   string `json:"secure_token"`
	PromotionCode string `json:"promotion_code,omitempty"`
}

// StartPaymentFlowRequest defines model for start_payment_flow.
type StartPaymentFlowRequest struct {
	SecureToken           string                `json:"secure_token"`
	CheckoutPaymentMethod CheckoutPaymentMethod `json:"checkout_payment_method"`
	NonCdeFormInputs      map[string]string     `json:"non_cde_form_inputs"`
	// WalletToken carries an opaque wallet credential (Apple Pay token,
	// Google Pay payment data, crypto transaction id).
	WalletToken    string `json:"wallet_token,omitempty"`
	ExistingCCPMID string `json:"existing_cc_pm_id,omitempty"`
}

// StartPaymentFlowForCCRequest defines model for start_payment_flow_for_cc.
type StartPaymentFlowForCCRequest struct {
	SecureToken           string                `json:"secure_token"`
	SessionID             string                `json:"session_id"`
	CheckoutPaymentMethod CheckoutPaymentMethod `json:"checkout_payment_method"`
	NonCdeFormInputs      map[string]string     `json:"non_cde_form_inputs"`
}

// StartPaymentFlowResponse defines model for start_payment_flow responses.
type StartPaymentFlowResponse struct {
	PaymentFlowID       string            `json:"payment_flow_id" validate:"required"`
	RequiredUserActions []string          `json:"required_user_actions"`
	RedirectURL         string            `json:"redirect_url,omitempty" validate:"omitempty,url"`
	CorrelationID       string            `json:"correlation_id,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	ExistingCCPMID      string            `json:"existing_cc_pm_id,omitempty"`
}

// ConfirmPaymentFlowRequest defines model for confirm_payment_flow.
type ConfirmPaymentFlowRequest struct {
	SecureToken    string `json:"secure_token"`
	PaymentFlowID  string `json:"payment_flow_id,omitempty"`
	ExistingCCPMID string `json:"existing_cc_pm_id,omitempty"`
	ConsentID      string `json:"consent_id,omitempty"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	WalletToken    string `json:"wallet_token,omitempty"`
}

// PaymentResult is the outcome of a completed checkout or setup on the CDE.
// Checkout responses carry invoice and subscription data, setup responses a
// payment method id.
type PaymentResult struct {
	Mode            CheckoutMode `json:"mode" validate:"required,oneof=payment setup"`
	InvoiceURLs     []string     `json:"invoice_urls" validate:"required_if=Mode payment,omitempty,dive,url"`
	SubscriptionIDs []string     `json:"subscription_ids"`
	CustomerID      string       `json:"customer_id" validate:"required_if=Mode payment"`
	PaymentMethodID string       `json:"payment_method_id" validate:"required_if=Mode setup"`
}

// SetupCheckoutRequest defines model for setup_checkout.
type SetupCheckoutRequest struct {
	SecureToken      string            `json:"secure_token"`
	SessionID        string            `json:"session_id"`
	NonCdeFormInputs map[string]string `json:"non_cde_form_inputs"`
}

// CheckoutCardElementsRequest defines model for checkout_card_elements.
type CheckoutCardElementsRequest struct {
	SecureToken           string                `json:"secure_token"`
	SessionID             string                `json:"session_id"`
	CheckoutPaymentMethod CheckoutPaymentMethod `json:"checkout_payment_method"`
	NonCdeFormInputs      map[string]string     `json:"non_cde_form_inputs"`
}

// TokenizeCardRequest defines model for tokenize_card.
type TokenizeCardRequest struct {
	SessionID string `json:"session_id"`
	ElementID string `json:"element_id"`
}

// TokenizeCardResponse defines model for tokenize_card responses.
type TokenizeCardResponse struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
}

// UpdateCheckoutCustomerRequest defines model for update_checkout_customer.
type UpdateCheckoutCustomerRequest struct {
	SecureToken      string            `json:"secure_token"`
	NonCdeFormInputs map[string]string `json:"non_cde_form_inputs"`
	UpdateShipping   bool              `json:"update_shipping_address"`
}

// UpdateCheckoutCustomerResponse defines model for update_checkout_customer responses.
type UpdateCheckoutCustomerResponse struct {
	CustomerID string `json:"customer_id" validate:"required"`
}

// FinalizeSetupPaymentMethodRequest defines model for finalize_setup_payment_method.
type FinalizeSetupPaymentMethodRequest struct {
	SecureToken   string `json:"secure_token"`
	PaymentFlowID string `json:"payment_flow_id"`
}

// FinalizeSetupPaymentMethodResponse defines model for finalize_setup_payment_method responses.
type FinalizeSetupPaymentMethodResponse struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
}

// ThreeDSStatus is the resolution state of a step-up challenge.
type ThreeDSStatus string

// Defines values for ThreeDSStatus.
const (
	ThreeDSStatusPending ThreeDSStatus = "pending"
	ThreeDSStatusSuccess ThreeDSStatus = "success"
	ThreeDSStatusFailure ThreeDSStatus = "failure"
)

// Check3DSStatusResponse defines model for check_3ds_status responses.
type Check3DSStatusResponse struct {
	Status ThreeDSStatus `json:"status" validate:"required,oneof=pending success failure"`
	Href   string        `json:"href,omitempty"`
}

// GetPrefill fetches the checkout prefill.
func (c *Connection) GetPrefill(ctx context.Context, req GetPrefillRequest) (*Prefill, error) {
	return Call[Prefill](ctx, c, OpGetPrefill, req)
}

// GetCheckoutPreview prices the session, optionally with a promotion code.
func (c *Connection) GetCheckoutPreview(ctx context.Context, req GetCheckoutPreviewRequest) (*CheckoutPreview, error) {
	return Call[CheckoutPreview](ctx, c, OpGetCheckoutPreview, req)
}

// StartPaymentFlow begins a wallet or redirect payment flow.
func (c *Connection) StartPaymentFlow(ctx context.Context, req StartPaymentFlowRequest) (*StartPaymentFlowResponse, error) {
	return Call[StartPaymentFlowResponse](ctx, c, OpStartPaymentFlow, req)
}

// StartPaymentFlowForCC begins the step-up capable card payment flow.
func (c *Connection) StartPaymentFlowForCC(ctx context.Context, req StartPaymentFlowForCCRequest) (*StartPaymentFlowResponse, error) {
	return Call[StartPaymentFlowResponse](ctx, c, OpStartPaymentFlowForCC, req)
}

// ConfirmPaymentFlow completes a previously started payment flow.
func (c *Connection) ConfirmPaymentFlow(ctx context.Context, req ConfirmPaymentFlowRequest) (*PaymentResult, error) {
	return Call[PaymentResult](ctx, c, OpConfirmPaymentFlow, req)
}

// SetupCheckout saves the tokenized card without charging it.
func (c *Connection) SetupCheckout(ctx context.Context, req SetupCheckoutRequest) (*PaymentResult, error) {
	return Call[PaymentResult](ctx, c, OpSetupCheckout, req)
}

// CheckoutCardElements charges the card tokenized in the session's elements.
func (c *Connection) CheckoutCardElements(ctx context.Context, req CheckoutCardElementsRequest) (*PaymentResult, error) {
	return Call[PaymentResult](ctx, c, OpCheckoutCardElements, req)
}

// TokenizeCard asks the element bound to c to tokenize its card data.
func (c *Connection) TokenizeCard(ctx context.Context, req TokenizeCardRequest) (*TokenizeCardResponse, error) {
	return Call[TokenizeCardResponse](ctx, c, OpTokenizeCard, req)
}

// UpdateCheckoutCustomer stores customer details collected outside the CDE.
func (c *Connection) UpdateCheckoutCustomer(ctx context.Context, req UpdateCheckoutCustomerRequest) (*UpdateCheckoutCustomerResponse, error) {
	return Call[UpdateCheckoutCustomerResponse](ctx, c, OpUpdateCheckoutCustomer, req)
}

// FinalizeSetupPaymentMethod completes a setup-mode payment flow.
func (c *Connection) FinalizeSetupPaymentMethod(ctx context.Context, req FinalizeSetupPaymentMethodRequest) (*FinalizeSetupPaymentMethodResponse, error) {
	return Call[FinalizeSetupPaymentMethodResponse](ctx, c, OpFinalizeSetupPaymentMethod, req)
}

// Check3DSStatus asks whether the step-up challenge shown in the overlay has resolved.
func (c *Connection) Check3DSStatus(ctx context.Context) (*Check3DSStatusResponse, error) {
	return Call[Check3DSStatusResponse](ctx, c, OpCheck3DSStatus, struct{}{})
}
