package ojs

import (
	"context"
	"errors"

	"github.com/sumup/ojs/cde"
)

// ErrWalletCancelled is returned by Wallet.RequestPayment when the user
// closes the payment sheet.
var ErrWalletCancelled = errors.New("ojs: wallet payment cancelled")

// WalletRequest describes the payment a wallet sheet should present.
type WalletRequest struct {
	Flow             FlowName
	PaymentMethod    cde.CheckoutPaymentMethod
	Currency         string
	TotalAmountAtoms int64
	CustomParams     map[string]any
}

// WalletContact is the billing contact a wallet shares with the merchant.
type WalletContact struct {
	Email       string
	GivenName   string
	FamilyName  string
	Phone       string
	PostalCode  string
	CountryCode string
}

func (c WalletContact) inputs() map[string]string {
	return map[string]string{
		FieldEmail:     c.Email,
		FieldFirstName: c.GivenName,
		FieldLastName:  c.FamilyName,
		FieldPhone:     c.Phone,
		FieldZipCode:   c.PostalCode,
		FieldCountry:   c.CountryCode,
	}
}

// WalletPayment is the credential a wallet returns after the user approved.
type WalletPayment struct {
	// Token is the opaque wallet credential forwarded to the CDE.
	Token   string
	Contact WalletContact
}

// Wallet is a third-party payment sheet: Apple Pay, Google Pay, Stripe
// Link or a crypto wallet.
type Wallet interface {
	// CanMakePayments reports whether the wallet can be offered.
	CanMakePayments(ctx context.Context, req WalletRequest) (bool, error)
	// RequestPayment shows the sheet and blocks until the user approves or
	// cancels. Cancellation returns ErrWalletCancelled.
	RequestPayment(ctx context.Context, req WalletRequest) (*WalletPayment, error)
}

// WalletFactory creates the client behind a wallet flow. It is called at
// most once per form and flow.
type WalletFactory func(ctx context.Context, cpm cde.CheckoutPaymentMethod) (Wallet, error)

// Wallets are the wallet clients available to the form. Flows whose
// factory is nil report themselves unavailable.
type Wallets struct {
	ApplePay   WalletFactory
	GooglePay  WalletFactory
	StripeLink WalletFactory
	LoopCrypto WalletFactory
}

// wallet returns the memoized client for flow.
func (c *OjsContext) wallet(ctx context.Context, flow FlowName, factory WalletFactory, cpm cde.CheckoutPaymentMethod) (Wallet, error) {
	if factory == nil {
		return nil, NewCheckoutError(WalletUnavailable, "This payment method is not available.")
	}
	resources := c.Resources
	if resources == nil {
		return factory(ctx, cpm)
	}
	return resources.Wallet(flow).Get(func() (Wallet, error) {
		return factory(ctx, cpm)
	})
}
