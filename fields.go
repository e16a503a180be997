package ojs

import (
	"errors"
	"maps"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sumup/ojs/cde"
)

// Names of the non-CDE form inputs.
const (
	FieldEmail         = "email"
	FieldFirstName     = "first_name"
	FieldLastName      = "last_name"
	FieldPhone         = "phone"
	FieldZipCode       = "zip_code"
	FieldCountry       = "country"
	FieldAddressLine1  = "address_line1"
	FieldAddressLine2  = "address_line2"
	FieldCity          = "city"
	FieldState         = "state"
	FieldPromotionCode = "promotion_code"
)

// Defaults applied to wallet payments whose contact lacks billing details.
const (
	DefaultWalletZipCode = "00000"
	DefaultWalletCountry = "US"
	DefaultWalletName    = "_"
)

// FormInputs are the values of the inputs rendered outside the CDE,
// keyed by field name.
type FormInputs map[string]string

// Clone returns a copy with blank values removed.
func (in FormInputs) Clone() FormInputs {
	out := make(FormInputs, len(in))
	for k, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// FillFrom returns a copy of in where missing or blank fields take the value
// from src. Existing values win.
func (in FormInputs) FillFrom(src map[string]string) FormInputs {
	out := in.Clone()
	for k, v := range src {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// withWalletDefaults fills the billing fields wallets may omit.
func (in FormInputs) withWalletDefaults() FormInputs {
	return in.FillFrom(map[string]string{
		FieldZipCode:   DefaultWalletZipCode,
		FieldCountry:   DefaultWalletCountry,
		FieldFirstName: DefaultWalletName,
		FieldLastName:  DefaultWalletName,
	})
}

// Map returns a plain map copy for wire requests.
func (in FormInputs) Map() map[string]string {
	return maps.Clone(map[string]string(in.Clone()))
}

type cardInputs struct {
	Email   string `json:"email" validate:"required,email"`
	ZipCode string `json:"zip_code" validate:"omitempty,max=16"`
	Country string `json:"country" validate:"omitempty,len=2"`
}

type walletInputs struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	ZipCode   string `json:"zip_code" validate:"required,max=16"`
	Country   string `json:"country" validate:"required,len=2"`
}

type emailInputs struct {
	Email string `json:"email" validate:"required,email"`
}

var fieldValidator = cde.NewValidator()

// validateCardInputs checks the fields collected next to card elements.
func validateCardInputs(in FormInputs) []FieldError {
	return validateFields(cardInputs{
		Email:   in[FieldEmail],
		ZipCode: in[FieldZipCode],
		Country: in[FieldCountry],
	})
}

// validateWalletInputs checks inputs after wallet contact and defaults were merged.
func validateWalletInputs(in FormInputs) []FieldError {
	return validateFields(walletInputs{
		Email:     in[FieldEmail],
		FirstName: in[FieldFirstName],
		LastName:  in[FieldLastName],
		ZipCode:   in[FieldZipCode],
		Country:   in[FieldCountry],
	})
}

func validateEmailInput(in FormInputs) []FieldError {
	return validateFields(emailInputs{Email: in[FieldEmail]})
}

func validateFields(v any) []FieldError {
	err := fieldValidator.Struct(v)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return []FieldError{{Field: "form", Errors: []string{err.Error()}}}
	}
	byField := make(map[string][]string)
	for _, fe := range validationErrs {
		name := cde.JSONPath(fe)
		byField[name] = append(byField[name], displayName(name)+" "+cde.ValidationMessage(fe))
	}
	names := make([]string, 0, len(byField))
	for name := range byField {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]FieldError, 0, len(names))
	for _, name := range names {
		out = append(out, FieldError{Field: name, Errors: byField[name]})
	}
	return out
}

func displayName(field string) string {
	s := strings.ReplaceAll(field, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
