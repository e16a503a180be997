package cde

import "strings"

// Header keys the CDE uses to request step-up authentication.
const (
	HeaderShouldUseNewFlow     = "op-should-use-new-flow"
	HeaderPaymentFlowID        = "op-payment-flow-id"
	HeaderCommon3DSURL         = "op-common-3ds-redirect-url"
	HeaderAirwallex3DSURL      = "op-airwallex-3ds-redirect-url"
	HeaderAirwallexConsentID   = "op-airwallex-consent-id"
	HeaderPockyt3DSURL         = "op-pockyt-3ds-redirect-url"
	HeaderPockytTransactionRef = "op-pockyt-transaction-ref"
)

// StepUpProcessor identifies who issued a step-up challenge.
type StepUpProcessor string

const (
	StepUpCommon    StepUpProcessor = "common"
	StepUpAirwallex StepUpProcessor = "airwallex"
	StepUpPockyt    StepUpProcessor = "pockyt"
)

// StepUpChallenge is the typed form of the step-up headers on a [CdeError].
type StepUpChallenge struct {
	Processor StepUpProcessor
	// ChallengeURL is empty when the CDE only asked to switch to the new
	// payment flow; callers then start it to obtain the URL.
	ChallengeURL string
	// CorrelationID is the consent id, transaction reference or payment
	// flow id the confirm call must echo back.
	CorrelationID string
	UseNewFlow    bool
}

// StepUp reports whether e asks for a step-up challenge. Provider-specific
// headers take precedence over the common 3DS header.
func (e *CdeError) StepUp() (*StepUpChallenge, bool) {
	if e == nil {
		return nil, false
	}
	useNewFlow := strings.EqualFold(strings.TrimSpace(e.Header(HeaderShouldUseNewFlow)), "true")
	switch {
	case e.Header(HeaderAirwallex3DSURL) != "":
		return &StepUpChallenge{
			Processor:     StepUpAirwallex,
			ChallengeURL:  e.Header(HeaderAirwallex3DSURL),
			CorrelationID: e.Header(HeaderAirwallexConsentID),
			UseNewFlow:    useNewFlow,
		}, true
	case e.Header(HeaderPockyt3DSURL) != "":
		return &StepUpChallenge{
			Processor:     StepUpPockyt,
			ChallengeURL:  e.Header(HeaderPockyt3DSURL),
			CorrelationID: e.Header(HeaderPockytTransactionRef),
			UseNewFlow:    useNewFlow,
		}, true
	case e.Header(HeaderCommon3DSURL) != "" || useNewFlow:
		return &StepUpChallenge{
			Processor:     StepUpCommon,
			ChallengeURL:  e.Header(HeaderCommon3DSURL),
			CorrelationID: e.Header(HeaderPaymentFlowID),
			UseNewFlow:    useNewFlow,
		}, true
	default:
		return nil, false
	}
}
