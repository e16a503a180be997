package ojs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sumup/ojs/cde"
)

const (
	genericErrorMessage  = "Something went wrong. Please try again."
	networkErrorMessage  = "We couldn't reach the payment server. Check your connection and try again."
	declinedErrorMessage = "Your payment could not be completed. Please try another payment method."
	cancelled3DSMessage  = "3DS verification cancelled"
)

// friendlyMessages maps lowercased raw messages to user-facing text.
var friendlyMessages = map[string]string{
	"failed to fetch": networkErrorMessage,
	"load failed":     networkErrorMessage,
	"network error":   networkErrorMessage,

	"networkerror when attempting to fetch resource.": networkErrorMessage,

	"card declined":                           "Your card was declined. Please try a different card.",
	"your card was declined.":                 "Your card was declined. Please try a different card.",
	"your card has expired.":                  "Your card has expired. Please try a different card.",
	"your card has insufficient funds.":       "Your card has insufficient funds. Please try a different card.",
	"your card's security code is incorrect.": "Your card's security code is incorrect.",
	"checkout session expired":                "This checkout has expired. Please refresh the page and try again.",
}

// FriendlyMessage renders err for display in OnCheckoutError.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	var ojsErr *Error
	if errors.As(err, &ojsErr) {
		switch ojsErr.Type {
		case CheckoutError, ValidationError:
			return friendlyMessage(ojsErr.Message)
		}
	}
	var cdeErr *cde.CdeError
	if errors.As(err, &cdeErr) {
		return friendlyMessage(cdeErr.Message)
	}
	var connErr *cde.ConnectionError
	if errors.As(err, &connErr) {
		return networkErrorMessage
	}
	if ojsErr != nil {
		return friendlyMessage(ojsErr.Message)
	}
	return genericErrorMessage
}

// friendlyMessage turns a raw message into user-facing text. Known
// messages are mapped, structured validation lists are rendered as bullet
// lists, and anything else is passed through.
func friendlyMessage(raw string) string {
	msg := strings.TrimSpace(raw)
	if msg == "" {
		return genericErrorMessage
	}
	if mapped, ok := friendlyMessages[strings.ToLower(msg)]; ok {
		return mapped
	}
	if issues, ok := parsePydanticErrors(msg); ok {
		return formatIssues(issues)
	}
	if issues, ok := parseZodErrors(msg); ok {
		return formatIssues(issues)
	}
	return msg
}

type issue struct {
	path    string
	message string
}

func formatIssues(issues []issue) string {
	var b strings.Builder
	b.WriteString("Please fix the following:")
	for _, is := range issues {
		b.WriteString("\n• ")
		if is.path != "" {
			b.WriteString(displayName(is.path))
			b.WriteString(": ")
		}
		b.WriteString(is.message)
	}
	return b.String()
}

type pydanticError struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// parsePydanticErrors recognises a JSON list of {loc, msg, type} objects.
func parsePydanticErrors(msg string) ([]issue, bool) {
	if !strings.HasPrefix(msg, "[") {
		return nil, false
	}
	var errs []pydanticError
	if err := json.Unmarshal([]byte(msg), &errs); err != nil || len(errs) == 0 {
		return nil, false
	}
	out := make([]issue, 0, len(errs))
	for _, e := range errs {
		if e.Msg == "" || e.Loc == nil {
			return nil, false
		}
		out = append(out, issue{path: joinPath(trimBodyLoc(e.Loc)), message: e.Msg})
	}
	return out, true
}

type zodIssue struct {
	Path    []any  `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// parseZodErrors recognises a JSON list of {path, message, code} objects,
// bare or wrapped in {"issues": [...]}.
func parseZodErrors(msg string) ([]issue, bool) {
	var issues []zodIssue
	switch {
	case strings.HasPrefix(msg, "["):
		if err := json.Unmarshal([]byte(msg), &issues); err != nil {
			return nil, false
		}
	case strings.HasPrefix(msg, "{"):
		var wrapped struct {
			Issues []zodIssue `json:"issues"`
		}
		if err := json.Unmarshal([]byte(msg), &wrapped); err != nil {
			return nil, false
		}
		issues = wrapped.Issues
	default:
		return nil, false
	}
	if len(issues) == 0 {
		return nil, false
	}
	out := make([]issue, 0, len(issues))
	for _, is := range issues {
		if is.Message == "" || is.Code == "" {
			return nil, false
		}
		out = append(out, issue{path: joinPath(is.Path), message: is.Message})
	}
	return out, true
}

func trimBodyLoc(loc []any) []any {
	if len(loc) > 1 {
		if s, ok := loc[0].(string); ok && s == "body" {
			return loc[1:]
		}
	}
	return loc
}

func joinPath(path []any) string {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		switch v := p.(type) {
		case string:
			parts = append(parts, v)
		case float64:
			parts = append(parts, fmt.Sprintf("%d", int(v)))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, ".")
}
