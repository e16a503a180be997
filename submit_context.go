package ojs

import "context"

// SubmitInfo describes the payment attempt a context belongs to. Wallet
// implementations and middleware can read it from the context they receive.
type SubmitInfo struct {
	// Identifier of the form running the attempt.
	FormID string
	// Flow handling the attempt.
	//
	// Example: stripe-apple-pay
	Flow FlowName
	// Unique key for each attempt for tracing purposes.
	AttemptID string
	// Payment method the flow resolved.
	PaymentMethod string
}

type submitInfoKey struct{}

func contextWithSubmitInfo(ctx context.Context, info *SubmitInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if info == nil {
		return ctx
	}
	return context.WithValue(ctx, submitInfoKey{}, info)
}

// SubmitInfoFromContext extracts the attempt metadata previously stored in the context.
func SubmitInfoFromContext(ctx context.Context) *SubmitInfo {
	if ctx == nil {
		return nil
	}
	if info, ok := ctx.Value(submitInfoKey{}).(*SubmitInfo); ok {
		return info
	}
	return nil
}
