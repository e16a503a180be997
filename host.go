package ojs

import (
	"context"

	"github.com/sumup/ojs/cde"
)

// MessageEvent is one cross-frame message received by the host page.
type MessageEvent struct {
	Origin string
	Data   []byte
}

// FrameRequest describes an element iframe to mount.
type FrameRequest struct {
	FormID    string
	ElementID string
	Type      ElementType
	URL       string
	Style     map[string]string
}

// Frame is a mounted element iframe.
type Frame interface {
	// Transport carries CDE frames to and from the element.
	Transport() cde.Transport
	// Resize sets the iframe height in pixels.
	Resize(height int)
	// Unmount removes the iframe from the page.
	Unmount() error
}

// Overlay is a full-screen modal hosting a challenge page.
type Overlay interface {
	// Transport reaches the CDE page currently loaded in the overlay.
	Transport() cde.Transport
	// Cancelled is closed when the user dismisses the overlay.
	Cancelled() <-chan struct{}
	// Remove tears the overlay down. It is safe to call more than once.
	Remove()
}

// Host is the page the form lives on. Implementations bridge to a real
// browser or, in tests, to in-memory fakes.
type Host interface {
	// Listen registers handler for every message posted to the page and
	// returns a function that unregisters it.
	Listen(handler func(MessageEvent)) (stop func())
	// MountFrame creates an element iframe.
	MountFrame(ctx context.Context, req FrameRequest) (Frame, error)
	// FormInputs returns the current values of the non-CDE inputs inside
	// the form target, keyed by field name.
	FormInputs() map[string]string
	// ShowOverlay opens url in a cancellable modal.
	ShowOverlay(ctx context.Context, url string) (Overlay, error)
}
