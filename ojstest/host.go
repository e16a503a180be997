// Package ojstest provides an in-memory [ojs.Host] for tests and examples.
// Element frames and challenge overlays are backed by cdetest servers, and
// element envelopes are injected with [Host.Emit].
package ojstest

import (
	"context"
	"encoding/json"
	"maps"
	"sync"

	"github.com/sumup/ojs"
	"github.com/sumup/ojs/cde"
	"github.com/sumup/ojs/cde/cdetest"
)

// Host is a fake page. The zero value is not usable; call [NewHost].
type Host struct {
	// Origin tags every message posted by frames.
	Origin string
	// Server is the CDE behind every element frame.
	Server *cdetest.Server
	// ChallengeServer is the CDE page loaded in challenge overlays.
	ChallengeServer *cdetest.Server

	mu        sync.Mutex
	listeners map[int]func(ojs.MessageEvent)
	nextID    int
	frames    []*Frame
	inputs    map[string]string
	overlays  []*Overlay
	mountErr  error
	autoLoad  *ojs.LoadedPayload
	onOverlay func(*Overlay)
}

// NewHost returns a host whose frames post from origin and talk to server.
func NewHost(origin string, server *cdetest.Server) *Host {
	challenge := cdetest.NewServer()
	challenge.Reply(cde.OpCheck3DSStatus, cde.Check3DSStatusResponse{Status: cde.ThreeDSStatusSuccess})
	return &Host{
		Origin:          origin,
		Server:          server,
		ChallengeServer: challenge,
		listeners:       make(map[int]func(ojs.MessageEvent)),
		inputs:          make(map[string]string),
	}
}

// Listen implements ojs.Host.
func (h *Host) Listen(handler func(ojs.MessageEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = handler
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

// Listeners returns the number of registered listeners.
func (h *Host) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// MountFrame implements ojs.Host. With AutoLoad set, the new frame posts
// LOADED right away.
func (h *Host) MountFrame(_ context.Context, req ojs.FrameRequest) (ojs.Frame, error) {
	h.mu.Lock()
	if h.mountErr != nil {
		err := h.mountErr
		h.mu.Unlock()
		return nil, err
	}
	f := &Frame{Request: req, server: h.Server}
	h.frames = append(h.frames, f)
	auto := h.autoLoad
	h.mu.Unlock()

	if auto != nil {
		payload := *auto
		go h.Emit(req.FormID, req.ElementID, &payload)
	}
	return f, nil
}

// FailMount makes MountFrame fail with err until reset with nil.
func (h *Host) FailMount(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mountErr = err
}

// AutoLoad makes every frame mounted afterwards post LOADED with payload.
func (h *Host) AutoLoad(payload ojs.LoadedPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoLoad = &payload
}

// FormInputs implements ojs.Host.
func (h *Host) FormInputs() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.inputs)
}

// SetFormInputs replaces the values returned by FormInputs.
func (h *Host) SetFormInputs(inputs map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inputs = maps.Clone(inputs)
}

// ShowOverlay implements ojs.Host.
func (h *Host) ShowOverlay(_ context.Context, url string) (ojs.Overlay, error) {
	o := &Overlay{URL: url, server: h.ChallengeServer, cancelled: make(chan struct{})}
	h.mu.Lock()
	h.overlays = append(h.overlays, o)
	hook := h.onOverlay
	h.mu.Unlock()
	if hook != nil {
		hook(o)
	}
	return o, nil
}

// OnOverlay registers fn to run whenever an overlay opens.
func (h *Host) OnOverlay(fn func(*Overlay)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onOverlay = fn
}

// Frames returns the mounted frames in mount order.
func (h *Host) Frames() []*Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Frame(nil), h.frames...)
}

// Overlays returns every overlay opened so far.
func (h *Host) Overlays() []*Overlay {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Overlay(nil), h.overlays...)
}

// Post delivers raw data to every listener as if posted by origin.
func (h *Host) Post(origin string, data []byte) {
	h.mu.Lock()
	listeners := make([]func(ojs.MessageEvent), 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.Unlock()
	for _, l := range listeners {
		l(ojs.MessageEvent{Origin: origin, Data: data})
	}
}

// Emit posts ev from elementID with a fresh nonce.
func (h *Host) Emit(formID, elementID string, ev ojs.Event) {
	h.PostEnvelope(h.Origin, ojs.NewEnvelope(formID, elementID, ev))
}

// PostEnvelope posts env from origin.
func (h *Host) PostEnvelope(origin string, env *ojs.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	h.Post(origin, raw)
}

// LoadAll posts LOADED from every mounted frame.
func (h *Host) LoadAll(payload ojs.LoadedPayload) {
	for _, f := range h.Frames() {
		p := payload
		h.Emit(f.Request.FormID, f.Request.ElementID, &p)
	}
}

// Frame is a fake element iframe.
type Frame struct {
	Request ojs.FrameRequest
	server  *cdetest.Server

	mu        sync.Mutex
	height    int
	unmounted bool
}

// Transport implements ojs.Frame.
func (f *Frame) Transport() cde.Transport {
	return f.server
}

// Resize implements ojs.Frame.
func (f *Frame) Resize(height int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = height
}

// Height returns the last height set with Resize.
func (f *Frame) Height() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height
}

// Unmount implements ojs.Frame.
func (f *Frame) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmounted = true
	return nil
}

// Unmounted reports whether Unmount was called.
func (f *Frame) Unmounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unmounted
}

// Overlay is a fake challenge modal.
type Overlay struct {
	URL       string
	server    *cdetest.Server
	cancelled chan struct{}

	mu       sync.Mutex
	once     sync.Once
	removals int
}

// Transport implements ojs.Overlay.
func (o *Overlay) Transport() cde.Transport {
	return o.server
}

// Cancelled implements ojs.Overlay.
func (o *Overlay) Cancelled() <-chan struct{} {
	return o.cancelled
}

// Cancel simulates the user dismissing the overlay.
func (o *Overlay) Cancel() {
	o.once.Do(func() { close(o.cancelled) })
}

// Remove implements ojs.Overlay.
func (o *Overlay) Remove() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removals++
}

// Removed reports whether Remove was called.
func (o *Overlay) Removed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.removals > 0
}
