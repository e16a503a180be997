package ojs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sumup/ojs/cde"
)

// ElementState is the lifecycle state of one element.
type ElementState string

const (
	ElementUnmounted ElementState = "unmounted"
	ElementLoading   ElementState = "loading"
	ElementLoaded    ElementState = "loaded"
	ElementFailed    ElementState = "error"
)

// ConnectFunc opens the CDE connection of a loaded element.
type ConnectFunc func(ctx context.Context, elementID string) (*cde.Connection, error)

// ElementRef identifies a mounted element.
type ElementRef struct {
	ID   string
	Type ElementType
}

type element struct {
	ref        ElementRef
	state      ElementState
	connecting bool
	conn       *cde.Connection
}

// RouterConfig wires a [Router] to its form.
type RouterConfig struct {
	FormID string
	// Origin is the expected origin of element messages. Messages from any
	// other origin are ignored.
	Origin    string
	Callbacks *FormCallbacks
	Connect   ConnectFunc
	// Resize applies LAYOUT heights to element frames.
	Resize func(elementID string, height int)
	// Ready is called once, before OnLoad, when every expected element has
	// loaded and is connected.
	Ready func(session LoadedPayload)
	// Busy reports whether a flow currently owns the terminal callbacks.
	Busy   func() bool
	Logger *slog.Logger
}

// Router validates inbound envelopes and turns them into element state
// changes and callbacks. Messages are processed one at a time in the order
// they are received.
type Router struct {
	cfg    RouterConfig
	origin string
	seen   *NonceSet
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	dispatchMu sync.Mutex

	mu       sync.Mutex
	elements map[string]*element
	order    []string
	session  *LoadedPayload
	fired    bool
	loaded   chan struct{}
	closed   bool
}

// NewRouter builds a router. It panics when FormID or Connect is missing.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.FormID == "" {
		panic("ojs: router requires a form id")
	}
	if cfg.Connect == nil {
		panic("ojs: router requires a connect function")
	}
	if cfg.Callbacks == nil {
		cfg.Callbacks = NewFormCallbacks(Callbacks{}, cfg.Logger)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:      cfg,
		seen:     NewNonceSet(),
		logger:   logger.With(slog.String("form_id", cfg.FormID)),
		ctx:      ctx,
		cancel:   cancel,
		elements: make(map[string]*element),
		loaded:   make(chan struct{}),
	}
	if cfg.Origin != "" {
		r.origin = cde.NormalizeOrigin(cfg.Origin)
	}
	return r
}

// Expect registers an element the form is about to mount.
func (r *Router) Expect(ref ElementRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.elements[ref.ID]; !ok {
		r.order = append(r.order, ref.ID)
	}
	r.elements[ref.ID] = &element{ref: ref, state: ElementLoading}
}

// Forget unregisters an element. Later messages for it are ignored.
func (r *Router) Forget(elementID string) {
	r.mu.Lock()
	el, ok := r.elements[elementID]
	if ok {
		el.state = ElementUnmounted
		delete(r.elements, elementID)
		for i, id := range r.order {
			if id == elementID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if ok && el.conn != nil {
		_ = el.conn.Close()
	}
	r.checkBarrier()
}

// State returns the lifecycle state of an element.
func (r *Router) State(elementID string) ElementState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.elements[elementID]; ok {
		return el.state
	}
	return ElementUnmounted
}

// Loaded is closed once the load barrier has fired.
func (r *Router) Loaded() <-chan struct{} {
	return r.loaded
}

// Ready reports whether the barrier fired and no element is still loading.
func (r *Router) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fired {
		return false
	}
	for _, el := range r.elements {
		if el.state == ElementLoading {
			return false
		}
	}
	return true
}

// Session returns the latest LOADED payload.
func (r *Router) Session() (LoadedPayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return LoadedPayload{}, false
	}
	return *r.session, true
}

// Connected returns the loaded elements and their connections in mount order.
func (r *Router) Connected() ([]ElementRef, map[string]*cde.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := make([]ElementRef, 0, len(r.order))
	conns := make(map[string]*cde.Connection, len(r.order))
	for _, id := range r.order {
		el := r.elements[id]
		if el.state != ElementLoaded || el.conn == nil {
			continue
		}
		refs = append(refs, el.ref)
		conns[id] = el.conn
	}
	return refs, conns
}

// HandleMessage is the host listener. Messages from unexpected origins are
// dropped silently, malformed ones with a debug log.
func (r *Router) HandleMessage(evt MessageEvent) {
	if r.origin != "" && cde.NormalizeOrigin(evt.Origin) != r.origin {
		return
	}
	env, err := ParseEnvelope(evt.Data)
	if err != nil {
		r.logger.Debug("ojs: dropping malformed message", slog.String("error", err.Error()))
		return
	}
	r.Route(env)
}

// Route processes one parsed envelope.
func (r *Router) Route(env *Envelope) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("ojs: panic while routing message", slog.String("panic", fmt.Sprint(p)))
		}
	}()

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	if err := checkEnvelope(env, r.cfg.FormID, r.seen); err != nil {
		r.logger.Debug("ojs: dropping message", slog.String("error", err.Error()))
		return
	}
	if !r.seen.Add(env.Nonce) {
		return
	}
	env.Event.dispatch(r, env)
}

// Close cancels pending connection attempts and closes every connection.
// Attempts that complete afterwards close their own connection.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.cancel()
	for _, el := range r.elements {
		if el.conn != nil {
			_ = el.conn.Close()
		}
		el.state = ElementUnmounted
	}
	r.elements = make(map[string]*element)
	r.order = nil
}

// known returns the element an envelope targets, logging unknown ids.
func (r *Router) known(env *Envelope) (ElementRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.elements[env.ElementID]
	if !ok {
		r.logger.Warn("ojs: message for unknown element",
			slog.String("element_id", env.ElementID), slog.String("type", string(env.Event.EventType())))
		return ElementRef{}, false
	}
	return el.ref, true
}

func (r *Router) busy() bool {
	return r.cfg.Busy != nil && r.cfg.Busy()
}

func (r *Router) onLoaded(env *Envelope, p *LoadedPayload) {
	r.mu.Lock()
	el, ok := r.elements[env.ElementID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if el.state != ElementLoading || el.connecting {
		r.mu.Unlock()
		r.logger.Debug("ojs: duplicate LOADED", slog.String("element_id", env.ElementID))
		return
	}
	el.connecting = true
	session := *p
	r.session = &session
	r.mu.Unlock()

	go r.connect(env.ElementID)
}

func (r *Router) connect(elementID string) {
	conn, err := r.cfg.Connect(r.ctx, elementID)

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	r.mu.Lock()
	el, ok := r.elements[elementID]
	if !ok || r.closed {
		r.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	el.connecting = false
	if err != nil {
		el.state = ElementFailed
		r.mu.Unlock()
		r.logger.Warn("ojs: element connection failed",
			slog.String("element_id", elementID), slog.String("error", err.Error()))
		r.cfg.Callbacks.LoadError(fmt.Sprintf("Failed to connect to the payment element: %v", err))
		return
	}
	el.state = ElementLoaded
	el.conn = conn
	r.mu.Unlock()

	r.checkBarrier()
}

// checkBarrier fires Ready and OnLoad once every expected element is loaded.
func (r *Router) checkBarrier() {
	r.mu.Lock()
	if r.fired || r.closed || len(r.elements) == 0 || r.session == nil {
		r.mu.Unlock()
		return
	}
	for _, el := range r.elements {
		if el.state != ElementLoaded {
			r.mu.Unlock()
			return
		}
	}
	r.fired = true
	session := *r.session
	close(r.loaded)
	r.mu.Unlock()

	if r.cfg.Ready != nil {
		r.cfg.Ready(session)
	}
	r.cfg.Callbacks.Load(session.TotalAmountAtoms, session.Currency)
}

func (p *LayoutPayload) dispatch(r *Router, env *Envelope) {
	if _, ok := r.known(env); ok && r.cfg.Resize != nil {
		r.cfg.Resize(env.ElementID, *p.Height)
	}
}

func (p *LoadedPayload) dispatch(r *Router, env *Envelope) {
	r.onLoaded(env, p)
}

func (p *LoadErrorPayload) dispatch(r *Router, env *Envelope) {
	r.mu.Lock()
	el, ok := r.elements[env.ElementID]
	if ok {
		el.state = ElementFailed
	}
	r.mu.Unlock()
	if ok {
		r.cfg.Callbacks.LoadError(p.Message)
	}
}

func (p *FocusPayload) dispatch(r *Router, env *Envelope) {
	if _, ok := r.known(env); ok {
		r.cfg.Callbacks.Focus(p.ElementType, env.ElementID)
	}
}

func (p *BlurPayload) dispatch(r *Router, env *Envelope) {
	if _, ok := r.known(env); ok {
		r.cfg.Callbacks.Blur(p.ElementType, env.ElementID)
	}
}

func (p *ChangePayload) dispatch(r *Router, env *Envelope) {
	if _, ok := r.known(env); ok {
		r.cfg.Callbacks.Change(p.ElementType, env.ElementID, p.Errors)
	}
}

func (p *ValidationErrorPayload) dispatch(r *Router, env *Envelope) {
	if _, ok := r.known(env); ok {
		r.cfg.Callbacks.ValidationError(string(p.ElementType), p.Errors, env.ElementID)
	}
}

func (p *TokenizeStartedPayload) dispatch(r *Router, env *Envelope) {
	r.logger.Debug("ojs: tokenize started", slog.String("element_id", env.ElementID))
}

func (p *TokenizeSuccessPayload) dispatch(r *Router, env *Envelope) {
	r.logger.Debug("ojs: tokenize succeeded",
		slog.String("element_id", env.ElementID), slog.Bool("ready_for_checkout", *p.IsReadyForCheckout))
}

func (p *TokenizeErrorPayload) dispatch(r *Router, env *Envelope) {
	r.logger.Warn("ojs: tokenize failed", slog.String("element_id", env.ElementID), slog.String("message", p.Message))
}

// Element-driven checkout events are ignored while a flow runs: the flow
// reports its own outcome.
func (p *CheckoutStartedPayload) dispatch(r *Router, env *Envelope) {
	if _, ok := r.known(env); ok && !r.busy() {
		r.cfg.Callbacks.CheckoutStarted()
	}
}

func (p *CheckoutSuccessPayload) dispatch(r *Router, env *Envelope) {
	if _, ok := r.known(env); ok && !r.busy() {
		r.cfg.Callbacks.CheckoutSuccess(p.InvoiceURLs, p.SubscriptionIDs, p.CustomerID)
	}
}

func (p *CheckoutErrorPayload) dispatch(r *Router, env *Envelope) {
	if _, ok := r.known(env); ok && !r.busy() {
		r.cfg.Callbacks.CheckoutError(friendlyMessage(p.Message))
	}
}

func (p *PaymentFlowStartedPayload) dispatch(r *Router, env *Envelope) {
	r.logger.Debug("ojs: payment flow started",
		slog.String("element_id", env.ElementID), slog.String("payment_flow_id", p.PaymentFlowID))
}

func (p *SetupPaymentMethodSuccessPayload) dispatch(r *Router, env *Envelope) {
	if _, ok := r.known(env); ok && !r.busy() {
		r.cfg.Callbacks.SetupPaymentMethodSuccess(p.PaymentMethodID)
	}
}

func (p *TokenizeCommand) dispatch(r *Router, env *Envelope)         { r.unexpectedCommand(env) }
func (p *CheckoutCommand) dispatch(r *Router, env *Envelope)         { r.unexpectedCommand(env) }
func (p *StartPaymentFlowCommand) dispatch(r *Router, env *Envelope) { r.unexpectedCommand(env) }

func (r *Router) unexpectedCommand(env *Envelope) {
	r.logger.Warn("ojs: element sent a command",
		slog.String("element_id", env.ElementID), slog.String("type", string(env.Event.EventType())))
}
