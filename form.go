package ojs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sumup/ojs/cde"
)

// Config is the integrator configuration of a form.
type Config struct {
	// CheckoutSecureToken authorizes the form against one checkout session.
	CheckoutSecureToken string `validate:"required"`
	// FormTarget names the page region holding the non-CDE inputs.
	FormTarget string `validate:"required"`
	// BaseURL is where element pages are served. Its origin is the only
	// origin messages are accepted from.
	BaseURL   string `validate:"required,url"`
	Callbacks Callbacks
}

// Form owns the elements of one checkout and runs payment flows.
type Form struct {
	id        string
	cfg       Config
	conf      config
	host      Host
	logger    *slog.Logger
	cb        *FormCallbacks
	router    *Router
	registry  *Registry
	resources *Resources
	statuses  *StatusPublisher
	prefill   Singleton[*cde.Prefill]

	initCtx    context.Context
	initCancel context.CancelFunc
	stopListen func()
	submitting atomic.Bool

	mu        sync.Mutex
	frames    map[string]Frame
	mounting  map[string]chan struct{}
	destroyed bool
}

// New creates a form and starts listening for element messages on host.
func New(cfg Config, host Host, opts ...Option) (*Form, error) {
	if host == nil {
		panic("ojs: host must not be nil")
	}
	if err := fieldValidator.Struct(cfg); err != nil {
		err = cde.NormalizeValidationError(err)
		return nil, NewConfigurationError(InvalidConfig, err.Error(), WithCause(err))
	}

	conf := config{
		logger:   slog.New(slog.DiscardHandler),
		registry: DefaultRegistry(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&conf)
	}

	id := uuid.NewString()
	logger := conf.logger.With(slog.String("form_id", id))
	cb := NewFormCallbacks(cfg.Callbacks, logger)
	initCtx, initCancel := context.WithCancel(context.Background())
	f := &Form{
		id:         id,
		cfg:        cfg,
		conf:       conf,
		host:       host,
		logger:     logger,
		cb:         cb,
		registry:   conf.registry,
		resources:  NewResources(),
		statuses:   NewStatusPublisher(cb.PaymentRequestLoad),
		initCtx:    initCtx,
		initCancel: initCancel,
		frames:     make(map[string]Frame),
		mounting:   make(map[string]chan struct{}),
	}
	f.router = NewRouter(RouterConfig{
		FormID:    id,
		Origin:    cfg.BaseURL,
		Callbacks: cb,
		Connect:   f.connectElement,
		Resize:    f.resizeElement,
		Ready:     f.onReady,
		Busy:      f.submitting.Load,
		Logger:    conf.logger,
	})
	f.stopListen = host.Listen(f.router.HandleMessage)
	return f, nil
}

// ID returns the form id carried by every envelope of this form.
func (f *Form) ID() string {
	return f.id
}

// Loaded is closed once every element loaded and connected.
func (f *Form) Loaded() <-chan struct{} {
	return f.router.Loaded()
}

// WaitLoaded blocks until the load barrier fired or ctx is done.
func (f *Form) WaitLoaded(ctx context.Context) error {
	select {
	case <-f.router.Loaded():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Element is a handle on a mounted element.
type Element struct {
	ID   string
	Type ElementType
	form *Form
}

// State returns the element lifecycle state.
func (e *Element) State() ElementState {
	return e.form.router.State(e.ID)
}

// Unmount removes the element.
func (e *Element) Unmount() error {
	return e.form.unmount(e.ID)
}

// CreateElement mounts a new element iframe.
func (f *Form) CreateElement(ctx context.Context, typ ElementType, style map[string]string) (*Element, error) {
	if f.isDestroyed() {
		return nil, NewConfigurationError(FormDestroyed, "form has been destroyed")
	}
	elementID := uuid.NewString()
	src, err := f.elementURL(typ, elementID, style)
	if err != nil {
		return nil, NewConfigurationError(InvalidConfig, err.Error(), WithCause(err))
	}

	f.beginMount(elementID)
	f.router.Expect(ElementRef{ID: elementID, Type: typ})
	frame, err := f.host.MountFrame(ctx, FrameRequest{
		FormID:    f.id,
		ElementID: elementID,
		Type:      typ,
		URL:       src,
		Style:     style,
	})
	if err != nil {
		f.endMount(elementID)
		f.router.Forget(elementID)
		return nil, fmt.Errorf("mount %s element: %w", typ, err)
	}
	if err := f.addFrame(elementID, frame); err != nil {
		f.router.Forget(elementID)
		_ = frame.Unmount()
		return nil, err
	}
	f.logger.Debug("ojs: element mounted", slog.String("element_id", elementID), slog.String("type", string(typ)))
	return &Element{ID: elementID, Type: typ, form: f}, nil
}

// RegisterFrame adopts an element iframe mounted by a wrapper library.
func (f *Form) RegisterFrame(typ ElementType, elementID string, frame Frame) (*Element, error) {
	if elementID == "" || frame == nil {
		panic("ojs: RegisterFrame requires an element id and a frame")
	}
	f.router.Expect(ElementRef{ID: elementID, Type: typ})
	if err := f.addFrame(elementID, frame); err != nil {
		f.router.Forget(elementID)
		return nil, err
	}
	return &Element{ID: elementID, Type: typ, form: f}, nil
}

// beginMount marks elementID as mounting so an early LOADED waits for its
// frame instead of failing.
func (f *Form) beginMount(elementID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounting[elementID] = make(chan struct{})
}

func (f *Form) endMount(elementID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endMountLocked(elementID)
}

func (f *Form) endMountLocked(elementID string) {
	if ch, ok := f.mounting[elementID]; ok {
		close(ch)
		delete(f.mounting, elementID)
	}
}

func (f *Form) addFrame(elementID string, frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer f.endMountLocked(elementID)
	if f.destroyed {
		return NewConfigurationError(FormDestroyed, "form has been destroyed")
	}
	f.frames[elementID] = frame
	return nil
}

// awaitFrame returns the frame of elementID, waiting while it is still
// being mounted.
func (f *Form) awaitFrame(ctx context.Context, elementID string) (Frame, error) {
	f.mu.Lock()
	fr, ok := f.frames[elementID]
	pending := f.mounting[elementID]
	f.mu.Unlock()
	if ok {
		return fr, nil
	}
	if pending != nil {
		select {
		case <-pending:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if fr, ok := f.frame(elementID); ok {
			return fr, nil
		}
	}
	return nil, fmt.Errorf("element %s has no frame", elementID)
}

func (f *Form) frame(elementID string) (Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.frames[elementID]
	return fr, ok
}

func (f *Form) unmount(elementID string) error {
	f.mu.Lock()
	fr, ok := f.frames[elementID]
	delete(f.frames, elementID)
	f.mu.Unlock()
	f.router.Forget(elementID)
	if !ok {
		return nil
	}
	return fr.Unmount()
}

func (f *Form) elementURL(typ ElementType, elementID string, style map[string]string) (string, error) {
	base, err := url.Parse(strings.TrimRight(f.cfg.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	u := base.JoinPath("app", "v1", string(typ)+"-element", "/")
	q := url.Values{}
	q.Set("secure_token", f.cfg.CheckoutSecureToken)
	q.Set("form_id", f.id)
	q.Set("element_id", elementID)
	if len(style) > 0 {
		raw, err := json.Marshal(style)
		if err != nil {
			return "", err
		}
		q.Set("styles", string(raw))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *Form) connectElement(ctx context.Context, elementID string) (*cde.Connection, error) {
	fr, err := f.awaitFrame(ctx, elementID)
	if err != nil {
		return nil, err
	}
	opts := append([]cde.Option{cde.WithLogger(f.logger)}, f.conf.connectOpts...)
	return cde.Connect(ctx, fr.Transport(), opts...)
}

func (f *Form) resizeElement(elementID string, height int) {
	if fr, ok := f.frame(elementID); ok {
		fr.Resize(height)
	}
}

// snapshot builds the context handed to flows from the current state.
func (f *Form) snapshot() *OjsContext {
	session, _ := f.router.Session()
	refs, conns := f.router.Connected()
	var anyConn *cde.Connection
	if len(refs) > 0 {
		anyConn = conns[refs[0].ID]
	}
	popup := append([]PopupOption{WithPopupLogger(f.logger)}, f.conf.popupOpts...)
	return &OjsContext{
		FormID:                 f.id,
		CheckoutSecureToken:    f.cfg.CheckoutSecureToken,
		SessionID:              session.SessionID,
		TotalAmountAtoms:       session.TotalAmountAtoms,
		Currency:               session.Currency,
		CheckoutPaymentMethods: session.CheckoutPaymentMethods,
		Elements:               refs,
		Connections:            conns,
		AnyConnection:          anyConn,
		Host:                   f.host,
		Resources:              f.resources,
		Wallets:                f.conf.wallets,
		Logger:                 f.logger,
		popup:                  popup,
		prefill:                &f.prefill,
	}
}

// onReady starts flow initialisation once the load barrier fired.
func (f *Form) onReady(LoadedPayload) {
	octx := f.snapshot()
	go func() {
		if err := f.registry.InitAll(f.initCtx, octx, f.cb, f.conf.customParams, f.statuses); err != nil {
			f.logger.Warn("ojs: flow initialisation failed", slog.String("error", err.Error()))
		}
	}()
}

// InitStatus returns the latest initialisation status of a flow.
func (f *Form) InitStatus(name FlowName) (InitStatus, bool) {
	return f.statuses.Latest(name)
}

// SubscribeInitStatus follows the initialisation status of a flow.
func (f *Form) SubscribeInitStatus(name FlowName) (<-chan InitStatus, func()) {
	return f.statuses.Subscribe(name)
}

// Submit pays with the card elements.
func (f *Form) Submit(ctx context.Context, opts ...SubmitOption) error {
	_, err := f.SubmitWith(ctx, FlowCard, opts...)
	return err
}

// SubmitWith runs the named flow. Once the flow starts, its outcome is
// reported through exactly one of OnCheckoutSuccess,
// OnSetupPaymentMethodSuccess and OnCheckoutError, and also returned.
// Errors returned before the flow starts do not invoke callbacks. A flow
// whose Init is still running or failed is refused.
func (f *Form) SubmitWith(ctx context.Context, name FlowName, opts ...SubmitOption) (*Result, error) {
	if f.isDestroyed() {
		return nil, NewConfigurationError(FormDestroyed, "form has been destroyed")
	}
	if !f.router.Ready() {
		return nil, NewConfigurationError(FormNotLoaded, "The payment form has not finished loading.")
	}
	if !f.submitting.CompareAndSwap(false, true) {
		return nil, NewConfigurationError(SubmitInProgress, "A payment is already in progress.")
	}
	defer f.submitting.Store(false)

	var so SubmitOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&so)
		}
	}

	octx := f.snapshot()
	flow, cpm, err := f.registry.Resolve(name, octx.CheckoutPaymentMethods)
	if err != nil {
		return nil, err
	}
	initRes, err := f.initResult(flow)
	if err != nil {
		return nil, err
	}

	ctx = contextWithSubmitInfo(ctx, &SubmitInfo{
		FormID:        f.id,
		Flow:          name,
		AttemptID:     uuid.NewString(),
		PaymentMethod: cpm.Provider + "/" + cpm.ProcessorName,
	})
	run := applyRunMiddleware(flow.Run, append(append([]RunMiddleware(nil), f.conf.middleware...), withSubmitLogging(f.logger))...)
	run = withCheckoutCallbacks(run)
	return run(ctx, RunParams{
		Context:          octx,
		PaymentMethod:    cpm,
		NonCdeFormInputs: FormInputs(so.FormInputs).FillFrom(f.host.FormInputs()),
		Callbacks:        f.cb,
		CustomParams:     so.mergeParams(f.conf.customParams[name]),
		InitResult:       initRes,
	})
}

// initResult returns the published Init outcome of flow, refusing flows
// whose Init has not finished or failed.
func (f *Form) initResult(flow Flow) (*InitResult, error) {
	if flow.Init == nil {
		return nil, nil
	}
	s, ok := f.statuses.Latest(flow.Name)
	switch {
	case !ok || s.State == InitLoading:
		return nil, NewConfigurationError(FlowNotReady, "This payment method is still loading.")
	case s.State == InitError:
		var cause error
		if s.Result != nil {
			cause = s.Result.Err
		}
		return nil, NewConfigurationError(FlowUnavailable, "This payment method is not available.", WithCause(cause))
	}
	return s.Result, nil
}

// PreviewCheckout prices the session, optionally applying a promotion code.
func (f *Form) PreviewCheckout(ctx context.Context, promotionCode string) (*cde.CheckoutPreview, error) {
	if !f.router.Ready() {
		return nil, NewConfigurationError(FormNotLoaded, "The payment form has not finished loading.")
	}
	octx := f.snapshot()
	if octx.AnyConnection == nil {
		return nil, NewCheckoutError(MissingElement, "No payment element is ready.")
	}
	return octx.AnyConnection.GetCheckoutPreview(ctx, cde.GetCheckoutPreviewRequest{
		SecureToken:   f.cfg.CheckoutSecureToken,
		PromotionCode: strings.TrimSpace(promotionCode),
	})
}

func (f *Form) isDestroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// Destroy stops listening, closes every connection and unmounts every
// element. It is safe to call more than once.
func (f *Form) Destroy() {
	f.mu.Lock()
	if f.destroyed {
		f.mu.Unlock()
		return
	}
	f.destroyed = true
	frames := f.frames
	f.frames = make(map[string]Frame)
	for id := range f.mounting {
		f.endMountLocked(id)
	}
	f.mu.Unlock()

	f.stopListen()
	f.initCancel()
	f.router.Close()
	for id, fr := range frames {
		if err := fr.Unmount(); err != nil {
			f.logger.Warn("ojs: unmount failed", slog.String("element_id", id), slog.String("error", err.Error()))
		}
	}
}

// ActiveForm holds the single form of a page.
type ActiveForm struct {
	mu   sync.Mutex
	form *Form
}

// Acquire returns the active form, creating it with create when there is none.
func (a *ActiveForm) Acquire(create func() (*Form, error)) (*Form, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.form != nil && !a.form.isDestroyed() {
		return a.form, nil
	}
	f, err := create()
	if err != nil {
		return nil, err
	}
	a.form = f
	return f, nil
}

// Release destroys f and clears it when it is the active form.
func (a *ActiveForm) Release(f *Form) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f == nil || a.form != f {
		return
	}
	f.Destroy()
	a.form = nil
}

// Current returns the active form, or nil.
func (a *ActiveForm) Current() *Form {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.form
}
