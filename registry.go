package ojs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sumup/ojs/cde"
)

// InitState is the progress of a flow's Init.
type InitState string

const (
	InitLoading InitState = "loading"
	InitLoaded  InitState = "loaded"
	InitError   InitState = "error"
)

// InitStatus is published for every Init state change.
type InitStatus struct {
	Flow   FlowName
	State  InitState
	Result *InitResult
	// Message describes an InitError. Result is then unavailable.
	Message string
}

// StatusPublisher fans out InitStatus updates and remembers the latest one
// per flow.
type StatusPublisher struct {
	mu     sync.Mutex
	latest map[FlowName]InitStatus
	subs   map[FlowName]map[int]chan InitStatus
	nextID int
	notify func(InitStatus)
}

// NewStatusPublisher returns a publisher that also forwards every update to
// notify when it is not nil.
func NewStatusPublisher(notify func(InitStatus)) *StatusPublisher {
	return &StatusPublisher{
		latest: make(map[FlowName]InitStatus),
		subs:   make(map[FlowName]map[int]chan InitStatus),
		notify: notify,
	}
}

// Publish records s and delivers it to subscribers. Slow subscribers only
// see the latest value.
func (p *StatusPublisher) Publish(s InitStatus) {
	p.mu.Lock()
	p.latest[s.Flow] = s
	for _, ch := range p.subs[s.Flow] {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
	p.mu.Unlock()
	if p.notify != nil {
		p.notify(s)
	}
}

// Latest returns the last status published for flow.
func (p *StatusPublisher) Latest(flow FlowName) (InitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.latest[flow]
	return s, ok
}

// Subscribe returns a channel receiving updates for flow, primed with the
// latest status, and a function that cancels the subscription.
func (p *StatusPublisher) Subscribe(flow FlowName) (<-chan InitStatus, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan InitStatus, 1)
	if s, ok := p.latest[flow]; ok {
		ch <- s
	}
	id := p.nextID
	p.nextID++
	if p.subs[flow] == nil {
		p.subs[flow] = make(map[int]chan InitStatus)
	}
	p.subs[flow][id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs[flow], id)
	}
}

// Registry maps flow names to flows.
type Registry struct {
	flows map[FlowName]Flow
	order []FlowName
}

// NewRegistry builds a registry. It panics on an unnamed, duplicate or
// run-less flow.
func NewRegistry(flows ...Flow) *Registry {
	r := &Registry{flows: make(map[FlowName]Flow, len(flows))}
	for _, f := range flows {
		if f.Name == "" || f.Run == nil || f.Provider == "" {
			panic(fmt.Sprintf("ojs: invalid flow %q", f.Name))
		}
		if _, ok := r.flows[f.Name]; ok {
			panic(fmt.Sprintf("ojs: duplicate flow %q", f.Name))
		}
		r.flows[f.Name] = f
		r.order = append(r.order, f.Name)
	}
	return r
}

// DefaultRegistry contains every built-in flow.
func DefaultRegistry() *Registry {
	return NewRegistry(
		CardFlow(),
		StripeApplePayFlow(),
		StripeGooglePayFlow(),
		AirwallexApplePayFlow(),
		AirwallexGooglePayFlow(),
		StripeLinkFlow(),
		LoopCryptoFlow(),
		PockytPayPalFlow(),
	)
}

// Get returns the named flow.
func (r *Registry) Get(name FlowName) (Flow, bool) {
	f, ok := r.flows[name]
	return f, ok
}

// Names returns the registered flow names in registration order.
func (r *Registry) Names() []FlowName {
	return append([]FlowName(nil), r.order...)
}

// Resolve returns the named flow and the single payment method it serves
// among methods.
func (r *Registry) Resolve(name FlowName, methods []cde.CheckoutPaymentMethod) (Flow, cde.CheckoutPaymentMethod, error) {
	f, ok := r.flows[name]
	if !ok {
		return Flow{}, cde.CheckoutPaymentMethod{}, NewConfigurationError(UnknownFlow, fmt.Sprintf("unknown payment flow %q", name))
	}
	cpm, err := findPaymentMethod(methods, f)
	if err != nil {
		return Flow{}, cde.CheckoutPaymentMethod{}, err
	}
	return f, cpm, nil
}

// InitAll runs the Init of every flow whose payment method is enabled, in
// parallel. Each flow publishes loading and then loaded or error. Flows
// without an enabled payment method are published as unavailable without
// running Init. Init failures never fail the group.
func (r *Registry) InitAll(ctx context.Context, octx *OjsContext, cb *FormCallbacks, custom CustomParams, pub *StatusPublisher) error {
	logger := octx.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range r.order {
		f := r.flows[name]
		if f.Init == nil {
			continue
		}
		cpm, err := findPaymentMethod(octx.CheckoutPaymentMethods, f)
		if err != nil {
			pub.Publish(InitStatus{
				Flow:   name,
				State:  InitLoaded,
				Result: &InitResult{IsAvailable: false, Reason: err.Error()},
			})
			continue
		}
		initFn := withInitErrorCatcher(name, logger, f.Init)
		pub.Publish(InitStatus{Flow: name, State: InitLoading})
		g.Go(func() error {
			res, _ := initFn(gctx, InitParams{
				Context:       octx,
				Callbacks:     cb,
				PaymentMethod: cpm,
				CustomParams:  custom[name],
			})
			if res.Err != nil {
				pub.Publish(InitStatus{Flow: name, State: InitError, Result: res, Message: res.Reason})
				return nil
			}
			pub.Publish(InitStatus{Flow: name, State: InitLoaded, Result: res})
			return nil
		})
	}
	return g.Wait()
}

// CustomParams holds per-flow parameters merged into Init and into the
// start_payment_flow request body.
type CustomParams map[FlowName]map[string]any
