// Package orchestrator sequences adapter readiness, advertising and the GATT
// server, and tears them down in reverse order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blebattery/internal/adapter"
	"github.com/srg/blebattery/internal/advertise"
	"github.com/srg/blebattery/internal/groutine"
	"github.com/srg/blebattery/internal/logsink"
	"github.com/srg/blebattery/internal/platform"
	"github.com/srg/blebattery/internal/profile"
)

// State is the lifecycle state of the peripheral.
type State int

const (
	StateIdle State = iota
	StateAdapterChecking
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdapterChecking:
		return "adapter-checking"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Listener is the UI side of the peripheral. OnAdapterDisabled asks it to
// drive the enable flow and report back through EnableResult.
type Listener interface {
	logsink.Sink
	OnAdapterDisabled()
}

// Gate checks adapter readiness.
type Gate interface {
	EnsureReady() adapter.Readiness
}

// Server is the GATT server lifecycle the orchestrator drives.
type Server interface {
	Open(desc *profile.ServiceDescriptor) (platform.ServerHandle, error)
	Close() error
	IsOpen() bool
}

// Config wires an Orchestrator. Gate, Advertiser and Server are required.
type Config struct {
	Gate       Gate
	Advertiser platform.Advertiser
	Server     Server
	Listener   Listener
	Descriptor *profile.ServiceDescriptor
	DeviceName string
	Logger     *logrus.Logger
}

type inputKind int

const (
	inputStart inputKind = iota
	inputStop
	inputEnableResult
	inputAdvertiseOutcome
)

func (k inputKind) String() string {
	switch k {
	case inputStart:
		return "start"
	case inputStop:
		return "stop"
	case inputEnableResult:
		return "enable-result"
	case inputAdvertiseOutcome:
		return "advertise-outcome"
	default:
		return "unknown"
	}
}

// input is one transition request.
type input struct {
	kind    inputKind
	enable  platform.EnableResult
	outcome advertise.Outcome
	done    chan struct{}
}

// Orchestrator is the peripheral state machine. Inputs are queued and applied
// one at a time in arrival order. Listener.OnAdapterDisabled runs after the
// input that caused it has been applied, with the queue released, so the
// listener may call back in.
type Orchestrator struct {
	gate     Gate
	adv      *advertise.Controller
	server   Server
	listener Listener
	desc     *profile.ServiceDescriptor
	name     string
	logger   *logrus.Logger

	mu       sync.Mutex
	state    State
	awaiting bool // adapter disabled, enable result pending
	degraded bool // running without a GATT server
	notify   bool // OnAdapterDisabled owed for the input being applied
	queue    []input
	draining bool
}

// New creates an idle Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Gate == nil || cfg.Advertiser == nil || cfg.Server == nil {
		return nil, errors.New("orchestrator requires a gate, an advertiser and a server")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Listener == nil {
		cfg.Listener = discardListener{}
	}
	if cfg.Descriptor == nil {
		cfg.Descriptor = profile.Battery()
	}
	if err := cfg.Descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service descriptor: %w", err)
	}

	o := &Orchestrator{
		gate:     cfg.Gate,
		server:   cfg.Server,
		listener: cfg.Listener,
		desc:     cfg.Descriptor,
		name:     cfg.DeviceName,
		logger:   cfg.Logger,
	}
	o.adv = advertise.NewController(cfg.Advertiser, o.onAdvertiseOutcome, cfg.Logger)
	return o, nil
}

// Start checks the adapter and, when it is ready, starts advertising and
// opens the GATT server. Starting while running does nothing.
func (o *Orchestrator) Start() {
	o.dispatch(input{kind: inputStart})
}

// Stop closes the server and stops advertising. It is safe in every state.
func (o *Orchestrator) Stop() {
	o.dispatch(input{kind: inputStop})
}

// Restart stops and starts again, as on a background/foreground cycle.
func (o *Orchestrator) Restart() {
	o.Stop()
	o.Start()
}

// EnableResult delivers the outcome of the enable flow requested through
// Listener.OnAdapterDisabled.
func (o *Orchestrator) EnableResult(r platform.EnableResult) {
	o.dispatch(input{kind: inputEnableResult, enable: r})
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Degraded reports whether the peripheral is advertising without a GATT server.
func (o *Orchestrator) Degraded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateRunning && o.degraded
}

// Advertising reports whether the platform confirmed the advertisement.
func (o *Orchestrator) Advertising() bool {
	return o.adv.Active()
}

func (o *Orchestrator) onAdvertiseOutcome(out advertise.Outcome) {
	o.post(input{kind: inputAdvertiseOutcome, outcome: out})
}

// dispatch applies in and returns once it has been applied.
func (o *Orchestrator) dispatch(in input) {
	in.done = make(chan struct{})

	o.mu.Lock()
	o.queue = append(o.queue, in)
	if o.draining {
		o.mu.Unlock()
		<-in.done
		return
	}
	o.draining = true
	o.mu.Unlock()

	o.drain()
	// another drainer may have taken over the queue during a listener call
	<-in.done
}

// post queues in without waiting. Platform callbacks use it so they never
// run a transition on the platform's own goroutine.
func (o *Orchestrator) post(in input) {
	o.mu.Lock()
	o.queue = append(o.queue, in)
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	o.mu.Unlock()

	groutine.Go(context.Background(), "orchestrator-drain", func(ctx context.Context) {
		o.drain()
	})
}

// drain must be called by the goroutine that set draining. It gives the queue
// up while the listener is notified and takes it back afterwards unless
// another goroutine has started draining meanwhile.
func (o *Orchestrator) drain() {
	o.mu.Lock()
	for len(o.queue) > 0 {
		next := o.queue[0]
		o.queue = o.queue[1:]
		o.mu.Unlock()

		o.step(next)

		o.mu.Lock()
		notify := o.notify
		o.notify = false
		if !notify {
			o.mu.Unlock()
			next.finish()
			o.mu.Lock()
			continue
		}

		o.draining = false
		o.mu.Unlock()

		o.listener.OnAdapterDisabled()
		next.finish()

		o.mu.Lock()
		if o.draining {
			o.mu.Unlock()
			return
		}
		o.draining = true
	}
	o.draining = false
	o.mu.Unlock()
}

func (in input) finish() {
	if in.done != nil {
		close(in.done)
	}
}

func (o *Orchestrator) step(in input) {
	o.logger.WithFields(logrus.Fields{
		"input": in.kind.String(),
		"state": o.State().String(),
	}).Debug("Orchestrator input")

	switch in.kind {
	case inputStart:
		o.start()
	case inputStop:
		o.stop()
	case inputEnableResult:
		o.enableResult(in.enable)
	case inputAdvertiseOutcome:
		o.advertiseOutcome(in.outcome)
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	if s != StateAdapterChecking {
		o.awaiting = false
	}
	o.mu.Unlock()

	if prev != s {
		o.logger.WithFields(logrus.Fields{
			"from": prev.String(),
			"to":   s.String(),
		}).Debug("Orchestrator state changed")
	}
}

func (o *Orchestrator) log(format string, args ...any) {
	o.listener.OnLog(fmt.Sprintf(format, args...))
}

func (o *Orchestrator) start() {
	o.mu.Lock()
	state, awaiting := o.state, o.awaiting
	o.mu.Unlock()

	switch {
	case state == StateRunning:
		o.log("service already running")
		return
	case state == StateAdapterChecking && awaiting:
		o.log("waiting for bluetooth to be enabled")
		return
	}

	o.setState(StateAdapterChecking)
	o.log("checking bluetooth adapter")
	o.check()
}

// check runs the readiness gate once.
func (o *Orchestrator) check() {
	switch r := o.gate.EnsureReady(); r {
	case adapter.Ready:
		o.log("bluetooth adapter ready")
		o.launch()
	case adapter.NotReady:
		o.mu.Lock()
		o.awaiting = true
		o.notify = true
		o.mu.Unlock()
		o.log("bluetooth adapter disabled")
	default:
		o.logger.WithError(r.Err()).Warn("Bluetooth adapter unavailable")
		o.log("bluetooth adapter unavailable")
		o.setState(StateStopped)
	}
}

// launch starts advertising then opens the server. A failure of one leaves
// the other running.
func (o *Orchestrator) launch() {
	o.adv.Start(o.desc.ServiceUUID, o.name)

	degraded := false
	if _, err := o.server.Open(o.desc); err != nil {
		o.logger.WithError(err).Warn("GATT server did not open, continuing with advertising only")
		o.log("unable to create gatt server")
		degraded = true
	} else {
		o.log("service started")
	}

	o.mu.Lock()
	o.degraded = degraded
	o.mu.Unlock()
	o.setState(StateRunning)
}

func (o *Orchestrator) enableResult(r platform.EnableResult) {
	o.mu.Lock()
	waiting := o.state == StateAdapterChecking && o.awaiting
	o.awaiting = false
	o.mu.Unlock()

	if !waiting {
		o.logger.WithField("result", r.String()).Debug("Enable result without a pending request")
		o.log("ignoring bluetooth enable result: %s", r)
		return
	}

	if r != platform.EnableOK {
		o.log("bluetooth enable %s", r)
		o.setState(StateStopped)
		return
	}
	o.log("bluetooth enabled")
	o.check()
}

func (o *Orchestrator) stop() {
	if o.server.IsOpen() {
		if err := o.server.Close(); err != nil {
			o.logger.WithError(err).Warn("Failed to close GATT server")
		}
		o.log("service stopped")
	}
	if o.adv.Pending() {
		o.adv.Stop()
		o.log("advertising stopped")
	}

	o.mu.Lock()
	o.degraded = false
	o.mu.Unlock()
	o.setState(StateStopped)
	o.log("peripheral stopped")
}

func (o *Orchestrator) advertiseOutcome(out advertise.Outcome) {
	if out.Started {
		o.log("LE Advertise Started.")
		return
	}
	if out.Err != nil {
		o.logger.WithError(out.Err).Warn("Advertising failed to start")
	}
	o.log("LE Advertise Failed: %d", int(out.Code))
}

// ServiceUUID is the UUID being advertised and served.
func (o *Orchestrator) ServiceUUID() ble.UUID {
	return o.desc.ServiceUUID
}

type discardListener struct{}

func (discardListener) OnLog(string)       {}
func (discardListener) OnAdapterDisabled() {}
