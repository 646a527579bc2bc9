package host

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/itsneelabh/insights/pkg/core"
)

// Process is the Environment of a Go program. Its "window" is the process
// lifetime: SIGINT and SIGTERM start a teardown episode that delivers
// beforeunload followed by pagehide, and SIGHUP delivers pagehide alone.
//
// After a SIGINT or SIGTERM episode the subscription is released and the
// signal is raised again, so the program terminates the way it would without
// the SDK. Programs that own their signal handling pass WithoutSignalReraise
// and wait on Done instead.
type Process struct {
	native  bool
	logger  core.Logger
	reraise func(os.Signal)

	mu       sync.Mutex
	handlers map[Signal][]func()
	started  bool
	sigCh    chan os.Signal
	done     chan struct{}
	doneOnce sync.Once
	stop     chan struct{}
}

var _ Environment = (*Process)(nil)

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithNativeRuntime marks the process as an embedded native runtime, e.g. a
// gomobile library where no teardown signal is observable.
func WithNativeRuntime() ProcessOption {
	return func(p *Process) {
		p.native = true
	}
}

// WithoutSignalReraise keeps the program running after a SIGINT or SIGTERM
// teardown episode. Done is closed and the caller decides when to exit.
func WithoutSignalReraise() ProcessOption {
	return func(p *Process) {
		p.reraise = nil
	}
}

// WithProcessLogger sets the logger used for signal diagnostics.
func WithProcessLogger(logger core.Logger) ProcessOption {
	return func(p *Process) {
		p.logger = logger
	}
}

// NewProcess creates a process environment. OS signals are not captured until
// the first listener registers.
func NewProcess(opts ...ProcessOption) *Process {
	p := &Process{
		logger:   &core.NoOpLogger{},
		reraise:  raise,
		handlers: make(map[Signal][]func()),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probes: a process has a window unless it is an embedded native runtime,
// and never a document.
func (p *Process) HasWindow() bool               { return !p.native }
func (p *Process) HasDocument() bool             { return false }
func (p *Process) IsEmbeddedNativeRuntime() bool { return p.native }

// CurrentScript is never available in a Go process.
func (p *Process) CurrentScript() (ScriptSource, bool) { return ScriptSource{}, false }

// AddLifecycleListener registers handler. Native runtimes accept no listeners.
func (p *Process) AddLifecycleListener(sig Signal, handler func()) bool {
	if p.native || handler == nil {
		return false
	}
	switch sig {
	case SignalBeforeUnload, SignalPageHide:
	default:
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[sig] = append(p.handlers[sig], handler)
	if !p.started {
		p.started = true
		p.sigCh = make(chan os.Signal, 1)
		signal.Notify(p.sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		go p.watch(p.sigCh, p.stop)
	}
	return true
}

func (p *Process) watch(sigCh <-chan os.Signal, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case sig := <-sigCh:
			p.logger.Info("Received shutdown signal", map[string]interface{}{
				"signal": sig.String(),
			})
			if sig == syscall.SIGHUP {
				p.dispatch(SignalPageHide)
				continue
			}
			p.Shutdown()
			p.Stop()
			if p.reraise != nil {
				p.reraise(sig)
			}
			return
		}
	}
}

// raise delivers sig to the process again now that nothing is subscribed,
// falling back to exiting where signals cannot be sent.
func raise(sig os.Signal) {
	if proc, err := os.FindProcess(os.Getpid()); err == nil && proc.Signal(sig) == nil {
		return
	}
	os.Exit(1)
}

// Shutdown runs a teardown episode programmatically, as SIGTERM would, and
// closes Done. Later calls are no-ops.
func (p *Process) Shutdown() {
	p.doneOnce.Do(func() {
		p.dispatch(SignalBeforeUnload)
		p.dispatch(SignalPageHide)
		close(p.done)
	})
}

// Done is closed once a teardown episode has completed.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stop releases the OS signal subscription.
func (p *Process) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		signal.Stop(p.sigCh)
		close(p.stop)
		p.started = false
		p.stop = make(chan struct{})
	}
}

func (p *Process) dispatch(sig Signal) {
	p.mu.Lock()
	handlers := append([]func(){}, p.handlers[sig]...)
	p.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}
