package host

import "sync"

// Simulated is a programmable Environment. The zero value has no window, no
// document and accepts no listeners.
type Simulated struct {
	Window   bool
	Document bool
	Native   bool
	// Supported lists the signals AddLifecycleListener accepts. Nil means every
	// signal is accepted whenever Window or Document is set.
	Supported map[Signal]bool
	Script    *ScriptSource

	mu            sync.Mutex
	handlers      map[Signal][]func()
	registrations []Signal
	attempts      []Signal
}

var _ Environment = (*Simulated)(nil)

// NewBrowser returns a Simulated host that behaves like a modern browser page.
func NewBrowser() *Simulated {
	return &Simulated{Window: true, Document: true}
}

// Probes report the configured fields.
func (s *Simulated) HasWindow() bool               { return s.Window }
func (s *Simulated) HasDocument() bool             { return s.Document }
func (s *Simulated) IsEmbeddedNativeRuntime() bool { return s.Native }

// CurrentScript returns Script when one is set.
func (s *Simulated) CurrentScript() (ScriptSource, bool) {
	if s.Script == nil {
		return ScriptSource{}, false
	}
	return *s.Script, true
}

// AddLifecycleListener records the attempt and accepts it when the host has
// a window or a document and supports sig.
func (s *Simulated) AddLifecycleListener(sig Signal, handler func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, sig)
	if handler == nil || !(s.Window || s.Document) {
		return false
	}
	if s.Supported != nil && !s.Supported[sig] {
		return false
	}
	if s.handlers == nil {
		s.handlers = make(map[Signal][]func())
	}
	s.handlers[sig] = append(s.handlers[sig], handler)
	s.registrations = append(s.registrations, sig)
	return true
}

// Dispatch delivers sig to every registered handler and returns how many ran.
func (s *Simulated) Dispatch(sig Signal) int {
	s.mu.Lock()
	handlers := append([]func(){}, s.handlers[sig]...)
	s.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	return len(handlers)
}

// Registrations returns the accepted registrations in order.
func (s *Simulated) Registrations() []Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Signal(nil), s.registrations...)
}

// Attempts returns every registration attempt, accepted or not.
func (s *Simulated) Attempts() []Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Signal(nil), s.attempts...)
}
