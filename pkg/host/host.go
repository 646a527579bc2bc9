// Package host describes the environment the SDK is loaded into.
//
// Browsers, embedded native runtimes and plain Go processes differ in what
// teardown signals they deliver and whether the loading script can be
// inspected. The bootstrap layer only talks to these capabilities through
// Environment, so the same orchestration runs against a goja page (package
// jshost), an OS process (Process) or a programmable test double (Simulated).
package host

// Signal names a lifecycle event a host may deliver before teardown.
type Signal string

const (
	SignalBeforeUnload Signal = "beforeunload"
	SignalPageHide     Signal = "pagehide"
)

// ScriptSource describes the script that is currently being evaluated.
type ScriptSource struct {
	URL    string
	Module bool
}

// Environment is the set of host probes the SDK consumes.
type Environment interface {
	HasWindow() bool
	HasDocument() bool
	// IsEmbeddedNativeRuntime reports a known host without window or document
	// where the absence of teardown signals is expected.
	IsEmbeddedNativeRuntime() bool
	// AddLifecycleListener registers handler for signal and reports whether
	// the host accepted the registration.
	AddLifecycleListener(signal Signal, handler func()) bool
	// CurrentScript returns the executing script, only while the loading
	// script is being evaluated.
	CurrentScript() (ScriptSource, bool)
}
