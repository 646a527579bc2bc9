// Package jshost runs an embedding page inside a goja JavaScript runtime.
//
// A Page exposes window, document and addEventListener to scripts and
// implements host.Environment, so the bootstrap orchestrator sees the same
// probes it would see in a browser. The snippet a page script installs can be
// read into a bootstrap.Snippet, and the live API is published back onto the
// JavaScript object once the SDK is loaded:
//
//	page := jshost.NewPage()
//	_, err := page.RunScript(host.ScriptSource{URL: "https://example.com/index.js"}, snippetJS)
//	o, err := page.Load("appInsights", false)
//	page.Dispatch(host.SignalPageHide)
//
// A Page is not safe for concurrent use. Scripts, dispatches and the
// published functions must all run on one goroutine, as they would on a
// browser's main thread.
package jshost

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/itsneelabh/insights/pkg/bootstrap"
	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/host"
)

// Page is a goja runtime dressed as a browser page or an embedded native host.
type Page struct {
	vm     *goja.Runtime
	logger core.Logger
	native bool

	document *goja.Object

	mu       sync.Mutex
	handlers map[host.Signal][]func()
	script   *host.ScriptSource

	sdkOnce   sync.Once
	sourceTag string

	initializers []goja.Callable
}

var _ host.Environment = (*Page)(nil)

// Option configures a Page.
type Option func(*Page)

// WithLogger routes console output and listener failures to logger.
func WithLogger(logger core.Logger) Option {
	return func(p *Page) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithNativeRuntime models an embedded native host: no window, no document,
// and navigator.product reports "ReactNative".
func WithNativeRuntime() Option {
	return func(p *Page) {
		p.native = true
	}
}

// NewPage creates a page with a fresh runtime.
func NewPage(opts ...Option) *Page {
	p := &Page{
		vm:       goja.New(),
		logger:   &core.NoOpLogger{},
		handlers: make(map[host.Signal][]func()),
	}
	for _, opt := range opts {
		opt(p)
	}

	global := p.vm.GlobalObject()
	if p.native {
		navigator := p.vm.NewObject()
		_ = navigator.Set("product", "ReactNative")
		_ = global.Set("navigator", navigator)
	} else {
		_ = global.Set("window", global)
		_ = global.Set("addEventListener", p.addEventListener)
		p.document = p.vm.NewObject()
		_ = p.document.Set("currentScript", goja.Null())
		_ = global.Set("document", p.document)
	}

	console := p.vm.NewObject()
	_ = console.Set("log", p.consoleLog)
	_ = console.Set("warn", p.consoleLog)
	_ = console.Set("error", p.consoleLog)
	_ = global.Set("console", console)
	return p
}

// Runtime returns the underlying goja runtime.
func (p *Page) Runtime() *goja.Runtime { return p.vm }

// A browser page has both a window and a document; a native page neither.
func (p *Page) HasWindow() bool               { return !p.native }
func (p *Page) HasDocument() bool             { return !p.native }
func (p *Page) IsEmbeddedNativeRuntime() bool { return p.native }

// CurrentScript reports the script RunScript is evaluating, if any.
func (p *Page) CurrentScript() (host.ScriptSource, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.script == nil {
		return host.ScriptSource{}, false
	}
	return *p.script, true
}

// AddLifecycleListener registers a Go handler for sig. Native hosts have no
// window to listen on and refuse every registration.
func (p *Page) AddLifecycleListener(sig host.Signal, handler func()) bool {
	if p.native || handler == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[sig] = append(p.handlers[sig], handler)
	return true
}

// Dispatch fires sig on the window and returns how many listeners ran,
// counting both Go handlers and script listeners.
func (p *Page) Dispatch(sig host.Signal) int {
	p.mu.Lock()
	handlers := append([]func(){}, p.handlers[sig]...)
	p.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	return len(handlers)
}

// RunScript evaluates code as the script at src. document.currentScript
// describes src for the duration of the evaluation.
func (p *Page) RunScript(src host.ScriptSource, code string) (goja.Value, error) {
	p.setCurrentScript(&src)
	defer p.setCurrentScript(nil)
	return p.vm.RunScript(src.URL, code)
}

// RunSDKScript evaluates the SDK bundle itself. The source tag is derived
// from src during the first call and reused by Load.
func (p *Page) RunSDKScript(src host.ScriptSource, code string) (goja.Value, error) {
	p.setCurrentScript(&src)
	defer p.setCurrentScript(nil)

	p.sdkOnce.Do(func() {
		p.sourceTag, _ = bootstrap.DeriveSourceTag(p)
	})
	return p.vm.RunScript(src.URL, code)
}

// SourceTag returns the tag captured by RunSDKScript, or "".
func (p *Page) SourceTag() string { return p.sourceTag }

func (p *Page) setCurrentScript(src *host.ScriptSource) {
	p.mu.Lock()
	p.script = src
	p.mu.Unlock()

	if p.document == nil {
		return
	}
	if src == nil {
		_ = p.document.Set("currentScript", goja.Null())
		return
	}
	script := p.vm.NewObject()
	_ = script.Set("src", src.URL)
	if src.Module {
		_ = script.Set("type", "module")
	} else {
		_ = script.Set("type", "text/javascript")
	}
	_ = p.document.Set("currentScript", script)
}

// addEventListener backs window.addEventListener for page scripts.
func (p *Page) addEventListener(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	listener, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		return goja.Undefined()
	}
	window := p.vm.GlobalObject()
	p.AddLifecycleListener(host.Signal(name), func() {
		event := p.vm.NewObject()
		_ = event.Set("type", name)
		if _, err := listener(window, event); err != nil {
			p.logger.Error("Page listener failed", map[string]interface{}{
				"event": name,
				"error": err.Error(),
			})
		}
	})
	return goja.Undefined()
}

func (p *Page) consoleLog(call goja.FunctionCall) goja.Value {
	parts := make([]string, 0, len(call.Arguments))
	for _, arg := range call.Arguments {
		parts = append(parts, arg.String())
	}
	p.logger.Info("console", map[string]interface{}{
		"message": strings.Join(parts, " "),
	})
	return goja.Undefined()
}

// object returns the global named name as an object.
func (p *Page) object(name string) (*goja.Object, error) {
	v := p.vm.GlobalObject().Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, core.NewFrameworkError("jshost.snippet", "config",
			fmt.Errorf("global %q is not defined: %w", name, core.ErrInvalidConfiguration))
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, core.NewFrameworkError("jshost.snippet", "config",
			fmt.Errorf("global %q is not an object: %w", name, core.ErrInvalidConfiguration))
	}
	return obj, nil
}
