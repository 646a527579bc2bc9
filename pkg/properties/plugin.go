// Package properties is the context plugin. It owns the TelemetryContext
// (SDK diagnostics, user, session, application) and stamps it onto every item
// that passes through the pipeline.
package properties

import (
	"context"
	"sync"
	"time"

	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/memory"
)

// Identifier of the properties plugin.
const Identifier = "AppInsightsPropertiesPlugin"

// Plugin is the properties/context plugin.
type Plugin struct {
	mu      sync.Mutex
	context *TelemetryContext
	store   memory.Store
	logger  core.Logger
	now     func() time.Time
	closer  func() error
}

var (
	_ core.Plugin             = (*Plugin)(nil)
	_ core.TelemetryProcessor = (*Plugin)(nil)
)

// Option configures the plugin.
type Option func(*Plugin)

// WithStore persists user and session state in store instead of the store
// selected by sessionStoreUrl.
func WithStore(store memory.Store) Option {
	return func(p *Plugin) {
		p.store = store
	}
}

// WithLogger sets the console logger.
func WithLogger(logger core.Logger) Option {
	return func(p *Plugin) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used for session expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

// New creates the plugin. Its context exists immediately; user and session
// are populated by Initialize.
func New(opts ...Option) *Plugin {
	p := &Plugin{
		context: newTelemetryContext(),
		logger:  &core.NoOpLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Identifier() string { return Identifier }

// Initialize selects the store, restores the user and the backed up session.
// An unreachable Redis store falls back to process memory. namePrefix keeps
// the keys of several SDK instances sharing one Redis apart.
func (p *Plugin) Initialize(config *core.Config, pipeline *core.Pipeline) error {
	ctx := context.Background()
	diag := pipeline.Logger()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil {
		p.store = p.openStore(ctx, config)
	}

	p.context.SetApplication(ApplicationContext{CloudRole: config.ServiceName})
	p.context.User.init(ctx, p.store, diag, p.now())

	sm := NewSessionManager(config, p.store, diag, p.now)
	sm.Restore(ctx)
	p.context.SessionManager = sm

	return nil
}

func (p *Plugin) openStore(ctx context.Context, config *core.Config) memory.Store {
	if config.SessionStoreURL == "" {
		return memory.NewInMemoryStore()
	}
	namespace := "insights"
	if config.NamePrefix != "" {
		namespace += "_" + config.NamePrefix
	}
	redisStore, err := memory.NewRedisMemory(ctx, config.SessionStoreURL, namespace)
	if err != nil {
		p.logger.Warn("Session store unavailable, using process memory", map[string]interface{}{
			"error": err.Error(),
		})
		return memory.NewInMemoryStore()
	}
	p.closer = redisStore.Close
	return redisStore
}

// ProcessTelemetry refreshes the session and stamps the context tags.
func (p *Plugin) ProcessTelemetry(item *core.Envelope) bool {
	if sm := p.context.SessionManager; sm != nil {
		sm.Update()
	}
	p.context.ApplyTo(item)
	return true
}

// Context returns the telemetry context.
func (p *Plugin) Context() *TelemetryContext {
	return p.context
}

// Close releases the session store if the plugin opened it.
func (p *Plugin) Close() error {
	p.mu.Lock()
	closer := p.closer
	p.closer = nil
	p.mu.Unlock()
	if closer == nil {
		return nil
	}
	return closer()
}
