package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pipeline composes plugins and routes telemetry through them.
//
// Items submitted with Track pass through every TelemetryProcessor in
// composition order and are then handed to each channel of the first
// transmission group. Plugins and channels are shared by reference with whoever
// constructed them; only the Pipeline calls Initialize.
type Pipeline struct {
	mu          sync.RWMutex
	config      *Config
	plugins     []Plugin
	byID        map[string]Plugin
	processors  []TelemetryProcessor
	channels    []Channel
	started     bool
	initialized bool

	logger Logger
	diag   *DiagnosticLogger

	pollMu     sync.Mutex
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// NewPipeline creates an uninitialized pipeline. A nil logger is replaced with a no-op.
func NewPipeline(logger Logger) *Pipeline {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Pipeline{
		byID:   make(map[string]Plugin),
		logger: logger,
		diag:   NewDiagnosticLogger(logger),
	}
}

// Initialize validates config and initializes plugins followed by
// config.Extensions, in order. The first plugin error is returned as is and
// leaves the pipeline unusable.
func (p *Pipeline) Initialize(config *Config, plugins []Plugin) error {
	if config == nil {
		return &FrameworkError{
			Op:      "Pipeline.Initialize",
			Kind:    "config",
			Message: "configuration is required",
			Err:     ErrMissingConfiguration,
		}
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return NewFrameworkError("Pipeline.Initialize", "state", ErrAlreadyInitialized)
	}
	if err := config.Validate(); err != nil {
		p.mu.Unlock()
		return err
	}

	all := make([]Plugin, 0, len(plugins)+len(config.Extensions))
	all = append(all, plugins...)
	all = append(all, config.Extensions...)
	for _, pl := range all {
		if pl == nil {
			continue
		}
		id := pl.Identifier()
		if _, exists := p.byID[id]; exists {
			p.byID = make(map[string]Plugin)
			p.mu.Unlock()
			return &FrameworkError{
				Op:   "Pipeline.Initialize",
				Kind: "plugin",
				ID:   id,
				Err:  ErrDuplicatePlugin,
			}
		}
		p.byID[id] = pl
	}

	p.started = true
	p.config = config
	p.diag.Configure(config)
	p.mu.Unlock()

	// Plugins may look up earlier plugins or submit telemetry while they
	// initialize, so the lock is not held across Initialize calls.
	for _, pl := range all {
		if pl == nil {
			continue
		}
		if err := pl.Initialize(config, p); err != nil {
			p.logger.Error("Plugin initialization failed", map[string]interface{}{
				"plugin": pl.Identifier(),
				"error":  err.Error(),
			})
			return err
		}

		p.mu.Lock()
		p.plugins = append(p.plugins, pl)
		if ch, ok := pl.(Channel); ok {
			p.channels = append(p.channels, ch)
		} else if proc, ok := pl.(TelemetryProcessor); ok {
			p.processors = append(p.processors, proc)
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()

	p.logger.Debug("Pipeline initialized", map[string]interface{}{
		"plugins":  len(all),
		"channels": len(p.channels),
	})
	return nil
}

// IsInitialized reports whether every plugin initialized successfully.
func (p *Pipeline) IsInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// Config returns the configuration the pipeline was initialized with.
func (p *Pipeline) Config() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// Logger returns the SDK-internal diagnostic logger.
func (p *Pipeline) Logger() *DiagnosticLogger {
	return p.diag
}

// Plugin looks up a composed plugin by identifier.
func (p *Pipeline) Plugin(id string) Plugin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byID[id]
}

// Plugins returns the initialized plugins in composition order.
func (p *Pipeline) Plugins() []Plugin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Plugin, len(p.plugins))
	copy(out, p.plugins)
	return out
}

// TransmissionControls returns the flush-capable channels grouped the way they
// receive telemetry. The result is a copy; callers cannot alter the pipeline.
func (p *Pipeline) TransmissionControls() [][]Channel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.channels) == 0 {
		return nil
	}
	group := make([]Channel, len(p.channels))
	copy(group, p.channels)
	return [][]Channel{group}
}

// Track submits an item. Items tracked before initialization completes reach
// whatever processors and channels are already live.
func (p *Pipeline) Track(item *Envelope) {
	if item == nil {
		return
	}

	p.mu.RLock()
	cfg := p.config
	processors := p.processors
	channels := p.channels
	p.mu.RUnlock()

	if cfg == nil {
		p.logger.Debug("Dropping telemetry, pipeline not initialized", map[string]interface{}{
			"base_type": item.BaseType,
		})
		return
	}
	if item.IKey == "" {
		item.IKey = cfg.InstrumentationKey
	}
	if item.Time.IsZero() {
		item.Time = time.Now()
	}
	if item.Tags == nil {
		item.Tags = make(map[string]string)
	}

	for _, proc := range processors {
		if !proc.ProcessTelemetry(item) {
			return
		}
	}
	for _, ch := range channels {
		ch.Send(item)
	}
}

// PollInternalLogs starts forwarding queued diagnostics as trace telemetry every
// diagnosticLogInterval milliseconds. Calling it while already polling is a no-op.
func (p *Pipeline) PollInternalLogs() {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	if p.pollCancel != nil {
		return
	}

	interval := DefaultDiagnosticLogInterval
	if cfg := p.Config(); cfg != nil && cfg.DiagnosticLogInterval > 0 {
		interval = cfg.DiagnosticLogInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.pollCancel = cancel
	p.pollDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Duration(interval) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.SendInternalLogs()
			}
		}
	}()
}

// StopPollingInternalLogs stops the poller started by PollInternalLogs and waits
// for it to exit.
func (p *Pipeline) StopPollingInternalLogs() {
	p.pollMu.Lock()
	cancel, done := p.pollCancel, p.pollDone
	p.pollCancel, p.pollDone = nil, nil
	p.pollMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SendInternalLogs forwards the queued diagnostics immediately.
func (p *Pipeline) SendInternalLogs() {
	for _, m := range p.diag.Drain() {
		text := m.String()
		env := NewEnvelope(BaseTypeTrace, text)
		env.BaseData["message"] = text
		env.BaseData["severityLevel"] = internalSeverityLevel(m.Severity)
		for k, v := range m.Properties {
			env.Properties[k] = v
		}
		p.Track(env)
	}
}

func internalSeverityLevel(s Severity) SeverityLevel {
	if s == SeverityCriticalInternal {
		return SeverityCritical
	}
	return SeverityWarning
}

// String is used in log fields.
func (p *Pipeline) String() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fmt.Sprintf("Pipeline(plugins=%d, channels=%d, initialized=%t)", len(p.plugins), len(p.channels), p.initialized)
}
