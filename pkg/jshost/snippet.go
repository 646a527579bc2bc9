package jshost

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/itsneelabh/insights/pkg/bootstrap"
	"github.com/itsneelabh/insights/pkg/core"
)

// DefaultSnippetName is the global the standard snippet installs.
const DefaultSnippetName = "appInsights"

// ReadSnippet converts the snippet object stored in the global name into
// its Go form. Its config is decoded over core.DefaultConfig, objects in
// config.extensions become plugins, and every
// queue entry becomes a bootstrap.Call that invokes the function with the
// snippet as this. A thrown exception is returned as the call's error.
func (p *Page) ReadSnippet(name string) (*bootstrap.Snippet, error) {
	obj, err := p.object(name)
	if err != nil {
		return nil, err
	}

	config := obj.Get("config")
	cfg, err := p.readConfig(config)
	if err != nil {
		return nil, core.NewFrameworkError("jshost.snippet", "config", err)
	}
	cfg.Extensions = p.readExtensions(config)

	snippet := &bootstrap.Snippet{
		Config:  cfg,
		SV:      stringValue(obj.Get("sv")),
		Version: stringValue(obj.Get("version")),
	}
	snippet.Queue = p.readQueue(obj)
	return snippet, nil
}

func (p *Page) readConfig(v goja.Value) (*core.Config, error) {
	cfg := core.DefaultConfig()
	if isAbsent(v) {
		return cfg, nil
	}
	stringify, ok := goja.AssertFunction(p.vm.Get("JSON").ToObject(p.vm).Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("JSON.stringify unavailable: %w", core.ErrInvalidConfiguration)
	}
	raw, err := stringify(goja.Undefined(), v)
	if err != nil {
		return nil, fmt.Errorf("encode snippet config: %w", err)
	}
	if err := json.Unmarshal([]byte(raw.String()), cfg); err != nil {
		return nil, fmt.Errorf("decode snippet config: %v: %w", err, core.ErrInvalidConfiguration)
	}
	return cfg, nil
}

// readQueue accepts only a real Array. Holes are skipped, so the declared
// length of a sparse array never sizes anything.
func (p *Page) readQueue(obj *goja.Object) []bootstrap.Call {
	queue, ok := obj.Get("queue").(*goja.Object)
	if !ok || queue.ClassName() != "Array" {
		return nil
	}

	var calls []bootstrap.Call
	for _, key := range queue.Keys() {
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 {
			continue
		}
		fn, ok := goja.AssertFunction(queue.Get(key))
		if !ok {
			calls = append(calls, func() error {
				return fmt.Errorf("queue entry %d is not a function", i)
			})
			continue
		}
		calls = append(calls, func() error {
			_, err := fn(obj)
			return err
		})
	}
	return calls
}

// Publish installs the live API of o as methods of the snippet object stored
// in the global name. Queued closures that call through the snippet reach
// the live implementation from then on.
func (p *Page) Publish(name string, o *bootstrap.Orchestrator) error {
	obj, err := p.object(name)
	if err != nil {
		return err
	}
	for method, fn := range p.bindings(o) {
		if err := obj.Set(method, fn); err != nil {
			return core.NewFrameworkError("jshost.publish", "config",
				fmt.Errorf("set %s: %w", method, err))
		}
	}
	return nil
}

// Load boots the SDK for the snippet stored in the global name: it reads the
// snippet, builds the orchestrator with this page as its environment,
// publishes the API onto the script object and runs Load. The script queue
// is removed once drained and the loaded data members are mirrored onto the
// object.
func (p *Page) Load(name string, legacyMode bool, opts ...bootstrap.Option) (*bootstrap.Orchestrator, error) {
	snippet, err := p.ReadSnippet(name)
	if err != nil {
		return nil, err
	}

	base := []bootstrap.Option{
		bootstrap.WithEnvironment(p),
		bootstrap.WithLogger(p.logger),
		bootstrap.WithSourceTag(p.sourceTag),
	}
	o := bootstrap.New(snippet, append(base, opts...)...)
	o.UpdateSnippetDefinitions(snippet)
	if err := p.Publish(name, o); err != nil {
		return nil, err
	}

	live, err := o.Load(legacyMode)
	if err != nil {
		return nil, err
	}

	obj, err := p.object(name)
	if err != nil {
		return nil, err
	}
	_ = obj.Delete("queue")
	p.publishMembers(obj, live)
	return live, nil
}

// publishMembers mirrors the data members of the loaded SDK onto the script
// object: the effective instrumentationKey and endpointUrl on config, the
// internal context tags, and a core handle listing the composed plugins.
func (p *Page) publishMembers(obj *goja.Object, o *bootstrap.Orchestrator) {
	config, ok := obj.Get("config").(*goja.Object)
	if !ok {
		config = p.vm.NewObject()
		_ = obj.Set("config", config)
	}
	_ = config.Set("instrumentationKey", o.Config().InstrumentationKey)
	_ = config.Set("endpointUrl", o.Config().EndpointURL)

	internal := o.Context().Internal()
	ctx := p.vm.NewObject()
	tags := p.vm.NewObject()
	_ = tags.Set("sdkVersion", internal.SDKVersion)
	_ = tags.Set("snippetVer", internal.SnippetVer)
	_ = tags.Set("sdkSrc", internal.SDKSrc)
	_ = ctx.Set("internal", tags)
	_ = obj.Set("context", ctx)

	pipeline := o.Core()
	plugins := pipeline.Plugins()
	ids := make([]interface{}, 0, len(plugins))
	for _, plugin := range plugins {
		ids = append(ids, plugin.Identifier())
	}
	coreObj := p.vm.NewObject()
	_ = coreObj.Set("plugins", p.vm.NewArray(ids...))
	_ = coreObj.Set("isInitialized", func(goja.FunctionCall) goja.Value {
		return p.vm.ToValue(pipeline.IsInitialized())
	})
	_ = obj.Set("core", coreObj)

	if internal.SDKSrc != "" {
		_ = obj.Set("sdkSrc", internal.SDKSrc)
	}
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func stringValue(v goja.Value) string {
	if isAbsent(v) {
		return ""
	}
	return v.String()
}
