package jshost

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/itsneelabh/insights/pkg/core"
)

// scriptExtension is a plugin object listed in the snippet's
// config.extensions. Its initialize method, when present, receives the
// snippet config; a thrown exception fails initialization.
type scriptExtension struct {
	id     string
	obj    *goja.Object
	config goja.Value
}

func (e *scriptExtension) Identifier() string { return e.id }

func (e *scriptExtension) Initialize(config *core.Config, pipeline *core.Pipeline) error {
	initialize, ok := goja.AssertFunction(e.obj.Get("initialize"))
	if !ok {
		return nil
	}
	if _, err := initialize(e.obj, e.config); err != nil {
		return core.NewFrameworkError("jshost.extension", "plugin",
			fmt.Errorf("extension %s: %w", e.id, err))
	}
	return nil
}

func (p *Page) readExtensions(config goja.Value) []core.Plugin {
	if isAbsent(config) {
		return nil
	}
	v := config.ToObject(p.vm).Get("extensions")
	if isAbsent(v) {
		return nil
	}
	list := v.ToObject(p.vm)
	n := int(list.Get("length").ToInteger())

	var plugins []core.Plugin
	for i := 0; i < n; i++ {
		entry, ok := list.Get(fmt.Sprint(i)).(*goja.Object)
		if !ok {
			continue
		}
		id := stringValue(entry.Get("identifier"))
		if id == "" {
			id = fmt.Sprintf("ScriptExtension%d", i)
		}
		plugins = append(plugins, &scriptExtension{id: id, obj: entry, config: config})
	}
	return plugins
}
