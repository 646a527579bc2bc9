package bootstrap

import (
	"fmt"

	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/host"
)

// AddHousekeepingBeforeUnload registers the teardown flush with the host.
//
// The action is registered for both beforeunload and pagehide, since hosts
// deliver either, both or neither depending on how the page goes away, and
// once more for pagehide unless disableFlushOnUnload is set. Running it twice
// is harmless. A host with no window and no document gets no listeners; that
// is reported as critical unless the host is a known native runtime.
func (o *Orchestrator) AddHousekeepingBeforeUnload() {
	env := o.env
	diag := o.pipeline.Logger()

	if !env.HasWindow() && !env.HasDocument() {
		if !env.IsEmbeddedNativeRuntime() {
			diag.ThrowInternal(core.SeverityCriticalInternal, core.MsgFailedToAddHandlerForOnBeforeUnload,
				"Could not add handler for beforeunload and pagehide: the host has no window or document", nil)
		}
		return
	}

	if !o.config.DisableFlushOnBeforeUnload {
		added := env.AddLifecycleListener(host.SignalBeforeUnload, o.performHousekeeping)
		added = env.AddLifecycleListener(host.SignalPageHide, o.performHousekeeping) || added
		if !added && !env.IsEmbeddedNativeRuntime() {
			diag.ThrowInternal(core.SeverityCriticalInternal, core.MsgFailedToAddHandlerForOnBeforeUnload,
				"Could not add handler for beforeunload and pagehide", nil)
		}
	}

	if !o.config.DisableFlushOnUnload {
		env.AddLifecycleListener(host.SignalPageHide, o.performHousekeeping)
	}
}

// performHousekeeping flushes synchronously and backs the session up. It
// never panics.
func (o *Orchestrator) performHousekeeping() {
	defer func() {
		if r := recover(); r != nil {
			o.pipeline.Logger().ThrowInternal(core.SeverityCriticalInternal, core.MsgTeardownHousekeepingFailed,
				"Teardown housekeeping failed", map[string]string{"exception": fmt.Sprint(r)})
		}
	}()

	o.OnUnloadFlush(false)

	if ctx := o.Context(); ctx != nil && ctx.SessionManager != nil {
		_ = ctx.SessionManager.Backup()
	}
}
