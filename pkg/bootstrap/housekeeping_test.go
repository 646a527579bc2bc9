package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/host"
	"github.com/itsneelabh/insights/pkg/memory"
	"github.com/itsneelabh/insights/pkg/properties"
)

func TestHousekeepingRegistrations(t *testing.T) {
	tests := []struct {
		name         string
		beforeUnload bool
		unload       bool
		want         []host.Signal
	}{
		{"both enabled", true, true, []host.Signal{host.SignalBeforeUnload, host.SignalPageHide, host.SignalPageHide}},
		{"before unload disabled", false, true, []host.Signal{host.SignalPageHide}},
		{"unload disabled", true, false, []host.Signal{host.SignalBeforeUnload, host.SignalPageHide}},
		{"both disabled", false, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.DisableFlushOnBeforeUnload = !tt.beforeUnload
			cfg.DisableFlushOnUnload = !tt.unload
			o, _, env := newTestOrchestrator(&Snippet{Config: cfg})
			_, err := o.Load(false)
			require.NoError(t, err)

			assert.Equal(t, tt.want, env.Registrations())
			assert.Empty(t, messages(o, core.MsgFailedToAddHandlerForOnBeforeUnload))
		})
	}
}

func TestHousekeepingFlushesAndBacksUpSession(t *testing.T) {
	store := memory.NewInMemoryStore()
	o, ch, env := newTestOrchestrator(&Snippet{Config: testConfig()},
		WithPropertiesOptions(properties.WithStore(store)))
	_, err := o.Load(false)
	require.NoError(t, err)

	o.TrackEvent(core.EventTelemetry{Name: "before teardown"})

	assert.Equal(t, 1, env.Dispatch(host.SignalBeforeUnload))
	assert.Equal(t, 1, ch.Teardowns())

	backup, err := store.Get(context.Background(), properties.SessionStorageKey)
	require.NoError(t, err)
	assert.Contains(t, backup, o.Context().SessionManager.Automatic().ID)

	// pagehide is registered twice; repeated flushes are harmless
	assert.Equal(t, 2, env.Dispatch(host.SignalPageHide))
	assert.Equal(t, 3, ch.Teardowns())
	assert.Empty(t, ch.Flushes(), "teardown uses the accelerated path")
}

func TestHousekeepingFallsBackToFlush(t *testing.T) {
	plain := &recordingChannel{id: "PlainChannel"}
	env := host.NewBrowser()
	o := New(&Snippet{Config: testConfig()},
		WithChannel(plain),
		WithEnvironment(env),
		WithSourceTag(""),
		WithPropertiesOptions(properties.WithStore(memory.NewInMemoryStore())),
	)
	_, err := o.Load(false)
	require.NoError(t, err)

	env.Dispatch(host.SignalBeforeUnload)
	assert.Equal(t, []bool{false}, plain.Flushes(), "synchronous flush at teardown")
}

func TestHousekeepingContainsFailures(t *testing.T) {
	o, ch, env := newTestOrchestrator(&Snippet{Config: testConfig()})
	ch.panicOnTeardown = true
	_, err := o.Load(false)
	require.NoError(t, err)

	assert.NotPanics(t, func() { env.Dispatch(host.SignalPageHide) })
	assert.NotEmpty(t, messages(o, core.MsgTeardownHousekeepingFailed))
}

func TestHousekeepingWithoutSignals(t *testing.T) {
	tests := []struct {
		name         string
		env          *host.Simulated
		wantCritical bool
		wantAttempts int
	}{
		{
			name:         "window without lifecycle signals",
			env:          &host.Simulated{Window: true, Supported: map[host.Signal]bool{}},
			wantCritical: true,
			wantAttempts: 3,
		},
		{
			name:         "only beforeunload",
			env:          &host.Simulated{Window: true, Supported: map[host.Signal]bool{host.SignalBeforeUnload: true}},
			wantCritical: false,
			wantAttempts: 3,
		},
		{
			name:         "document only",
			env:          &host.Simulated{Document: true},
			wantCritical: false,
			wantAttempts: 3,
		},
		{
			name:         "native runtime without window",
			env:          &host.Simulated{Native: true},
			wantCritical: false,
			wantAttempts: 0,
		},
		{
			name:         "unknown host without window",
			env:          &host.Simulated{},
			wantCritical: true,
			wantAttempts: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _, _ := newTestOrchestrator(&Snippet{Config: testConfig()}, WithEnvironment(tt.env))
			_, err := o.Load(false)
			require.NoError(t, err, "a teardown gap never fails Load")

			assert.Len(t, tt.env.Attempts(), tt.wantAttempts)
			critical := messages(o, core.MsgFailedToAddHandlerForOnBeforeUnload)
			if tt.wantCritical {
				require.Len(t, critical, 1)
				assert.Equal(t, core.SeverityCriticalInternal, critical[0].Severity)
			} else {
				assert.Empty(t, critical)
			}
		})
	}
}

func TestHousekeepingWithProcessHost(t *testing.T) {
	proc := host.NewProcess()
	o, ch, _ := newTestOrchestrator(&Snippet{Config: testConfig()}, WithEnvironment(proc))
	_, err := o.Load(false)
	require.NoError(t, err)

	proc.Shutdown()
	<-proc.Done()
	assert.Equal(t, 3, ch.Teardowns())
	require.NoError(t, o.Unload(context.Background()))
}
