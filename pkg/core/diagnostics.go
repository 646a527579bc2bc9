package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Severity of an SDK-internal diagnostic message. Lower is more severe, which
// lets the logging level settings act as thresholds.
type Severity int

const (
	SeverityCriticalInternal Severity = 1
	SeverityWarningInternal  Severity = 2
)

func (s Severity) String() string {
	switch s {
	case SeverityCriticalInternal:
		return "CRITICAL"
	case SeverityWarningInternal:
		return "WARNING"
	default:
		return fmt.Sprintf("SEVERITY(%d)", int(s))
	}
}

// MessageID identifies an internal diagnostic. Each ID is queued at most once per
// episode so a failure loop cannot flood the channel.
type MessageID int

const (
	MsgBrowserCannotWriteLocalStorage      MessageID = 3
	MsgErrorParsingAISessionCookie         MessageID = 9
	MsgFailedToAddHandlerForOnBeforeUnload MessageID = 19
	MsgFailedToSendQueuedTelemetry         MessageID = 20
	MsgFlushFailed                         MessageID = 22
	MsgMessageLimitPerPVExceeded           MessageID = 23
	MsgSessionRenewalDateIsZero            MessageID = 27
	MsgStartTrackEventFailed               MessageID = 29
	MsgStopTrackEventFailed                MessageID = 30
	MsgStartTrackFailed                    MessageID = 31
	MsgStopTrackFailed                     MessageID = 32
	MsgTrackEventFailed                    MessageID = 34
	MsgTrackExceptionFailed                MessageID = 35
	MsgTrackMetricFailed                   MessageID = 36
	MsgTrackPVFailed                       MessageID = 37
	MsgTrackTraceFailed                    MessageID = 39
	MsgTransmissionFailed                  MessageID = 40
	MsgMaxAjaxPerPVExceeded                MessageID = 55
	MsgIllegalCharsInName                  MessageID = 58
	MsgSetAuthContextFailed                MessageID = 60
	MsgTelemetryInitializerFailed          MessageID = 64
	MsgTeardownHousekeepingFailed          MessageID = 65
)

// internalMessagePrefix marks SDK-internal traces so they are distinguishable
// from application traces.
const internalMessagePrefix = "AI (Internal): "

const (
	defaultMaxInternalMessages = 25
	maxHistory                 = 256
)

// InternalMessage is a queued SDK diagnostic.
type InternalMessage struct {
	ID         MessageID
	Severity   Severity
	Message    string
	Properties map[string]string
}

// String renders the message the way it is sent as trace telemetry.
func (m InternalMessage) String() string {
	var b strings.Builder
	b.WriteString(internalMessagePrefix)
	fmt.Fprintf(&b, "%d message:%q", m.ID, m.Message)
	if len(m.Properties) > 0 {
		keys := make([]string, 0, len(m.Properties))
		for k := range m.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" props:")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "%s=%q", k, m.Properties[k])
		}
	}
	return b.String()
}

// DiagnosticLogger is the SDK-internal logger. Messages are echoed to the ambient
// Logger according to loggingLevelConsole and queued for transmission according
// to loggingLevelTelemetry.
type DiagnosticLogger struct {
	mu             sync.Mutex
	logger         Logger
	consoleLevel   int
	telemetryLevel int
	maxMessages    int

	queue   []InternalMessage
	logged  map[MessageID]bool
	count   int
	history []InternalMessage
}

// NewDiagnosticLogger creates a diagnostic logger writing to logger.
func NewDiagnosticLogger(logger Logger) *DiagnosticLogger {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &DiagnosticLogger{
		logger:         logger,
		telemetryLevel: DefaultLoggingLevelTelemetry,
		maxMessages:    defaultMaxInternalMessages,
		logged:         make(map[MessageID]bool),
	}
}

// Configure applies the logging levels from cfg.
func (d *DiagnosticLogger) Configure(cfg *Config) {
	if cfg == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consoleLevel = cfg.LoggingLevelConsole
	d.telemetryLevel = cfg.LoggingLevelTelemetry
	if cfg.EnableDebug && d.consoleLevel < int(SeverityWarningInternal) {
		d.consoleLevel = int(SeverityWarningInternal)
	}
}

// ThrowInternal records an internal diagnostic. It never panics and never returns
// an error: diagnostics are observed, not handled.
func (d *DiagnosticLogger) ThrowInternal(severity Severity, id MessageID, msg string, props map[string]string) {
	m := InternalMessage{ID: id, Severity: severity, Message: msg, Properties: props}

	d.mu.Lock()
	if len(d.history) >= maxHistory {
		d.history = d.history[1:]
	}
	d.history = append(d.history, m)
	echo := d.consoleLevel >= int(severity)
	d.mu.Unlock()

	fields := map[string]interface{}{
		"message_id": int(id),
		"severity":   severity.String(),
	}
	for k, v := range props {
		fields[k] = v
	}
	switch {
	case echo && severity == SeverityCriticalInternal:
		d.logger.Error(msg, fields)
	case echo:
		d.logger.Warn(msg, fields)
	default:
		d.logger.Debug(msg, fields)
	}

	d.logInternalMessage(m)
}

// WarnToConsole writes a user-facing warning without queueing it.
func (d *DiagnosticLogger) WarnToConsole(msg string) {
	d.logger.Warn(msg, nil)
}

func (d *DiagnosticLogger) logInternalMessage(m InternalMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.count >= d.maxMessages {
		return
	}
	if d.logged[m.ID] {
		return
	}
	d.logged[m.ID] = true

	if int(m.Severity) <= d.telemetryLevel {
		d.queue = append(d.queue, m)
		d.count++
	}

	if d.count == d.maxMessages {
		d.queue = append(d.queue, InternalMessage{
			ID:       MsgMessageLimitPerPVExceeded,
			Severity: SeverityCriticalInternal,
			Message:  "Internal events throttle limit per PageView reached for this app.",
		})
	}
}

// Queue returns a copy of the messages waiting to be sent.
func (d *DiagnosticLogger) Queue() []InternalMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]InternalMessage, len(d.queue))
	copy(out, d.queue)
	return out
}

// Drain returns the queued messages and empties the queue.
func (d *DiagnosticLogger) Drain() []InternalMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.queue
	d.queue = nil
	return out
}

// History returns every message thrown so far, including those filtered out of
// the queue by level, de-duplication or throttling.
func (d *DiagnosticLogger) History() []InternalMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]InternalMessage, len(d.history))
	copy(out, d.history)
	return out
}

// ResetInternalMessageCount starts a new throttling episode.
func (d *DiagnosticLogger) ResetInternalMessageCount() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count = 0
	d.logged = make(map[MessageID]bool)
}
