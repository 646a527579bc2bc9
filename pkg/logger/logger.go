package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itsneelabh/insights/pkg/core"
)

// ProductionLogger is the console logger used for SDK and application output.
// It writes JSON in Kubernetes and human-readable text elsewhere.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
	fields      map[string]interface{}
	mu          *sync.RWMutex

	// Rate limiting to prevent log flooding during failures
	errorLimiter *core.RateLimiter
}

var _ core.Logger = (*ProductionLogger)(nil)

var (
	defaultLogger     *ProductionLogger
	defaultLoggerOnce sync.Once
)

// Default returns the process-wide logger, created on first use from the
// environment.
func Default() *ProductionLogger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = New("insights")
	})
	return defaultLogger
}

// New creates a logger for serviceName.
// Configuration priority:
//  1. Setters (SetLevel, SetFormat, SetOutput)
//  2. Environment variables (INSIGHTS_LOG_LEVEL, INSIGHTS_DEBUG, INSIGHTS_LOG_FORMAT)
//  3. Auto-detection (K8s environment)
//  4. Defaults
func New(serviceName string) *ProductionLogger {
	level := os.Getenv("INSIGHTS_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	level = strings.ToUpper(level)

	debug := os.Getenv("INSIGHTS_DEBUG") == "true" || level == "DEBUG"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("INSIGHTS_LOG_FORMAT"); envFormat != "" {
		format = strings.ToLower(envFormat)
	}

	return &ProductionLogger{
		level:        level,
		debug:        debug,
		serviceName:  serviceName,
		component:    "sdk",
		format:       format,
		output:       os.Stdout,
		fields:       map[string]interface{}{},
		mu:           &sync.RWMutex{},
		errorLimiter: core.NewRateLimiter(time.Second),
	}
}

// Info logs informational messages
func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

// Warn logs warning messages
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

// Error logs error messages, at most one per second.
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

// Debug logs debug messages (only when debug mode is enabled)
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

// WithComponent returns a logger that tags every line with component. The
// child shares output, level and rate limiter with its parent.
func (l *ProductionLogger) WithComponent(component string) *ProductionLogger {
	child := l.clone()
	child.component = component
	return child
}

// WithFields returns a logger that adds fields to every line.
func (l *ProductionLogger) WithFields(fields map[string]interface{}) *ProductionLogger {
	child := l.clone()
	for k, v := range fields {
		child.fields[k] = v
	}
	return child
}

func (l *ProductionLogger) clone() *ProductionLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &ProductionLogger{
		level:        l.level,
		debug:        l.debug,
		serviceName:  l.serviceName,
		component:    l.component,
		format:       l.format,
		output:       l.output,
		fields:       fields,
		mu:           l.mu,
		errorLimiter: l.errorLimiter,
	}
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	timestamp := time.Now().Format(time.RFC3339)
	if l.format == "json" {
		l.logJSON(timestamp, level, msg, merged)
	} else {
		l.logText(timestamp, level, msg, merged)
	}
}

func (l *ProductionLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	logEntry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"service":   l.serviceName,
		"component": l.component,
		"message":   msg,
	}

	for k, v := range fields {
		switch k {
		case "timestamp", "level", "service", "component", "message":
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		logEntry[k] = v
	}

	if data, err := json.Marshal(logEntry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *ProductionLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var fieldStr strings.Builder
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		// error first, then alphabetical
		sort.Slice(keys, func(i, j int) bool {
			if keys[i] == "error" || keys[j] == "error" {
				return keys[i] == "error"
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			v := fields[k]
			if s, ok := v.(string); ok && strings.ContainsAny(s, " \t\"") {
				fmt.Fprintf(&fieldStr, " %s=%q", k, s)
				continue
			}
			fmt.Fprintf(&fieldStr, " %s=%v", k, v)
		}
	}

	fmt.Fprintf(l.output, "%s [%s] [%s:%s] %s%s\n",
		timestamp, level, l.component, l.serviceName, msg, fieldStr.String())
}

var levelRank = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
}

func (l *ProductionLogger) shouldLog(level string) bool {
	currentLevel, ok1 := levelRank[l.level]
	messageLevel, ok2 := levelRank[level]
	if !ok1 || !ok2 {
		return true
	}
	return messageLevel >= currentLevel
}

// SetLevel dynamically updates the log level
func (l *ProductionLogger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = strings.ToUpper(level)
	if l.level == "WARNING" {
		l.level = "WARN"
	}
	l.debug = l.level == "DEBUG"
}

// SetFormat switches between "text" and "json".
func (l *ProductionLogger) SetFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = strings.ToLower(format)
}

// SetOutput changes the output writer (useful for testing)
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}
