package properties

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/memory"
	"github.com/itsneelabh/insights/pkg/telemetry"
)

// SessionStorageKey is the store key of the session backup.
const SessionStorageKey = "ai_session"

// Session is the current user session.
type Session struct {
	ID              string
	AcquisitionDate time.Time
	RenewalDate     time.Time
	IsFirst         bool
}

// SessionManager tracks the session and persists it so a new page load (or
// process) continues it instead of starting a fresh one.
//
// A session is renewed once it has been idle longer than sessionRenewalMs or
// is older than sessionExpirationMs.
type SessionManager struct {
	mu         sync.Mutex
	session    Session
	renewal    time.Duration
	expiration time.Duration
	store      memory.Store
	diag       *core.DiagnosticLogger
	now        func() time.Time
}

// NewSessionManager creates a session manager backed by store.
func NewSessionManager(cfg *core.Config, store memory.Store, diag *core.DiagnosticLogger, now func() time.Time) *SessionManager {
	if now == nil {
		now = time.Now
	}
	renewal := cfg.SessionRenewalMs
	if renewal <= 0 {
		renewal = core.DefaultSessionRenewalMs
	}
	expiration := cfg.SessionExpirationMs
	if expiration <= 0 {
		expiration = core.DefaultSessionExpirationMs
	}
	return &SessionManager{
		renewal:    time.Duration(renewal) * time.Millisecond,
		expiration: time.Duration(expiration) * time.Millisecond,
		store:      store,
		diag:       diag,
		now:        now,
	}
}

// Restore loads the backed up session, if any. An unreadable backup is
// reported and ignored.
func (m *SessionManager) Restore(ctx context.Context) {
	raw, err := m.store.Get(ctx, SessionStorageKey)
	if err != nil {
		return
	}

	s, err := parseSession(raw)
	if err != nil {
		m.diag.ThrowInternal(core.SeverityWarningInternal, core.MsgErrorParsingAISessionCookie,
			"Error parsing ai_session value", map[string]string{"exception": err.Error(), "value": raw})
		return
	}
	if s.RenewalDate.IsZero() {
		m.diag.ThrowInternal(core.SeverityWarningInternal, core.MsgSessionRenewalDateIsZero,
			"AI session renewal date is 0, session will be reset.", nil)
		return
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
}

// Update renews the session if it has expired, then marks it as active now.
func (m *SessionManager) Update() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := m.session
	expired := s.ID == "" ||
		now.Sub(s.AcquisitionDate) > m.expiration ||
		now.Sub(s.RenewalDate) > m.renewal
	if expired {
		m.session = Session{
			ID:              telemetry.NewID()[:22],
			AcquisitionDate: now,
			RenewalDate:     now,
			IsFirst:         s.ID == "",
		}
		return
	}
	m.session.RenewalDate = now
}

// Automatic returns the current session, creating one if needed.
func (m *SessionManager) Automatic() Session {
	m.mu.Lock()
	empty := m.session.ID == ""
	m.mu.Unlock()
	if empty {
		m.Update()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Backup persists the current session so it can be reconciled after the
// in-memory state is lost.
func (m *SessionManager) Backup() error {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s.ID == "" {
		return nil
	}

	if err := m.store.Set(context.Background(), SessionStorageKey, formatSession(s), m.expiration); err != nil {
		m.diag.ThrowInternal(core.SeverityWarningInternal, core.MsgBrowserCannotWriteLocalStorage,
			"Browser failed write to local storage.", map[string]string{"exception": err.Error()})
		return err
	}
	return nil
}

func formatSession(s Session) string {
	return fmt.Sprintf("%s|%d|%d", s.ID, s.AcquisitionDate.UnixMilli(), s.RenewalDate.UnixMilli())
}

func parseSession(raw string) (Session, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < 3 || parts[0] == "" {
		return Session{}, fmt.Errorf("malformed session %q", raw)
	}
	acq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("acquisition date: %w", err)
	}
	ren, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("renewal date: %w", err)
	}
	s := Session{ID: parts[0], AcquisitionDate: time.UnixMilli(acq)}
	if ren > 0 {
		s.RenewalDate = time.UnixMilli(ren)
	}
	return s, nil
}
