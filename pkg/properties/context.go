package properties

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/memory"
	"github.com/itsneelabh/insights/pkg/telemetry"
)

// InternalContext holds the SDK's own diagnostic tags.
type InternalContext struct {
	SDKVersion string
	SDKSrc     string
	SnippetVer string
}

// ApplicationContext describes the instrumented application.
type ApplicationContext struct {
	Ver       string
	CloudRole string
}

// TelemetryContext is the context every item is stamped with.
type TelemetryContext struct {
	mu          sync.RWMutex
	internal    InternalContext
	application ApplicationContext

	User           *UserContext
	SessionManager *SessionManager
}

func newTelemetryContext() *TelemetryContext {
	return &TelemetryContext{
		internal: InternalContext{SDKVersion: core.SDKVersionTag},
		User:     &UserContext{},
	}
}

// Internal returns a snapshot of the internal diagnostics.
func (c *TelemetryContext) Internal() InternalContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.internal
}

// SetSDKSrc records where the SDK was loaded from.
func (c *TelemetryContext) SetSDKSrc(src string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.internal.SDKSrc = src
}

// SetSnippetVer records the version of the embedding snippet.
func (c *TelemetryContext) SetSnippetVer(ver string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.internal.SnippetVer = ver
}

// SetApplication sets the application version and cloud role.
func (c *TelemetryContext) SetApplication(app ApplicationContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.application = app
}

// ApplyTo stamps env with every known context tag. Tags already present on
// env are kept.
func (c *TelemetryContext) ApplyTo(env *core.Envelope) {
	c.mu.RLock()
	tags := map[string]string{
		core.TagSDKVersion:     c.internal.SDKVersion,
		core.TagSDKSrc:         c.internal.SDKSrc,
		core.TagSnippetVersion: c.internal.SnippetVer,
		core.TagApplicationVer: c.application.Ver,
		core.TagCloudRole:      c.application.CloudRole,
	}
	c.mu.RUnlock()

	user := c.User.snapshot()
	tags[core.TagUserID] = user.ID
	tags[core.TagUserAuthID] = user.AuthenticatedID
	tags[core.TagUserAccountID] = user.AccountID

	if c.SessionManager != nil {
		s := c.SessionManager.Automatic()
		tags[core.TagSessionID] = s.ID
		if s.IsFirst {
			tags[core.TagSessionIsFirst] = "true"
		}
	}

	for k, v := range tags {
		if v == "" {
			continue
		}
		if _, exists := env.Tags[k]; !exists {
			env.Tags[k] = v
		}
	}
}

const (
	userStorageKey     = "ai_user"
	authUserStorageKey = "ai_authUser"
	userIDLength       = 22
	// characters that would break the cookie format
	invalidUserIDChars = ",;=| "
)

// UserContext identifies the user. ID is anonymous and persisted; the
// authenticated and account ids are set by the application.
type UserContext struct {
	mu              sync.RWMutex
	ID              string
	AuthenticatedID string
	AccountID       string

	store memory.Store
	diag  *core.DiagnosticLogger
}

type userSnapshot struct {
	ID              string
	AuthenticatedID string
	AccountID       string
}

func (u *UserContext) snapshot() userSnapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return userSnapshot{ID: u.ID, AuthenticatedID: u.AuthenticatedID, AccountID: u.AccountID}
}

func (u *UserContext) init(ctx context.Context, store memory.Store, diag *core.DiagnosticLogger, now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.store = store
	u.diag = diag

	if raw, err := store.Get(ctx, userStorageKey); err == nil {
		if id := strings.SplitN(raw, "|", 2)[0]; id != "" {
			u.ID = id
		}
	}
	if u.ID == "" {
		u.ID = telemetry.NewID()[:userIDLength]
		value := u.ID + "|" + now.UTC().Format(time.RFC3339)
		if err := store.Set(ctx, userStorageKey, value, 365*24*time.Hour); err != nil {
			diag.ThrowInternal(core.SeverityWarningInternal, core.MsgBrowserCannotWriteLocalStorage,
				"Failed to persist user id", map[string]string{"exception": err.Error()})
		}
	}

	if raw, err := store.Get(ctx, authUserStorageKey); err == nil {
		parts := strings.SplitN(raw, "|", 2)
		u.AuthenticatedID = parts[0]
		if len(parts) == 2 {
			u.AccountID = parts[1]
		}
	}
}

// SetAuthenticatedUserContext sets the authenticated user and, optionally,
// account id. Ids containing any of ",;=| " are rejected with a warning
// diagnostic. With storeInCookie the ids are persisted and restored on the
// next load.
func (u *UserContext) SetAuthenticatedUserContext(authenticatedUserID, accountID string, storeInCookie bool) {
	if !validUserID(authenticatedUserID) || (accountID != "" && !validUserID(accountID)) {
		u.mu.RLock()
		diag := u.diag
		u.mu.RUnlock()
		if diag != nil {
			diag.ThrowInternal(core.SeverityWarningInternal, core.MsgSetAuthContextFailed,
				"Setting auth user context failed. User auth/account id should be of type string, and not contain commas, semi-colons, equal signs, spaces, or vertical-bars.",
				nil)
		}
		return
	}

	u.mu.Lock()
	u.AuthenticatedID = authenticatedUserID
	u.AccountID = accountID
	store, diag := u.store, u.diag
	u.mu.Unlock()

	if storeInCookie && store != nil {
		value := authenticatedUserID
		if accountID != "" {
			value += "|" + accountID
		}
		if err := store.Set(context.Background(), authUserStorageKey, value, 0); err != nil && diag != nil {
			diag.ThrowInternal(core.SeverityWarningInternal, core.MsgBrowserCannotWriteLocalStorage,
				"Failed to persist authenticated user", map[string]string{"exception": err.Error()})
		}
	}
}

// ClearAuthenticatedUserContext removes the authenticated user and account ids.
func (u *UserContext) ClearAuthenticatedUserContext() {
	u.mu.Lock()
	u.AuthenticatedID = ""
	u.AccountID = ""
	store := u.store
	u.mu.Unlock()

	if store != nil {
		_ = store.Delete(context.Background(), authUserStorageKey)
	}
}

func validUserID(id string) bool {
	return id != "" && !strings.ContainsAny(id, invalidUserIDChars)
}
