package entities

import "time"

// SessionStatus is the lifecycle state of a browsing session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionSuspended  SessionStatus = "suspended"
	SessionTerminated SessionStatus = "terminated"
	SessionExpired    SessionStatus = "expired"
	SessionCorrupted  SessionStatus = "corrupted"
	SessionRestoring  SessionStatus = "restoring"
)

// AuthStatus tracks authentication state within a session.
type AuthStatus string

const (
	AuthAuthenticated   AuthStatus = "authenticated"
	AuthUnauthenticated AuthStatus = "unauthenticated"
	AuthExpired         AuthStatus = "expired"
	AuthRefreshing      AuthStatus = "refreshing"
	AuthFailed          AuthStatus = "failed"
)

// SessionType selects the browser profile a session runs with.
type SessionType string

const (
	SessionStandard  SessionType = "standard"
	SessionIncognito SessionType = "incognito"
	SessionHeadless  SessionType = "headless"
	SessionMobile    SessionType = "mobile"
	SessionTablet    SessionType = "tablet"
	SessionDesktop   SessionType = "desktop"
	SessionTesting   SessionType = "testing"
)

// PersistenceLevel controls where session state is written.
type PersistenceLevel string

const (
	PersistNone        PersistenceLevel = "none"
	PersistMemory      PersistenceLevel = "memory"
	PersistDisk        PersistenceLevel = "disk"
	PersistDatabase    PersistenceLevel = "database"
	PersistDistributed PersistenceLevel = "distributed"
)

// Cookie mirrors a browser cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
	SameSite string    `json:"same_site,omitempty"`
}

// StorageItem is one localStorage or sessionStorage entry.
type StorageItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TabInfo describes one open tab.
type TabInfo struct {
	Index  int    `json:"index"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// Viewport is the page viewport size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BrowserState is everything needed to restore a browsing context.
type BrowserState struct {
	URL            string                   `json:"url"`
	Title          string                   `json:"title"`
	Viewport       Viewport                 `json:"viewport"`
	UserAgent      string                   `json:"user_agent"`
	Cookies        []Cookie                 `json:"cookies,omitempty"`
	LocalStorage   map[string][]StorageItem `json:"local_storage,omitempty"`
	SessionStorage map[string][]StorageItem `json:"session_storage,omitempty"`
	Tabs           []TabInfo                `json:"tabs,omitempty"`
	History        []string                 `json:"history,omitempty"`
	Downloads      []string                 `json:"downloads,omitempty"`
	Permissions    []string                 `json:"permissions,omitempty"`
	Geolocation    string                   `json:"geolocation,omitempty"`
	Timezone       string                   `json:"timezone,omitempty"`
	Language       string                   `json:"language,omitempty"`
}

// Credentials holds authentication material for one domain. Password,
// Token and RefreshToken are ciphertext everywhere outside the moment
// of use; plaintext never reaches storage or logs.
type Credentials struct {
	ID           string    `json:"id"`
	Domain       string    `json:"domain"`
	Username     string    `json:"username"`
	Password     []byte    `json:"password,omitempty"`
	Token        []byte    `json:"token,omitempty"`
	RefreshToken []byte    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	TwoFactor    bool      `json:"two_factor"`
	BackupCodes  []string  `json:"backup_codes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used,omitempty"`
}

// PlainCredentials is the transient decrypted form handed to callers.
type PlainCredentials struct {
	Domain       string
	Username     string
	Password     string
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	TwoFactor    bool
}

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowStep is one unit of work inside a workflow.
type WorkflowStep struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Completed  bool   `json:"completed"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// Workflow is a resumable multi-step task attached to a session.
type Workflow struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Steps          []WorkflowStep `json:"steps"`
	CurrentStep    int            `json:"current_step"`
	Status         WorkflowStatus `json:"status"`
	Progress       float64        `json:"progress"`
	PausePoints    []int          `json:"pause_points,omitempty"`
	RollbackPoints []int          `json:"rollback_points,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Session is a persistent browsing session.
type Session struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Type             SessionType      `json:"type"`
	Status           SessionStatus    `json:"status"`
	AuthStatus       AuthStatus       `json:"auth_status"`
	UserID           string           `json:"user_id,omitempty"`
	BrowserState     BrowserState     `json:"browser_state"`
	Workflows        []Workflow       `json:"workflows,omitempty"`
	Credentials      []Credentials    `json:"credentials,omitempty"`
	PageViews        int              `json:"page_views"`
	ActionsPerformed int              `json:"actions_performed"`
	TotalDuration    time.Duration    `json:"total_duration"`
	Tags             []string         `json:"tags,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	Persistence      PersistenceLevel `json:"persistence"`
	Encrypted        bool             `json:"encrypted"`
	CreatedAt        time.Time        `json:"created_at"`
	LastAccessed     time.Time        `json:"last_accessed"`
	ExpiresAt        time.Time        `json:"expires_at"`
}

// IsExpired reports whether the session passed its expiry time.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
