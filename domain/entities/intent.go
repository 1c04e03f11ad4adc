package entities

import "time"

// IntentType classifies what the user is trying to accomplish.
type IntentType string

const (
	IntentNavigate     IntentType = "navigate"
	IntentSearch       IntentType = "search"
	IntentExtract      IntentType = "extract"
	IntentInteract     IntentType = "interact"
	IntentMonitor      IntentType = "monitor"
	IntentPurchase     IntentType = "purchase"
	IntentAuthenticate IntentType = "authenticate"
	IntentUpload       IntentType = "upload"
	IntentDownload     IntentType = "download"
	IntentFormFill     IntentType = "form_fill"
	IntentSocial       IntentType = "social"
	IntentBooking      IntentType = "booking"
	IntentComparison   IntentType = "comparison"
	IntentAutomation   IntentType = "automation"
	IntentUnknown      IntentType = "unknown"
)

// ActionType is the concrete browser operation an action performs.
type ActionType string

const (
	ActionClick         ActionType = "click"
	ActionTypeText      ActionType = "type"
	ActionScroll        ActionType = "scroll"
	ActionNavigateTo    ActionType = "navigate_to"
	ActionWait          ActionType = "wait"
	ActionExtractText   ActionType = "extract_text"
	ActionExtractLinks  ActionType = "extract_links"
	ActionExtractImages ActionType = "extract_images"
	ActionScreenshot    ActionType = "take_screenshot"
	ActionUploadFile    ActionType = "upload_file"
	ActionDownloadFile  ActionType = "download_file"
	ActionPressKey      ActionType = "press_key"
	ActionHover         ActionType = "hover"
	ActionDragDrop      ActionType = "drag_drop"
	ActionSwitchTab     ActionType = "switch_tab"
	ActionCloseTab      ActionType = "close_tab"
	ActionRefresh       ActionType = "refresh"
	ActionBack          ActionType = "back"
	ActionForward       ActionType = "forward"
	ActionConditional   ActionType = "conditional"
	ActionLoop          ActionType = "loop"
	ActionCustom        ActionType = "custom"
)

// Priority orders goals and actions during execution.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// IntentStatus tracks an intent through its lifecycle.
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusReady     IntentStatus = "ready"
	IntentStatusExecuting IntentStatus = "executing"
	IntentStatusRetrying  IntentStatus = "retrying"
	IntentStatusCompleted IntentStatus = "completed"
	IntentStatusFailed    IntentStatus = "failed"
	IntentStatusCancelled IntentStatus = "cancelled"
)

// ActionStatus tracks a single action through execution.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusRetrying  ActionStatus = "retrying"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
)

// EntityType labels a span of text recognized inside the raw intent.
type EntityType string

const (
	EntityURL      EntityType = "url"
	EntityEmail    EntityType = "email"
	EntityPhone    EntityType = "phone"
	EntityDate     EntityType = "date"
	EntityTime     EntityType = "time"
	EntityPrice    EntityType = "price"
	EntityQuantity EntityType = "quantity"
)

// Entity is a recognized span of the raw intent text.
type Entity struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
	Start int        `json:"start"`
	End   int        `json:"end"`
}

// Action is a single executable browser operation.
type Action struct {
	ID          string            `json:"id"`
	Type        ActionType        `json:"type"`
	Selector    string            `json:"selector,omitempty"`
	Value       string            `json:"value,omitempty"`
	URL         string            `json:"url,omitempty"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Timeout     time.Duration     `json:"timeout"`
	RetryCount  int               `json:"retry_count"`
	RetryDelay  time.Duration     `json:"retry_delay"`
	Priority    Priority          `json:"priority"`
	// Expected holds the change types validation should look for after
	// the action runs. Empty means any sufficient change is accepted.
	Expected []ChangeType `json:"expected,omitempty"`

	// Execution outcome, written by the engine as the action runs.
	Status        ActionStatus  `json:"status,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

// ActionSequence groups actions that together achieve one step of a goal.
type ActionSequence struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Actions         []Action      `json:"actions"`
	MaxParallel     int           `json:"max_parallel"`
	TotalTimeout    time.Duration `json:"total_timeout"`
	ContinueOnError bool          `json:"continue_on_error"`
}

// Goal is an outcome the intent wants; critical goals abort the intent
// on failure.
type Goal struct {
	ID           string           `json:"id"`
	Description  string           `json:"description"`
	Priority     Priority         `json:"priority"`
	Critical     bool             `json:"critical"`
	Requirements []string         `json:"requirements,omitempty"`
	Sequences    []ActionSequence `json:"sequences"`
}

// RequirementPaymentInfo marks a goal that needs stored payment details.
const RequirementPaymentInfo = "payment_info"

// Intent is a compiled representation of a natural-language instruction.
type Intent struct {
	ID                string            `json:"id"`
	RawText           string            `json:"raw_text"`
	Type              IntentType        `json:"type"`
	Confidence        float64           `json:"confidence"`
	Entities          []Entity          `json:"entities,omitempty"`
	Goals             []Goal            `json:"goals"`
	Parameters        map[string]string `json:"parameters,omitempty"`
	Status            IntentStatus      `json:"status"`
	EstimatedDuration time.Duration     `json:"estimated_duration"`
	CreatedAt         time.Time         `json:"created_at"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ActionCount returns the total number of actions across all goals.
func (in *Intent) ActionCount() int {
	n := 0
	for _, g := range in.Goals {
		for _, s := range g.Sequences {
			n += len(s.Actions)
		}
	}
	return n
}
