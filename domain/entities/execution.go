package entities

import "time"

// ComponentStatus is the health state of one subsystem.
type ComponentStatus string

const (
	ComponentHealthy      ComponentStatus = "healthy"
	ComponentDegraded     ComponentStatus = "degraded"
	ComponentFailed       ComponentStatus = "failed"
	ComponentDisabled     ComponentStatus = "disabled"
	ComponentInitializing ComponentStatus = "initializing"
)

// ComponentHealth is the tracked health record for one subsystem.
type ComponentHealth struct {
	Name       string          `json:"name"`
	Status     ComponentStatus `json:"status"`
	LastCheck  time.Time       `json:"last_check"`
	ErrorCount int             `json:"error_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// ExecutionPriority orders queued intent executions.
type ExecutionPriority int

const (
	ExecCritical ExecutionPriority = iota
	ExecHigh
	ExecMedium
	ExecLow
	ExecBackground
)

// ExecutionContext carries per-execution settings through the pipeline.
type ExecutionContext struct {
	SessionID       string            `json:"session_id"`
	IntentID        string            `json:"intent_id"`
	UserID          string            `json:"user_id,omitempty"`
	Priority        ExecutionPriority `json:"priority"`
	Timeout         time.Duration     `json:"timeout"`
	RetryCount      int               `json:"retry_count"`
	ValidateActions bool              `json:"validate_actions"`
	AnalyzeMedia    bool              `json:"analyze_media"`
	SaveScreenshots bool              `json:"save_screenshots"`
}

// ExecutionResult is the outcome of one intent execution.
type ExecutionResult struct {
	IntentID         string             `json:"intent_id"`
	SessionID        string             `json:"session_id"`
	Success          bool               `json:"success"`
	ExecutionTime    time.Duration      `json:"execution_time"`
	ActionsPerformed int                `json:"actions_performed"`
	Validations      []ValidationReport `json:"validations,omitempty"`
	MediaAnalyses    []MediaAnalysis    `json:"media_analyses,omitempty"`
	Screenshots      []string           `json:"screenshots,omitempty"`
	Error            string             `json:"error,omitempty"`
}

// MediaAnalysis is the output of the media perception boundary.
type MediaAnalysis struct {
	Description string    `json:"description"`
	Labels      []string  `json:"labels,omitempty"`
	Confidence  float64   `json:"confidence"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

// SystemStatus is a point-in-time view of the whole system.
type SystemStatus struct {
	Uptime           time.Duration              `json:"uptime"`
	Components       map[string]ComponentHealth `json:"components"`
	ActiveExecutions int                        `json:"active_executions"`
	QueueSize        int                        `json:"queue_size"`
	ActiveContexts   int                        `json:"active_contexts"`
	Metrics          ExecutionMetrics           `json:"metrics"`
}

// ExecutionMetrics aggregates intent execution counters.
type ExecutionMetrics struct {
	TotalIntents     int           `json:"total_intents"`
	SucceededIntents int           `json:"succeeded_intents"`
	FailedIntents    int           `json:"failed_intents"`
	AverageDuration  time.Duration `json:"average_duration"`
}

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Type         SessionType   `json:"type"`
	Status       SessionStatus `json:"status"`
	AuthStatus   AuthStatus    `json:"auth_status"`
	URL          string        `json:"url,omitempty"`
	PageViews    int           `json:"page_views"`
	Actions      int           `json:"actions"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
}
