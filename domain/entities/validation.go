package entities

import (
	"strconv"
	"time"
)

// ChangeType classifies an observed page change.
type ChangeType string

const (
	ChangeURL     ChangeType = "url_change"
	ChangeDOM     ChangeType = "dom_change"
	ChangeVisual  ChangeType = "visual_change"
	ChangeElement ChangeType = "element_change"
	ChangeForm    ChangeType = "form_change"
	ChangeNetwork ChangeType = "network_activity"
)

// ValidationResult is the overall verdict on an action's effect.
type ValidationResult string

const (
	ValidationSuccess ValidationResult = "success"
	ValidationPartial ValidationResult = "partial"
	ValidationFailure ValidationResult = "failure"
	ValidationUnknown ValidationResult = "unknown"
	ValidationTimeout ValidationResult = "timeout"
)

// NetworkEvent is one request or response observed during validation.
type NetworkEvent struct {
	Kind      string    `json:"kind"` // request, response, request_failed
	URL       string    `json:"url"`
	Method    string    `json:"method,omitempty"`
	Status    int       `json:"status,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsoleEvent is one console message observed during validation.
type ConsoleEvent struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Region is a bounding box of changed pixels between two screenshots.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ValidationSnapshot captures page state for before/after comparison.
type ValidationSnapshot struct {
	URL            string         `json:"url"`
	Title          string         `json:"title"`
	DOMHash        string         `json:"dom_hash"`
	DOMText        string         `json:"-"`
	ScreenshotHash uint64         `json:"screenshot_hash"`
	Screenshot     []byte         `json:"-"`
	NetworkEvents  []NetworkEvent `json:"network_events,omitempty"`
	ConsoleEvents  []ConsoleEvent `json:"console_events,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ChangeDetection is one observed difference between two snapshots.
type ChangeDetection struct {
	Type        ChangeType `json:"type"`
	Description string     `json:"description"`
	Confidence  float64    `json:"confidence"`
	Before      string     `json:"before,omitempty"`
	After       string     `json:"after,omitempty"`
	Regions     []Region   `json:"regions,omitempty"`
}

// ValidationReport is the outcome of validating a single action.
type ValidationReport struct {
	ActionID  string            `json:"action_id"`
	Result    ValidationResult  `json:"result"`
	Changes   []ChangeDetection `json:"changes"`
	Matched   bool              `json:"matched"`
	Message   string            `json:"message,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
}

// Summary returns a short human-readable digest of the detected changes.
func (r *ValidationReport) Summary() string {
	if len(r.Changes) == 0 {
		return "no changes detected"
	}
	counts := map[ChangeType]int{}
	for _, c := range r.Changes {
		counts[c.Type]++
	}
	out := ""
	for _, t := range []ChangeType{ChangeURL, ChangeDOM, ChangeVisual, ChangeElement, ChangeForm, ChangeNetwork} {
		if n := counts[t]; n > 0 {
			if out != "" {
				out += ", "
			}
			out += string(t) + " x" + strconv.Itoa(n)
		}
	}
	return out
}
