package entities

import "time"

// ElementType classifies a page element by its role.
type ElementType string

const (
	ElementButton  ElementType = "button"
	ElementLink    ElementType = "link"
	ElementInput   ElementType = "input"
	ElementForm    ElementType = "form"
	ElementText    ElementType = "text"
	ElementImage   ElementType = "image"
	ElementVideo   ElementType = "video"
	ElementAudio   ElementType = "audio"
	ElementUnknown ElementType = "unknown"
)

// Position is the center point of an element on the page.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PageElement is one interactive element discovered on a page.
type PageElement struct {
	Type       ElementType       `json:"type"`
	TagName    string            `json:"tag_name"`
	Selector   string            `json:"selector"`
	Text       string            `json:"text"`
	Label      string            `json:"label"`
	Attributes map[string]string `json:"attributes,omitempty"`
	IsVisible  bool              `json:"is_visible"`
	IsEnabled  bool              `json:"is_enabled"`
	Confidence float64           `json:"confidence"`
	Position   Position          `json:"position"`
}

// FormField describes one input inside a form.
type FormField struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	ID          string `json:"id,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Required    bool   `json:"required"`
	Value       string `json:"value,omitempty"`
}

// FormInfo describes a form found on a page.
type FormInfo struct {
	Selector string      `json:"selector"`
	Action   string      `json:"action"`
	Method   string      `json:"method"`
	Name     string      `json:"name,omitempty"`
	ID       string      `json:"id,omitempty"`
	Class    string      `json:"class,omitempty"`
	Fields   []FormField `json:"fields"`
}

// MediaKind distinguishes media references on a page.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// MediaRef points at a media resource on a page. URL is absolute.
type MediaRef struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
	Alt  string    `json:"alt,omitempty"`
}

// PageState is a structured snapshot of the current page. The hashes
// fingerprint the captured content so callers can compare snapshots
// without holding the raw bytes.
type PageState struct {
	URL            string        `json:"url"`
	Title          string        `json:"title"`
	Elements       []PageElement `json:"elements"`
	Forms          []FormInfo    `json:"forms"`
	Media          []MediaRef    `json:"media,omitempty"`
	DOMHash        string        `json:"dom_hash,omitempty"`
	ScreenshotHash string        `json:"screenshot_hash,omitempty"`
	CapturedAt     time.Time     `json:"captured_at"`
}

// NavigationRecord is one entry in the engine's navigation history.
type NavigationRecord struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionRecord is one entry in the engine's action history.
type ActionRecord struct {
	Action    Action        `json:"action"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}
