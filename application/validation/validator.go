package validation

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"spectra/domain/entities"
	"spectra/domain/interfaces"
)

// ErrNoBaseline is returned when Validate runs without a baseline.
var ErrNoBaseline = errors.New("no baseline captured")

// Config carries the change detection thresholds. Defaults mirror the
// values validation was tuned with; override per deployment.
type Config struct {
	SampleInterval  time.Duration
	Timeout         time.Duration
	VisualThreshold float64
	DOMThreshold    float64
	PhashDistance   int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		SampleInterval:  250 * time.Millisecond,
		Timeout:         15 * time.Second,
		VisualThreshold: 0.85,
		DOMThreshold:    0.95,
		PhashDistance:   5,
	}
}

// Validator observes the page around an action and grades whether the
// action had its intended effect.
type Validator struct {
	driver  interfaces.Driver
	logger  *logrus.Logger
	cfg     Config
	observe bool

	mu       sync.Mutex
	network  []entities.NetworkEvent
	console  []entities.ConsoleEvent
}

// NewValidator wires a validator to a driver. Network and console
// observation degrade gracefully when the driver cannot provide them.
func NewValidator(driver interfaces.Driver, cfg Config, logger *logrus.Logger) *Validator {
	v := &Validator{
		driver: driver,
		logger: logger,
		cfg:    cfg,
	}

	netOK := driver.OnNetwork(func(event entities.NetworkEvent) {
		v.mu.Lock()
		v.network = append(v.network, event)
		v.mu.Unlock()
	})
	conOK := driver.OnConsole(func(event entities.ConsoleEvent) {
		v.mu.Lock()
		v.console = append(v.console, event)
		v.mu.Unlock()
	})
	v.observe = netOK && conOK
	if !v.observe {
		logger.Warn("Driver cannot observe network or console, validation runs degraded")
	}
	return v
}

// Observing reports whether network and console capture is available.
func (v *Validator) Observing() bool {
	return v.observe
}

// CaptureBaseline snapshots the page before an action runs.
func (v *Validator) CaptureBaseline(ctx context.Context) (*entities.ValidationSnapshot, error) {
	return v.snapshot(ctx)
}

func (v *Validator) snapshot(ctx context.Context) (*entities.ValidationSnapshot, error) {
	url, err := v.driver.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read url: %w", err)
	}
	title, _ := v.driver.Title(ctx)
	content, _ := v.driver.Content(ctx)
	shot, err := v.driver.Screenshot(ctx)
	if err != nil {
		v.logger.WithError(err).Debug("Screenshot unavailable for snapshot")
		shot = nil
	}

	v.mu.Lock()
	network := make([]entities.NetworkEvent, len(v.network))
	copy(network, v.network)
	console := make([]entities.ConsoleEvent, len(v.console))
	copy(console, v.console)
	v.mu.Unlock()

	snap := &entities.ValidationSnapshot{
		URL:           url,
		Title:         title,
		DOMText:       content,
		DOMHash:       domHash(content),
		Screenshot:    shot,
		NetworkEvents: network,
		ConsoleEvents: console,
		Timestamp:     time.Now(),
	}
	if shot != nil {
		snap.ScreenshotHash = visualHash(shot)
	}
	return snap, nil
}

// Validate polls the page after an action until enough change is
// observed or the window closes, then grades the outcome.
func (v *Validator) Validate(ctx context.Context, actionID string, baseline *entities.ValidationSnapshot, expected []entities.ChangeType) (*entities.ValidationReport, error) {
	if baseline == nil {
		return nil, ErrNoBaseline
	}

	started := time.Now()
	deadline := started.Add(v.cfg.Timeout)

	var changes []entities.ChangeDetection
	timedOut := false

	for {
		current, err := v.snapshot(ctx)
		if err != nil {
			return nil, err
		}

		changes = dedupeChanges(v.diffSnapshots(baseline, current))
		if sufficientChanges(changes, expected) {
			break
		}

		if time.Now().After(deadline) {
			timedOut = true
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(v.cfg.SampleInterval):
		}
	}

	report := &entities.ValidationReport{
		ActionID:  actionID,
		Changes:   changes,
		Matched:   expectedMatched(changes, expected),
		Duration:  time.Since(started),
		Timestamp: time.Now(),
	}
	report.Result = determineResult(changes, expected, report.Matched)
	if timedOut && len(changes) == 0 {
		report.Result = entities.ValidationTimeout
		report.Message = "no changes observed within the validation window"
	} else {
		report.Message = report.Summary()
	}

	v.logger.WithFields(logrus.Fields{
		"action_id": actionID,
		"result":    report.Result,
		"changes":   len(changes),
	}).Debug("Action validated")
	return report, nil
}

// diffSnapshots compares two snapshots and lists observed changes.
func (v *Validator) diffSnapshots(before, after *entities.ValidationSnapshot) []entities.ChangeDetection {
	var changes []entities.ChangeDetection

	if before.URL != after.URL {
		changes = append(changes, entities.ChangeDetection{
			Type:        entities.ChangeURL,
			Description: fmt.Sprintf("URL changed from %s to %s", before.URL, after.URL),
			Confidence:  1.0,
			Before:      before.URL,
			After:       after.URL,
		})
	}

	if before.Title != after.Title {
		changes = append(changes, entities.ChangeDetection{
			Type:        entities.ChangeDOM,
			Description: "Page title changed",
			Confidence:  0.9,
			Before:      before.Title,
			After:       after.Title,
		})
	}

	if before.DOMHash != after.DOMHash {
		similarity := tokenJaccard(before.DOMText, after.DOMText)
		if similarity < v.cfg.DOMThreshold {
			changes = append(changes, entities.ChangeDetection{
				Type:        entities.ChangeDOM,
				Description: fmt.Sprintf("DOM content changed, similarity %.2f", similarity),
				Confidence:  1.0 - similarity,
			})
		}
	}

	if before.Screenshot != nil && after.Screenshot != nil &&
		before.ScreenshotHash != after.ScreenshotHash {
		distance := hashDistance(before.ScreenshotHash, after.ScreenshotHash)
		if distance > v.cfg.PhashDistance {
			confidence := float64(distance) / 20.0
			if confidence > 1.0 {
				confidence = 1.0
			}
			changes = append(changes, entities.ChangeDetection{
				Type:        entities.ChangeVisual,
				Description: fmt.Sprintf("Visual content changed, hash distance %d", distance),
				Confidence:  confidence,
				Regions:     changedRegion(before.Screenshot, after.Screenshot),
			})
		}
	}

	changes = append(changes, diffNetwork(before.NetworkEvents, after.NetworkEvents)...)
	changes = append(changes, diffConsole(before.ConsoleEvents, after.ConsoleEvents)...)
	return changes
}

// diffNetwork grades network events that arrived after the baseline.
func diffNetwork(before, after []entities.NetworkEvent) []entities.ChangeDetection {
	if len(after) <= len(before) {
		return nil
	}

	var changes []entities.ChangeDetection
	for _, event := range after[len(before):] {
		switch {
		case event.Kind == "request_failed":
			changes = append(changes, entities.ChangeDetection{
				Type:        entities.ChangeNetwork,
				Description: fmt.Sprintf("Request failed: %s (%s)", event.URL, event.Failure),
				Confidence:  0.8,
				After:       event.URL,
			})
		case event.Kind == "response" && event.Status >= 400:
			changes = append(changes, entities.ChangeDetection{
				Type:        entities.ChangeNetwork,
				Description: fmt.Sprintf("Request error %d for %s", event.Status, event.URL),
				Confidence:  0.9,
				After:       event.URL,
			})
		case event.Kind == "response" && event.Status >= 200 && event.Status < 300:
			changes = append(changes, entities.ChangeDetection{
				Type:        entities.ChangeNetwork,
				Description: "Successful request to " + event.URL,
				Confidence:  0.7,
				After:       event.URL,
			})
		}
	}
	return changes
}

// diffConsole records console messages that arrived after the
// baseline as DOM activity.
func diffConsole(before, after []entities.ConsoleEvent) []entities.ChangeDetection {
	if len(after) <= len(before) {
		return nil
	}

	var changes []entities.ChangeDetection
	for _, event := range after[len(before):] {
		confidence := 0.6
		if event.Level != "log" {
			confidence = 0.8
		}
		changes = append(changes, entities.ChangeDetection{
			Type:        entities.ChangeDOM,
			Description: fmt.Sprintf("Console %s: %s", event.Level, truncate(event.Text, 120)),
			Confidence:  confidence,
			After:       event.Text,
		})
	}
	return changes
}

// dedupeChanges drops changes identical in type, description and
// after-value.
func dedupeChanges(changes []entities.ChangeDetection) []entities.ChangeDetection {
	seen := map[string]bool{}
	out := changes[:0]
	for _, c := range changes {
		key := string(c.Type) + "|" + c.Description + "|" + c.After
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// sufficientChanges decides whether polling can stop early.
func sufficientChanges(changes []entities.ChangeDetection, expected []entities.ChangeType) bool {
	if len(expected) > 0 && expectedMatched(changes, expected) {
		return true
	}
	for _, c := range changes {
		if c.Type == entities.ChangeURL {
			return true
		}
		if c.Confidence > 0.8 {
			return true
		}
	}
	return len(changes) >= 3
}

// expectedMatched reports whether any expected change type appears.
// Expectations list alternatives, not a checklist.
func expectedMatched(changes []entities.ChangeDetection, expected []entities.ChangeType) bool {
	if len(expected) == 0 {
		return false
	}
	for _, c := range changes {
		for _, want := range expected {
			if c.Type == want {
				return true
			}
		}
	}
	return false
}

// determineResult grades the change set. Identical snapshots never
// yield success.
func determineResult(changes []entities.ChangeDetection, expected []entities.ChangeType, matched bool) entities.ValidationResult {
	if len(changes) == 0 {
		return entities.ValidationFailure
	}

	for _, c := range changes {
		if c.Type != entities.ChangeNetwork {
			continue
		}
		desc := strings.ToLower(c.Description)
		if strings.Contains(desc, "error") || strings.Contains(desc, "failed") {
			return entities.ValidationFailure
		}
	}

	// URL and visual changes count at any confidence; DOM changes only
	// when strong, console noise reaches here as low-confidence DOM.
	successIndicator := false
	for _, c := range changes {
		switch c.Type {
		case entities.ChangeURL, entities.ChangeVisual:
			successIndicator = true
		case entities.ChangeDOM:
			if c.Confidence > 0.8 {
				successIndicator = true
			}
		}
	}

	if successIndicator {
		if len(expected) > 0 && !matched {
			return entities.ValidationPartial
		}
		return entities.ValidationSuccess
	}
	if len(changes) >= 2 {
		return entities.ValidationPartial
	}
	return entities.ValidationUnknown
}

// WaitForStability blocks until the page stops changing visually.
func (v *Validator) WaitForStability(ctx context.Context, stableFor time.Duration) error {
	deadline := time.Now().Add(v.cfg.Timeout)
	interval := 200 * time.Millisecond

	var lastHash [16]byte
	stableSince := time.Time{}

	for {
		shot, err := v.driver.Screenshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to sample page: %w", err)
		}
		hash := md5.Sum(shot)

		now := time.Now()
		if hash == lastHash {
			if stableSince.IsZero() {
				stableSince = now
			} else if now.Sub(stableSince) >= stableFor {
				return nil
			}
		} else {
			lastHash = hash
			stableSince = time.Time{}
		}

		if now.After(deadline) {
			return fmt.Errorf("page did not stabilize within %s", v.cfg.Timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
