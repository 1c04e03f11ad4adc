package navigation

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

// ErrActionFailed wraps a driver failure after retries are exhausted.
var ErrActionFailed = errors.New("action failed")

const (
	defaultTimeout = 30 * time.Second
	historyLimit   = 500
)

// Engine performs browser actions against a Driver and keeps
// navigation and action histories.
type Engine struct {
	driver interfaces.Driver
	logger *logrus.Logger

	mu         sync.Mutex
	navHistory []entities.NavigationRecord
	actHistory []entities.ActionRecord
}

func NewEngine(driver interfaces.Driver, logger *logrus.Logger) *Engine {
	return &Engine{
		driver: driver,
		logger: logger,
	}
}

// Driver exposes the underlying driver for collaborators that need
// direct observation hooks.
func (e *Engine) Driver() interfaces.Driver {
	return e.driver
}

// NavigateTo loads a URL, records the visit and returns the captured
// state of the landed page.
func (e *Engine) NavigateTo(ctx context.Context, rawURL string) (*entities.PageState, error) {
	if err := e.driver.Navigate(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}

	state, err := e.CaptureState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture page after navigation: %w", err)
	}

	e.mu.Lock()
	e.navHistory = append(e.navHistory, entities.NavigationRecord{
		URL:       rawURL,
		Title:     state.Title,
		Timestamp: time.Now(),
	})
	if len(e.navHistory) > historyLimit {
		e.navHistory = e.navHistory[len(e.navHistory)-historyLimit:]
	}
	e.mu.Unlock()
	return state, nil
}

// Execute runs one action with its retry policy. The returned string
// carries extracted data for extraction actions.
func (e *Engine) Execute(ctx context.Context, action *entities.Action) (string, error) {
	started := time.Now()
	action.Status = entities.ActionStatusRunning
	action.Error = ""

	var result string
	var err error
	for attempt := 0; attempt <= action.RetryCount; attempt++ {
		if attempt > 0 {
			delay := action.RetryDelay
			if delay == 0 {
				delay = time.Second
			}
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			if ctx.Err() != nil {
				err = ctx.Err()
				break
			}
			action.Status = entities.ActionStatusRetrying
			e.logger.WithFields(logrus.Fields{
				"action_id": action.ID,
				"attempt":   attempt,
			}).Debug("Retrying action")
		}

		result, err = e.dispatch(ctx, action)
		if err == nil || ctx.Err() != nil {
			break
		}
	}

	action.ExecutionTime = time.Since(started)
	if err != nil {
		action.Status = entities.ActionStatusFailed
		action.Error = err.Error()
	} else {
		action.Status = entities.ActionStatusCompleted
	}

	record := entities.ActionRecord{
		Action:    *action,
		Success:   err == nil,
		Duration:  time.Since(started),
		Timestamp: started,
	}
	// credential-bearing values must not survive in the history
	if action.Parameters["credential"] != "" {
		record.Action.Value = "[redacted]"
	}
	if err != nil {
		record.Error = err.Error()
	}

	e.mu.Lock()
	e.actHistory = append(e.actHistory, record)
	if len(e.actHistory) > historyLimit {
		e.actHistory = e.actHistory[len(e.actHistory)-historyLimit:]
	}
	e.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrActionFailed, action.Type, err)
	}
	return result, nil
}

func (e *Engine) dispatch(ctx context.Context, action *entities.Action) (string, error) {
	switch action.Type {
	case entities.ActionNavigateTo:
		_, err := e.NavigateTo(ctx, action.URL)
		return "", err

	case entities.ActionClick:
		return "", e.driver.Click(ctx, action.Selector)

	case entities.ActionTypeText:
		return "", e.driver.Fill(ctx, action.Selector, action.Value)

	case entities.ActionHover:
		return "", e.driver.Hover(ctx, action.Selector)

	case entities.ActionPressKey:
		return "", e.driver.Press(ctx, action.Selector, action.Value)

	case entities.ActionScroll:
		return "", e.driver.Scroll(ctx, action.Value)

	case entities.ActionWait:
		return "", e.waitFor(ctx, action)

	case entities.ActionExtractText:
		return e.extractText(ctx, action.Selector)

	case entities.ActionExtractLinks:
		return e.extractAttribute(ctx, "a[href]", "href")

	case entities.ActionExtractImages:
		return e.extractAttribute(ctx, "img[src]", "src")

	case entities.ActionScreenshot:
		_, err := e.driver.Screenshot(ctx)
		return "", err

	case entities.ActionUploadFile, entities.ActionDownloadFile:
		return "", e.driver.Click(ctx, action.Selector)

	case entities.ActionRefresh:
		return "", e.driver.Refresh(ctx)

	case entities.ActionBack:
		return "", e.driver.Back(ctx)

	case entities.ActionForward:
		return "", e.driver.Forward(ctx)

	case entities.ActionSwitchTab:
		return "", e.driver.SwitchTab(parseIndex(action.Value))

	case entities.ActionCloseTab:
		return "", e.driver.CloseTab(ctx)

	case entities.ActionCustom:
		return "", e.runCustom(ctx, action)
	}
	return "", fmt.Errorf("unsupported action type: %s", action.Type)
}

func (e *Engine) waitFor(ctx context.Context, action *entities.Action) error {
	if action.Selector != "" {
		timeout := action.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		return e.driver.WaitForSelector(ctx, action.Selector, timeout)
	}

	delay, err := time.ParseDuration(action.Value)
	if err != nil {
		delay = time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (e *Engine) extractText(ctx context.Context, selector string) (string, error) {
	if selector == "" || selector == "body" {
		return e.driver.VisibleText(ctx)
	}

	script := fmt.Sprintf(`
	() => {
		const el = document.querySelector(%q);
		return el ? el.textContent.trim() : '';
	}
	`, selector)
	result, err := e.driver.Evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	if text, ok := result.(string); ok {
		return text, nil
	}
	return "", nil
}

func (e *Engine) extractAttribute(ctx context.Context, selector, attribute string) (string, error) {
	script := fmt.Sprintf(`
	() => {
		const values = [];
		document.querySelectorAll(%q).forEach(el => {
			const v = el.getAttribute(%q);
			if (v && values.length < 200) values.push(v);
		});
		return values.join('\n');
	}
	`, selector, attribute)
	result, err := e.driver.Evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	if text, ok := result.(string); ok {
		return text, nil
	}
	return "", nil
}

func (e *Engine) runCustom(ctx context.Context, action *entities.Action) error {
	switch action.Parameters["operation"] {
	case "form_fill":
		data := map[string]string{}
		for k, v := range action.Parameters {
			if k != "operation" {
				data[k] = v
			}
		}
		return e.FillForm(ctx, data)
	}
	return fmt.Errorf("unknown custom operation: %s", action.Parameters["operation"])
}

// TakeScreenshot captures the current page as PNG bytes.
func (e *Engine) TakeScreenshot(ctx context.Context) ([]byte, error) {
	return e.driver.Screenshot(ctx)
}

// FindElementsByText returns interactive elements whose text or label
// contains the query, case insensitive.
func (e *Engine) FindElementsByText(ctx context.Context, query string) ([]entities.PageElement, error) {
	state, err := e.CaptureState(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matched []entities.PageElement
	for _, el := range state.Elements {
		if strings.Contains(strings.ToLower(el.Text), needle) ||
			strings.Contains(strings.ToLower(el.Label), needle) {
			matched = append(matched, el)
		}
	}
	return matched, nil
}

// FindFormByPurpose picks the form whose fields best match the given
// keys. Returns nil when no form scores at all.
func (e *Engine) FindFormByPurpose(ctx context.Context, keys []string) (*entities.FormInfo, error) {
	state, err := e.CaptureState(ctx)
	if err != nil {
		return nil, err
	}
	form := bestForm(state.Forms, keys)
	if form == nil {
		return nil, fmt.Errorf("no form matches keys %v", keys)
	}
	return form, nil
}

// bestForm scores forms by how many keys appear in field names or
// types.
func bestForm(forms []entities.FormInfo, keys []string) *entities.FormInfo {
	bestScore := 0
	var best *entities.FormInfo
	for i := range forms {
		score := 0
		for _, field := range forms[i].Fields {
			for _, key := range keys {
				k := strings.ToLower(key)
				if strings.Contains(strings.ToLower(field.Name), k) ||
					strings.Contains(strings.ToLower(field.Type), k) ||
					strings.Contains(strings.ToLower(field.ID), k) {
					score++
				}
			}
		}
		if score > bestScore {
			bestScore = score
			best = &forms[i]
		}
	}
	return best
}

// FillForm fills the best matching form with the given data. A key
// matches a field when it is a substring of the field name, type or
// id.
func (e *Engine) FillForm(ctx context.Context, data map[string]string) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}

	state, err := e.CaptureState(ctx)
	if err != nil {
		return err
	}
	form := bestForm(state.Forms, keys)
	if form == nil {
		return fmt.Errorf("no form found for fields %v", keys)
	}

	filled := 0
	for _, field := range form.Fields {
		for key, value := range data {
			k := strings.ToLower(key)
			if !strings.Contains(strings.ToLower(field.Name), k) &&
				!strings.Contains(strings.ToLower(field.Type), k) &&
				!strings.Contains(strings.ToLower(field.ID), k) {
				continue
			}

			selector := ""
			if field.Name != "" {
				selector = fmt.Sprintf(`[name=%q]`, field.Name)
			} else if field.ID != "" {
				selector = "#" + field.ID
			}
			if selector == "" {
				continue
			}

			if err := e.driver.Fill(ctx, selector, value); err != nil {
				e.logger.WithError(err).WithField("selector", selector).Warn("Failed to fill field")
				continue
			}
			filled++
			break
		}
	}

	if filled == 0 {
		return fmt.Errorf("no fields could be filled")
	}
	e.logger.WithField("fields", filled).Info("Form filled")
	return nil
}

// WaitForStability blocks until consecutive screenshots stop changing
// for stableFor, polling at interval, bounded by timeout.
func (e *Engine) WaitForStability(ctx context.Context, stableFor, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastHash [16]byte
	stableSince := time.Time{}

	for {
		shot, err := e.driver.Screenshot(ctx)
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
			return fmt.Errorf("page did not stabilize within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// NavigationHistory returns a copy of the navigation history.
func (e *Engine) NavigationHistory() []entities.NavigationRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]entities.NavigationRecord, len(e.navHistory))
	copy(out, e.navHistory)
	return out
}

// ActionHistory returns a copy of the action history.
func (e *Engine) ActionHistory() []entities.ActionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]entities.ActionRecord, len(e.actHistory))
	copy(out, e.actHistory)
	return out
}

func parseIndex(value string) int {
	index := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0
		}
		index = index*10 + int(r-'0')
	}
	return index
}
