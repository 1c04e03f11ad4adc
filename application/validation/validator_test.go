package validation

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectra/domain/entities"
	"spectra/domain/interfaces"
)

// stubDriver serves canned page state for validator tests.
type stubDriver struct {
	url     string
	title   string
	content string

	networkFn func(entities.NetworkEvent)
	consoleFn func(entities.ConsoleEvent)
}

func (s *stubDriver) Name() string                                  { return "stub" }
func (s *stubDriver) Navigate(ctx context.Context, u string) error  { s.url = u; return nil }
func (s *stubDriver) Click(ctx context.Context, sel string) error   { return nil }
func (s *stubDriver) Fill(ctx context.Context, sel, t string) error { return nil }
func (s *stubDriver) Hover(ctx context.Context, sel string) error   { return nil }
func (s *stubDriver) Press(ctx context.Context, sel, k string) error {
	return nil
}
func (s *stubDriver) Scroll(ctx context.Context, d string) error { return nil }
func (s *stubDriver) WaitForSelector(ctx context.Context, sel string, t time.Duration) error {
	return nil
}
func (s *stubDriver) CurrentURL(ctx context.Context) (string, error)  { return s.url, nil }
func (s *stubDriver) Title(ctx context.Context) (string, error)       { return s.title, nil }
func (s *stubDriver) Content(ctx context.Context) (string, error)     { return s.content, nil }
func (s *stubDriver) VisibleText(ctx context.Context) (string, error) { return s.content, nil }
func (s *stubDriver) Evaluate(ctx context.Context, script string) (interface{}, error) {
	return nil, nil
}
func (s *stubDriver) Screenshot(ctx context.Context) ([]byte, error)          { return nil, nil }
func (s *stubDriver) Cookies(ctx context.Context) ([]entities.Cookie, error)  { return nil, nil }
func (s *stubDriver) SetCookies(ctx context.Context, c []entities.Cookie) error {
	return nil
}
func (s *stubDriver) Back(ctx context.Context) error                { return nil }
func (s *stubDriver) Forward(ctx context.Context) error             { return nil }
func (s *stubDriver) Refresh(ctx context.Context) error             { return nil }
func (s *stubDriver) OpenTab(ctx context.Context, url string) error { return nil }
func (s *stubDriver) SwitchTab(index int) error                     { return nil }
func (s *stubDriver) CloseTab(ctx context.Context) error            { return nil }
func (s *stubDriver) Tabs() []entities.TabInfo                      { return nil }
func (s *stubDriver) OnNetwork(fn func(entities.NetworkEvent)) bool {
	s.networkFn = fn
	return true
}
func (s *stubDriver) OnConsole(fn func(entities.ConsoleEvent)) bool {
	s.consoleFn = fn
	return true
}
func (s *stubDriver) Close() error { return nil }

var _ interfaces.Driver = (*stubDriver)(nil)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	cfg.SampleInterval = 10 * time.Millisecond
	return cfg
}

func TestTokenJaccard(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, tokenJaccard("hello world", "hello world"))
	assert.Equal(t, 1.0, tokenJaccard("", ""))
	assert.Equal(t, 0.0, tokenJaccard("alpha beta", "gamma delta"))

	// three shared tokens out of four total
	sim := tokenJaccard("a b c", "a b c d")
	assert.InDelta(t, 0.75, sim, 0.001)
}

func TestNormalizeDOM(t *testing.T) {
	t.Parallel()

	got := normalizeDOM("<div><p>Hello</p>  <span>world</span></div>")
	assert.Equal(t, "Hello world", got)

	assert.NotEqual(t, domHash("<p>a</p>"), domHash("<p>b</p>"))
	assert.Equal(t, domHash("<p>a</p>"), domHash("<div>a</div>"))
}

func TestHashDistance(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, hashDistance(0xff, 0xff))
	assert.Equal(t, 8, hashDistance(0xff, 0x00))
	assert.Equal(t, 1, hashDistance(0b1010, 0b1011))
}

func TestDedupeChanges(t *testing.T) {
	t.Parallel()

	c := entities.ChangeDetection{
		Type:        entities.ChangeDOM,
		Description: "Console log: hello",
		After:       "hello",
	}
	out := dedupeChanges([]entities.ChangeDetection{c, c, c})
	assert.Len(t, out, 1)
}

func TestSufficientChanges(t *testing.T) {
	t.Parallel()

	urlChange := entities.ChangeDetection{Type: entities.ChangeURL, Confidence: 1.0}
	weak := entities.ChangeDetection{Type: entities.ChangeDOM, Confidence: 0.3}

	assert.True(t, sufficientChanges([]entities.ChangeDetection{urlChange}, nil))
	assert.False(t, sufficientChanges([]entities.ChangeDetection{weak}, nil))
	assert.True(t, sufficientChanges([]entities.ChangeDetection{weak, weak, weak}, nil))
	assert.True(t, sufficientChanges(
		[]entities.ChangeDetection{weak},
		[]entities.ChangeType{entities.ChangeDOM},
	))
}

func TestDetermineResult(t *testing.T) {
	t.Parallel()

	urlChange := entities.ChangeDetection{Type: entities.ChangeURL, Confidence: 1.0}
	weakVisual := entities.ChangeDetection{Type: entities.ChangeVisual, Confidence: 0.5}
	weakDOM := entities.ChangeDetection{Type: entities.ChangeDOM, Confidence: 0.4}
	netError := entities.ChangeDetection{
		Type:        entities.ChangeNetwork,
		Description: "Request error 500 for https://api.example",
		Confidence:  0.9,
	}

	tests := []struct {
		name     string
		changes  []entities.ChangeDetection
		expected []entities.ChangeType
		matched  bool
		want     entities.ValidationResult
	}{
		{"no changes is never success", nil, nil, false, entities.ValidationFailure},
		{"strong url change", []entities.ChangeDetection{urlChange}, nil, false, entities.ValidationSuccess},
		{"visual change counts at any confidence", []entities.ChangeDetection{weakVisual}, nil, false, entities.ValidationSuccess},
		{"network error wins", []entities.ChangeDetection{urlChange, netError}, nil, false, entities.ValidationFailure},
		{"single weak dom change is unknown", []entities.ChangeDetection{weakDOM}, nil, false, entities.ValidationUnknown},
		{"two weak changes are partial", []entities.ChangeDetection{weakDOM, weakDOM}, nil, false, entities.ValidationPartial},
		{
			"strong change but expectation unmatched",
			[]entities.ChangeDetection{urlChange},
			[]entities.ChangeType{entities.ChangeVisual},
			false,
			entities.ValidationPartial,
		},
		{
			"strong change with expectation matched",
			[]entities.ChangeDetection{urlChange},
			[]entities.ChangeType{entities.ChangeURL},
			true,
			entities.ValidationSuccess,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, determineResult(tc.changes, tc.expected, tc.matched))
		})
	}
}

func TestExpectedMatchedIsAnyOf(t *testing.T) {
	t.Parallel()

	changes := []entities.ChangeDetection{{Type: entities.ChangeURL, Confidence: 1.0}}

	// one alternative present is enough
	assert.True(t, expectedMatched(changes, []entities.ChangeType{entities.ChangeURL, entities.ChangeNetwork}))
	assert.False(t, expectedMatched(changes, []entities.ChangeType{entities.ChangeDOM}))
	assert.False(t, expectedMatched(changes, nil))
}

func TestReportSummaryCountsAllChangeKinds(t *testing.T) {
	t.Parallel()

	report := entities.ValidationReport{Changes: []entities.ChangeDetection{
		{Type: entities.ChangeURL},
		{Type: entities.ChangeForm},
		{Type: entities.ChangeElement},
		{Type: entities.ChangeElement},
	}}
	summary := report.Summary()
	assert.Contains(t, summary, "url_change x1")
	assert.Contains(t, summary, "element_change x2")
	assert.Contains(t, summary, "form_change x1")
}

func TestValidateURLChange(t *testing.T) {
	t.Parallel()

	driver := &stubDriver{url: "https://shop.example/cart", title: "Cart"}
	v := NewValidator(driver, fastConfig(), quietLogger())

	baseline, err := v.CaptureBaseline(context.Background())
	require.NoError(t, err)

	// the click moved the page to checkout
	driver.url = "https://shop.example/checkout"

	report, err := v.Validate(context.Background(), "action-1", baseline,
		[]entities.ChangeType{entities.ChangeURL})
	require.NoError(t, err)

	require.Equal(t, entities.ValidationSuccess, report.Result)
	require.Len(t, report.Changes, 1)
	change := report.Changes[0]
	assert.Equal(t, entities.ChangeURL, change.Type)
	assert.Equal(t, 1.0, change.Confidence)
	assert.Contains(t, change.Description, "URL changed from https://shop.example/cart to https://shop.example/checkout")
	assert.True(t, report.Matched)
}

func TestValidateIdenticalSnapshots(t *testing.T) {
	t.Parallel()

	driver := &stubDriver{url: "https://example.com", title: "Same", content: "<p>static</p>"}
	v := NewValidator(driver, fastConfig(), quietLogger())

	baseline, err := v.CaptureBaseline(context.Background())
	require.NoError(t, err)

	report, err := v.Validate(context.Background(), "action-1", baseline, nil)
	require.NoError(t, err)

	assert.Empty(t, report.Changes)
	assert.NotEqual(t, entities.ValidationSuccess, report.Result)
	assert.Equal(t, entities.ValidationTimeout, report.Result)
}

func TestValidateRequiresBaseline(t *testing.T) {
	t.Parallel()

	driver := &stubDriver{url: "https://example.com"}
	v := NewValidator(driver, fastConfig(), quietLogger())

	_, err := v.Validate(context.Background(), "action-1", nil, nil)
	assert.ErrorIs(t, err, ErrNoBaseline)
}

func TestValidateObservesNetworkFailures(t *testing.T) {
	t.Parallel()

	driver := &stubDriver{url: "https://example.com", title: "App"}
	v := NewValidator(driver, fastConfig(), quietLogger())
	require.True(t, v.Observing())

	baseline, err := v.CaptureBaseline(context.Background())
	require.NoError(t, err)

	driver.networkFn(entities.NetworkEvent{
		Kind:   "response",
		URL:    "https://api.example/submit",
		Status: 500,
	})

	report, err := v.Validate(context.Background(), "action-1", baseline, nil)
	require.NoError(t, err)
	assert.Equal(t, entities.ValidationFailure, report.Result)
	require.NotEmpty(t, report.Changes)
	assert.Equal(t, entities.ChangeNetwork, report.Changes[0].Type)
}

func TestDiffConsoleGradesLevels(t *testing.T) {
	t.Parallel()

	after := []entities.ConsoleEvent{
		{Level: "log", Text: "loaded"},
		{Level: "error", Text: "boom"},
	}
	changes := diffConsole(nil, after)
	require.Len(t, changes, 2)
	assert.Equal(t, 0.6, changes[0].Confidence)
	assert.Equal(t, 0.8, changes[1].Confidence)
	assert.Equal(t, entities.ChangeDOM, changes[0].Type)
}
