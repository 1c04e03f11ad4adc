package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectra/config"
	"spectra/domain/entities"
	"spectra/domain/interfaces"
)

// fakeDriver is an in-memory Driver for orchestrator tests.
type fakeDriver struct {
	mu         sync.Mutex
	url        string
	title      string
	navigated  []string
	filled     map[string]string
	clicked    []string
	screenshot []byte
	navDelay   time.Duration
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		title:      "Test Page",
		filled:     map[string]string{},
		screenshot: []byte("png-bytes"),
	}
}

func (f *fakeDriver) Name() string { return "fake" }

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	if f.navDelay > 0 {
		time.Sleep(f.navDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	f.url = url
	return nil
}

func (f *fakeDriver) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicked = append(f.clicked, selector)
	return nil
}

func (f *fakeDriver) Fill(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filled[selector] = text
	return nil
}

func (f *fakeDriver) Hover(ctx context.Context, selector string) error      { return nil }
func (f *fakeDriver) Press(ctx context.Context, selector, key string) error { return nil }
func (f *fakeDriver) Scroll(ctx context.Context, direction string) error    { return nil }
func (f *fakeDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeDriver) Title(ctx context.Context) (string, error)   { return f.title, nil }
func (f *fakeDriver) Content(ctx context.Context) (string, error) { return "", nil }
func (f *fakeDriver) VisibleText(ctx context.Context) (string, error) {
	return "visible text", nil
}
func (f *fakeDriver) Evaluate(ctx context.Context, script string) (interface{}, error) {
	return []interface{}{}, nil
}
func (f *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) { return f.screenshot, nil }
func (f *fakeDriver) Cookies(ctx context.Context) ([]entities.Cookie, error) {
	return nil, nil
}
func (f *fakeDriver) SetCookies(ctx context.Context, cookies []entities.Cookie) error { return nil }
func (f *fakeDriver) Back(ctx context.Context) error                                  { return nil }
func (f *fakeDriver) Forward(ctx context.Context) error                               { return nil }
func (f *fakeDriver) Refresh(ctx context.Context) error                               { return nil }
func (f *fakeDriver) OpenTab(ctx context.Context, url string) error                   { return nil }
func (f *fakeDriver) SwitchTab(index int) error                                       { return nil }
func (f *fakeDriver) CloseTab(ctx context.Context) error                              { return nil }
func (f *fakeDriver) Tabs() []entities.TabInfo                                        { return nil }
func (f *fakeDriver) OnNetwork(fn func(entities.NetworkEvent)) bool                   { return false }
func (f *fakeDriver) OnConsole(fn func(entities.ConsoleEvent)) bool                   { return false }
func (f *fakeDriver) Close() error                                                    { return nil }

var _ interfaces.Driver = (*fakeDriver)(nil)

// memStore is a minimal in-memory SessionStore.
type memStore struct {
	mu    sync.Mutex
	meta  map[string]entities.Session
	blobs map[string][]byte
	creds map[string]map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{
		meta:  map[string]entities.Session{},
		blobs: map[string][]byte{},
		creds: map[string]map[string][]byte{},
	}
}

func (s *memStore) SaveSession(session *entities.Session, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := *session
	meta.Workflows = nil
	meta.Credentials = nil
	s.meta[session.ID] = meta
	s.blobs[session.ID] = append([]byte(nil), blob...)
	return nil
}

func (s *memStore) LoadSession(id string) (*entities.Session, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.meta[id]
	if !ok {
		return nil, nil, interfaces.ErrSessionNotFound
	}
	return &meta, s.blobs[id], nil
}

func (s *memStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta, id)
	delete(s.blobs, id)
	delete(s.creds, id)
	return nil
}

func (s *memStore) ListSessions(filter interfaces.SessionFilter) ([]entities.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.SessionSummary
	for _, meta := range s.meta {
		if filter.Status != "" && meta.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && meta.UserID != filter.UserID {
			continue
		}
		out = append(out, entities.SessionSummary{ID: meta.ID, Name: meta.Name, Status: meta.Status})
	}
	return out, nil
}

func (s *memStore) SaveWorkflow(workflow *entities.Workflow, blob []byte) error { return nil }
func (s *memStore) LoadWorkflows(sessionID string) ([][]byte, error)            { return nil, nil }

func (s *memStore) SaveCredentials(sessionID string, creds *entities.Credentials, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds[sessionID] == nil {
		s.creds[sessionID] = map[string][]byte{}
	}
	s.creds[sessionID][creds.Domain] = append([]byte(nil), blob...)
	return nil
}

func (s *memStore) LoadCredentials(sessionID string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, blob := range s.creds[sessionID] {
		out = append(out, blob)
	}
	return out, nil
}

func (s *memStore) AppendState(sessionID string, blob []byte) error      { return nil }
func (s *memStore) PurgeExpired(cutoff time.Time) ([]string, error)      { return nil, nil }
func (s *memStore) Close() error                                         { return nil }

var _ interfaces.SessionStore = (*memStore)(nil)

type nopMirror struct{}

func (nopMirror) Put(key string, value []byte, ttl time.Duration) error { return nil }
func (nopMirror) Get(key string) ([]byte, error)                        { return nil, errors.New("miss") }
func (nopMirror) Delete(key string) error                               { return nil }
func (nopMirror) Close() error                                          { return nil }

var _ interfaces.SessionMirror = nopMirror{}

// xorCipher is a reversible stand-in for the AES cipher.
type xorCipher struct{}

func (xorCipher) Encrypt(plain []byte) ([]byte, error) {
	out := make([]byte, len(plain))
	for i, b := range plain {
		out[i] = b ^ 0x5A
	}
	return out, nil
}

func (xorCipher) Decrypt(sealed []byte) ([]byte, error) {
	out := make([]byte, len(sealed))
	for i, b := range sealed {
		out[i] = b ^ 0x5A
	}
	return out, nil
}

var _ interfaces.Cipher = xorCipher{}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, image []byte) (entities.MediaAnalysis, error) {
	return entities.MediaAnalysis{Description: "a page", Confidence: 0.5, AnalyzedAt: time.Now()}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StorageDir = t.TempDir()
	cfg.ScreenshotsDir = filepath.Join(cfg.StorageDir, "screenshots")
	cfg.EncryptSessions = false
	cfg.EnableValidation = false
	cfg.SaveScreenshots = false
	cfg.DefaultTimeout = 5 * time.Second
	return cfg
}

func startOrchestrator(t *testing.T, cfg config.Config, opts ...Option) *Orchestrator {
	t.Helper()
	o := New(cfg, quietLogger(), opts...)
	require.NoError(t, o.Initialize(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func TestExecuteNavigateIntent(t *testing.T) {
	driver := newFakeDriver()
	o := startOrchestrator(t, testConfig(t),
		WithDriver(driver), WithStore(newMemStore()), WithMirror(nopMirror{}))

	result, err := o.ExecuteIntent(context.Background(), "go to https://example.com", "")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ActionsPerformed)
	assert.Empty(t, result.Error)
	assert.Equal(t, []string{"https://example.com"}, driver.navigated)

	sessions, err := o.GetSessionList("")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Intent: go to https://example.com", sessions[0].Name)
	assert.Equal(t, result.SessionID, sessions[0].ID)
}

func TestExecuteCarriesUserAndPriority(t *testing.T) {
	driver := newFakeDriver()
	o := startOrchestrator(t, testConfig(t),
		WithDriver(driver), WithStore(newMemStore()), WithMirror(nopMirror{}))

	result, err := o.Execute(context.Background(), ExecuteRequest{
		Text:     "go to https://example.com",
		UserID:   "user-7",
		Priority: entities.ExecHigh,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	require.True(t, result.Success, "error: %s", result.Error)

	mine, err := o.GetSessionList("user-7")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, result.SessionID, mine[0].ID)

	others, err := o.GetSessionList("someone-else")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestExecuteUpdatesActionOutcome(t *testing.T) {
	o := startOrchestrator(t, testConfig(t),
		WithDriver(newFakeDriver()), WithStore(newMemStore()), WithMirror(nopMirror{}))

	result, err := o.ExecuteIntent(context.Background(), "go to https://example.com", "")
	require.NoError(t, err)
	require.True(t, result.Success)

	in, ok := o.Compiler().Get(result.IntentID)
	require.True(t, ok)
	require.Len(t, in.Goals, 1)
	require.Len(t, in.Goals[0].Sequences, 1)
	require.Len(t, in.Goals[0].Sequences[0].Actions, 1)

	action := in.Goals[0].Sequences[0].Actions[0]
	assert.Equal(t, entities.ActionStatusCompleted, action.Status)
	assert.Empty(t, action.Error)
	assert.Greater(t, action.ExecutionTime, time.Duration(0))
}

func TestExecuteGibberishIntentFails(t *testing.T) {
	o := startOrchestrator(t, testConfig(t),
		WithDriver(newFakeDriver()), WithStore(newMemStore()), WithMirror(nopMirror{}))

	result, err := o.ExecuteIntent(context.Background(), "qwxz blorp", "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestExecuteAuthenticateResolvesCredentials(t *testing.T) {
	driver := newFakeDriver()
	driver.url = "https://login.example/signin"
	o := startOrchestrator(t, testConfig(t),
		WithDriver(driver), WithStore(newMemStore()), WithMirror(nopMirror{}), WithCipher(xorCipher{}))

	created, err := o.Sessions().Create("login run", entities.SessionStandard, "")
	require.NoError(t, err)
	require.NoError(t, o.Sessions().StoreCredentials(created.ID, entities.PlainCredentials{
		Domain:   "login.example",
		Username: "alice",
		Password: "hunter2",
	}))

	result, err := o.ExecuteIntent(context.Background(), "log in to my account", created.ID)
	require.NoError(t, err)
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 5, result.ActionsPerformed)

	emailSelector := `input[type="email"], input[name*="email"], input[name*="username"]`
	passwordSelector := `input[type="password"], input[name*="password"]`
	assert.Equal(t, "alice", driver.filled[emailSelector])
	assert.Equal(t, "hunter2", driver.filled[passwordSelector])
}

func TestQueueProcessesInOrder(t *testing.T) {
	driver := newFakeDriver()
	o := startOrchestrator(t, testConfig(t),
		WithDriver(driver), WithStore(newMemStore()), WithMirror(nopMirror{}))

	created, err := o.Sessions().Create("ordered", entities.SessionStandard, "")
	require.NoError(t, err)

	urls := []string{"https://a.example", "https://b.example", "https://c.example"}
	tasks := make([]*task, 0, len(urls))
	for _, url := range urls {
		in := o.compiler.Compile(context.Background(), "go to "+url)
		require.Equal(t, entities.IntentNavigate, in.Type)
		tasks = append(tasks, &task{
			in: in,
			execCtx: entities.ExecutionContext{
				SessionID: created.ID,
				IntentID:  in.ID,
				Timeout:   5 * time.Second,
			},
			done: make(chan *entities.ExecutionResult, 1),
		})
	}

	for _, tk := range tasks {
		o.queue <- tk
	}
	for _, tk := range tasks {
		select {
		case result := <-tk.done:
			assert.True(t, result.Success)
		case <-time.After(5 * time.Second):
			t.Fatal("task did not complete")
		}
	}

	assert.Equal(t, urls, driver.navigated)
}

func TestExecuteTimeoutAndQueueFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.DefaultTimeout = 10 * time.Millisecond
	cfg.QueueSize = 1

	// assembled by hand without a consumer so queued work never drains
	o := New(cfg, quietLogger(),
		WithDriver(newFakeDriver()), WithStore(newMemStore()), WithMirror(nopMirror{}))
	require.NoError(t, o.initStorage())
	require.NoError(t, o.initSessions())
	require.NoError(t, o.initCompiler())
	require.NoError(t, o.initEngine())
	o.runCtx, o.cancel = context.WithCancel(context.Background())
	defer o.cancel()
	o.queue = make(chan *task, 1)
	o.running.Store(true)

	result, err := o.ExecuteIntent(context.Background(), "go to https://slow.example", "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Execution timeout", result.Error)

	_, err = o.ExecuteIntent(context.Background(), "go to https://again.example", "")
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestScreenshotsAndMediaAnalysis(t *testing.T) {
	cfg := testConfig(t)
	cfg.SaveScreenshots = true
	cfg.EnableMedia = true

	driver := newFakeDriver()
	o := startOrchestrator(t, cfg,
		WithDriver(driver), WithStore(newMemStore()), WithMirror(nopMirror{}),
		WithMediaAnalyzer(stubAnalyzer{}))

	result, err := o.ExecuteIntent(context.Background(), "go to https://example.com", "")
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, result.Screenshots, 1)
	data, err := os.ReadFile(result.Screenshots[0])
	require.NoError(t, err)
	assert.Equal(t, driver.screenshot, data)

	require.Len(t, result.MediaAnalyses, 1)
	assert.Equal(t, "a page", result.MediaAnalyses[0].Description)
}

func TestPurchaseRequiresPaymentInfo(t *testing.T) {
	driver := newFakeDriver()
	driver.url = "https://shop.example/item"
	o := startOrchestrator(t, testConfig(t),
		WithDriver(driver), WithStore(newMemStore()), WithMirror(nopMirror{}), WithCipher(xorCipher{}))

	// no credentials stored, the checkout requirement must refuse
	result, err := o.ExecuteIntent(context.Background(), "buy wireless headphones", "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "payment info")
	assert.Empty(t, driver.clicked)
}

func TestSystemStatus(t *testing.T) {
	o := startOrchestrator(t, testConfig(t),
		WithDriver(newFakeDriver()), WithStore(newMemStore()), WithMirror(nopMirror{}))

	_, err := o.ExecuteIntent(context.Background(), "go to https://example.com", "")
	require.NoError(t, err)

	status := o.GetSystemStatus()
	assert.Equal(t, entities.ComponentHealthy, status.Components[ComponentDriver].Status)
	assert.Equal(t, entities.ComponentHealthy, status.Components[ComponentStorage].Status)
	assert.Equal(t, entities.ComponentDisabled, status.Components[ComponentValidator].Status)
	assert.Equal(t, entities.ComponentDisabled, status.Components[ComponentMedia].Status)
	assert.Equal(t, 1, status.Metrics.TotalIntents)
	assert.Equal(t, 1, status.Metrics.SucceededIntents)
	assert.Greater(t, status.Metrics.AverageDuration, time.Duration(0))
}

func TestTerminateSession(t *testing.T) {
	o := startOrchestrator(t, testConfig(t),
		WithDriver(newFakeDriver()), WithStore(newMemStore()), WithMirror(nopMirror{}))

	created, err := o.Sessions().Create("doomed", entities.SessionStandard, "")
	require.NoError(t, err)
	require.NoError(t, o.TerminateSession(created.ID))

	_, err = o.Sessions().Get(created.ID)
	assert.Error(t, err)
}

func TestHealthBoardTransitions(t *testing.T) {
	t.Parallel()

	board := newHealthBoard()
	board.set(ComponentDriver, entities.ComponentHealthy, "")

	assert.Equal(t, 1, board.fail(ComponentDriver, "probe failed"))
	assert.Equal(t, entities.ComponentDegraded, board.status(ComponentDriver))
	assert.Equal(t, 2, board.fail(ComponentDriver, "probe failed"))

	board.recover(ComponentDriver)
	assert.Equal(t, entities.ComponentHealthy, board.status(ComponentDriver))

	board.set(ComponentDriver, entities.ComponentFailed, "gone")
	board.recover(ComponentDriver)
	assert.Equal(t, entities.ComponentFailed, board.status(ComponentDriver))
}

func TestInitStageRetries(t *testing.T) {
	t.Parallel()

	o := New(testConfig(t), quietLogger())

	attempts := 0
	err := o.initStage(context.Background(), "flaky", func() error {
		attempts++
		if attempts == 1 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, entities.ComponentHealthy, o.health.status("flaky"))
}

func TestNotRunning(t *testing.T) {
	t.Parallel()

	o := New(testConfig(t), quietLogger())
	_, err := o.ExecuteIntent(context.Background(), "go to https://example.com", "")
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = o.GetSessionList("")
	assert.ErrorIs(t, err, ErrNotRunning)
}
