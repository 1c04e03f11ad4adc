package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"spectra/application/intent"
	"spectra/application/navigation"
	"spectra/application/session"
	"spectra/application/validation"
	"spectra/config"
	"spectra/domain/entities"
	"spectra/domain/interfaces"
	"spectra/infrastructure/browser"
	"spectra/infrastructure/security"
	"spectra/infrastructure/storage"
)

var (
	// ErrNoDriver means neither browser engine could be acquired. This
	// is fatal; nothing can run without a driver.
	ErrNoDriver = errors.New("no browser driver available")
	// ErrTimeout is returned when an execution misses its deadline.
	ErrTimeout = errors.New("execution timeout")
	// ErrNotRunning is returned for calls before Initialize or after
	// Shutdown.
	ErrNotRunning = errors.New("orchestrator is not running")
	// ErrQueueFull is returned when the execution queue has no room.
	ErrQueueFull = errors.New("execution queue is full")
)

const (
	initRetries     = 3
	initialBackoff  = 2 * time.Second
	healthInterval  = 30 * time.Second
	perfInterval    = time.Minute
	driverFailAfter = 3
)

// Component names as they appear in the health map.
const (
	ComponentDriver    = "driver"
	ComponentStorage   = "storage"
	ComponentSessions  = "sessions"
	ComponentCompiler  = "compiler"
	ComponentEngine    = "engine"
	ComponentValidator = "validator"
	ComponentMedia     = "media"
)

// sessionKeySalt pins the key derivation for session encryption.
const sessionKeySalt = "spectra.sessions.v1"

// Option overrides a collaborator before Initialize, mainly for tests
// and alternative deployments.
type Option func(*Orchestrator)

func WithDriver(driver interfaces.Driver) Option {
	return func(o *Orchestrator) { o.driver = driver }
}

func WithStore(store interfaces.SessionStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

func WithMirror(mirror interfaces.SessionMirror) Option {
	return func(o *Orchestrator) { o.mirror = mirror }
}

func WithCipher(cipher interfaces.Cipher) Option {
	return func(o *Orchestrator) { o.cipher = cipher }
}

func WithMediaAnalyzer(media interfaces.MediaAnalyzer) Option {
	return func(o *Orchestrator) { o.media = media }
}

// Orchestrator wires the compiler, engine, validator and session
// manager together and owns the execution queue.
type Orchestrator struct {
	cfg    config.Config
	logger *logrus.Logger

	driver interfaces.Driver
	store  interfaces.SessionStore
	mirror interfaces.SessionMirror
	cipher interfaces.Cipher
	media  interfaces.MediaAnalyzer

	compiler  *intent.Compiler
	engine    *navigation.Engine
	validator *validation.Validator
	sessions  *session.Manager
	risk      *security.RiskAssessor

	health *healthBoard
	queue  chan *task

	runCtx  context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	startedAt time.Time
	metrics   *metricsBook
}

// New builds an orchestrator. Call Initialize before use.
func New(cfg config.Config, logger *logrus.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		health:  newHealthBoard(),
		metrics: newMetricsBook(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Initialize brings every component up in dependency order. Each stage
// retries with exponential backoff before the whole startup fails.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.logger.Info("Initializing orchestrator")

	if err := o.initStage(ctx, ComponentDriver, o.initDriver); err != nil {
		return err
	}
	if err := o.initStage(ctx, ComponentStorage, o.initStorage); err != nil {
		return err
	}
	if err := o.initStage(ctx, ComponentSessions, o.initSessions); err != nil {
		return err
	}
	if err := o.initStage(ctx, ComponentCompiler, o.initCompiler); err != nil {
		return err
	}
	if err := o.initStage(ctx, ComponentEngine, o.initEngine); err != nil {
		return err
	}
	if err := o.initStage(ctx, ComponentValidator, o.initValidator); err != nil {
		return err
	}
	o.initMedia()

	o.runCtx, o.cancel = context.WithCancel(context.Background())
	queueSize := o.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	o.queue = make(chan *task, queueSize)
	o.startedAt = time.Now()
	o.running.Store(true)

	go o.consume()
	go o.monitorHealth()
	go o.monitorPerformance()
	o.sessions.StartCleanup(o.runCtx)

	o.logger.WithField("components", o.health.names()).Info("Orchestrator ready")
	return nil
}

// initStage runs fn with retries and records the outcome in the
// health map.
func (o *Orchestrator) initStage(ctx context.Context, name string, fn func() error) error {
	o.health.set(name, entities.ComponentInitializing, "")

	backoff := initialBackoff
	var err error
	for attempt := 1; attempt <= initRetries; attempt++ {
		if err = fn(); err == nil {
			if o.health.status(name) == entities.ComponentInitializing {
				o.health.set(name, entities.ComponentHealthy, "")
			}
			return nil
		}

		o.logger.WithError(err).WithFields(logrus.Fields{
			"component": name,
			"attempt":   attempt,
		}).Warn("Component initialization failed")

		if attempt < initRetries {
			select {
			case <-ctx.Done():
				o.health.set(name, entities.ComponentFailed, ctx.Err().Error())
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	o.health.set(name, entities.ComponentFailed, err.Error())
	return fmt.Errorf("failed to initialize %s: %w", name, err)
}

// initDriver acquires the primary engine and falls back to the
// secondary one, marking the component degraded.
func (o *Orchestrator) initDriver() error {
	if o.driver != nil {
		return nil
	}

	primary, err := browser.NewPlaywrightDriver(o.cfg.Browser, o.logger)
	if err == nil {
		o.driver = primary
		return nil
	}
	o.logger.WithError(err).Warn("Primary browser engine unavailable, trying fallback")

	fallback, fbErr := browser.NewSeleniumDriver(o.cfg.Browser, o.logger)
	if fbErr != nil {
		return fmt.Errorf("%w: playwright: %v, selenium: %v", ErrNoDriver, err, fbErr)
	}
	o.driver = fallback
	o.health.set(ComponentDriver, entities.ComponentDegraded, "running on fallback engine")
	return nil
}

func (o *Orchestrator) initStorage() error {
	if o.store == nil {
		store, err := storage.NewSQLStore(o.cfg.StorageDir, o.logger)
		if err != nil {
			return err
		}
		o.store = store
	}
	if o.mirror == nil {
		mirror, err := storage.NewBadgerMirror(o.cfg.StorageDir, o.logger)
		if err != nil {
			// the mirror is an accelerator, not a requirement
			o.logger.WithError(err).Warn("Session mirror unavailable, reads go straight to the database")
		} else {
			o.mirror = mirror
		}
	}
	if o.cipher == nil && o.cfg.EncryptSessions {
		cipher, err := security.NewAESCipher(o.cfg.EncryptionKey, []byte(sessionKeySalt))
		if err != nil {
			return err
		}
		o.cipher = cipher
	}
	return nil
}

func (o *Orchestrator) initSessions() error {
	o.sessions = session.NewManager(o.store, o.mirror, o.cipher, session.Config{
		MaxSessions:     o.cfg.MaxConcurrentSessions,
		SessionTimeout:  o.cfg.SessionTimeout,
		CleanupInterval: o.cfg.CleanupInterval,
	}, o.logger)
	return nil
}

func (o *Orchestrator) initCompiler() error {
	o.compiler = intent.NewCompiler(o.logger)
	return nil
}

func (o *Orchestrator) initEngine() error {
	o.engine = navigation.NewEngine(o.driver, o.logger)
	o.risk = security.NewRiskAssessor(o.logger)
	return nil
}

func (o *Orchestrator) initValidator() error {
	if !o.cfg.EnableValidation {
		o.health.set(ComponentValidator, entities.ComponentDisabled, "")
		return nil
	}

	vcfg := validation.DefaultConfig()
	if o.cfg.Validator.SampleInterval > 0 {
		vcfg.SampleInterval = o.cfg.Validator.SampleInterval
	}
	if o.cfg.Validator.Timeout > 0 {
		vcfg.Timeout = o.cfg.Validator.Timeout
	}
	if o.cfg.Validator.VisualThreshold > 0 {
		vcfg.VisualThreshold = o.cfg.Validator.VisualThreshold
	}
	if o.cfg.Validator.DOMThreshold > 0 {
		vcfg.DOMThreshold = o.cfg.Validator.DOMThreshold
	}
	if o.cfg.Validator.PhashDistance > 0 {
		vcfg.PhashDistance = o.cfg.Validator.PhashDistance
	}

	o.validator = validation.NewValidator(o.driver, vcfg, o.logger)
	if !o.validator.Observing() {
		o.health.set(ComponentValidator, entities.ComponentDegraded, "network and console observation unavailable")
	}
	return nil
}

func (o *Orchestrator) initMedia() {
	if !o.cfg.EnableMedia || o.media == nil {
		o.health.set(ComponentMedia, entities.ComponentDisabled, "")
		o.media = nil
		return
	}
	o.health.set(ComponentMedia, entities.ComponentHealthy, "")
}

// GetSystemStatus returns a point-in-time view of the whole system.
func (o *Orchestrator) GetSystemStatus() entities.SystemStatus {
	status := entities.SystemStatus{
		Components: o.health.snapshot(),
		Metrics:    o.metrics.snapshot(),
	}
	if o.running.Load() {
		status.Uptime = time.Since(o.startedAt)
		status.QueueSize = len(o.queue)
		status.ActiveExecutions = o.metrics.active()
		status.ActiveContexts = o.sessions.ActiveCount()
	}
	return status
}

// GetSessionList returns summaries of known sessions. An empty userID
// lists every session, otherwise only that user's.
func (o *Orchestrator) GetSessionList(userID string) ([]entities.SessionSummary, error) {
	if !o.running.Load() {
		return nil, ErrNotRunning
	}
	return o.sessions.List(interfaces.SessionFilter{UserID: userID})
}

// TerminateSession permanently closes a session.
func (o *Orchestrator) TerminateSession(id string) error {
	if !o.running.Load() {
		return ErrNotRunning
	}
	return o.sessions.Terminate(id)
}

// Sessions exposes the session manager for the presentation layer.
func (o *Orchestrator) Sessions() *session.Manager {
	return o.sessions
}

// Compiler exposes the intent compiler for suggestions and stats.
func (o *Orchestrator) Compiler() *intent.Compiler {
	return o.compiler
}

// Shutdown stops the queue and releases components in reverse
// dependency order.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if !o.running.Swap(false) {
		return nil
	}
	o.logger.Info("Shutting down orchestrator")
	o.cancel()

	// give in-flight work a moment to notice the cancellation
	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
	}

	var errs []error
	if o.driver != nil {
		if err := o.driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("driver close: %w", err))
		}
	}
	if o.mirror != nil {
		if err := o.mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mirror close: %w", err))
		}
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	o.logger.Info("Orchestrator stopped")
	return errors.Join(errs...)
}

// monitorHealth periodically probes the driver and storage.
func (o *Orchestrator) monitorHealth() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
			o.checkHealth()
		}
	}
}

func (o *Orchestrator) checkHealth() {
	ctx, cancel := context.WithTimeout(o.runCtx, 5*time.Second)
	defer cancel()

	if _, err := o.driver.Title(ctx); err != nil {
		failures := o.health.fail(ComponentDriver, err.Error())
		if failures >= driverFailAfter {
			o.health.set(ComponentDriver, entities.ComponentFailed, err.Error())
		}
		o.logger.WithError(err).Warn("Driver health probe failed")
	} else {
		o.health.recover(ComponentDriver)
	}

	if _, err := o.store.ListSessions(interfaces.SessionFilter{Status: entities.SessionActive}); err != nil {
		o.health.fail(ComponentStorage, err.Error())
		o.logger.WithError(err).Warn("Storage health probe failed")
	} else {
		o.health.recover(ComponentStorage)
	}
}

// monitorPerformance periodically logs execution metrics.
func (o *Orchestrator) monitorPerformance() {
	ticker := time.NewTicker(perfInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
			m := o.metrics.snapshot()
			o.logger.WithFields(logrus.Fields{
				"total":            m.TotalIntents,
				"succeeded":        m.SucceededIntents,
				"failed":           m.FailedIntents,
				"average_duration": m.AverageDuration,
				"queue":            len(o.queue),
			}).Info("Execution metrics")
		}
	}
}
