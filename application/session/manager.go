package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"spectra/domain/entities"
	"spectra/domain/interfaces"
)

var (
	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("session not found")
	// ErrSessionLimit is returned when the active session cap is hit.
	ErrSessionLimit = errors.New("session limit reached")
	// ErrPersistence wraps storage failures.
	ErrPersistence = errors.New("session persistence failed")
	// ErrCorrupted marks a session whose stored blob cannot be decoded.
	ErrCorrupted = errors.New("session data corrupted")
	// ErrNoCredentials is returned when a domain has no stored
	// credentials.
	ErrNoCredentials = errors.New("no credentials for domain")
)

const exportVersion = 1

// Config tunes the session manager.
type Config struct {
	MaxSessions     int
	SessionTimeout  time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxSessions:     100,
		SessionTimeout:  time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// Stats aggregates manager counters.
type Stats struct {
	Created         int           `json:"created"`
	Restored        int           `json:"restored"`
	RestoreFailures int           `json:"restore_failures"`
	Saves           int           `json:"saves"`
	Terminated      int           `json:"terminated"`
	AverageDuration time.Duration `json:"average_duration"`
}

// entry pairs a session with its own lock so concurrent updates to
// different sessions never serialize on the manager lock.
type entry struct {
	mu      sync.Mutex
	session *entities.Session
}

// Manager owns session lifecycle, persistence and credentials.
type Manager struct {
	store  interfaces.SessionStore
	mirror interfaces.SessionMirror
	cipher interfaces.Cipher
	cfg    Config
	logger *logrus.Logger

	mu     sync.Mutex
	active map[string]*entry
	stats  Stats

	totalDuration time.Duration
}

// NewManager wires the manager. mirror may be nil; cipher may be nil
// when session encryption is disabled.
func NewManager(store interfaces.SessionStore, mirror interfaces.SessionMirror, cipher interfaces.Cipher, cfg Config, logger *logrus.Logger) *Manager {
	return &Manager{
		store:  store,
		mirror: mirror,
		cipher: cipher,
		cfg:    cfg,
		logger: logger,
		active: make(map[string]*entry),
	}
}

// StartCleanup runs the expiry sweep until ctx is cancelled.
func (m *Manager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupExpired()
			}
		}
	}()
}

// Create builds a new active session and persists it.
func (m *Manager) Create(name string, sessionType entities.SessionType, userID string) (*entities.Session, error) {
	m.mu.Lock()
	if len(m.active) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrSessionLimit
	}
	m.mu.Unlock()

	now := time.Now()
	session := &entities.Session{
		ID:           uuid.NewString(),
		Name:         name,
		Type:         sessionType,
		Status:       entities.SessionActive,
		AuthStatus:   entities.AuthUnauthenticated,
		UserID:       userID,
		Persistence:  entities.PersistDatabase,
		Encrypted:    m.cipher != nil,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(m.cfg.SessionTimeout),
	}

	if err := m.persist(session); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.active[session.ID] = &entry{session: session}
	m.stats.Created++
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"name":       name,
		"type":       sessionType,
	}).Info("Session created")
	return session, nil
}

// Get returns an active session, restoring it from storage when
// needed. Restored sessions become active again.
func (m *Manager) Get(id string) (*entities.Session, error) {
	m.mu.Lock()
	if e, ok := m.active[id]; ok {
		m.mu.Unlock()
		return e.session, nil
	}
	m.mu.Unlock()

	session, err := m.restore(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.active[id] = &entry{session: session}
	m.stats.Restored++
	m.mu.Unlock()
	return session, nil
}

func (m *Manager) restore(id string) (*entities.Session, error) {
	var blob []byte

	if m.mirror != nil {
		if cached, err := m.mirror.Get(mirrorKey(id)); err == nil {
			blob = cached
		}
	}

	meta, stored, err := m.store.LoadSession(id)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if blob == nil {
		blob = stored
	}
	if meta.Status == entities.SessionTerminated {
		return nil, fmt.Errorf("%w: session %s is terminated", ErrNotFound, id)
	}

	session, err := m.decode(blob, meta.Encrypted)
	if err != nil {
		m.mu.Lock()
		m.stats.RestoreFailures++
		m.mu.Unlock()
		m.logger.WithError(err).WithField("session_id", id).Error("Session blob corrupted")
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	session.Status = entities.SessionActive
	session.LastAccessed = time.Now()

	// the session blob never carries credentials; reload the encrypted
	// rows from their own table
	if credBlobs, err := m.store.LoadCredentials(id); err == nil {
		for _, raw := range credBlobs {
			var creds entities.Credentials
			if err := json.Unmarshal(raw, &creds); err != nil {
				m.logger.WithError(err).WithField("session_id", id).Warn("Skipping unreadable credential row")
				continue
			}
			session.Credentials = append(session.Credentials, creds)
		}
	}

	if err := m.persist(session); err != nil {
		return nil, err
	}

	m.logger.WithField("session_id", id).Info("Session restored")
	return session, nil
}

// UpdateState merges a browser state into the session. Page views
// increment only when the URL moved; the update is idempotent for a
// repeated identical state apart from the action counter.
func (m *Manager) UpdateState(id string, state entities.BrowserState) error {
	e, err := m.entryFor(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if state.URL != "" && state.URL != e.session.BrowserState.URL {
		e.session.PageViews++
	}
	e.session.ActionsPerformed++
	e.session.BrowserState = state
	e.session.LastAccessed = time.Now()

	return m.persist(e.session)
}

// Touch refreshes the last-accessed time without counting an action.
func (m *Manager) Touch(id string) error {
	e, err := m.entryFor(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastAccessed = time.Now()
	return m.persist(e.session)
}

// AddWorkflow attaches a workflow to a session.
func (m *Manager) AddWorkflow(sessionID, name, description string, steps []entities.WorkflowStep) (*entities.Workflow, error) {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return nil, err
	}

	workflow := entities.Workflow{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Name:        name,
		Description: description,
		Steps:       steps,
		Status:      entities.WorkflowPending,
		CreatedAt:   time.Now(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Workflows = append(e.session.Workflows, workflow)

	if err := m.persistWorkflow(&workflow); err != nil {
		return nil, err
	}
	if err := m.persist(e.session); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// UpdateWorkflowProgress marks a step done or failed and recomputes
// progress. A workflow with every step completed becomes completed.
func (m *Manager) UpdateWorkflowProgress(sessionID, workflowID string, stepIndex int, completed bool, result, stepErr string) error {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var workflow *entities.Workflow
	for i := range e.session.Workflows {
		if e.session.Workflows[i].ID == workflowID {
			workflow = &e.session.Workflows[i]
			break
		}
	}
	if workflow == nil {
		return fmt.Errorf("workflow %s not found in session %s", workflowID, sessionID)
	}
	if stepIndex < 0 || stepIndex >= len(workflow.Steps) {
		return fmt.Errorf("step index %d out of range", stepIndex)
	}

	step := &workflow.Steps[stepIndex]
	step.Completed = completed
	step.Result = result
	step.Error = stepErr
	if !completed && stepErr != "" {
		step.RetryCount++
	}

	done := 0
	for _, s := range workflow.Steps {
		if s.Completed {
			done++
		}
	}
	workflow.Progress = float64(done) / float64(len(workflow.Steps))
	workflow.CurrentStep = stepIndex
	switch {
	case done == len(workflow.Steps):
		workflow.Status = entities.WorkflowCompleted
	case stepErr != "" && step.RetryCount > step.MaxRetries:
		workflow.Status = entities.WorkflowFailed
	default:
		workflow.Status = entities.WorkflowRunning
	}

	if err := m.persistWorkflow(workflow); err != nil {
		return err
	}
	return m.persist(e.session)
}

// StoreCredentials encrypts and stores credentials for a domain,
// replacing any previous entry for that domain. Plaintext never
// reaches storage or logs.
func (m *Manager) StoreCredentials(sessionID string, plain entities.PlainCredentials) error {
	if m.cipher == nil {
		return fmt.Errorf("credential storage requires an encryption key")
	}

	e, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}

	creds := entities.Credentials{
		ID:        uuid.NewString(),
		Domain:    plain.Domain,
		Username:  plain.Username,
		ExpiresAt: plain.ExpiresAt,
		TwoFactor: plain.TwoFactor,
		CreatedAt: time.Now(),
	}

	if creds.Password, err = m.sealField(plain.Password); err != nil {
		return err
	}
	if creds.Token, err = m.sealField(plain.Token); err != nil {
		return err
	}
	if creds.RefreshToken, err = m.sealField(plain.RefreshToken); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// replace any previous credentials for the same domain
	kept := e.session.Credentials[:0]
	for _, existing := range e.session.Credentials {
		if existing.Domain != plain.Domain {
			kept = append(kept, existing)
		}
	}
	e.session.Credentials = append(kept, creds)
	e.session.AuthStatus = entities.AuthAuthenticated

	blob, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	if err := m.store.SaveCredentials(sessionID, &creds, blob); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := m.persist(e.session); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"domain":     plain.Domain,
	}).Info("Credentials stored")
	return nil
}

func (m *Manager) sealField(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	sealed, err := m.cipher.Encrypt([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential field: %w", err)
	}
	return sealed, nil
}

func (m *Manager) openField(value []byte) (string, error) {
	if len(value) == 0 {
		return "", nil
	}
	plain, err := m.cipher.Decrypt(value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential field: %w", err)
	}
	return string(plain), nil
}

// GetCredentials decrypts credentials for a domain. The plaintext
// exists only in the returned value.
func (m *Manager) GetCredentials(sessionID, domain string) (*entities.PlainCredentials, error) {
	if m.cipher == nil {
		return nil, fmt.Errorf("credential access requires an encryption key")
	}

	e, err := m.entryFor(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.session.Credentials {
		creds := &e.session.Credentials[i]
		if creds.Domain != domain {
			continue
		}

		plain := entities.PlainCredentials{
			Domain:    creds.Domain,
			Username:  creds.Username,
			ExpiresAt: creds.ExpiresAt,
			TwoFactor: creds.TwoFactor,
		}
		if plain.Password, err = m.openField(creds.Password); err != nil {
			return nil, err
		}
		if plain.Token, err = m.openField(creds.Token); err != nil {
			return nil, err
		}
		if plain.RefreshToken, err = m.openField(creds.RefreshToken); err != nil {
			return nil, err
		}

		creds.LastUsed = time.Now()
		if blob, merr := json.Marshal(creds); merr == nil {
			if serr := m.store.SaveCredentials(sessionID, creds, blob); serr != nil {
				m.logger.WithError(serr).WithFields(logrus.Fields{
					"session_id": sessionID,
					"domain":     domain,
				}).Warn("Failed to record credential use")
			}
		}
		return &plain, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoCredentials, domain)
}

// Suspend persists a session and removes it from the active set. The
// session can be resumed later through Get.
func (m *Manager) Suspend(id string) error {
	e, err := m.entryFor(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.session.Status = entities.SessionSuspended
	e.session.LastAccessed = time.Now()
	err = m.persist(e.session)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()

	m.logger.WithField("session_id", id).Info("Session suspended")
	return nil
}

// Terminate permanently closes a session. Terminated sessions are
// never restored.
func (m *Manager) Terminate(id string) error {
	e, err := m.entryFor(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.session.Status = entities.SessionTerminated
	duration := time.Since(e.session.CreatedAt)
	e.session.TotalDuration = duration
	err = m.persist(e.session)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.active, id)
	m.stats.Terminated++
	m.totalDuration += duration
	m.stats.AverageDuration = m.totalDuration / time.Duration(m.stats.Terminated)
	m.mu.Unlock()

	if m.mirror != nil {
		if err := m.mirror.Delete(mirrorKey(id)); err != nil {
			m.logger.WithError(err).Debug("Failed to drop mirror entry")
		}
	}

	m.logger.WithField("session_id", id).Info("Session terminated")
	return nil
}

// List returns session summaries, overlaying live counters for
// sessions currently active.
func (m *Manager) List(filter interfaces.SessionFilter) ([]entities.SessionSummary, error) {
	summaries, err := m.store.ListSessions(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range summaries {
		if e, ok := m.active[summaries[i].ID]; ok {
			summaries[i].URL = e.session.BrowserState.URL
			summaries[i].PageViews = e.session.PageViews
			summaries[i].Actions = e.session.ActionsPerformed
			summaries[i].Status = e.session.Status
		}
	}
	return summaries, nil
}

// Clone deep copies a session under a new id and name. Workflow
// progress resets so the clone can replay from the start.
func (m *Manager) Clone(id, newName string) (*entities.Session, error) {
	source, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("failed to copy session: %w", err)
	}
	var clone entities.Session
	if err := json.Unmarshal(raw, &clone); err != nil {
		return nil, fmt.Errorf("failed to copy session: %w", err)
	}

	now := time.Now()
	clone.ID = uuid.NewString()
	clone.Name = newName
	clone.Status = entities.SessionActive
	clone.CreatedAt = now
	clone.LastAccessed = now
	clone.ExpiresAt = now.Add(m.cfg.SessionTimeout)
	clone.PageViews = 0
	clone.ActionsPerformed = 0
	clone.TotalDuration = 0

	for wi := range clone.Workflows {
		w := &clone.Workflows[wi]
		w.ID = uuid.NewString()
		w.SessionID = clone.ID
		w.Status = entities.WorkflowPending
		w.Progress = 0
		w.CurrentStep = 0
		for si := range w.Steps {
			w.Steps[si].Completed = false
			w.Steps[si].Result = ""
			w.Steps[si].Error = ""
			w.Steps[si].RetryCount = 0
		}
	}

	if err := m.persist(&clone); err != nil {
		return nil, err
	}
	for wi := range clone.Workflows {
		if err := m.persistWorkflow(&clone.Workflows[wi]); err != nil {
			return nil, err
		}
	}
	for ci := range clone.Credentials {
		creds := &clone.Credentials[ci]
		creds.ID = uuid.NewString()
		blob, err := json.Marshal(creds)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize credentials: %w", err)
		}
		if err := m.store.SaveCredentials(clone.ID, creds, blob); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	m.mu.Lock()
	m.active[clone.ID] = &entry{session: &clone}
	m.stats.Created++
	m.mu.Unlock()
	return &clone, nil
}

// exportEnvelope is the portable session format. Credentials never
// leave through export.
type exportEnvelope struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Session    *entities.Session `json:"session"`
}

// Export serializes a session without its credentials.
func (m *Manager) Export(id string) ([]byte, error) {
	source, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	copySession := *source
	copySession.Credentials = nil

	return json.MarshalIndent(exportEnvelope{
		Version:    exportVersion,
		ExportedAt: time.Now(),
		Session:    &copySession,
	}, "", "  ")
}

// Import restores an exported session under a fresh id. The imported
// session starts suspended.
func (m *Manager) Import(data []byte) (*entities.Session, error) {
	var envelope exportEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("invalid session export: %w", err)
	}
	if envelope.Session == nil {
		return nil, fmt.Errorf("session export is empty")
	}
	if envelope.Version > exportVersion {
		return nil, fmt.Errorf("session export version %d is not supported", envelope.Version)
	}

	session := envelope.Session
	session.ID = uuid.NewString()
	session.Status = entities.SessionSuspended
	session.Credentials = nil
	session.ExpiresAt = time.Now().Add(m.cfg.SessionTimeout)

	if err := m.persist(session); err != nil {
		return nil, err
	}
	m.logger.WithField("session_id", session.ID).Info("Session imported")
	return session, nil
}

// CleanupExpired terminates expired active sessions and purges
// expired rows from storage.
func (m *Manager) CleanupExpired() {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, e := range m.active {
		if e.session.IsExpired(now) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.Terminate(id); err != nil {
			m.logger.WithError(err).WithField("session_id", id).Warn("Failed to terminate expired session")
		}
	}

	purged, err := m.store.PurgeExpired(now)
	if err != nil {
		m.logger.WithError(err).Warn("Expiry purge failed")
		return
	}
	if len(expired) > 0 || len(purged) > 0 {
		m.logger.WithFields(logrus.Fields{
			"terminated": len(expired),
			"purged":     len(purged),
		}).Info("Expired sessions cleaned up")
	}
}

// ActiveCount returns the number of sessions held in memory.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Stats returns a copy of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) entryFor(id string) (*entry, error) {
	m.mu.Lock()
	e, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		return e, nil
	}

	if _, err := m.Get(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.active[id]; ok {
		return e, nil
	}
	return nil, ErrNotFound
}

// persist writes the session to the store and mirror. Credentials are
// stripped from the blob; the credentials table is their only home.
func (m *Manager) persist(session *entities.Session) error {
	copySession := *session
	copySession.Credentials = nil

	blob, err := json.Marshal(&copySession)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	if session.Encrypted && m.cipher != nil {
		if blob, err = m.cipher.Encrypt(blob); err != nil {
			return fmt.Errorf("failed to encrypt session: %w", err)
		}
	}

	if err := m.store.SaveSession(session, blob); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := m.store.AppendState(session.ID, blob); err != nil {
		m.logger.WithError(err).Debug("Failed to append state snapshot")
	}

	if m.mirror != nil {
		ttl := time.Until(session.ExpiresAt)
		if ttl < 0 {
			ttl = time.Minute
		}
		if err := m.mirror.Put(mirrorKey(session.ID), blob, ttl); err != nil {
			m.logger.WithError(err).Debug("Failed to mirror session")
		}
	}

	m.mu.Lock()
	m.stats.Saves++
	m.mu.Unlock()
	return nil
}

func (m *Manager) persistWorkflow(workflow *entities.Workflow) error {
	blob, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to serialize workflow: %w", err)
	}
	if err := m.store.SaveWorkflow(workflow, blob); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (m *Manager) decode(blob []byte, encrypted bool) (*entities.Session, error) {
	if encrypted {
		if m.cipher == nil {
			return nil, fmt.Errorf("session is encrypted but no key is configured")
		}
		plain, err := m.cipher.Decrypt(blob)
		if err != nil {
			return nil, err
		}
		blob = plain
	}

	var session entities.Session
	if err := json.Unmarshal(blob, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func mirrorKey(id string) string {
	return "session/" + id
}
