package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"spectra/domain/entities"
	"spectra/domain/interfaces"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = interfaces.ErrSessionNotFound

// SQLStore persists sessions, workflows, credentials and state
// snapshots in a SQLite database.
type SQLStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewSQLStore opens (or creates) the database under dir and migrates
// the schema.
func NewSQLStore(dir string, logger *logrus.Logger) (*SQLStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	path := filepath.Join(dir, "sessions.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&metaRow{}, &sessionRow{}, &workflowRow{}, &credentialRow{}, &stateRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	store := &SQLStore{db: db, logger: logger}
	if err := store.checkSchemaVersion(); err != nil {
		return nil, err
	}

	logger.WithField("path", path).Info("Session database ready")
	return store, nil
}

func (s *SQLStore) checkSchemaVersion() error {
	var row metaRow
	err := s.db.First(&row, "key = ?", "schema_version").Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&metaRow{Key: "schema_version", Value: strconv.Itoa(schemaVersion)}).Error
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	version, err := strconv.Atoi(row.Value)
	if err != nil {
		return fmt.Errorf("invalid schema version %q", row.Value)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}
	return nil
}

// SaveSession writes or replaces a session row.
func (s *SQLStore) SaveSession(session *entities.Session, blob []byte) error {
	row := sessionRow{
		ID:           session.ID,
		Name:         session.Name,
		SessionType:  string(session.Type),
		Status:       string(session.Status),
		AuthStatus:   string(session.AuthStatus),
		Data:         blob,
		CreatedAt:    session.CreatedAt,
		LastAccessed: session.LastAccessed,
		ExpiresAt:    session.ExpiresAt,
		UserID:       session.UserID,
		Tags:         strings.Join(session.Tags, ","),
		Encrypted:    session.Encrypted,
	}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

// LoadSession reads a session row. The returned session carries only
// row-level fields; the blob holds the full serialized state.
func (s *SQLStore) LoadSession(id string) (*entities.Session, []byte, error) {
	var row sessionRow
	err := s.db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	session := &entities.Session{
		ID:           row.ID,
		Name:         row.Name,
		Type:         entities.SessionType(row.SessionType),
		Status:       entities.SessionStatus(row.Status),
		AuthStatus:   entities.AuthStatus(row.AuthStatus),
		UserID:       row.UserID,
		Encrypted:    row.Encrypted,
		CreatedAt:    row.CreatedAt,
		LastAccessed: row.LastAccessed,
		ExpiresAt:    row.ExpiresAt,
	}
	if row.Tags != "" {
		session.Tags = strings.Split(row.Tags, ",")
	}
	return session, row.Data, nil
}

// DeleteSession removes a session and all dependent rows.
func (s *SQLStore) DeleteSession(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&workflowRow{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&credentialRow{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&stateRow{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&sessionRow{}, "id = ?", id).Error
	})
}

// ListSessions returns summaries for sessions matching the filter.
func (s *SQLStore) ListSessions(filter interfaces.SessionFilter) ([]entities.SessionSummary, error) {
	query := s.db.Model(&sessionRow{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}

	var rows []sessionRow
	if err := query.Order("last_accessed desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	summaries := make([]entities.SessionSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, entities.SessionSummary{
			ID:           row.ID,
			Name:         row.Name,
			Type:         entities.SessionType(row.SessionType),
			Status:       entities.SessionStatus(row.Status),
			AuthStatus:   entities.AuthStatus(row.AuthStatus),
			CreatedAt:    row.CreatedAt,
			LastAccessed: row.LastAccessed,
		})
	}
	return summaries, nil
}

// SaveWorkflow writes or replaces a workflow row.
func (s *SQLStore) SaveWorkflow(workflow *entities.Workflow, blob []byte) error {
	row := workflowRow{
		ID:          workflow.ID,
		SessionID:   workflow.SessionID,
		Name:        workflow.Name,
		Description: workflow.Description,
		Data:        blob,
		Status:      string(workflow.Status),
		CreatedAt:   workflow.CreatedAt,
	}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}
	return nil
}

// LoadWorkflows reads all workflow blobs for a session.
func (s *SQLStore) LoadWorkflows(sessionID string) ([][]byte, error) {
	var rows []workflowRow
	if err := s.db.Order("created_at").Find(&rows, "session_id = ?", sessionID).Error; err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}
	blobs := make([][]byte, 0, len(rows))
	for _, row := range rows {
		blobs = append(blobs, row.Data)
	}
	return blobs, nil
}

// SaveCredentials writes credentials, replacing any row for the same
// session and domain.
func (s *SQLStore) SaveCredentials(sessionID string, creds *entities.Credentials, blob []byte) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&credentialRow{}, "session_id = ? AND domain = ?", sessionID, creds.Domain).Error; err != nil {
			return err
		}
		row := credentialRow{
			ID:            creds.ID,
			SessionID:     sessionID,
			Domain:        creds.Domain,
			Username:      creds.Username,
			EncryptedData: blob,
			CreatedAt:     creds.CreatedAt,
			LastUsed:      creds.LastUsed,
		}
		return tx.Create(&row).Error
	})
}

// LoadCredentials reads all credential blobs for a session.
func (s *SQLStore) LoadCredentials(sessionID string) ([][]byte, error) {
	var rows []credentialRow
	if err := s.db.Find(&rows, "session_id = ?", sessionID).Error; err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	blobs := make([][]byte, 0, len(rows))
	for _, row := range rows {
		blobs = append(blobs, row.EncryptedData)
	}
	return blobs, nil
}

// AppendState appends a point-in-time state snapshot.
func (s *SQLStore) AppendState(sessionID string, blob []byte) error {
	row := stateRow{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StateData: blob,
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append state snapshot: %w", err)
	}
	return nil
}

// PurgeExpired deletes sessions past their expiry and returns the ids
// removed.
func (s *SQLStore) PurgeExpired(cutoff time.Time) ([]string, error) {
	var rows []sessionRow
	zero := time.Time{}
	if err := s.db.Select("id").Find(&rows, "expires_at < ? AND expires_at > ?", cutoff, zero).Error; err != nil {
		return nil, fmt.Errorf("failed to find expired sessions: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if err := s.DeleteSession(row.ID); err != nil {
			s.logger.WithError(err).WithField("session_id", row.ID).Warn("Failed to purge expired session")
			continue
		}
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// Ensure SQLStore implements SessionStore interface
var _ interfaces.SessionStore = (*SQLStore)(nil)
