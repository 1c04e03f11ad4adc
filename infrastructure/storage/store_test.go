package storage

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectra/domain/entities"
	"spectra/domain/interfaces"
)

func testStore(t *testing.T) *SQLStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := NewSQLStore(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleSession(id string) *entities.Session {
	now := time.Now().Truncate(time.Second)
	return &entities.Session{
		ID:           id,
		Name:         "research session",
		Type:         entities.SessionStandard,
		Status:       entities.SessionActive,
		AuthStatus:   entities.AuthUnauthenticated,
		UserID:       "user-1",
		Tags:         []string{"work", "research"},
		Encrypted:    true,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(time.Hour),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := testStore(t)

	session := sampleSession("s-1")
	blob := []byte("opaque-session-blob")
	require.NoError(t, store.SaveSession(session, blob))

	loaded, loadedBlob, err := store.LoadSession("s-1")
	require.NoError(t, err)
	assert.Equal(t, blob, loadedBlob)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, session.Name, loaded.Name)
	assert.Equal(t, session.Status, loaded.Status)
	assert.Equal(t, session.UserID, loaded.UserID)
	assert.Equal(t, session.Tags, loaded.Tags)
	assert.True(t, loaded.Encrypted)
}

func TestLoadMissingSession(t *testing.T) {
	store := testStore(t)

	_, _, err := store.LoadSession("nope")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestSaveSessionOverwrites(t *testing.T) {
	store := testStore(t)

	session := sampleSession("s-1")
	require.NoError(t, store.SaveSession(session, []byte("v1")))

	session.Status = entities.SessionSuspended
	require.NoError(t, store.SaveSession(session, []byte("v2")))

	loaded, blob, err := store.LoadSession("s-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), blob)
	assert.Equal(t, entities.SessionSuspended, loaded.Status)
}

func TestListSessionsFilters(t *testing.T) {
	store := testStore(t)

	active := sampleSession("s-active")
	require.NoError(t, store.SaveSession(active, nil))

	suspended := sampleSession("s-suspended")
	suspended.Status = entities.SessionSuspended
	suspended.UserID = "user-2"
	require.NoError(t, store.SaveSession(suspended, nil))

	all, err := store.ListSessions(interfaces.SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	actives, err := store.ListSessions(interfaces.SessionFilter{Status: entities.SessionActive})
	require.NoError(t, err)
	require.Len(t, actives, 1)
	assert.Equal(t, "s-active", actives[0].ID)

	byUser, err := store.ListSessions(interfaces.SessionFilter{UserID: "user-2"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "s-suspended", byUser[0].ID)
}

func TestWorkflowRoundTrip(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.SaveSession(sampleSession("s-1"), nil))

	workflow := &entities.Workflow{
		ID:        "w-1",
		SessionID: "s-1",
		Name:      "purchase",
		Status:    entities.WorkflowRunning,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.SaveWorkflow(workflow, []byte("wf-blob")))

	blobs, err := store.LoadWorkflows("s-1")
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, []byte("wf-blob"), blobs[0])
}

func TestCredentialsReplacePerDomain(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.SaveSession(sampleSession("s-1"), nil))

	first := &entities.Credentials{ID: "c-1", Domain: "shop.example", Username: "alice", CreatedAt: time.Now()}
	require.NoError(t, store.SaveCredentials("s-1", first, []byte("old")))

	second := &entities.Credentials{ID: "c-2", Domain: "shop.example", Username: "alice", CreatedAt: time.Now()}
	require.NoError(t, store.SaveCredentials("s-1", second, []byte("new")))

	other := &entities.Credentials{ID: "c-3", Domain: "mail.example", Username: "alice", CreatedAt: time.Now()}
	require.NoError(t, store.SaveCredentials("s-1", other, []byte("mail")))

	blobs, err := store.LoadCredentials("s-1")
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.NotContains(t, blobs, []byte("old"))
}

func TestAppendState(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.SaveSession(sampleSession("s-1"), nil))

	require.NoError(t, store.AppendState("s-1", []byte("state-1")))
	require.NoError(t, store.AppendState("s-1", []byte("state-2")))

	var count int64
	require.NoError(t, store.db.Model(&stateRow{}).Where("session_id = ?", "s-1").Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestDeleteSessionCascades(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.SaveSession(sampleSession("s-1"), nil))
	require.NoError(t, store.SaveWorkflow(&entities.Workflow{ID: "w-1", SessionID: "s-1", CreatedAt: time.Now()}, nil))
	require.NoError(t, store.SaveCredentials("s-1", &entities.Credentials{ID: "c-1", Domain: "d", CreatedAt: time.Now()}, nil))
	require.NoError(t, store.AppendState("s-1", []byte("state")))

	require.NoError(t, store.DeleteSession("s-1"))

	_, _, err := store.LoadSession("s-1")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	workflows, err := store.LoadWorkflows("s-1")
	require.NoError(t, err)
	assert.Empty(t, workflows)

	creds, err := store.LoadCredentials("s-1")
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestPurgeExpired(t *testing.T) {
	store := testStore(t)

	expired := sampleSession("s-expired")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.SaveSession(expired, nil))

	fresh := sampleSession("s-fresh")
	require.NoError(t, store.SaveSession(fresh, nil))

	purged, err := store.PurgeExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"s-expired"}, purged)

	_, _, err = store.LoadSession("s-expired")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
	_, _, err = store.LoadSession("s-fresh")
	assert.NoError(t, err)
}

func TestSchemaVersionPersists(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	dir := t.TempDir()

	first, err := NewSQLStore(dir, logger)
	require.NoError(t, err)
	require.NoError(t, first.SaveSession(sampleSession("s-1"), []byte("blob")))
	require.NoError(t, first.Close())

	// reopening the same directory keeps the data
	second, err := NewSQLStore(dir, logger)
	require.NoError(t, err)
	defer second.Close()

	_, blob, err := second.LoadSession("s-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), blob)
}
