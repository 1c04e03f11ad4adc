package storage

import "time"

// Schema version written into the database metadata table. Bump when a
// row layout changes; Open refuses databases from a newer version.
const schemaVersion = 1

type metaRow struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string
}

func (metaRow) TableName() string { return "meta" }

type sessionRow struct {
	ID           string `gorm:"primaryKey;size:64"`
	Name         string
	SessionType  string
	Status       string `gorm:"index"`
	AuthStatus   string
	Data         []byte
	CreatedAt    time.Time
	LastAccessed time.Time
	ExpiresAt    time.Time `gorm:"index"`
	UserID       string    `gorm:"index"`
	Tags         string
	Encrypted    bool
}

func (sessionRow) TableName() string { return "sessions" }

type workflowRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	SessionID   string `gorm:"index"`
	Name        string
	Description string
	Data        []byte
	Status      string
	CreatedAt   time.Time
}

func (workflowRow) TableName() string { return "workflows" }

type credentialRow struct {
	ID            string `gorm:"primaryKey;size:64"`
	SessionID     string `gorm:"index"`
	Domain        string `gorm:"index"`
	Username      string
	EncryptedData []byte
	CreatedAt     time.Time
	LastUsed      time.Time
}

func (credentialRow) TableName() string { return "credentials" }

type stateRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	SessionID string `gorm:"index"`
	StateData []byte
	CreatedAt time.Time
}

func (stateRow) TableName() string { return "session_states" }
