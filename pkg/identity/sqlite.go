package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBFileName is the SQLite file created under the data directory.
const DefaultDBFileName = "signage.db"

// migrations are applied in order; PRAGMA user_version tracks progress.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS device_identities (
	hardware_id TEXT PRIMARY KEY,
	client_id   TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS app_registrations (
	device_identifier TEXT PRIMARY KEY,
	id                TEXT NOT NULL,
	device_name       TEXT NOT NULL DEFAULT '',
	platform          TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	token             TEXT NOT NULL DEFAULT '',
	permissions       TEXT NOT NULL DEFAULT '',
	reason            TEXT NOT NULL DEFAULT '',
	expires_at        INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_app_registrations_token
	ON app_registrations(token) WHERE token != '';
`,
}

// SQLiteStore persists identities in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (or creates) the identity database under dataDir and runs
// schema migrations.
func Open(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return OpenPath(filepath.Join(dataDir, DefaultDBFileName))
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the SQLite connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

// LookupClientID implements Store.
func (s *SQLiteStore) LookupClientID(hardwareID string) (string, error) {
	var clientID string
	err := s.db.QueryRow(
		"SELECT client_id FROM device_identities WHERE hardware_id = ?",
		NormalizeHardwareID(hardwareID),
	).Scan(&clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup client id: %w", err)
	}
	return clientID, nil
}

// SaveClientID implements Store.
func (s *SQLiteStore) SaveClientID(hardwareID, clientID string) error {
	_, err := s.db.Exec(`
INSERT INTO device_identities (hardware_id, client_id, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(hardware_id) DO UPDATE SET
	client_id  = excluded.client_id,
	updated_at = excluded.updated_at`,
		NormalizeHardwareID(hardwareID), clientID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save client id: %w", err)
	}
	return nil
}

const appColumns = `id, device_identifier, device_name, platform, status,
	token, permissions, reason, expires_at, created_at, updated_at`

// GetAppRegistration implements Store.
func (s *SQLiteStore) GetAppRegistration(deviceIdentifier string) (*MobileAppRegistration, error) {
	row := s.db.QueryRow(
		"SELECT "+appColumns+" FROM app_registrations WHERE device_identifier = ?",
		deviceIdentifier,
	)
	return scanApp(row)
}

// GetAppByToken implements Store.
func (s *SQLiteStore) GetAppByToken(token string) (*MobileAppRegistration, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRow(
		"SELECT "+appColumns+" FROM app_registrations WHERE token = ?",
		token,
	)
	return scanApp(row)
}

// SaveAppRegistration implements Store.
func (s *SQLiteStore) SaveAppRegistration(reg *MobileAppRegistration) error {
	if reg == nil {
		return errors.New("identity: nil registration")
	}
	_, err := s.db.Exec(`
INSERT INTO app_registrations (device_identifier, id, device_name, platform,
	status, token, permissions, reason, expires_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(device_identifier) DO UPDATE SET
	id          = excluded.id,
	device_name = excluded.device_name,
	platform    = excluded.platform,
	status      = excluded.status,
	token       = excluded.token,
	permissions = excluded.permissions,
	reason      = excluded.reason,
	expires_at  = excluded.expires_at,
	updated_at  = excluded.updated_at`,
		reg.DeviceIdentifier, reg.ID, reg.DeviceName, reg.Platform,
		string(reg.Status), reg.Token, strings.Join(reg.Permissions, ","),
		reg.Reason, unixOrZero(reg.ExpiresAt),
		unixOrZero(reg.CreatedAt), unixOrZero(reg.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save app registration: %w", err)
	}
	return nil
}

// ListAppRegistrations implements Store.
func (s *SQLiteStore) ListAppRegistrations() ([]*MobileAppRegistration, error) {
	rows, err := s.db.Query(
		"SELECT " + appColumns + " FROM app_registrations ORDER BY created_at",
	)
	if err != nil {
		return nil, fmt.Errorf("list app registrations: %w", err)
	}
	defer rows.Close()

	var regs []*MobileAppRegistration
	for rows.Next() {
		reg, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApp(row rowScanner) (*MobileAppRegistration, error) {
	var (
		reg         MobileAppRegistration
		status      string
		permissions string
		expiresAt   int64
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&reg.ID, &reg.DeviceIdentifier, &reg.DeviceName,
		&reg.Platform, &status, &reg.Token, &permissions, &reg.Reason,
		&expiresAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan app registration: %w", err)
	}

	reg.Status = AppStatus(status)
	if permissions != "" {
		reg.Permissions = strings.Split(permissions, ",")
	}
	reg.ExpiresAt = timeOrZero(expiresAt)
	reg.CreatedAt = timeOrZero(createdAt)
	reg.UpdatedAt = timeOrZero(updatedAt)
	return &reg, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
