package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/adsweep/internal/model"
)

// DBFileName is the database file created inside the data directory.
const DBFileName = "adsweep.db"

// Setting keys.
const (
	KeyTopicFilter    = "topicFilter"
	KeyMinActiveCount = "minActiveCount"
	KeyAccessToken    = "accessToken"
	KeyUserEmail      = "userEmail"
)

// ErrNotFound is returned when a setting has never been written.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file if needed.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the database in dbDir.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, DBFileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: database at %s", ErrNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	-- Settings are a flat key-value table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS offers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		offer_name TEXT NOT NULL,
		external_reference TEXT NOT NULL,
		saved_by TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_offers_reference ON offers(external_reference);

	CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		filename TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		content_type TEXT,
		metadata TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Scan history stores complete scan results as JSON
	CREATE TABLE IF NOT EXISTS scan_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		found INTEGER NOT NULL,
		admitted INTEGER NOT NULL,
		topic_matches INTEGER NOT NULL,
		result_json TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_history_address ON scan_history(address);
	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON scan_history(timestamp);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Setting returns a stored value or ErrNotFound.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting writes a value, replacing any earlier one.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a value. Removing a missing key is not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// LoadFilter reads the persisted filter settings on top of defaults.
// Missing keys keep the default; VisibleLimit is never persisted.
func (s *Store) LoadFilter(ctx context.Context, defaults model.FilterState) (model.FilterState, error) {
	state := defaults

	v, err := s.Setting(ctx, KeyTopicFilter)
	switch {
	case err == nil:
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return defaults, fmt.Errorf("invalid %s setting %q: %w", KeyTopicFilter, v, perr)
		}
		state.TopicOnly = b
	case !errors.Is(err, ErrNotFound):
		return defaults, err
	}

	v, err = s.Setting(ctx, KeyMinActiveCount)
	switch {
	case err == nil:
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return defaults, fmt.Errorf("invalid %s setting %q: %w", KeyMinActiveCount, v, perr)
		}
		state.MinActiveCount = n
	case !errors.Is(err, ErrNotFound):
		return defaults, err
	}
	return state, nil
}

// SaveFilter persists the topic and minimum active count settings.
func (s *Store) SaveFilter(ctx context.Context, state model.FilterState) error {
	if err := s.SetSetting(ctx, KeyTopicFilter, strconv.FormatBool(state.TopicOnly)); err != nil {
		return err
	}
	return s.SetSetting(ctx, KeyMinActiveCount, strconv.Itoa(state.MinActiveCount))
}

// Auth is the externally owned login state.
type Auth struct {
	AccessToken string
	UserEmail   string
}

// LoggedIn reports whether a token is present.
func (a Auth) LoggedIn() bool {
	return a.AccessToken != ""
}

// LoadAuth reads the login state. A missing login is not an error.
func (s *Store) LoadAuth(ctx context.Context) (Auth, error) {
	var auth Auth
	for key, dst := range map[string]*string{
		KeyAccessToken: &auth.AccessToken,
		KeyUserEmail:   &auth.UserEmail,
	} {
		v, err := s.Setting(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Auth{}, err
		}
		*dst = v
	}
	return auth, nil
}

// SaveAuth writes the login state. An empty token logs out.
func (s *Store) SaveAuth(ctx context.Context, auth Auth) error {
	if auth.AccessToken == "" {
		if err := s.DeleteSetting(ctx, KeyAccessToken); err != nil {
			return err
		}
		return s.DeleteSetting(ctx, KeyUserEmail)
	}
	if err := s.SetSetting(ctx, KeyAccessToken, auth.AccessToken); err != nil {
		return err
	}
	return s.SetSetting(ctx, KeyUserEmail, auth.UserEmail)
}
