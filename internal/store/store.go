package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"chatsync/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable is returned by every operation when the store could not be
// opened on this runtime target. Consumers must treat it as a first-class
// state and degrade to network-only behavior.
var ErrUnavailable = errors.New("local store unavailable")

// Store is the durable local cache: messages, transactions, interaction
// membership, and the outbound queue. All writes are upsert-by-id so
// interleaved writers converge.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

func Open(dbPath string, logger *logrus.Logger) (*Store, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}
	if logger == nil {
		logger = logrus.New()
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// available guards every operation; it is safe on a nil receiver so a
// degraded process can carry a nil *Store around.
func (s *Store) available() error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	return nil
}

// Available reports whether the store can serve reads and writes.
func (s *Store) Available() bool {
	return s.available() == nil
}

func (s *Store) Close() error {
	if err := s.available(); err != nil {
		return nil
	}
	return s.db.Close()
}
