package workspace

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const createFilesTable = `CREATE TABLE IF NOT EXISTS workspace_files (
	path TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	modified_at INTEGER NOT NULL
)`

// SQLiteStore keeps workspace files in a single SQLite table. It backs the
// "sqlite" workspace driver setting.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open workspace db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping workspace db: %w", err)
	}
	if _, err := db.Exec(createFilesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("init workspace db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Read(p string) (string, error) {
	rel, err := Normalize(p)
	if err != nil {
		return "", err
	}
	var content string
	err = s.db.QueryRow("SELECT content FROM workspace_files WHERE path = ?", rel).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

func (s *SQLiteStore) Write(p, content string) error {
	rel, err := Normalize(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO workspace_files (path, content, modified_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET content = excluded.content, modified_at = excluded.modified_at`,
		rel, content, time.Now().UTC().UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) Delete(p string) error {
	rel, err := Normalize(p)
	if err != nil {
		return err
	}
	res, err := s.db.Exec("DELETE FROM workspace_files WHERE path = ?", rel)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(dir string) ([]Entry, error) {
	rel, err := NormalizeDir(dir)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query("SELECT path, length(content), modified_at FROM workspace_files")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var entry Entry
		var modifiedMillis int64
		if err := rows.Scan(&entry.Path, &entry.Size, &modifiedMillis); err != nil {
			return nil, err
		}
		if rel != "" && !strings.HasPrefix(entry.Path, rel+"/") {
			continue
		}
		entry.ModifiedAt = time.UnixMilli(modifiedMillis).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (s *SQLiteStore) Exists(p string) (bool, error) {
	rel, err := Normalize(p)
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRow("SELECT 1 FROM workspace_files WHERE path = ?", rel).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec("DELETE FROM workspace_files")
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
