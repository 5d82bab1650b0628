package database

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrDuplicate is returned when an insert violates a unique key.
var ErrDuplicate = errors.New("record already exists")

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// IdentityRecord is a registered gallery identity. Embedding is nil when
// loaded through ListIdentities.
type IdentityRecord struct {
	ID        string
	Label     string
	Age       string
	Gender    string
	Crime     string
	ImagePath string
	Embedding []float32
	Backend   string
	CreatedAt time.Time
}

// UserRecord is an operator account.
type UserRecord struct {
	Username     string
	PasswordHash string
	Name         string
	Email        string
	Phone        string
	CreatedAt    time.Time
}

// AlertRecord is one dispatched alert and the per-channel delivery outcome.
type AlertRecord struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Source    string          `json:"source"`
	Label     string          `json:"name"`
	Score     float64         `json:"score"`
	Channels  map[string]bool `json:"channels"`
	CreatedAt time.Time       `json:"created_at"`
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL UNIQUE,
			age TEXT,
			gender TEXT,
			crime TEXT,
			image_path TEXT,
			embedding BLOB NOT NULL,
			backend TEXT NOT NULL,
			dim INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			name TEXT,
			email TEXT,
			phone TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT,
			label TEXT NOT NULL,
			score REAL,
			channels TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] Migrations completed")
	return nil
}

// UpsertIdentity saves an identity, replacing any existing one with the same label.
func (d *Database) UpsertIdentity(ctx context.Context, rec *IdentityRecord) error {
	query := `INSERT INTO identities (id, label, age, gender, crime, image_path, embedding, backend, dim, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(label) DO UPDATE SET
			age = excluded.age,
			gender = excluded.gender,
			crime = excluded.crime,
			image_path = excluded.image_path,
			embedding = excluded.embedding,
			backend = excluded.backend,
			dim = excluded.dim`

	_, err := d.db.ExecContext(ctx, query, rec.ID, rec.Label, rec.Age, rec.Gender, rec.Crime, rec.ImagePath,
		EncodeVector(rec.Embedding), rec.Backend, len(rec.Embedding), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// GetIdentity returns the identity with label, or nil when there is none.
func (d *Database) GetIdentity(ctx context.Context, label string) (*IdentityRecord, error) {
	query := `SELECT id, label, age, gender, crime, image_path, embedding, backend, created_at
		FROM identities WHERE label = ?`

	rec, err := scanIdentity(d.db.QueryRowContext(ctx, query, label), true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return rec, nil
}

// ListIdentities returns all identities without their embeddings, newest first.
func (d *Database) ListIdentities(ctx context.Context) ([]*IdentityRecord, error) {
	return d.queryIdentities(ctx, `SELECT id, label, age, gender, crime, image_path, NULL, backend, created_at
		FROM identities ORDER BY created_at DESC`, false)
}

// LoadEmbeddings returns all identities including their embeddings, ordered by label.
func (d *Database) LoadEmbeddings(ctx context.Context) ([]*IdentityRecord, error) {
	return d.queryIdentities(ctx, `SELECT id, label, age, gender, crime, image_path, embedding, backend, created_at
		FROM identities ORDER BY label`, true)
}

func (d *Database) queryIdentities(ctx context.Context, query string, withEmbedding bool) ([]*IdentityRecord, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var out []*IdentityRecord
	for rows.Next() {
		rec, err := scanIdentity(rows, withEmbedding)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(s scanner, withEmbedding bool) (*IdentityRecord, error) {
	var rec IdentityRecord
	var age, gender, crime, imagePath sql.NullString
	var blob []byte
	if err := s.Scan(&rec.ID, &rec.Label, &age, &gender, &crime, &imagePath, &blob, &rec.Backend, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Age, rec.Gender, rec.Crime, rec.ImagePath = age.String, gender.String, crime.String, imagePath.String
	if withEmbedding {
		vec, err := DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("identity %q: %w", rec.Label, err)
		}
		rec.Embedding = vec
	}
	return &rec, nil
}

// DeleteIdentity removes the identity with label and reports whether it existed.
func (d *Database) DeleteIdentity(ctx context.Context, label string) (bool, error) {
	res, err := d.db.ExecContext(ctx, "DELETE FROM identities WHERE label = ?", label)
	if err != nil {
		return false, fmt.Errorf("failed to delete identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete identity: %w", err)
	}
	return n > 0, nil
}

// CreateUser inserts a new user. It returns ErrDuplicate when the username is taken.
func (d *Database) CreateUser(ctx context.Context, u *UserRecord) error {
	query := `INSERT INTO users (username, password_hash, name, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query, u.Username, u.PasswordHash, u.Name, u.Email, u.Phone, u.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser returns the user with username, or nil when there is none.
func (d *Database) GetUser(ctx context.Context, username string) (*UserRecord, error) {
	query := `SELECT username, password_hash, name, email, phone, created_at FROM users WHERE username = ?`

	var u UserRecord
	var name, email, phone sql.NullString
	err := d.db.QueryRowContext(ctx, query, username).Scan(&u.Username, &u.PasswordHash, &name, &email, &phone, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Name, u.Email, u.Phone = name.String, email.String, phone.String
	return &u, nil
}

// RecordAlert stores a dispatched alert.
func (d *Database) RecordAlert(ctx context.Context, rec AlertRecord) error {
	channels, err := json.Marshal(rec.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	query := `INSERT INTO alerts (id, title, source, label, score, channels, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, query, rec.ID, rec.Title, rec.Source, rec.Label, rec.Score, string(channels), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

// ListAlerts returns up to limit alerts, newest first. A non-positive limit defaults to 100.
func (d *Database) ListAlerts(ctx context.Context, limit int) ([]*AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, title, source, label, score, channels, created_at
		FROM alerts ORDER BY created_at DESC LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*AlertRecord
	for rows.Next() {
		var rec AlertRecord
		var source, channels sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Title, &source, &rec.Label, &rec.Score, &channels, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		rec.Source = source.String
		if channels.Valid && channels.String != "" {
			if err := json.Unmarshal([]byte(channels.String), &rec.Channels); err != nil {
				return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
			}
		}
		alerts = append(alerts, &rec)
	}
	return alerts, rows.Err()
}

// EncodeVector packs v as little-endian float32s.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
