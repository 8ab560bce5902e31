// Package flightlog implements the black-box recorder described in
// SPEC_FULL.md §3: a local sqlite store for state-transition, target and
// position-sample events, with each event's detail payload optionally
// sealed at rest, plus a best-effort MQTT mirror for ground stations.
package flightlog

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dronecore/dronenav/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
)

// EventKind discriminates the kind of record written to the log.
type EventKind string

const (
	// EventTransition records a position-control state change.
	EventTransition EventKind = "transition"
	// EventTarget records a target acceptance or abort request.
	EventTarget EventKind = "target"
	// EventPosition records a periodic position sample.
	EventPosition EventKind = "position"
)

// Event is one black-box record. Detail is an opaque, event-specific
// JSON payload (e.g. the target's lat/lon, or the old/new state names).
type Event struct {
	ID        int64
	MissionID string
	Kind      EventKind
	Detail    json.RawMessage
	Timestamp time.Time
}

// Recorder persists Events to an encrypted-at-rest sqlite database.
type Recorder struct {
	db   *sql.DB
	aead cipherAEAD
	mu   sync.Mutex
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// Open opens (creating if necessary) the sqlite database at path. If
// encryptKeyHex is non-empty it must decode to a 32-byte chacha20poly1305
// key; every Detail blob is then sealed before being written and opened
// on read. An empty key disables encryption (useful for local testing).
func Open(path string, encryptKeyHex string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("flightlog: failed to open database: %w", err)
	}

	r := &Recorder{db: db}

	if encryptKeyHex != "" {
		key, err := hex.DecodeString(encryptKeyHex)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("flightlog: invalid encrypt_key_hex: %w", err)
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("flightlog: failed to init cipher: %w", err)
		}
		r.aead = aead
	}

	if err := r.init(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mission_id TEXT,
		kind TEXT NOT NULL,
		detail BLOB NOT NULL,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_mission ON events(mission_id);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("flightlog: failed to create schema: %w", err)
	}
	return nil
}

// Record writes one Event. detail is marshaled to JSON and, if
// encryption is enabled, sealed with a fresh random nonce prepended to
// the ciphertext.
func (r *Recorder) Record(missionID string, kind EventKind, detail interface{}) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("flightlog: failed to marshal detail: %w", err)
	}

	blob, err := r.seal(raw)
	if err != nil {
		return fmt.Errorf("flightlog: failed to seal detail: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.db.Exec(
		`INSERT INTO events (mission_id, kind, detail) VALUES (?, ?, ?)`,
		missionID, string(kind), blob,
	)
	if err != nil {
		return fmt.Errorf("flightlog: failed to insert event: %w", err)
	}
	return nil
}

func (r *Recorder) seal(plaintext []byte) ([]byte, error) {
	if r.aead == nil {
		return plaintext, nil
	}
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return r.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (r *Recorder) open(blob []byte) ([]byte, error) {
	if r.aead == nil {
		return blob, nil
	}
	n := r.aead.NonceSize()
	if len(blob) < n {
		return nil, fmt.Errorf("flightlog: ciphertext shorter than nonce")
	}
	nonce, ciphertext := blob[:n], blob[n:]
	return r.aead.Open(nil, nonce, ciphertext, nil)
}

// Recent returns up to limit most recent events, newest first.
func (r *Recorder) Recent(limit int) ([]Event, error) {
	rows, err := r.db.Query(
		`SELECT id, mission_id, kind, detail, recorded_at FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("flightlog: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e    Event
			blob []byte
		)
		if err := rows.Scan(&e.ID, &e.MissionID, &e.Kind, &blob, &e.Timestamp); err != nil {
			logger.WithComponent("flightlog").Warn("failed to scan event row", zap.Error(err))
			continue
		}
		plain, err := r.open(blob)
		if err != nil {
			logger.WithComponent("flightlog").Warn("failed to decrypt event", zap.Error(err))
			continue
		}
		e.Detail = plain
		events = append(events, e)
	}
	return events, nil
}

// Close releases the underlying database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}
