// Package snapshotdb implements sqlite3-backed recording and replay storage
// for netctrl input snapshots and authoritative states, grounded on
// db/pdatadb's sqlite3+gzip storage shape.
package snapshotdb

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
	"github.com/klauspost/compress/gzip"
)

// DB records and replays netctrl traffic for offline debugging and
// deterministic-replay testing: every input snapshot a MasterController
// produces, and every authoritative state a ServerController broadcasts, for
// one or more characters.
type DB struct {
	x *sqlx.DB
}

// Open opens a DB from the provided sqlite3 uri, following pdatadb's WAL and
// page-size tuning for write-heavy workloads.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	if _, err := x.Exec(`PRAGMA page_size = 8192`); err != nil {
		return nil, err
	}
	return &DB{x}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.x.Close()
}

// RecordSnapshot persists a single input snapshot's payload for character,
// gzip-compressing it when doing so is smaller than storing it raw.
func (db *DB) RecordSnapshot(character string, id uint64, payload []byte) error {
	return db.record(`snapshot`, character, id, payload)
}

// RecordState persists a single authoritative state payload for character.
func (db *DB) RecordState(character string, id uint64, payload []byte) error {
	return db.record(`state`, character, id, payload)
}

func (db *DB) record(table, character string, id uint64, payload []byte) error {
	var b bytes.Buffer
	b.Grow(len(payload))

	zw := gzip.NewWriter(&b)
	if _, err := zw.Write(payload); err != nil {
		return fmt.Errorf("compress %s: %w", table, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", table, err)
	}

	comp := "gzip"
	stored := b.Bytes()
	if len(stored) >= len(payload) {
		comp = ""
		stored = payload
	}

	if _, err := db.x.NamedExec(`
		INSERT OR REPLACE INTO `+table+`s
		( character,  id,  payload_comp,  payload)
		VALUES
		(:character, :id, :payload_comp, :payload)
	`, map[string]any{
		"character":    character,
		"id":           id,
		"payload_comp": comp,
		"payload":      stored,
	}); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// GetSnapshot retrieves a recorded input snapshot payload, if present.
func (db *DB) GetSnapshot(character string, id uint64) ([]byte, bool, error) {
	return db.get(`snapshot`, character, id)
}

// GetState retrieves a recorded authoritative state payload, if present.
func (db *DB) GetState(character string, id uint64) ([]byte, bool, error) {
	return db.get(`state`, character, id)
}

func (db *DB) get(table, character string, id uint64) ([]byte, bool, error) {
	var row struct {
		PayloadComp string `db:"payload_comp"`
		Payload     []byte `db:"payload"`
	}
	if err := db.x.Get(&row, `SELECT payload_comp, payload FROM `+table+`s WHERE character = ? AND id = ?`, character, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	switch row.PayloadComp {
	case "":
		return row.Payload, true, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(row.Payload))
		if err != nil {
			return nil, false, fmt.Errorf("decompress %s: %w", table, err)
		}
		var out bytes.Buffer
		if _, err := out.ReadFrom(zr); err != nil {
			return nil, false, fmt.Errorf("decompress %s: %w", table, err)
		}
		if err := zr.Close(); err != nil {
			return nil, false, fmt.Errorf("decompress %s: %w", table, err)
		}
		return out.Bytes(), true, nil
	default:
		return nil, false, fmt.Errorf("unsupported compression method %q", row.PayloadComp)
	}
}

// ReplaySnapshots returns every recorded input snapshot for character with id
// >= from, in ascending id order, for deterministic replay.
func (db *DB) ReplaySnapshots(character string, from uint64) ([]RecordedSnapshot, error) {
	var rows []struct {
		ID          uint64 `db:"id"`
		PayloadComp string `db:"payload_comp"`
		Payload     []byte `db:"payload"`
	}
	if err := db.x.Select(&rows, `
		SELECT id, payload_comp, payload FROM snapshots
		WHERE character = ? AND id >= ?
		ORDER BY id ASC
	`, character, from); err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}

	out := make([]RecordedSnapshot, 0, len(rows))
	for _, r := range rows {
		payload, err := decompress(r.PayloadComp, r.Payload)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", r.ID, err)
		}
		out = append(out, RecordedSnapshot{ID: r.ID, Payload: payload})
	}
	return out, nil
}

// RecordedSnapshot is one entry of a ReplaySnapshots result.
type RecordedSnapshot struct {
	ID      uint64
	Payload []byte
}

func decompress(comp string, data []byte) ([]byte, error) {
	switch comp {
	case "":
		return data, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		var out bytes.Buffer
		if _, err := out.ReadFrom(zr); err != nil {
			return nil, err
		}
		return out.Bytes(), zr.Close()
	default:
		return nil, fmt.Errorf("unsupported compression method %q", comp)
	}
}
