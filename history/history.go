// Package history - Optional sqlite log of detection requests.
package history

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/common"
)

// DefaultLimit is the number of records Recent returns when asked for none.
const DefaultLimit = 50

// MaxLimit caps Recent.
const MaxLimit = 1000

// Detection is one stored detection.
type Detection struct {
	Class      string     `json:"class"`
	ClassID    int        `json:"class_id"`
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"`
}

// Record is one processed upload.
type Record struct {
	ID            int64         `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	Digest        string        `json:"digest"`
	Format        string        `json:"format"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	Threshold     float32       `json:"threshold"`
	SavedFilename string        `json:"saved_filename,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	Detections    []Detection   `json:"detections"`
}

// FromDetections converts pipeline detections for storage.
func FromDetections(dets []common.Detection) []Detection {
	out := make([]Detection, len(dets))
	for i, d := range dets {
		out[i] = Detection{Class: d.Label, ClassID: d.ClassID, Confidence: d.Confidence, BBox: d.BBox()}
	}
	return out
}

// DB wraps the SQLite database connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New opens or creates the database at path and migrates it.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		digest TEXT NOT NULL,
		format TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		threshold REAL NOT NULL,
		saved_filename TEXT NOT NULL DEFAULT '',
		duration_ns INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL,
		class TEXT NOT NULL,
		class_id INTEGER NOT NULL,
		confidence REAL NOT NULL,
		x1 REAL NOT NULL,
		y1 REAL NOT NULL,
		x2 REAL NOT NULL,
		y2 REAL NOT NULL,
		FOREIGN KEY (request_id) REFERENCES requests(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at);
	CREATE INDEX IF NOT EXISTS idx_detections_request_id ON detections(request_id);
	CREATE INDEX IF NOT EXISTS idx_detections_class ON detections(class);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Insert stores rec and its detections in one transaction.
//
// Returns:
//   - int64: The new record id.
//   - error: If the transaction fails. Nothing is stored then.
func (db *DB) Insert(ctx context.Context, rec Record) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO requests (created_at, digest, format, width, height, threshold, saved_filename, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.CreatedAt.UTC(), rec.Digest, rec.Format, rec.Width, rec.Height, rec.Threshold, rec.SavedFilename, int64(rec.Duration))
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert request")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get last insert id")
	}

	if err := insertDetections(ctx, tx, id, rec.Detections); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit")
	}
	return id, nil
}

func insertDetections(ctx context.Context, tx *sql.Tx, requestID int64, dets []Detection) error {
	if len(dets) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (request_id, class, class_id, confidence, x1, y1, x2, y2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare statement")
	}
	defer stmt.Close()

	for _, d := range dets {
		if _, err := stmt.ExecContext(ctx, requestID, d.Class, d.ClassID, d.Confidence,
			d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]); err != nil {
			return errors.Wrap(err, "failed to insert detection")
		}
	}
	return nil
}

// Recent returns the newest records first.
//
// Arguments:
//   - limit: The number of records. Non-positive means DefaultLimit; values
//     above MaxLimit are capped.
func (db *DB) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	db.mu.RLock()
	defer db.mu.RUnlock()

	records, err := db.requests(ctx, limit)
	if err != nil {
		return nil, err
	}

	// The connection is free again once the request rows are closed.
	for i := range records {
		dets, err := db.detections(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Detections = dets
	}
	return records, nil
}

func (db *DB) requests(ctx context.Context, limit int) ([]Record, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, created_at, digest, format, width, height, threshold, saved_filename, duration_ns
		FROM requests ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query requests")
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec      Record
			duration int64
		)
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.Digest, &rec.Format, &rec.Width, &rec.Height,
			&rec.Threshold, &rec.SavedFilename, &duration); err != nil {
			return nil, errors.Wrap(err, "failed to scan request")
		}
		rec.Duration = time.Duration(duration)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (db *DB) detections(ctx context.Context, requestID int64) ([]Detection, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT class, class_id, confidence, x1, y1, x2, y2
		FROM detections WHERE request_id = ? ORDER BY id
	`, requestID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query detections")
	}
	defer rows.Close()

	dets := []Detection{}
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.Class, &d.ClassID, &d.Confidence, &d.BBox[0], &d.BBox[1], &d.BBox[2], &d.BBox[3]); err != nil {
			return nil, errors.Wrap(err, "failed to scan detection")
		}
		dets = append(dets, d)
	}
	return dets, rows.Err()
}

// Count returns how many records are stored.
func (db *DB) Count(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count requests")
	}
	return n, nil
}
