package dataset

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/RyanBlaney/catvid/logging"
)

// Cache stores extracted feature vectors keyed by file content and feature
// version, so retraining skips unchanged recordings. Safe for concurrent use.
type Cache struct {
	db     *sql.DB
	logger logging.Logger
}

// ContentHash is the cache key of a file's bytes
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// OpenCache opens (creating if needed) the sqlite cache at path
func OpenCache(ctx context.Context, path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time keeps sqlite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	c := &Cache{
		db: db,
		logger: logging.WithFields(logging.Fields{
			"component": "feature_cache",
			"path":      path,
		}),
	}
	if err := c.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS features (
    content_hash TEXT NOT NULL,
    feature_version TEXT NOT NULL,
    vector BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (content_hash, feature_version)
);
`
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

// Get returns the cached vector, if any
func (c *Cache) Get(ctx context.Context, hash, featureVersion string) ([]float64, bool, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT vector FROM features WHERE content_hash = ? AND feature_version = ?`,
		hash, featureVersion).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}

	var vector []float64
	if err := msgpack.Unmarshal(blob, &vector); err != nil {
		c.logger.Warn("Discarding corrupt cache entry", logging.Fields{"content_hash": hash})
		return nil, false, nil
	}
	return vector, true, nil
}

// Put stores vector, replacing any previous entry for the same key
func (c *Cache) Put(ctx context.Context, hash, featureVersion string, vector []float64) error {
	blob, err := msgpack.Marshal(vector)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO features(content_hash, feature_version, vector, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(content_hash, feature_version) DO UPDATE SET vector=excluded.vector, created_at=excluded.created_at`,
		hash, featureVersion, blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Prune deletes entries computed with any other feature version
func (c *Cache) Prune(ctx context.Context, keepVersion string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM features WHERE feature_version <> ?`, keepVersion)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	return res.RowsAffected()
}

// Len counts cached vectors
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM features`).Scan(&n)
	return n, err
}

// Close releases the database
func (c *Cache) Close() error {
	return c.db.Close()
}
