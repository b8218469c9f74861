// SQLite-backed implementation (pure Go driver). All namespaces share one
// records table with a composite primary key, which keeps the database a
// single portable file.
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Record is a single stored entry. Value is kept as a JSON column because
// every payload this layer persists (chat records, version counter) is a
// JSON document.
type Record struct {
	Namespace string         `gorm:"primaryKey;type:varchar(64)"`
	Key       string         `gorm:"primaryKey;type:varchar(128)"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName returns the database table name for Record.
func (Record) TableName() string { return "records" }

// DB owns the SQLite database handle and hands out namespaced Store views.
type DB struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path, applies PRAGMAs and
// ensures the records table exists.
func Open(path string) (*DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite
	// "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}

	return &DB{db: db}, nil
}

// Namespace returns a Store view scoped to the given namespace.
func (d *DB) Namespace(name string) Store {
	return &sqliteStore{db: d.db, ns: name}
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqliteStore struct {
	db *gorm.DB
	ns string
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", s.ns, key).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(rec.Value), nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, value []byte) error {
	rec := Record{
		Namespace: s.ns,
		Key:       key,
		Value:     datatypes.JSON(value),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&rec).Error
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	// Deleting an absent key is a no-op, matching the contract.
	return s.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", s.ns, key).
		Delete(&Record{}).Error
}

func (s *sqliteStore) Iterate(ctx context.Context, visit func(key string, value []byte) error) error {
	// Snapshot the rows first so visitors may issue Puts against the same
	// namespace without interleaving with the read.
	var recs []Record
	if err := s.db.WithContext(ctx).
		Where("namespace = ?", s.ns).
		Find(&recs).Error; err != nil {
		return err
	}
	for _, rec := range recs {
		if err := visit(rec.Key, []byte(rec.Value)); err != nil {
			return err
		}
	}
	return nil
}
