// Package history persists scanned images and their anomalies in SQLite.
package history

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrScanNotFound is returned when a scan id does not exist.
var ErrScanNotFound = errors.New("scan not found")

// Store is the scan history repository.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path (":memory:" for a private in-memory database) and
// migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewStore(db)
}

// NewStore wraps an existing connection and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&ScanModel{}, &AnomalyModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save persists a new scan with its anomalies, filling in ID and CreatedAt.
func (s *Store) Save(ctx context.Context, scan *Scan) error {
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = time.Now().UTC()
	}

	model := ScanModelFromScan(scan)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}

	scan.ID = model.ID
	return nil
}

// List returns up to limit scans, newest first. A limit <= 0 returns every scan.
func (s *Store) List(ctx context.Context, limit int) ([]Scan, error) {
	query := s.db.WithContext(ctx).
		Preload("Anomalies", orderByPosition).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []ScanModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	scans := make([]Scan, len(models))
	for i := range models {
		scans[i] = models[i].ToScan()
	}
	return scans, nil
}

// Get retrieves a scan by id.
func (s *Store) Get(ctx context.Context, id uint) (Scan, error) {
	var model ScanModel
	if err := s.db.WithContext(ctx).Preload("Anomalies", orderByPosition).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Scan{}, ErrScanNotFound
		}
		return Scan{}, err
	}
	return model.ToScan(), nil
}

// Delete removes a scan and its anomalies.
func (s *Store) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scan_id = ?", id).Delete(&AnomalyModel{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&ScanModel{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrScanNotFound
		}
		return nil
	})
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func orderByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}
