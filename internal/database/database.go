package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

var ErrUploadNotFound = errors.New("upload not found")

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// SaveUpload records a pinned artifact. Saving a CID twice keeps the
	// first record.
	SaveUpload(ctx context.Context, upload *models.Upload) error
	FindUpload(ctx context.Context, cid string) (models.Upload, error)
	ListUploads(ctx context.Context, kind string, limit int) ([]models.Upload, error)
	CountUploads(ctx context.Context) (map[string]int64, error)
}

type service struct {
	db *gorm.DB
}

func New(dsn string) (Service, error) {
	gormLogger := logger.New(
		&log.Logger,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	log.Info().Msg("Database connected successfully")

	if err := db.AutoMigrate(&models.Upload{}); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &service{db: db}, nil
}

func (s *service) SaveUpload(ctx context.Context, upload *models.Upload) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "cid"}}, DoNothing: true}).
		Create(upload).Error
	if err != nil {
		return fmt.Errorf("error saving upload %s: %w", upload.CID, err)
	}
	return nil
}

func (s *service) FindUpload(ctx context.Context, cid string) (models.Upload, error) {
	var upload models.Upload
	err := s.db.WithContext(ctx).Where("cid = ?", cid).First(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Upload{}, fmt.Errorf("%s: %w", cid, ErrUploadNotFound)
	}
	if err != nil {
		return models.Upload{}, err
	}
	return upload, nil
}

// ListUploads returns the newest uploads first. An empty kind matches all.
func (s *service) ListUploads(ctx context.Context, kind string, limit int) ([]models.Upload, error) {
	tx := s.db.WithContext(ctx).Order("created_at desc, id desc")
	if kind != "" {
		tx = tx.Where("kind = ?", kind)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var uploads []models.Upload
	if err := tx.Find(&uploads).Error; err != nil {
		return nil, err
	}
	return uploads, nil
}

func (s *service) CountUploads(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Kind  string
		Count int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Select("kind, count(*) as count").
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Kind] = row.Count
	}
	return counts, nil
}

// Health checks the health of the database connection by pinging the database.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats := make(map[string]string)

	sqlDB, err := s.db.DB()
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db error: %v", err)
		return stats
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := sqlDB.Stats()
	stats["open_connections"] = fmt.Sprintf("%d", dbStats.OpenConnections)
	stats["in_use"] = fmt.Sprintf("%d", dbStats.InUse)
	stats["idle"] = fmt.Sprintf("%d", dbStats.Idle)

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	log.Info().Msg("Disconnected from database")
	return sqlDB.Close()
}
