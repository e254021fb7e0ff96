package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/historyflow/backend/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const uniqueViolationCode = "23505"

// translateDuplicate maps a Postgres unique violation onto the sentinel the
// orchestrator falls back on. Other storage errors pass through untouched.
func translateDuplicate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return models.ErrDuplicateQuery
	}
	return err
}

// TimelineRepositoryImpl implements TimelineRepository
type TimelineRepositoryImpl struct {
	db         *gorm.DB
	historyCap int
}

func NewTimelineRepository(db *gorm.DB, historyCap int) models.TimelineRepository {
	return &TimelineRepositoryImpl{db: db, historyCap: historyCap}
}

func (r *TimelineRepositoryImpl) FindByQuery(ctx context.Context, query string) (*models.CachedTimeline, error) {
	var record models.CachedTimeline
	err := r.db.WithContext(ctx).
		Where("query = ?", query).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *TimelineRepositoryImpl) Create(ctx context.Context, record *models.CachedTimeline) error {
	return translateDuplicate(r.db.WithContext(ctx).Create(record).Error)
}

func (r *TimelineRepositoryImpl) CreateWithHistory(ctx context.Context, record *models.CachedTimeline, userID string) error {
	if userID == "" {
		return r.Create(ctx, record)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return appendHistoryTx(tx, userID, record.Query, record.ID, r.historyCap)
	})
	return translateDuplicate(err)
}

func (r *TimelineRepositoryImpl) ListRecent(ctx context.Context, limit int) ([]models.CachedTimeline, error) {
	var records []models.CachedTimeline
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// SearchHistoryRepositoryImpl implements SearchHistoryRepository
type SearchHistoryRepositoryImpl struct {
	db  *gorm.DB
	cap int
}

func NewSearchHistoryRepository(db *gorm.DB, cap int) models.SearchHistoryRepository {
	return &SearchHistoryRepositoryImpl{db: db, cap: cap}
}

// Append pushes an entry and trims the user's history to the cap inside a
// single transaction. Two concurrent appends for one user may both insert
// before either trims, but each trim keeps exactly the newest cap entries,
// so the cap holds and neither entry is silently lost.
func (r *SearchHistoryRepositoryImpl) Append(ctx context.Context, userID, query string, timelineID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return appendHistoryTx(tx, userID, query, timelineID, r.cap)
	})
}

func appendHistoryTx(tx *gorm.DB, userID, query string, timelineID uint, cap int) error {
	entry := &models.SearchHistoryEntry{
		UserID:     userID,
		Query:      query,
		TimelineID: timelineID,
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	// Push-then-slice: drop everything older than the newest cap entries.
	return tx.Exec(`
		DELETE FROM search_history
		WHERE user_id = ?
		AND id NOT IN (
			SELECT id FROM search_history
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`, userID, userID, cap).Error
}

func (r *SearchHistoryRepositoryImpl) ListByUser(ctx context.Context, userID string, limit int) ([]models.SearchHistoryEntry, error) {
	if limit <= 0 || limit > r.cap {
		limit = r.cap
	}
	var entries []models.SearchHistoryEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// SearchLogRepositoryImpl implements SearchLogRepository
type SearchLogRepositoryImpl struct {
	db *gorm.DB
}

func NewSearchLogRepository(db *gorm.DB) models.SearchLogRepository {
	return &SearchLogRepositoryImpl{db: db}
}

func (r *SearchLogRepositoryImpl) Create(log *models.SearchLog) error {
	return r.db.Create(log).Error
}

func (r *SearchLogRepositoryImpl) GetRecent(limit int) ([]models.SearchLog, error) {
	var logs []models.SearchLog
	err := r.db.Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// SystemHealthRepositoryImpl implements SystemHealthRepository
type SystemHealthRepositoryImpl struct {
	db *gorm.DB
}

func NewSystemHealthRepository(db *gorm.DB) models.SystemHealthRepository {
	return &SystemHealthRepositoryImpl{db: db}
}

func (r *SystemHealthRepositoryImpl) UpdateServiceHealth(serviceName, status string, responseTime int, errorMsg string) error {
	return r.db.Exec(`
		INSERT INTO system_health (service_name, status, response_time_ms, error_message, checked_at)
		VALUES (?, ?, ?, ?, NOW())
	`, serviceName, status, responseTime, errorMsg).Error
}

func (r *SystemHealthRepositoryImpl) GetServiceHealth(serviceName string) (*models.SystemHealth, error) {
	var health models.SystemHealth
	err := r.db.Where("service_name = ?", serviceName).
		Order("checked_at DESC").
		First(&health).Error
	if err != nil {
		return nil, err
	}
	return &health, nil
}

func (r *SystemHealthRepositoryImpl) GetAllServicesHealth() ([]models.SystemHealth, error) {
	var health []models.SystemHealth
	err := r.db.Raw(`
		SELECT DISTINCT ON (service_name) *
		FROM system_health
		ORDER BY service_name, checked_at DESC
	`).Scan(&health).Error
	return health, err
}

// RepositoryManager bundles all repositories
type RepositoryManager struct {
	Timelines     models.TimelineRepository
	SearchHistory models.SearchHistoryRepository
	SearchLogs    models.SearchLogRepository
	SystemHealth  models.SystemHealthRepository
}

func NewRepositoryManager(db *gorm.DB, historyCap int) *RepositoryManager {
	return &RepositoryManager{
		Timelines:     NewTimelineRepository(db, historyCap),
		SearchHistory: NewSearchHistoryRepository(db, historyCap),
		SearchLogs:    NewSearchLogRepository(db),
		SystemHealth:  NewSystemHealthRepository(db),
	}
}
