package models

// GORM models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrDuplicateQuery reports a unique-constraint violation on the cache
// query key. The orchestrator treats it as losing a race, not a failure.
var ErrDuplicateQuery = errors.New("timeline record already exists for query")

// TimelineEvent is a single dated entry of an enriched timeline.
type TimelineEvent struct {
	Date    string `json:"date"`
	Summary string `json:"summary"`
}

// Image is an illustrative picture attached to a cached timeline.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// EventList stores timeline events as a JSONB column.
type EventList []TimelineEvent

func (l EventList) Value() (driver.Value, error) {
	if l == nil {
		l = EventList{}
	}
	return json.Marshal(l)
}

func (l *EventList) Scan(value interface{}) error {
	if value == nil {
		*l = EventList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into EventList", value)
	}
}

// ImageList stores images as a JSONB column.
type ImageList []Image

func (l ImageList) Value() (driver.Value, error) {
	if l == nil {
		l = ImageList{}
	}
	return json.Marshal(l)
}

func (l *ImageList) Scan(value interface{}) error {
	if value == nil {
		*l = ImageList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into ImageList", value)
	}
}

// Base model with common fields
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CachedTimeline is the durable, uniquely-keyed result of a fully resolved
// enrichment for one normalized query. Rows are written once and never
// mutated or deleted by this service.
type CachedTimeline struct {
	BaseModel
	Query    string    `json:"query" gorm:"unique;not null"`
	FullText string    `json:"full_text"`
	Events   EventList `json:"timeline_events" gorm:"type:jsonb;not null;default:'[]'"`
	Images   ImageList `json:"images" gorm:"type:jsonb;not null;default:'[]'"`
}

// SearchHistoryEntry is one element of a user's capped, newest-first
// search history. Duplicate queries are allowed; each search is its own
// entry.
type SearchHistoryEntry struct {
	BaseModel
	UserID     string         `json:"user_id" gorm:"index;not null"`
	Query      string         `json:"query" gorm:"not null"`
	TimelineID uint           `json:"timeline_id" gorm:"not null"`
	Timeline   CachedTimeline `json:"-" gorm:"foreignKey:TimelineID"`
}

// SearchLog records one inbound search for analytics. Unlike the history
// ledger it is not capped and not tied to an authenticated user.
type SearchLog struct {
	BaseModel
	QueryText      string `json:"query_text" gorm:"not null"`
	UserSession    string `json:"user_session"`
	CacheHit       bool   `json:"cache_hit"`
	EventCount     int    `json:"event_count" gorm:"default:0"`
	ResponseTimeMs int    `json:"response_time_ms"`
	UserAgent      string `json:"user_agent"`
	IPAddress      string `json:"ip_address" gorm:"type:inet"`
}

// SystemHealth represents service health monitoring
type SystemHealth struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ServiceName    string    `json:"service_name" gorm:"not null"`
	Status         string    `json:"status" gorm:"not null;check:status IN ('healthy','degraded','unhealthy')"`
	ResponseTimeMs int       `json:"response_time_ms"`
	ErrorMessage   string    `json:"error_message"`
	CheckedAt      time.Time `json:"checked_at" gorm:"default:NOW()"`
}

// Database interfaces for repository pattern
type TimelineRepository interface {
	// FindByQuery returns (nil, nil) when no record exists for the
	// normalized query.
	FindByQuery(ctx context.Context, query string) (*CachedTimeline, error)
	// Create reports ErrDuplicateQuery when another request already
	// persisted the same query, distinct from other storage errors.
	Create(ctx context.Context, record *CachedTimeline) error
	// CreateWithHistory persists the record and, when userID is non-empty,
	// appends the history entry inside the same transaction.
	CreateWithHistory(ctx context.Context, record *CachedTimeline, userID string) error
	ListRecent(ctx context.Context, limit int) ([]CachedTimeline, error)
}

type SearchHistoryRepository interface {
	// Append atomically pushes an entry and trims the user's history to
	// the cap.
	Append(ctx context.Context, userID, query string, timelineID uint) error
	ListByUser(ctx context.Context, userID string, limit int) ([]SearchHistoryEntry, error)
}

type SearchLogRepository interface {
	Create(log *SearchLog) error
	GetRecent(limit int) ([]SearchLog, error)
}

type SystemHealthRepository interface {
	UpdateServiceHealth(serviceName, status string, responseTime int, errorMsg string) error
	GetServiceHealth(serviceName string) (*SystemHealth, error)
	GetAllServicesHealth() ([]SystemHealth, error)
}

// TableName methods for custom table names
func (CachedTimeline) TableName() string     { return "cached_timelines" }
func (SearchHistoryEntry) TableName() string { return "search_history" }
func (SearchLog) TableName() string          { return "search_logs" }
func (SystemHealth) TableName() string       { return "system_health" }

// Model validation methods
func (ct *CachedTimeline) Validate() error {
	if ct.Query == "" {
		return fmt.Errorf("query is required")
	}
	return nil
}

func (e *SearchHistoryEntry) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if e.TimelineID == 0 {
		return fmt.Errorf("timeline reference is required")
	}
	return nil
}

// GORM hooks
func (ct *CachedTimeline) BeforeCreate(tx *gorm.DB) error {
	return ct.Validate()
}

func (e *SearchHistoryEntry) BeforeCreate(tx *gorm.DB) error {
	return e.Validate()
}
