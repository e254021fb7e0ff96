// backend/internal/services/enrichment.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/historyflow/backend/internal/chronology"
	"github.com/historyflow/backend/internal/models"
	"github.com/historyflow/backend/internal/retry"
	"github.com/historyflow/backend/internal/sources"
	"github.com/sirupsen/logrus"
)

var (
	// ErrEmptyQuery rejects a request before any external call is made.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrUpstreamUnavailable means the text source exhausted its retries.
	ErrUpstreamUnavailable = errors.New("text source unavailable")
	// ErrStorageUnavailable means the timeline store cannot be reached;
	// the request cannot proceed without a place to persist results.
	ErrStorageUnavailable = errors.New("timeline store unavailable")
)

// Collaborator roles the orchestrator composes. Concrete providers live in
// internal/sources; tests substitute fakes.
type TextSource interface {
	FetchArticleText(ctx context.Context, topic string) (sources.Article, error)
}

type EventExtractor interface {
	ExtractEvents(ctx context.Context, text string) ([]models.TimelineEvent, error)
}

type ImageSearcher interface {
	SearchImages(ctx context.Context, topic string) ([]models.Image, error)
}

// HotCache is the optional Redis layer in front of the durable store.
type HotCache interface {
	CacheTimelineRecord(ctx context.Context, query string, record *models.CachedTimeline, expiration time.Duration) error
	GetCachedTimelineRecord(ctx context.Context, query string) (*models.CachedTimeline, error)
}

// SearchInput carries one enrichment request. Nil year bounds mean "no
// bound supplied"; an empty UserID skips the history ledger.
type SearchInput struct {
	Query     string
	StartYear *int
	EndYear   *int
	UserID    string
}

type EnrichmentService struct {
	textSource     TextSource
	extractor      EventExtractor
	imageSearcher  ImageSearcher
	timelines      models.TimelineRepository
	history        models.SearchHistoryRepository
	hotCache       HotCache
	retryCfg       retry.Config
	adapterTimeout time.Duration
	cacheTimeout   time.Duration
	cacheTTL       time.Duration
	logger         *logrus.Logger
}

func NewEnrichmentService(
	textSource TextSource,
	extractor EventExtractor,
	imageSearcher ImageSearcher,
	timelines models.TimelineRepository,
	history models.SearchHistoryRepository,
	hotCache HotCache,
	retryCfg retry.Config,
	adapterTimeout time.Duration,
	cacheTimeout time.Duration,
	cacheTTL time.Duration,
	logger *logrus.Logger,
) *EnrichmentService {
	return &EnrichmentService{
		textSource:     textSource,
		extractor:      extractor,
		imageSearcher:  imageSearcher,
		timelines:      timelines,
		history:        history,
		hotCache:       hotCache,
		retryCfg:       retryCfg,
		adapterTimeout: adapterTimeout,
		cacheTimeout:   cacheTimeout,
		cacheTTL:       cacheTTL,
		logger:         logger,
	}
}

// NormalizeQuery derives the cache identity from a raw search string.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Search runs the full enrichment pipeline for one request: cache lookup,
// on miss fetch text, extract events and images, normalize, persist, then
// project the stored record through the requested year window.
func (s *EnrichmentService) Search(ctx context.Context, in SearchInput) (*models.TimelineResponse, error) {
	key := NormalizeQuery(in.Query)
	if key == "" {
		return nil, ErrEmptyQuery
	}

	log := s.logger.WithField("query", key)

	if record := s.probeHotCache(ctx, key); record != nil {
		log.Debug("Timeline served from hot cache")
		s.recordHistory(ctx, in.UserID, key, record.ID)
		return s.buildResponse(record, in, models.SourceCache), nil
	}

	record, err := s.findRecord(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if record != nil {
		log.Debug("Timeline served from cache")
		s.storeHotCache(ctx, key, record)
		s.recordHistory(ctx, in.UserID, key, record.ID)
		return s.buildResponse(record, in, models.SourceCache), nil
	}

	log.Info("Cache miss, enriching query")

	var article sources.Article
	err = retry.Do(ctx, s.logger, s.retryCfg, "fetch article text", func() error {
		actx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
		defer cancel()
		var ferr error
		article, ferr = s.textSource.FetchArticleText(actx, key)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	record = &models.CachedTimeline{
		Query:  key,
		Events: models.EventList{},
		Images: models.ImageList{},
	}

	if !article.Found {
		// "Not found" is a valid, cacheable answer, not an error.
		record.FullText = fmt.Sprintf("No exact match found on Wikipedia for %q.", in.Query)
	} else {
		record.FullText = article.Text
		if record.FullText == "" {
			record.FullText = fmt.Sprintf("No extract available from Wikipedia for %q.", in.Query)
		}

		events, images := s.fanOut(ctx, key, article.Text)
		chronology.SortEvents(events)
		record.Events = models.EventList(chronology.DropUndated(events))
		record.Images = models.ImageList(images)
	}

	persisted, source, err := s.persist(ctx, key, record, in.UserID)
	if err != nil {
		return nil, err
	}

	s.storeHotCache(ctx, key, persisted)

	log.WithFields(logrus.Fields{
		"events": len(persisted.Events),
		"images": len(persisted.Images),
		"source": source,
	}).Info("Enrichment completed")

	return s.buildResponse(persisted, in, source), nil
}

// fanOut runs event extraction and image search concurrently. Either
// collaborator failing degrades to an empty list; neither aborts the
// request.
func (s *EnrichmentService) fanOut(ctx context.Context, topic, text string) ([]models.TimelineEvent, []models.Image) {
	var (
		wg     sync.WaitGroup
		events []models.TimelineEvent
		images []models.Image
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		err := retry.Do(ctx, s.logger, s.retryCfg, "extract events", func() error {
			actx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
			defer cancel()
			var ferr error
			events, ferr = s.extractor.ExtractEvents(actx, text)
			return ferr
		})
		if err != nil {
			s.logger.WithError(err).WithField("topic", topic).Warn("Event extraction failed, continuing without events")
			events = nil
		}
	}()

	go func() {
		defer wg.Done()
		err := retry.Do(ctx, s.logger, s.retryCfg, "search images", func() error {
			actx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
			defer cancel()
			var ferr error
			images, ferr = s.imageSearcher.SearchImages(actx, topic)
			return ferr
		})
		if err != nil {
			s.logger.WithError(err).WithField("topic", topic).Warn("Image search failed, continuing without images")
			images = nil
		}
	}()

	wg.Wait()

	if events == nil {
		events = []models.TimelineEvent{}
	}
	if images == nil {
		images = []models.Image{}
	}
	return events, images
}

// persist inserts the freshly computed record. Losing the unique-key race
// to a concurrent identical request is resolved by re-reading the winner,
// never surfaced to the caller.
func (s *EnrichmentService) persist(ctx context.Context, key string, record *models.CachedTimeline, userID string) (*models.CachedTimeline, string, error) {
	var duplicate bool

	err := retry.Do(ctx, s.logger, s.retryCfg, "persist timeline", func() error {
		cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
		defer cancel()
		err := s.timelines.CreateWithHistory(cctx, record, userID)
		if errors.Is(err, models.ErrDuplicateQuery) {
			duplicate = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if !duplicate {
		return record, models.SourceFresh, nil
	}

	s.logger.WithField("query", key).Debug("Lost insert race, reading winning record")

	winner, err := s.findRecord(ctx, key)
	if err != nil || winner == nil {
		return nil, "", fmt.Errorf("%w: record vanished after duplicate-key race", ErrStorageUnavailable)
	}

	// The losing request still counts as a search for its user.
	s.recordHistory(ctx, userID, key, winner.ID)

	return winner, models.SourceCache, nil
}

func (s *EnrichmentService) findRecord(ctx context.Context, key string) (*models.CachedTimeline, error) {
	var record *models.CachedTimeline
	err := retry.Do(ctx, s.logger, s.retryCfg, "timeline lookup", func() error {
		cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
		defer cancel()
		var ferr error
		record, ferr = s.timelines.FindByQuery(cctx, key)
		return ferr
	})
	return record, err
}

func (s *EnrichmentService) probeHotCache(ctx context.Context, key string) *models.CachedTimeline {
	if s.hotCache == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()

	record, err := s.hotCache.GetCachedTimelineRecord(cctx, key)
	if err != nil {
		return nil
	}
	return record
}

func (s *EnrichmentService) storeHotCache(ctx context.Context, key string, record *models.CachedTimeline) {
	if s.hotCache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()

	if err := s.hotCache.CacheTimelineRecord(cctx, key, record, s.cacheTTL); err != nil {
		s.logger.WithError(err).Warn("Failed to cache timeline record in Redis")
	}
}

func (s *EnrichmentService) recordHistory(ctx context.Context, userID, query string, timelineID uint) {
	if userID == "" || s.history == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()

	if err := s.history.Append(cctx, userID, query, timelineID); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"query":   query,
		}).Warn("Failed to append search history entry")
	}
}

// buildResponse projects the stored record through the requested year
// window. The record itself is never range-filtered; filtering is always a
// read-time projection.
func (s *EnrichmentService) buildResponse(record *models.CachedTimeline, in SearchInput, source string) *models.TimelineResponse {
	events := []models.TimelineEvent(record.Events)
	if start, end, ok := chronology.EffectiveRange(in.StartYear, in.EndYear); ok {
		events = chronology.FilterByRange(events, start, end)
	}

	images := []models.Image(record.Images)
	if images == nil {
		images = []models.Image{}
	}

	return &models.TimelineResponse{
		Extract:        record.FullText,
		TimelineEvents: events,
		Images:         images,
		Source:         source,
	}
}

// ListRecentSearches exposes the cached records feed.
func (s *EnrichmentService) ListRecentSearches(ctx context.Context, limit int) ([]models.CachedTimeline, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()

	records, err := s.timelines.ListRecent(cctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return records, nil
}
