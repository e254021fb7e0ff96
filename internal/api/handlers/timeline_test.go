package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/historyflow/backend/internal/models"
	"github.com/historyflow/backend/internal/retry"
	"github.com/historyflow/backend/internal/services"
	"github.com/historyflow/backend/internal/sources"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- collaborator fakes ----

type stubTextSource struct {
	article sources.Article
	err     error
}

func (s *stubTextSource) FetchArticleText(ctx context.Context, topic string) (sources.Article, error) {
	if s.err != nil {
		return sources.Article{}, s.err
	}
	return s.article, nil
}

type stubExtractor struct {
	events []models.TimelineEvent
}

func (s *stubExtractor) ExtractEvents(ctx context.Context, text string) ([]models.TimelineEvent, error) {
	return s.events, nil
}

type stubImageSearcher struct {
	images []models.Image
}

func (s *stubImageSearcher) SearchImages(ctx context.Context, topic string) ([]models.Image, error) {
	return s.images, nil
}

type memTimelineRepo struct {
	mu      sync.Mutex
	records map[string]*models.CachedTimeline
	history *memHistoryRepo
	nextID  uint
}

func (m *memTimelineRepo) FindByQuery(ctx context.Context, query string) (*models.CachedTimeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[query]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (m *memTimelineRepo) Create(ctx context.Context, record *models.CachedTimeline) error {
	return m.CreateWithHistory(ctx, record, "")
}

func (m *memTimelineRepo) CreateWithHistory(ctx context.Context, record *models.CachedTimeline, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[record.Query]; exists {
		return models.ErrDuplicateQuery
	}
	record.ID = m.nextID
	m.nextID++
	copied := *record
	m.records[record.Query] = &copied
	if userID != "" {
		m.history.entries = append(m.history.entries, models.SearchHistoryEntry{
			UserID:     userID,
			Query:      record.Query,
			TimelineID: record.ID,
		})
	}
	return nil
}

func (m *memTimelineRepo) ListRecent(ctx context.Context, limit int) ([]models.CachedTimeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CachedTimeline, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, *record)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memHistoryRepo struct {
	mu      sync.Mutex
	entries []models.SearchHistoryEntry
}

func (m *memHistoryRepo) Append(ctx context.Context, userID, query string, timelineID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, models.SearchHistoryEntry{
		UserID:     userID,
		Query:      query,
		TimelineID: timelineID,
	})
	return nil
}

func (m *memHistoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.SearchHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []models.SearchHistoryEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

type memSearchLogRepo struct {
	mu   sync.Mutex
	logs []models.SearchLog
}

func (m *memSearchLogRepo) Create(log *models.SearchLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *log)
	return nil
}

func (m *memSearchLogRepo) GetRecent(limit int) ([]models.SearchLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.logs) {
		limit = len(m.logs)
	}
	return append([]models.SearchLog{}, m.logs[len(m.logs)-limit:]...), nil
}

// ---- harness ----

func setupRouter(t *testing.T, textSource services.TextSource) (*gin.Engine, *memHistoryRepo, *memSearchLogRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	historyRepo := &memHistoryRepo{}
	logRepo := &memSearchLogRepo{}
	timelineRepo := &memTimelineRepo{
		records: make(map[string]*models.CachedTimeline),
		history: historyRepo,
		nextID:  1,
	}

	enrichment := services.NewEnrichmentService(
		textSource,
		&stubExtractor{events: []models.TimelineEvent{
			{Date: "1969", Summary: "Moon landing"},
			{Date: "1903", Summary: "First powered flight"},
		}},
		&stubImageSearcher{images: []models.Image{
			{Src: "https://images.example/a.jpg", Alt: "archive photo"},
		}},
		timelineRepo,
		historyRepo,
		nil,
		retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		time.Second, time.Second, time.Minute,
		logger,
	)
	history := services.NewHistoryService(historyRepo, logger)
	handler := NewTimelineHandler(enrichment, history, logRepo, logger)

	router := gin.New()
	api := router.Group("/api/timeline")
	{
		api.GET("/search", handler.HandleSearch)
		api.GET("/searches", handler.HandleSearches)
		api.GET("/history", handler.HandleHistory)
		api.GET("/analytics", handler.HandleAnalytics)
	}
	return router, historyRepo, logRepo
}

func workingTextSource() *stubTextSource {
	return &stubTextSource{article: sources.Article{
		Found: true,
		Text:  "A century of flight, from Kitty Hawk to the Moon.",
	}}
}

func doRequest(router *gin.Engine, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

// ---- tests ----

func TestHandleSearch_MissingQuery(t *testing.T) {
	router, _, _ := setupRouter(t, workingTextSource())

	w := doRequest(router, "/api/timeline/search", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "required")
}

func TestHandleSearch_InvalidYearParam(t *testing.T) {
	router, _, _ := setupRouter(t, workingTextSource())

	w := doRequest(router, "/api/timeline/search?q=flight&startYear=nineteen", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.Contains(t, env.Message, "startYear")
}

func TestHandleSearch_Success(t *testing.T) {
	router, _, _ := setupRouter(t, workingTextSource())

	w := doRequest(router, "/api/timeline/search?q=History+of+flight", nil)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)

	var data models.TimelineResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, models.SourceFresh, data.Source)
	assert.Equal(t, "A century of flight, from Kitty Hawk to the Moon.", data.Extract)
	require.Len(t, data.TimelineEvents, 2)
	assert.Equal(t, "1903", data.TimelineEvents[0].Date)
	assert.Equal(t, "1969", data.TimelineEvents[1].Date)
	require.Len(t, data.Images, 1)
}

func TestHandleSearch_SecondCallReportsCache(t *testing.T) {
	router, _, _ := setupRouter(t, workingTextSource())

	doRequest(router, "/api/timeline/search?q=flight", nil)
	w := doRequest(router, "/api/timeline/search?q=+FLIGHT+", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var data models.TimelineResponse
	env := decodeEnvelope(t, w)
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, models.SourceCache, data.Source)
}

func TestHandleSearch_YearWindow(t *testing.T) {
	router, _, _ := setupRouter(t, workingTextSource())

	w := doRequest(router, "/api/timeline/search?q=flight&startYear=1950&endYear=2000", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var data models.TimelineResponse
	env := decodeEnvelope(t, w)
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.TimelineEvents, 1)
	assert.Equal(t, "1969", data.TimelineEvents[0].Date)
}

func TestHandleSearch_UpstreamDown(t *testing.T) {
	router, _, _ := setupRouter(t, &stubTextSource{err: errors.New("connection refused")})

	w := doRequest(router, "/api/timeline/search?q=flight", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "Text source unavailable")
}

func TestHandleSearch_QueryTooLong(t *testing.T) {
	router, _, _ := setupRouter(t, workingTextSource())

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	w := doRequest(router, "/api/timeline/search?q="+string(long), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHistory_RequiresUserHeader(t *testing.T) {
	router, _, _ := setupRouter(t, workingTextSource())

	w := doRequest(router, "/api/timeline/history", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.Contains(t, env.Message, "X-User-ID")
}

func TestHandleHistory_ReturnsUserSearches(t *testing.T) {
	router, _, _ := setupRouter(t, workingTextSource())
	headers := map[string]string{"X-User-ID": "user-1"}

	doRequest(router, "/api/timeline/search?q=flight", headers)
	w := doRequest(router, "/api/timeline/history", headers)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	var items []models.HistoryItem
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "flight", items[0].Query)
	assert.NotZero(t, items[0].SearchID)
}

func TestHandleSearches_ReturnsRecentRecords(t *testing.T) {
	router, _, _ := setupRouter(t, workingTextSource())

	doRequest(router, "/api/timeline/search?q=flight", nil)
	w := doRequest(router, "/api/timeline/searches", nil)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	var records []models.CachedTimeline
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "flight", records[0].Query)
}

// The search log write runs off the request goroutine, so it must carry a
// snapshot of the request metadata: gin pools contexts, and touching one
// after the handler returns reads whatever request the engine reused it
// for.
func TestHandleSearch_AnalyticsUsesRequestSnapshot(t *testing.T) {
	router, _, logRepo := setupRouter(t, workingTextSource())

	agents := []string{"agent-one", "agent-two", "agent-three"}
	for _, agent := range agents {
		req := httptest.NewRequest(http.MethodGet, "/api/timeline/search?q=flight", nil)
		req.Header.Set("User-Agent", agent)
		req.RemoteAddr = "203.0.113.9:4567"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Eventually(t, func() bool {
		logs, err := logRepo.GetRecent(10)
		return err == nil && len(logs) == len(agents)
	}, time.Second, 5*time.Millisecond)

	logs, err := logRepo.GetRecent(10)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, entry := range logs {
		seen[entry.UserAgent] = true
		assert.Equal(t, "203.0.113.9", entry.IPAddress)
		assert.Equal(t, "flight", entry.QueryText)
	}
	for _, agent := range agents {
		assert.True(t, seen[agent], "missing analytics row for %s", agent)
	}
}

func TestHandleAnalytics_ReturnsRecentSearchLogs(t *testing.T) {
	router, _, logRepo := setupRouter(t, workingTextSource())

	doRequest(router, "/api/timeline/search?q=flight", nil)

	assert.Eventually(t, func() bool {
		logs, err := logRepo.GetRecent(10)
		return err == nil && len(logs) == 1
	}, time.Second, 5*time.Millisecond)

	w := doRequest(router, "/api/timeline/analytics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	var logs []models.SearchLog
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "flight", logs[0].QueryText)
	assert.False(t, logs[0].CacheHit)
}
