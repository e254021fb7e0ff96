package models

// SourceCache and SourceFresh identify whether a response was served from
// the durable cache or computed from the upstream collaborators.
const (
	SourceCache = "cache"
	SourceFresh = "freshly-fetched"
)

type TimelineResponse struct {
	Extract        string          `json:"extract"`
	TimelineEvents []TimelineEvent `json:"timelineEvents"`
	Images         []Image         `json:"images"`
	Source         string          `json:"source"`
}

type HistoryItem struct {
	Query     string `json:"query"`
	SearchID  uint   `json:"search_id"`
	CreatedAt string `json:"created_at"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}
