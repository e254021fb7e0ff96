package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/historyflow/backend/internal/sources"
	"github.com/sirupsen/logrus"
)

// Client fetches plain-text article extracts from the MediaWiki action API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type queryResponse struct {
	Query struct {
		Pages map[string]page `json:"pages"`
	} `json:"query"`
}

type page struct {
	Title   string  `json:"title"`
	Extract string  `json:"extract"`
	Missing *string `json:"missing"`
}

// FetchArticleText looks the topic up and returns its full plain-text
// extract. A page the wiki does not know is reported as Found=false; only
// transport/API trouble is an error.
func (c *Client) FetchArticleText(ctx context.Context, topic string) (sources.Article, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("action", "query")
	params.Set("prop", "extracts")
	params.Set("titles", topic)
	params.Set("explaintext", "1")
	params.Set("redirects", "1")

	endpoint := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return sources.Article{}, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"topic": topic,
		"url":   c.baseURL,
	}).Debug("Fetching Wikipedia extract")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sources.Article{}, fmt.Errorf("wikipedia request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sources.Article{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return sources.Article{}, fmt.Errorf("wikipedia API failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed queryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return sources.Article{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	for _, p := range parsed.Query.Pages {
		if p.Missing != nil {
			c.logger.WithField("topic", topic).Debug("No Wikipedia page for topic")
			return sources.Article{Found: false}, nil
		}
		return sources.Article{Found: true, Text: p.Extract}, nil
	}

	// The API answered but named no page at all; treat it as a miss.
	return sources.Article{Found: false}, nil
}
