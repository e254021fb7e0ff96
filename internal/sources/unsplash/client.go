package unsplash

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/historyflow/backend/internal/models"
	"github.com/sirupsen/logrus"
)

const perPage = 10

// Client searches Unsplash for illustrative images.
type Client struct {
	baseURL    string
	accessKey  string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL, accessKey string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		accessKey: accessKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type searchResponse struct {
	Results []photo `json:"results"`
}

type photo struct {
	URLs struct {
		Regular string `json:"regular"`
	} `json:"urls"`
	AltDescription string `json:"alt_description"`
}

// SearchImages returns up to ten images for the topic.
func (c *Client) SearchImages(ctx context.Context, topic string) ([]models.Image, error) {
	params := url.Values{}
	params.Set("query", topic)
	params.Set("per_page", fmt.Sprintf("%d", perPage))

	endpoint := fmt.Sprintf("%s/search/photos?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.accessKey)

	c.logger.WithField("topic", topic).Debug("Searching images")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("image API failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	images := make([]models.Image, 0, len(parsed.Results))
	for _, p := range parsed.Results {
		alt := p.AltDescription
		if alt == "" {
			alt = fmt.Sprintf("Image related to %s", topic)
		}
		images = append(images, models.Image{
			Src: p.URLs.Regular,
			Alt: alt,
		})
	}

	c.logger.WithFields(logrus.Fields{
		"topic":  topic,
		"images": len(images),
	}).Debug("Image search completed")

	return images, nil
}
