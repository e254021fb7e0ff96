package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/historyflow/backend/internal/models"
	"github.com/sirupsen/logrus"
)

const extractionPrompt = `Extract the key historical events from the following text as a JSON array.
Each element must be an object with exactly two string fields: "date" (a display date such as "1945", "July 1969" or "44 BC") and "summary" (one sentence).
Respond with the JSON array only, no prose.

Text:
`

// Client turns free text into structured timeline events using the
// generative language API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// ExtractEvents asks the model for {date, summary} candidates. An empty
// result is legitimate; the caller decides what a failure degrades to.
func (c *Client) ExtractEvents(ctx context.Context, text string) ([]models.TimelineEvent, error) {
	payload := generateRequest{
		Contents: []content{{
			Parts: []part{{Text: extractionPrompt + text}},
		}},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	c.logger.WithFields(logrus.Fields{
		"model":       c.model,
		"text_length": len(text),
	}).Debug("Requesting timeline extraction")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("extraction API failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		c.logger.Debug("Extraction returned no candidates")
		return []models.TimelineEvent{}, nil
	}

	events, err := parseEvents(parsed.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return nil, err
	}

	c.logger.WithField("events", len(events)).Debug("Timeline extraction completed")
	return events, nil
}

// parseEvents tolerates markdown fencing around the JSON array the model
// was asked for.
func parseEvents(raw string) ([]models.TimelineEvent, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var events []models.TimelineEvent
	if err := json.Unmarshal([]byte(cleaned), &events); err != nil {
		return nil, fmt.Errorf("failed to parse extracted events: %w", err)
	}
	return events, nil
}
