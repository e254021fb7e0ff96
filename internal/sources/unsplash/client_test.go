package unsplash

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSearchImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/photos", r.URL.Path)
		assert.Equal(t, "roman empire", r.URL.Query().Get("query"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Client-ID test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"results": [
				{"urls": {"regular": "https://images.example/colosseum.jpg"}, "alt_description": "the colosseum at dusk"},
				{"urls": {"regular": "https://images.example/forum.jpg"}, "alt_description": ""}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 5*time.Second, testLogger())

	images, err := client.SearchImages(context.Background(), "roman empire")

	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "https://images.example/colosseum.jpg", images[0].Src)
	assert.Equal(t, "the colosseum at dusk", images[0].Alt)
	assert.Equal(t, "Image related to roman empire", images[1].Alt)
}

func TestSearchImages_NoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": []}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 5*time.Second, testLogger())

	images, err := client.SearchImages(context.Background(), "anything")

	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestSearchImages_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-key", 5*time.Second, testLogger())

	_, err := client.SearchImages(context.Background(), "anything")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
