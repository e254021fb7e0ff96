// backend/cmd/warmcache/main.go
//
// Pre-enriches a set of topics so first visitors hit the cache. Topics come
// from -topics, or are scraped from a Wikipedia listing page (vital
// articles by default).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/debug"
	"github.com/historyflow/backend/internal/config"
	"github.com/historyflow/backend/internal/database"
	"github.com/historyflow/backend/internal/models"
	"github.com/historyflow/backend/internal/repository"
	"github.com/historyflow/backend/internal/retry"
	"github.com/historyflow/backend/internal/services"
	"github.com/historyflow/backend/internal/sources/gemini"
	"github.com/historyflow/backend/internal/sources/unsplash"
	"github.com/historyflow/backend/internal/sources/wikipedia"
	"github.com/historyflow/backend/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	topicsFlag = flag.String("topics", "", "Comma-separated topics to warm (skips scraping)")
	sourceURL  = flag.String("source-url", "https://en.wikipedia.org/wiki/Wikipedia:Vital_articles", "Listing page to scrape topics from")
	topicLimit = flag.Int("limit", 25, "Maximum number of topics to warm (0 = all)")
	dryRun     = flag.Bool("dry-run", false, "Only print the topics that would be warmed")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	concurrent = flag.Int("concurrent", 2, "Number of concurrent scrape requests")
	delay      = flag.Duration("delay", 2*time.Second, "Delay between enrichment runs")
)

// CacheWarmer drives enrichment runs for a list of topics.
type CacheWarmer struct {
	enrichment *services.EnrichmentService
	logger     *logrus.Logger
	errors     []error
}

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	logger.Info("Starting timeline cache warmer...")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	topics, err := collectTopics(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to collect topics")
	}
	if *topicLimit > 0 && len(topics) > *topicLimit {
		topics = topics[:*topicLimit]
	}

	logger.WithField("topics", len(topics)).Info("Topics collected")

	if *dryRun {
		for _, topic := range topics {
			fmt.Println(topic)
		}
		return
	}

	if err := cfg.ValidateCollaborators(); err != nil {
		logger.WithError(err).Fatal("Collaborator configuration validation failed")
	}

	dbConfig := &database.Config{
		DatabaseURL: cfg.Database.URL,
		RedisURL:    cfg.Redis.URL,
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database manager")
	}
	defer dbManager.Close()

	repoManager := repository.NewRepositoryManager(dbManager.DB, cfg.History.Cap)

	retryCfg := retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	enrichmentService := services.NewEnrichmentService(
		wikipedia.NewClient(cfg.Wikipedia.BaseURL, cfg.Timeouts.Adapter, logger),
		gemini.NewClient(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Timeouts.Adapter, logger),
		unsplash.NewClient(cfg.Unsplash.BaseURL, cfg.Unsplash.AccessKey, cfg.Timeouts.Adapter, logger),
		repoManager.Timelines,
		repoManager.SearchHistory,
		database.NewCache(dbManager.Redis, logger),
		retryCfg,
		cfg.Timeouts.Adapter,
		cfg.Timeouts.Cache,
		cfg.Cache.TTL,
		logger,
	)

	warmer := &CacheWarmer{
		enrichment: enrichmentService,
		logger:     logger,
	}

	warmer.Warm(context.Background(), topics)

	if len(warmer.errors) > 0 {
		logger.WithField("failures", len(warmer.errors)).Warn("Some topics failed to warm")
		for _, err := range warmer.errors {
			logger.WithError(err).Warn("Warm error")
		}
		os.Exit(1)
	}

	logger.Info("Cache warming completed successfully!")
}

func collectTopics(logger *logrus.Logger) ([]string, error) {
	if *topicsFlag != "" {
		var topics []string
		for _, topic := range strings.Split(*topicsFlag, ",") {
			topic = strings.TrimSpace(topic)
			if topic != "" {
				topics = append(topics, topic)
			}
		}
		return topics, nil
	}

	return scrapeTopics(logger)
}

// scrapeTopics pulls article titles from the listing page's content links.
func scrapeTopics(logger *logrus.Logger) ([]string, error) {
	c := colly.NewCollector(
		colly.UserAgent("HistoryFlow-Warmer/1.0 (+https://github.com/historyflow/backend)"),
	)

	if *verbose {
		c.SetDebugger(&debug.LogDebugger{})
	}

	c.Limit(&colly.LimitRule{
		DomainGlob:  "en.wikipedia.org",
		Parallelism: *concurrent,
		Delay:       time.Second,
	})
	c.SetRequestTimeout(30 * time.Second)

	seen := make(map[string]bool)
	var topics []string

	c.OnHTML("#mw-content-text a[title]", func(e *colly.HTMLElement) {
		title := e.Attr("title")
		// Skip non-article namespaces (Wikipedia:, Category:, File:, ...)
		if title == "" || strings.Contains(title, ":") {
			return
		}
		if seen[title] {
			return
		}
		seen[title] = true
		topics = append(topics, title)
	})

	var scrapeErr error
	c.OnError(func(r *colly.Response, err error) {
		scrapeErr = err
	})

	if err := c.Visit(*sourceURL); err != nil {
		return nil, fmt.Errorf("failed to visit listing page: %w", err)
	}
	if scrapeErr != nil {
		return nil, fmt.Errorf("scrape error: %w", scrapeErr)
	}

	logger.WithFields(logrus.Fields{
		"source": *sourceURL,
		"topics": len(topics),
	}).Debug("Topics scraped")

	return topics, nil
}

// Warm enriches each topic in turn, collecting failures rather than
// stopping on the first one.
func (w *CacheWarmer) Warm(ctx context.Context, topics []string) {
	for i, topic := range topics {
		w.logger.WithFields(logrus.Fields{
			"topic":    topic,
			"progress": fmt.Sprintf("%d/%d", i+1, len(topics)),
		}).Info("Warming topic")

		response, err := w.enrichment.Search(ctx, services.SearchInput{Query: topic})
		if err != nil {
			w.logger.WithError(err).WithField("topic", topic).Error("Failed to warm topic")
			w.errors = append(w.errors, fmt.Errorf("failed to warm %s: %w", topic, err))
			continue
		}

		w.logger.WithFields(logrus.Fields{
			"topic":  topic,
			"events": len(response.TimelineEvents),
			"source": response.Source,
		}).Info("Topic warmed")

		if response.Source != models.SourceCache {
			time.Sleep(*delay)
		}
	}
}
