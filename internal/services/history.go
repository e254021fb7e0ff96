package services

import (
	"context"
	"time"

	"github.com/historyflow/backend/internal/models"
	"github.com/sirupsen/logrus"
)

// HistoryService reads a user's capped search history.
type HistoryService struct {
	history models.SearchHistoryRepository
	logger  *logrus.Logger
}

func NewHistoryService(history models.SearchHistoryRepository, logger *logrus.Logger) *HistoryService {
	return &HistoryService{
		history: history,
		logger:  logger,
	}
}

// List returns the user's searches newest first.
func (s *HistoryService) List(ctx context.Context, userID string, limit int) ([]models.HistoryItem, error) {
	entries, err := s.history.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	items := make([]models.HistoryItem, len(entries))
	for i, entry := range entries {
		items[i] = models.HistoryItem{
			Query:     entry.Query,
			SearchID:  entry.TimelineID,
			CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		}
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"entries": len(items),
	}).Debug("Search history loaded")

	return items, nil
}
