package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

type HistoryService struct {
	db core.DbClient
}

func NewHistoryService(db core.DbClient) *HistoryService {
	return &HistoryService{db: db}
}

// History returns the most recent records of a session first.
func (s *HistoryService) History(ctx context.Context, sessionID string, limit int) ([]models.HistoryRecord, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", core.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)
	return s.db.ListHistoryBySession(ctx, sessionID, limit)
}

// Stats is computed from the stores on every call; nothing is kept as a counter.
func (s *HistoryService) Stats(ctx context.Context) (*models.Stats, error) {
	docs, err := s.db.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	chunks, err := s.db.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	agg, err := s.db.AggregateHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate history: %w", err)
	}
	return &models.Stats{
		TotalDocuments:    docs,
		TotalChunks:       chunks,
		TotalQueries:      agg.TotalQueries,
		AvgResponseTimeMs: agg.AvgResponseTimeMs,
	}, nil
}
