package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
)

type reviewStore interface {
	SetReviewed(ctx context.Context, id string, reviewed bool, at time.Time) (bool, error)
}

type statsInvalidator interface {
	Invalidate(ctx context.Context)
}

// ReviewService is the single write path for a case's reviewed flag.
type ReviewService struct {
	store  reviewStore
	stats  statsInvalidator
	logger *zap.Logger
	now    func() time.Time
}

// NewReviewService constructs a ReviewService. stats may be nil.
func NewReviewService(store reviewStore, stats statsInvalidator, logger *zap.Logger) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{store: store, stats: stats, logger: logger, now: time.Now}
}

// SetReviewed flips the reviewed flag. It reports false, without error, when id is
// malformed or no case matches. Re-marking a reviewed case keeps its reviewed_at;
// clearing the flag clears reviewed_at.
func (s *ReviewService) SetReviewed(ctx context.Context, id string, reviewed bool) (bool, error) {
	if !models.ValidCaseID(id) {
		s.logger.Debug("set reviewed on malformed case id", zap.String("case_id", id))
		return false, nil
	}

	ok, err := s.store.SetReviewed(ctx, id, reviewed, s.now().UTC())
	if err != nil {
		s.logger.Error("set reviewed failed", zap.String("case_id", id), zap.Error(err))
		return false, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to update case")
	}
	if !ok {
		return false, nil
	}

	if s.stats != nil {
		s.stats.Invalidate(ctx)
	}
	s.logger.Info("case review status updated", zap.String("case_id", id), zap.Bool("reviewed", reviewed))
	return true, nil
}
