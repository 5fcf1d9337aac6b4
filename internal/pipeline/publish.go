package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/database"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// PublishResult lists what Publish did.
type PublishResult struct {
	Published []string
	// Skipped maps ids to the reason they were not published.
	Skipped map[string]string
}

// Publish moves approved motions to published. With no ids, every motion
// whose effective status is approved is published.
func Publish(ctx context.Context, db *database.DB, ids []string, reviewer string, now time.Time) (*PublishResult, error) {
	if len(ids) == 0 {
		items, err := db.ListReviewItems(ctx, database.ReviewItemQuery{Statuses: []motion.Status{motion.StatusApproved}})
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			ids = append(ids, it.ID)
		}
	}

	res := &PublishResult{Skipped: make(map[string]string)}
	for _, id := range ids {
		dr, err := db.ApplyDecision(ctx, database.Decision{
			ID:        id,
			Status:    motion.StatusPublished,
			DecidedAt: now,
			Reviewer:  reviewer,
			Reason:    "published",
		})
		switch {
		case errors.Is(err, apperrors.ErrInvalidTransition), errors.Is(err, apperrors.ErrInvalidID):
			res.Skipped[id] = err.Error()
		case err != nil:
			return res, err
		case dr.Applied:
			res.Published = append(res.Published, id)
		default:
			res.Skipped[id] = "a newer decision exists"
		}
	}
	return res, nil
}
