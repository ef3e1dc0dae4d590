// Package segment evaluates declarative audience filters against the user
// population. Criteria within one filter are conjunctive; combining
// behavioral, demographic and interaction criteria intersects their
// result sets (they all narrow the same query).
package segment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/repository"
)

// DefaultPageSize bounds how many recipients a single segmentation page
// materializes during campaign fan-out.
const DefaultPageSize = 500

// Engine runs audience segmentation over the user directory.
type Engine struct {
	users    repository.UserRepository
	pageSize int
	logger   *slog.Logger
}

// NewEngine creates a segmentation engine
func NewEngine(users repository.UserRepository, logger *slog.Logger) *Engine {
	return &Engine{
		users:    users,
		pageSize: DefaultPageSize,
		logger:   logger,
	}
}

// Count returns how many users match the filter without materializing
// result objects, for UI previews.
func (e *Engine) Count(ctx context.Context, filter models.AudienceFilter) (int64, error) {
	count, err := e.users.CountSegment(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("segmentation count failed: %w", err)
	}
	return count, nil
}

// ForEachPage streams the matching population in keyset-paged batches,
// calling fn once per page. The full result set is never held in memory,
// so populations of tens of thousands of users stay cheap. Returning an
// error from fn stops iteration.
func (e *Engine) ForEachPage(ctx context.Context, filter models.AudienceFilter, fn func(users []*models.User) error) error {
	afterID := int64(0)
	for {
		page, err := e.users.ListSegment(ctx, filter, afterID, e.pageSize)
		if err != nil {
			return fmt.Errorf("segmentation page failed: %w", err)
		}
		if len(page) == 0 {
			return nil
		}

		e.logger.Debug("segmentation page",
			slog.Int64("after_id", afterID),
			slog.Int("size", len(page)),
		)

		if err := fn(page); err != nil {
			return err
		}
		afterID = page[len(page)-1].ID

		if len(page) < e.pageSize {
			return nil
		}
	}
}
