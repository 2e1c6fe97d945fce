package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/podsync/internal/models"
	"github.com/atinyakov/podsync/internal/repository"
)

// EpisodeChanges is the answer to an episode-state query: the latest
// action per episode touched after the cursor, plus the next cursor.
type EpisodeChanges struct {
	Actions   []models.EpisodeAction `json:"actions"`
	Timestamp models.Timestamp       `json:"timestamp"`
}

// EpisodeService merges per-episode playback state idempotently: replaying
// a semantic duplicate never perturbs any other client's cursor.
type EpisodeService struct {
	repo repository.EpisodeStore
	log  *zap.Logger
}

// NewEpisodeService constructs a reconciler over the given store.
func NewEpisodeService(repo repository.EpisodeStore, log *zap.Logger) *EpisodeService {
	return &EpisodeService{repo: repo, log: log}
}

// Changes returns the actions modified after filter.Since, optionally
// narrowed by exact podcast/device match. The cursor is the greatest
// modified value among the rows, or the current time when nothing changed.
// Actions stored without a client timestamp are backfilled with the epoch
// value: some clients drop actions whose timestamp is absent.
func (s *EpisodeService) Changes(ctx context.Context, username string, filter repository.EpisodeFilter) (*EpisodeChanges, error) {
	actions, err := s.repo.Episodes(ctx, username, filter)
	if err != nil {
		s.log.Error("selecting episodes failed", zap.String("username", username), zap.Error(err))
		return nil, ErrInternal
	}

	changes := &EpisodeChanges{Actions: make([]models.EpisodeAction, 0, len(actions))}
	var cursor models.Timestamp
	for _, action := range actions {
		if action.Timestamp == nil {
			epoch := models.Timestamp(0)
			action.Timestamp = &epoch
		}
		if action.Modified > cursor {
			cursor = action.Modified
		}
		changes.Actions = append(changes.Actions, action)
	}
	if len(actions) == 0 {
		cursor = models.Now()
	}
	changes.Timestamp = cursor

	return changes, nil
}

// Apply validates and merges the incoming actions in one transaction. The
// store upserts by (account, podcast, episode) and skips rows whose
// content hash already matches, which is what makes the merge idempotent:
// only a semantically different action advances a row's modified marker.
// Returns now as the new cursor.
func (s *EpisodeService) Apply(ctx context.Context, username string, now models.Timestamp, actions []models.EpisodeAction) (models.Timestamp, error) {
	for _, action := range actions {
		if err := action.Validate(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	}

	if err := s.repo.ApplyEpisodeChanges(ctx, username, now, actions); err != nil {
		s.log.Error("applying episode changes failed", zap.String("username", username), zap.Error(err))
		return 0, ErrInternal
	}

	s.log.Info("episodes updated",
		zap.String("username", username),
		zap.Int("actions", len(actions)),
		zap.Int64("timestamp", int64(now)))

	return now, nil
}
