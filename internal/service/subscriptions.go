package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/podsync/internal/models"
	"github.com/atinyakov/podsync/internal/repository"
)

// SubscriptionChanges is the answer to "what changed since timestamp T" for
// one device: URLs added, URLs removed, and the cursor the client should
// resubmit next time.
type SubscriptionChanges struct {
	Add       []string         `json:"add"`
	Remove    []string         `json:"remove"`
	Timestamp models.Timestamp `json:"timestamp"`
}

// AppliedSubscriptions is the result of uploading subscription changes.
// UpdateURLs pairs each added URL with itself; clients of the original
// protocol expect the list even though reconciliation never rewrites URLs.
type AppliedSubscriptions struct {
	Timestamp  models.Timestamp `json:"timestamp"`
	UpdateURLs [][2]string      `json:"update_urls"`
}

// SubscriptionService reconciles per-device subscription sets using
// tombstoned rows.
type SubscriptionService struct {
	repo repository.SubscriptionStore
	log  *zap.Logger
}

// NewSubscriptionService constructs a reconciler over the given store.
func NewSubscriptionService(repo repository.SubscriptionStore, log *zap.Logger) *SubscriptionService {
	return &SubscriptionService{repo: repo, log: log}
}

// Changes partitions the rows touched after since into added and removed
// sets. A subscription both added and removed after since appears only in
// Remove: once tombstoned, its creation event is superseded. The returned
// cursor is the greatest created value among the rows, or the current time
// when nothing changed, so an idle client still advances past stale
// history.
func (s *SubscriptionService) Changes(ctx context.Context, username, device string, since models.Timestamp) (*SubscriptionChanges, error) {
	subs, err := s.repo.Subscriptions(ctx, username, device, since)
	if err != nil {
		s.log.Error("selecting subscriptions failed",
			zap.String("username", username), zap.String("device", device), zap.Error(err))
		return nil, ErrInternal
	}

	changes := &SubscriptionChanges{Add: []string{}, Remove: []string{}}
	var cursor models.Timestamp
	for _, sub := range subs {
		if sub.Deleted != nil {
			changes.Remove = append(changes.Remove, sub.URL)
		} else {
			changes.Add = append(changes.Add, sub.URL)
		}
		if sub.Created > cursor {
			cursor = sub.Created
		}
	}
	if len(subs) == 0 {
		cursor = models.Now()
	}
	changes.Timestamp = cursor

	return changes, nil
}

// Apply tombstones the active rows named by remove and inserts the rows
// named by add, skipping keys that already exist: a tombstoned
// (account, device, url) is not resurrected by a literal re-add. Both
// loops run inside one transaction in the store, so a reader observes
// either none or all of the batch. Returns now as the new cursor.
func (s *SubscriptionService) Apply(ctx context.Context, username, device string, add, remove []string, now models.Timestamp) (*AppliedSubscriptions, error) {
	for _, url := range append(append([]string{}, add...), remove...) {
		if url == "" {
			return nil, fmt.Errorf("%w: empty subscription url", ErrBadRequest)
		}
	}

	if err := s.repo.ApplySubscriptionChanges(ctx, username, device, add, remove, now); err != nil {
		s.log.Error("applying subscription changes failed",
			zap.String("username", username), zap.String("device", device), zap.Error(err))
		return nil, ErrInternal
	}

	s.log.Info("subscriptions updated",
		zap.String("username", username),
		zap.String("device", device),
		zap.Int("added", len(add)),
		zap.Int("removed", len(remove)),
		zap.Int64("timestamp", int64(now)))

	echoes := make([][2]string, 0, len(add))
	for _, url := range add {
		echoes = append(echoes, [2]string{url, url})
	}
	return &AppliedSubscriptions{Timestamp: now, UpdateURLs: echoes}, nil
}
