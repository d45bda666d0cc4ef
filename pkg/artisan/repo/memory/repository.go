package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/artisan-nft/pkg/artisan"
)

// Repository implements artisan.Repository using in-memory storage
type Repository struct {
	mu         sync.RWMutex
	activities map[uuid.UUID]*artisan.Activity
	byItem     map[uint64][]uuid.UUID
	byActor    map[string][]uuid.UUID // lowercased actor -> activity ids
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		activities: make(map[uuid.UUID]*artisan.Activity),
		byItem:     make(map[uint64][]uuid.UUID),
		byActor:    make(map[string][]uuid.UUID),
	}
}

// RecordActivity appends an activity to the journal
func (r *Repository) RecordActivity(ctx context.Context, activity *artisan.Activity) error {
	if activity.ID == uuid.Nil {
		return fmt.Errorf("%w: activity id is required", artisan.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.activities[activity.ID]; exists {
		return fmt.Errorf("%w: activity %s already recorded", artisan.ErrInvalidArgument, activity.ID)
	}

	// Create a copy to avoid external modifications
	activityCopy := *activity
	r.activities[activity.ID] = &activityCopy
	if activity.ItemID != 0 {
		r.byItem[activity.ItemID] = append(r.byItem[activity.ItemID], activity.ID)
	}
	actor := strings.ToLower(activity.Actor)
	r.byActor[actor] = append(r.byActor[actor], activity.ID)
	return nil
}

// ListActivityByItem returns the journal entries of an item, oldest first
func (r *Repository) ListActivityByItem(ctx context.Context, itemID uint64) ([]*artisan.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byItem[itemID]), nil
}

// ListActivityByActor returns the journal entries submitted by actor, oldest first
func (r *Repository) ListActivityByActor(ctx context.Context, actor string) ([]*artisan.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byActor[strings.ToLower(actor)]), nil
}

func (r *Repository) collect(ids []uuid.UUID) []*artisan.Activity {
	result := make([]*artisan.Activity, 0, len(ids))
	for _, id := range ids {
		// Return copies to prevent external modifications
		activityCopy := *r.activities[id]
		result = append(result, &activityCopy)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
