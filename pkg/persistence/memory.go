package persistence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// MemoryRepository is an in-process Repository. Records never expire.
type MemoryRepository struct {
	cache *cache.Cache
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{cache: cache.New(cache.NoExpiration, 0)}
}

func (r *MemoryRepository) Create(_ context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := r.cache.Add(rec.ID, rec, cache.NoExpiration); err != nil {
		return Record{}, fmt.Errorf("failed to create record %s: %w", rec.ID, err)
	}
	return rec, nil
}

func (r *MemoryRepository) GetByInstanceID(_ context.Context, instanceID string) ([]Record, error) {
	var out []Record
	for _, item := range r.cache.Items() {
		rec := item.Object.(Record)
		if rec.InstanceID == instanceID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, rec Record) (Record, error) {
	x, found := r.cache.Get(rec.ID)
	if !found {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, rec.ID)
	}
	rec.CreatedAt = x.(Record).CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	r.cache.Set(rec.ID, rec, cache.NoExpiration)
	return rec, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	if _, found := r.cache.Get(id); !found {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	r.cache.Delete(id)
	return nil
}

// Len returns the number of stored records
func (r *MemoryRepository) Len() int {
	return r.cache.ItemCount()
}
