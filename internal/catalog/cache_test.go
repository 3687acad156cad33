package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

type countingSource struct {
	mu      sync.Mutex
	classes map[string]*types.Class
	gets    int
}

func (s *countingSource) GetClass(_ context.Context, id string) (*types.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	class, ok := s.classes[id]
	if !ok {
		return nil, interfaces.ErrClassNotFound
	}
	dup := *class
	return &dup, nil
}

func (s *countingSource) ListActiveClasses(context.Context) ([]*types.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Class
	for _, c := range s.classes {
		if c.Status == types.ClassStatusActive {
			dup := *c
			out = append(out, &dup)
		}
	}
	return out, nil
}

func (s *countingSource) HealthCheck(context.Context) error { return nil }
func (s *countingSource) Close() error                      { return nil }

func (s *countingSource) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *countingSource) setStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[id].Status = status
}

func newSource() *countingSource {
	return &countingSource{classes: map[string]*types.Class{
		"c1": {ID: "c1", RoomID: "r1", Title: "One", Status: types.ClassStatusActive},
		"c2": {ID: "c2", RoomID: "r2", Title: "Two", Status: types.ClassStatusActive},
		"c3": {ID: "c3", RoomID: "r3", Title: "Three", Status: types.ClassStatusEnded},
	}}
}

func TestCache_LoadAndList(t *testing.T) {
	cache := NewCache(newSource(), 0, testLogger())

	if err := cache.LoadActiveClasses(context.Background()); err != nil {
		t.Fatalf("LoadActiveClasses failed: %v", err)
	}

	active, _ := cache.ListActiveClasses(context.Background())
	if len(active) != 2 || active[0].ID != "c1" || active[1].ID != "c2" {
		t.Errorf("Expected [c1 c2], got %v", classIDs(active))
	}
}

func TestCache_GetClassReadsThroughOnce(t *testing.T) {
	source := newSource()
	cache := NewCache(source, time.Minute, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cache.GetClass(ctx, "c1"); err != nil {
			t.Fatalf("GetClass failed: %v", err)
		}
	}
	if source.getCount() != 1 {
		t.Errorf("Expected a single source read, got %d", source.getCount())
	}

	// Ended classes are never cached
	cache.GetClass(ctx, "c3")
	cache.GetClass(ctx, "c3")
	if source.getCount() != 3 {
		t.Errorf("Expected ended class to read through each time, got %d reads", source.getCount())
	}

	if _, err := cache.GetClass(ctx, "missing"); !errors.Is(err, interfaces.ErrClassNotFound) {
		t.Errorf("Expected ErrClassNotFound, got %v", err)
	}
}

func TestCache_ExpiryPicksUpEndedClass(t *testing.T) {
	source := newSource()
	cache := NewCache(source, time.Minute, testLogger())
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	cache.GetClass(ctx, "c1")
	source.setStatus("c1", types.ClassStatusEnded)

	got, _ := cache.GetClass(ctx, "c1")
	if got.Status != types.ClassStatusActive {
		t.Error("Fresh entry should still be served from memory")
	}

	now = now.Add(2 * time.Minute)
	got, _ = cache.GetClass(ctx, "c1")
	if got.Status != types.ClassStatusEnded {
		t.Errorf("Expired entry should be re-read, got status %s", got.Status)
	}

	active, _ := cache.ListActiveClasses(ctx)
	for _, c := range active {
		if c.ID == "c1" {
			t.Error("Ended class should drop out of the active list")
		}
	}
}

func TestCache_Invalidate(t *testing.T) {
	source := newSource()
	cache := NewCache(source, 0, testLogger())
	ctx := context.Background()

	cache.GetClass(ctx, "c1")
	cache.Invalidate("c1")
	cache.GetClass(ctx, "c1")

	if source.getCount() != 2 {
		t.Errorf("Expected invalidation to force a re-read, got %d reads", source.getCount())
	}
}

func TestCache_OverStore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	_ = store.CreateClass(ctx, newClass("c1", "room-a"))

	cache := NewCache(store, time.Minute, testLogger())
	if err := cache.LoadActiveClasses(ctx); err != nil {
		t.Fatalf("LoadActiveClasses failed: %v", err)
	}

	got, err := cache.GetClass(ctx, "c1")
	if err != nil || got.RoomID != "room-a" {
		t.Errorf("Expected c1 in room-a, got %+v (%v)", got, err)
	}
	if err := cache.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
