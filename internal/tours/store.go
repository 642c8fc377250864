package tours

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/keithlinneman/natours-api/internal/apperr"
)

var ErrNotFound = errors.New("tour not found")

// Store is the persistence boundary of the router.
type Store interface {
	List(ctx context.Context, q Query) ([]Tour, error)
	Get(ctx context.Context, id primitive.ObjectID) (Tour, error)
	Create(ctx context.Context, t Tour) (Tour, error)
	Update(ctx context.Context, id primitive.ObjectID, p Patch) (Tour, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// MemStore keeps tours in a map. Names are unique.
type MemStore struct {
	mu    sync.RWMutex
	tours map[primitive.ObjectID]Tour
	clock clockwork.Clock
}

var _ Store = (*MemStore)(nil)

func NewMemStore(clock clockwork.Clock) *MemStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemStore{tours: make(map[primitive.ObjectID]Tour), clock: clock}
}

func (s *MemStore) List(_ context.Context, q Query) ([]Tour, error) {
	s.mu.RLock()
	all := make([]*Tour, 0, len(s.tours))
	for id := range s.tours {
		t := s.tours[id]
		if q.match(&t) {
			all = append(all, &t)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(all, q.compare)

	start := (q.Page - 1) * q.Limit
	if start >= len(all) {
		return []Tour{}, nil
	}
	end := min(start+q.Limit, len(all))
	out := make([]Tour, 0, end-start)
	for _, t := range all[start:end] {
		out = append(out, *t)
	}
	return out, nil
}

func (s *MemStore) Get(_ context.Context, id primitive.ObjectID) (Tour, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tours[id]
	if !ok {
		return Tour{}, ErrNotFound
	}
	return t, nil
}

func (s *MemStore) Create(_ context.Context, t Tour) (Tour, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.uniqueLocked(t.Name, primitive.NilObjectID); err != nil {
		return Tour{}, err
	}
	t.ID = primitive.NewObjectIDFromTimestamp(s.clock.Now())
	t.CreatedAt = s.clock.Now().UTC()
	s.tours[t.ID] = t
	return t, nil
}

func (s *MemStore) Update(_ context.Context, id primitive.ObjectID, p Patch) (Tour, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tours[id]
	if !ok {
		return Tour{}, ErrNotFound
	}
	p.Apply(&t)
	if err := t.Validate(); err != nil {
		return Tour{}, err
	}
	if err := s.uniqueLocked(t.Name, id); err != nil {
		return Tour{}, err
	}
	s.tours[id] = t
	return t, nil
}

func (s *MemStore) Delete(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tours[id]; !ok {
		return ErrNotFound
	}
	delete(s.tours, id)
	return nil
}

func (s *MemStore) uniqueLocked(name string, self primitive.ObjectID) error {
	for id, t := range s.tours {
		if id != self && t.Name == name {
			return &apperr.DuplicateKeyError{Field: "name", Value: name}
		}
	}
	return nil
}
