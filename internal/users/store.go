package users

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/keithlinneman/natours-api/internal/apperr"
)

var ErrNotFound = errors.New("user not found")

// Store is the persistence boundary of the router. Deactivated users are
// invisible to every lookup.
type Store interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id primitive.ObjectID) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByResetHash(ctx context.Context, hash string) (User, error)
	Create(ctx context.Context, u User) (User, error)
	// Update applies fn to a copy of the stored user and saves it when fn
	// returns nil.
	Update(ctx context.Context, id primitive.ObjectID, fn func(*User) error) (User, error)
}

type MemStore struct {
	mu    sync.RWMutex
	users map[primitive.ObjectID]User
	order []primitive.ObjectID
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{users: make(map[primitive.ObjectID]User)}
}

func (s *MemStore) List(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, id := range s.order {
		if u := s.users[id]; u.active {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemStore) Get(_ context.Context, id primitive.ObjectID) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || !u.active {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemStore) FindByEmail(_ context.Context, email string) (User, error) {
	return s.find(func(u *User) bool { return u.Email == email })
}

func (s *MemStore) FindByResetHash(_ context.Context, hash string) (User, error) {
	if hash == "" {
		return User{}, ErrNotFound
	}
	return s.find(func(u *User) bool { return u.resetHash == hash })
}

func (s *MemStore) find(match func(*User) bool) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.active && match(&u) {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemStore) Create(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.uniqueLocked(u.Email, primitive.NilObjectID); err != nil {
		return User{}, err
	}
	u.ID = primitive.NewObjectID()
	u.active = true
	s.users[u.ID] = u
	s.order = append(s.order, u.ID)
	return u, nil
}

func (s *MemStore) Update(_ context.Context, id primitive.ObjectID, fn func(*User) error) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || !u.active {
		return User{}, ErrNotFound
	}
	if err := fn(&u); err != nil {
		return User{}, err
	}
	if err := s.uniqueLocked(u.Email, id); err != nil {
		return User{}, err
	}
	s.users[id] = u
	return u, nil
}

// uniqueLocked checks emails across deactivated accounts too.
func (s *MemStore) uniqueLocked(email string, self primitive.ObjectID) error {
	for id, u := range s.users {
		if id != self && u.Email == email {
			return &apperr.DuplicateKeyError{Field: "email", Value: email}
		}
	}
	return nil
}
