// Package session keeps one identification controller per client in an
// expiring in-memory cache.
package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/vbonduro/minerallens/internal/identify"
)

const DefaultTTL = time.Hour

var ErrNotFound = errors.New("session not found")

type Store struct {
	cache   *cache.Cache
	ttl     time.Duration
	factory func() *identify.Controller
}

// NewStore creates a store whose entries expire after ttl without use.
// factory builds the controller of every new session.
func NewStore(ttl time.Duration, factory func() *identify.Controller, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := cache.New(ttl, ttl/6)
	if logger != nil {
		c.OnEvicted(func(id string, _ any) {
			logger.Debug("session evicted", "session_id", id)
		})
	}
	return &Store{cache: c, ttl: ttl, factory: factory}
}

func (s *Store) Create() (string, *identify.Controller) {
	id := uuid.NewString()
	ctrl := s.factory()
	s.cache.Set(id, ctrl, s.ttl)
	return id, ctrl
}

// Get returns the controller and pushes its expiry back by the TTL.
func (s *Store) Get(id string) (*identify.Controller, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	x, found := s.cache.Get(id)
	if !found {
		return nil, ErrNotFound
	}
	ctrl := x.(*identify.Controller)
	s.cache.Set(id, ctrl, s.ttl)
	return ctrl, nil
}

func (s *Store) Delete(id string) {
	s.cache.Delete(id)
}

func (s *Store) Len() int {
	return s.cache.ItemCount()
}
