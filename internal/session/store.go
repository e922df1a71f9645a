// Package session holds the backend-issued session id for the current
// conversation. Ids are never generated locally.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrEmptyID = errors.New("backend returned empty session id")

type Issuer interface {
	NewSessionID(ctx context.Context) (string, error)
}

type Store struct {
	mu sync.RWMutex
	id string
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) CurrentID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.id != ""
}

// Adopt replaces the stored id. An empty id is not an id and is ignored.
func (s *Store) Adopt(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// Update runs fn with the store locked. set behaves like Adopt. Callers that
// also guard their own state take that lock inside fn, never around Update.
func (s *Store) Update(fn func(current string, set func(id string))) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.id, func(id string) {
		if id = strings.TrimSpace(id); id != "" {
			s.id = id
		}
	})
}

// Reset asks the issuer for a fresh id. On success the id is adopted and
// onAdopt runs while the store is still locked, so callers observe the new id
// and whatever onAdopt clears as one step. On failure the old id is kept and
// onAdopt is not called.
func (s *Store) Reset(ctx context.Context, issuer Issuer, onAdopt func(id string)) (string, error) {
	id, err := issuer.NewSessionID(ctx)
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	if onAdopt != nil {
		onAdopt(id)
	}
	return id, nil
}
