// Package memory provides an in-process course.Repository for development
// and tests. Data is lost on restart.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
)

// CourseStore keeps deep copies of courses in a map.
type CourseStore struct {
	mu      sync.RWMutex
	courses map[course.ID]*course.Course
	nextID  course.ID
	now     func() time.Time
}

// NewCourseStore creates an empty store.
func NewCourseStore() *CourseStore {
	return &CourseStore{
		courses: make(map[course.ID]*course.Course),
		nextID:  1,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get implements course.Repository.
func (s *CourseStore) Get(ctx context.Context, id course.ID) (*course.Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[id]
	if !ok {
		return nil, shared.ErrCourseNotFound
	}
	return c.Clone(), nil
}

// List implements course.Repository.
func (s *CourseStore) List(ctx context.Context) ([]*course.Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(s.courses))
	out := make([]*course.Course, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.courses[id].Clone())
	}
	return out, nil
}

// Save implements course.Repository.
func (s *CourseStore) Save(ctx context.Context, c *course.Course) (*course.Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := c.Clone()

	stored, exists := s.courses[c.ID]
	switch {
	case c.Version == 0:
		if c.ID == 0 {
			next.ID = s.nextID
		} else if exists {
			return nil, shared.ErrVersionConflict
		}
		next.CreatedAt = now
	case !exists:
		return nil, shared.ErrCourseNotFound
	case stored.Version != c.Version:
		return nil, shared.ErrVersionConflict
	default:
		next.CreatedAt = stored.CreatedAt
	}

	if next.ID >= s.nextID {
		s.nextID = next.ID + 1
	}
	next.Version = c.Version + 1
	next.UpdatedAt = now
	s.courses[next.ID] = next

	return next.Clone(), nil
}

// Delete implements course.Repository.
func (s *CourseStore) Delete(ctx context.Context, id course.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.courses[id]; !ok {
		return shared.ErrCourseNotFound
	}
	delete(s.courses, id)
	return nil
}

// Ping reports the store as always reachable.
func (s *CourseStore) Ping(context.Context) error {
	return nil
}
