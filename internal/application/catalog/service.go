// Package catalog is plain CRUD over courses. Membership is never changed
// here; see package membership.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
)

// CourseInput carries the descriptive fields of a course.
type CourseInput struct {
	Name        string
	Description string
	Credits     int

	// Version, when non-zero, must match the stored version on update.
	Version int64
}

// Validate checks the descriptive fields.
func (in CourseInput) Validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return shared.NewDomainError("course", "Validate", shared.ErrInvalidInput, "name is required")
	case in.Credits < 0:
		return shared.NewDomainError("course", "Validate", shared.ErrInvalidInput, "credits must not be negative")
	}
	return nil
}

// maxUpdateRetries bounds reloads of an unconditional update.
const maxUpdateRetries = 3

// Service manages courses.
type Service struct {
	courses course.Repository
	logger  *slog.Logger
}

// NewService creates a new catalog service.
func NewService(courses course.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		courses: courses,
		logger:  logger.With("component", "catalog"),
	}
}

// List returns every course.
func (s *Service) List(ctx context.Context) ([]*course.Course, error) {
	courses, err := s.courses.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// Get returns one course or shared.ErrCourseNotFound.
func (s *Service) Get(ctx context.Context, id course.ID) (*course.Course, error) {
	return s.courses.Get(ctx, id)
}

// Create stores a new course without members.
func (s *Service) Create(ctx context.Context, in CourseInput) (*course.Course, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	c, err := s.courses.Save(ctx, course.NewCourse(in.Name, in.Description, in.Credits))
	if err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}
	s.logger.Info("course created", "course_id", c.ID)
	return c, nil
}

// Update replaces the descriptive fields of a course and keeps its memberships.
// With a zero Version the caller asked for no optimistic check, so a conflict
// with a concurrent writer reloads the course and applies the fields again.
func (s *Service) Update(ctx context.Context, id course.ID, in CourseInput) (*course.Course, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		c, err := s.courses.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if in.Version != 0 && in.Version != c.Version {
			return nil, shared.ErrVersionConflict
		}

		c.UpdateDetails(in.Name, in.Description, in.Credits)

		saved, err := s.courses.Save(ctx, c)
		switch {
		case err == nil:
			s.logger.Info("course updated", "course_id", id, "version", saved.Version)
			return saved, nil
		case !shared.IsConflict(err):
			return nil, fmt.Errorf("update course %d: %w", id, err)
		case in.Version != 0 || attempt >= maxUpdateRetries:
			return nil, err
		}
		s.logger.Debug("version conflict, reloading course", "course_id", id, "attempt", attempt+1)
	}
}

// Delete removes a course together with its memberships.
func (s *Service) Delete(ctx context.Context, id course.ID) error {
	if err := s.courses.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("course deleted", "course_id", id)
	return nil
}
