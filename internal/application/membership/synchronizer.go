// Package membership bridges local courses and the remote users service.
// It adds and removes memberships and rebuilds a course's user list by
// resolving every member against the users service.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
)

// DefaultMaxConflictRetries is how many times a mutation is re-applied to a
// freshly loaded course after a version conflict.
const DefaultMaxConflictRetries = 3

// Config contains configuration for the Synchronizer.
type Config struct {
	// MaxConflictRetries bounds reload-and-reapply attempts on ErrVersionConflict.
	// Remote lookups are never repeated.
	MaxConflictRetries int

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConflictRetries: DefaultMaxConflictRetries,
	}
}

// Synchronizer owns every read and write of a course's membership set.
type Synchronizer struct {
	courses course.Repository
	users   user.Lookup
	events  shared.EventPublisher
	logger  *slog.Logger

	maxConflictRetries int
}

// NewSynchronizer creates a Synchronizer. events may be nil.
func NewSynchronizer(courses course.Repository, users user.Lookup, events shared.EventPublisher, cfg Config) *Synchronizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	}
	return &Synchronizer{
		courses:            courses,
		users:              users,
		events:             events,
		logger:             cfg.Logger.With("component", "membership"),
		maxConflictRetries: cfg.MaxConflictRetries,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// AddMembership resolves userID against the users service and, if it exists,
// records it as a member of the course. Re-adding a member is a no-op on the
// set but still writes the course.
//
// Errors: shared.ErrCourseNotFound when the course is absent;
// shared.ErrRemoteUserUnresolvable (wrapping the lookup error) when the user
// cannot be resolved. Nothing is written in either case.
func (s *Synchronizer) AddMembership(ctx context.Context, courseID course.ID, userID user.ID) (*user.User, error) {
	c, err := s.load(ctx, courseID)
	if err != nil {
		return nil, err
	}

	u, err := s.users.Resolve(ctx, userID)
	if err != nil {
		s.logger.Warn("user lookup failed",
			"course_id", courseID,
			"user_id", userID,
			"error", err,
		)
		return nil, shared.ErrRemoteUserUnresolvable.Wrap(err)
	}

	saved, err := s.mutate(ctx, c, func(c *course.Course) {
		c.AddMembership(course.Membership{UserID: userID})
	})
	if err != nil {
		return nil, err
	}

	event := shared.NewMembershipAddedEvent(int64(courseID), int64(userID), saved.Version)
	event.BaseEvent = event.WithCorrelationID(shared.RequestIDFromContext(ctx))
	s.publish(event)
	s.logger.Info("membership added", "course_id", courseID, "user_id", userID)

	return u, nil
}

// RemoveMembership removes userID from the course. A missing course or a
// missing membership is not an error; the course is written whenever it
// exists. Only storage failures are returned.
func (s *Synchronizer) RemoveMembership(ctx context.Context, courseID course.ID, userID user.ID) error {
	c, err := s.load(ctx, courseID)
	if errors.Is(err, shared.ErrCourseNotFound) {
		s.logger.Debug("remove on missing course", "course_id", courseID, "user_id", userID)
		return nil
	}
	if err != nil {
		return err
	}

	removed := false
	saved, err := s.mutate(ctx, c, func(c *course.Course) {
		removed = c.RemoveMember(userID)
	})
	if errors.Is(err, shared.ErrCourseNotFound) {
		// Deleted between load and save.
		return nil
	}
	if err != nil {
		return err
	}

	if removed {
		event := shared.NewMembershipRemovedEvent(int64(courseID), int64(userID), saved.Version)
		event.BaseEvent = event.WithCorrelationID(shared.RequestIDFromContext(ctx))
		s.publish(event)
		s.logger.Info("membership removed", "course_id", courseID, "user_id", userID)
	}

	return nil
}

// ListMembershipUsers resolves every member of the course, in stored order.
// A missing course yields an empty list. The first failed lookup aborts the
// listing with shared.ErrRemoteUserUnresolvable.
func (s *Synchronizer) ListMembershipUsers(ctx context.Context, courseID course.ID) ([]*user.User, error) {
	c, err := s.load(ctx, courseID)
	if errors.Is(err, shared.ErrCourseNotFound) {
		return []*user.User{}, nil
	}
	if err != nil {
		return nil, err
	}

	users := make([]*user.User, 0, c.MemberCount())
	for id := range c.MembershipUserIDs() {
		u, err := s.users.Resolve(ctx, id)
		if err != nil {
			s.logger.Warn("member lookup failed",
				"course_id", courseID,
				"user_id", id,
				"error", err,
			)
			return nil, shared.ErrRemoteUserUnresolvable.Wrap(err)
		}
		users = append(users, u)
	}

	return users, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Synchronizer) load(ctx context.Context, id course.ID) (*course.Course, error) {
	c, err := s.courses.Get(ctx, id)
	if errors.Is(err, shared.ErrCourseNotFound) {
		return nil, shared.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load course %d: %w", id, err)
	}
	return c, nil
}

// mutate applies fn to c and saves it. On a version conflict it reloads the
// course and applies fn again, up to maxConflictRetries times.
func (s *Synchronizer) mutate(ctx context.Context, c *course.Course, fn func(*course.Course)) (*course.Course, error) {
	for attempt := 0; ; attempt++ {
		fn(c)

		saved, err := s.courses.Save(ctx, c)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, shared.ErrVersionConflict) {
			return nil, fmt.Errorf("save course %d: %w", c.ID, err)
		}
		if attempt >= s.maxConflictRetries {
			return nil, err
		}

		s.logger.Debug("version conflict, reloading course",
			"course_id", c.ID,
			"attempt", attempt+1,
		)

		if c, err = s.load(ctx, c.ID); err != nil {
			return nil, err
		}
	}
}

func (s *Synchronizer) publish(event shared.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(event); err != nil {
		s.logger.Error("failed to publish event",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
	}
}
