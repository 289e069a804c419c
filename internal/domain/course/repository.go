package course

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository is durable keyed storage for Course aggregates.
type Repository interface {
	// Get returns the course with the given ID.
	// Returns shared.ErrCourseNotFound if it does not exist.
	Get(ctx context.Context, id ID) (*Course, error)

	// List returns all courses ordered by ID.
	List(ctx context.Context) ([]*Course, error)

	// Save upserts the whole aggregate as a compare-and-swap on Version.
	// Version 0 inserts (a zero ID is allocated by the store). Otherwise the
	// stored version must match or shared.ErrVersionConflict is returned.
	// The returned course carries the new version.
	Save(ctx context.Context, c *Course) (*Course, error)

	// Delete removes the course and its memberships.
	// Returns shared.ErrCourseNotFound if it does not exist.
	Delete(ctx context.Context, id ID) error
}
