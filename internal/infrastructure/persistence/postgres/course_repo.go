package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CourseRepository implements course.Repository on PostgreSQL. A course row
// and its course_users rows are always written in one transaction.
type CourseRepository struct {
	conn *Connection
}

var _ course.Repository = (*CourseRepository)(nil)

// NewCourseRepository creates a new PostgreSQL course repository.
func NewCourseRepository(conn *Connection) *CourseRepository {
	return &CourseRepository{conn: conn}
}

const courseColumns = `id, name, description, credits, version, created_at, updated_at`

// Get returns a course with its memberships in stored order.
func (r *CourseRepository) Get(ctx context.Context, id course.ID) (*course.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`

	c, err := scanCourse(r.conn.QueryRow(ctx, query, id))
	if IsNoRows(err) {
		return nil, shared.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}

	members, err := r.loadMemberships(ctx, r.conn, []course.ID{id})
	if err != nil {
		return nil, err
	}
	c.Memberships = append(c.Memberships, members[id]...)

	return c, nil
}

// List returns every course ordered by ID.
func (r *CourseRepository) List(ctx context.Context) ([]*course.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses ORDER BY id`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var (
		courses []*course.Course
		ids     []course.ID
	)
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return []*course.Course{}, nil
	}

	members, err := r.loadMemberships(ctx, r.conn, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range courses {
		c.Memberships = append(c.Memberships, members[c.ID]...)
	}

	return courses, nil
}

// Save writes the course and replaces its memberships, guarded by Version.
func (r *CourseRepository) Save(ctx context.Context, c *course.Course) (*course.Course, error) {
	saved := c.Clone()

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		if c.Version == 0 {
			err = r.insert(ctx, tx, saved)
		} else {
			err = r.update(ctx, tx, saved)
		}
		if err != nil {
			return err
		}
		return r.replaceMemberships(ctx, tx, saved)
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// Delete removes the course; course_users rows go with it via ON DELETE CASCADE.
func (r *CourseRepository) Delete(ctx context.Context, id course.ID) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrCourseNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (r *CourseRepository) insert(ctx context.Context, tx pgx.Tx, c *course.Course) error {
	if c.ID == 0 {
		query := `
			INSERT INTO courses (name, description, credits, version)
			VALUES ($1, $2, $3, 1)
			RETURNING id, version, created_at, updated_at`
		err := tx.QueryRow(ctx, query, c.Name, c.Description, c.Credits).
			Scan(&c.ID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert course: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO courses (id, name, description, credits, version)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (id) DO NOTHING
		RETURNING version, created_at, updated_at`
	err := tx.QueryRow(ctx, query, c.ID, c.Name, c.Description, c.Credits).
		Scan(&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if IsNoRows(err) {
		return shared.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("insert course: %w", err)
	}

	// Keep the sequence ahead of explicitly chosen IDs.
	_, err = tx.Exec(ctx, `SELECT setval(pg_get_serial_sequence('courses', 'id'), GREATEST((SELECT MAX(id) FROM courses), 1))`)
	if err != nil {
		return fmt.Errorf("advance course sequence: %w", err)
	}
	return nil
}

func (r *CourseRepository) update(ctx context.Context, tx pgx.Tx, c *course.Course) error {
	query := `
		UPDATE courses
		SET name = $2, description = $3, credits = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $5
		RETURNING version, created_at, updated_at`

	err := tx.QueryRow(ctx, query, c.ID, c.Name, c.Description, c.Credits, c.Version).
		Scan(&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if !IsNoRows(err) {
		if err != nil {
			return fmt.Errorf("update course: %w", err)
		}
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM courses WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check course: %w", err)
	}
	if !exists {
		return shared.ErrCourseNotFound
	}
	return shared.ErrVersionConflict
}

func (r *CourseRepository) replaceMemberships(ctx context.Context, tx pgx.Tx, c *course.Course) error {
	if _, err := tx.Exec(ctx, `DELETE FROM course_users WHERE course_id = $1`, c.ID); err != nil {
		return fmt.Errorf("clear memberships: %w", err)
	}
	if len(c.Memberships) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(c.Memberships))
	for i, m := range c.Memberships {
		rows = append(rows, []interface{}{int64(c.ID), int64(m.UserID), i})
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"course_users"},
		[]string{"course_id", "user_id", "position"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("duplicate membership in course %d: %w", c.ID, shared.ErrAlreadyExists)
		}
		return fmt.Errorf("write memberships: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READ HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (r *CourseRepository) loadMemberships(ctx context.Context, q Querier, ids []course.ID) (map[course.ID][]course.Membership, error) {
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}

	rows, err := q.Query(ctx, `
		SELECT course_id, user_id
		FROM course_users
		WHERE course_id = ANY($1)
		ORDER BY course_id, position`, raw)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	defer rows.Close()

	out := make(map[course.ID][]course.Membership, len(ids))
	for rows.Next() {
		var courseID, userID int64
		if err := rows.Scan(&courseID, &userID); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out[course.ID(courseID)] = append(out[course.ID(courseID)], course.Membership{UserID: user.ID(userID)})
	}

	return out, rows.Err()
}

func scanCourse(row pgx.Row) (*course.Course, error) {
	var (
		c                    course.Course
		id                   int64
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&id, &c.Name, &c.Description, &c.Credits, &c.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.ID = course.ID(id)
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()
	c.Memberships = []course.Membership{}
	return &c, nil
}
