// Package course contains the Course aggregate and its membership set.
// It has no I/O: stores live in infrastructure/persistence.
package course

import (
	"iter"
	"slices"
	"strconv"
	"time"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ID identifies a Course.
type ID int64

// String returns the decimal form of the ID.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsValid reports whether the ID can reference a stored course.
func (id ID) IsValid() bool {
	return id > 0
}

// ParseID parses a decimal course ID.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, shared.ErrInvalidCourseID
	}
	return ID(v), nil
}

// Membership links a course to a remote user. It carries only the foreign
// identifier; user details are fetched on demand.
type Membership struct {
	UserID user.ID
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

// Course is the aggregate root. Memberships are unique by UserID and kept in
// insertion order.
type Course struct {
	ID          ID
	Name        string
	Description string
	Credits     int
	Memberships []Membership

	// Version is the optimistic concurrency token. Zero means not yet stored.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCourse creates an unsaved course without memberships.
func NewCourse(name, description string, credits int) *Course {
	return &Course{
		Name:        name,
		Description: description,
		Credits:     credits,
		Memberships: []Membership{},
	}
}

// AddMembership appends m unless its user is already a member.
// It reports whether the set changed.
func (c *Course) AddMembership(m Membership) bool {
	if c.HasMember(m.UserID) {
		return false
	}
	c.Memberships = append(c.Memberships, m)
	return true
}

// RemoveMembershipsWhere drops every membership matching pred and returns how
// many were removed. Zero matches is not an error.
func (c *Course) RemoveMembershipsWhere(pred func(Membership) bool) int {
	before := len(c.Memberships)
	c.Memberships = slices.DeleteFunc(c.Memberships, pred)
	return before - len(c.Memberships)
}

// RemoveMember drops the membership of userID, if any.
func (c *Course) RemoveMember(userID user.ID) bool {
	return c.RemoveMembershipsWhere(func(m Membership) bool {
		return m.UserID == userID
	}) > 0
}

// HasMember reports whether userID is a member.
func (c *Course) HasMember(userID user.ID) bool {
	return slices.ContainsFunc(c.Memberships, func(m Membership) bool {
		return m.UserID == userID
	})
}

// MemberCount returns the number of memberships.
func (c *Course) MemberCount() int {
	return len(c.Memberships)
}

// MembershipUserIDs yields member user IDs in storage order. The sequence can
// be ranged over more than once.
func (c *Course) MembershipUserIDs() iter.Seq[user.ID] {
	return func(yield func(user.ID) bool) {
		for _, m := range c.Memberships {
			if !yield(m.UserID) {
				return
			}
		}
	}
}

// UpdateDetails replaces the descriptive fields, leaving memberships alone.
func (c *Course) UpdateDetails(name, description string, credits int) {
	c.Name = name
	c.Description = description
	c.Credits = credits
}

// Clone returns a deep copy.
func (c *Course) Clone() *Course {
	cp := *c
	cp.Memberships = slices.Clone(c.Memberships)
	if cp.Memberships == nil {
		cp.Memberships = []Membership{}
	}
	return &cp
}
