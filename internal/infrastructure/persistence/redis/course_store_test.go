package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
)

func newTestStore(t *testing.T) (*CourseStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCourseStore(WrapClient(rdb, "test:")), mr
}

func TestCourseStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	c := course.NewCourse("Go", "Concurrency", 4)
	c.AddMembership(course.Membership{UserID: 7})
	c.AddMembership(course.Membership{UserID: 3})

	saved, err := store.Save(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, course.ID(1), saved.ID)
	assert.Equal(t, int64(1), saved.Version)
	assert.True(t, mr.Exists("test:course:1"))

	got, err := store.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go", got.Name)
	assert.Equal(t, "Concurrency", got.Description)
	assert.Equal(t, 4, got.Credits)
	assert.Equal(t, []user.ID{7, 3}, collect(got), "membership order is kept")
}

func TestCourseStore_UpdateIgnoresUnrelatedInserts(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	other := NewCourseStore(store.client)

	c, err := store.Save(ctx, course.NewCourse("Go", "", 3))
	require.NoError(t, err)

	clock := store.now
	store.now = func() time.Time {
		// Runs between WATCH and EXEC.
		_, err := other.Save(ctx, course.NewCourse("Rust", "", 2))
		require.NoError(t, err)
		return clock()
	}

	c.AddMembership(course.Membership{UserID: 9})
	updated, err := store.Save(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	store.now = clock
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCourseStore_ConcurrentWriteToSameCourseConflicts(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	other := NewCourseStore(store.client)

	c, err := store.Save(ctx, course.NewCourse("Go", "", 3))
	require.NoError(t, err)

	clock := store.now
	store.now = func() time.Time {
		fresh, err := other.Get(ctx, c.ID)
		require.NoError(t, err)
		fresh.AddMembership(course.Membership{UserID: 1})
		_, err = other.Save(ctx, fresh)
		require.NoError(t, err)
		return clock()
	}

	c.AddMembership(course.Membership{UserID: 2})
	_, err = store.Save(ctx, c)
	assert.ErrorIs(t, err, shared.ErrVersionConflict)
}

func TestCourseStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), 42)
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
}

func TestCourseStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	c, err := store.Save(ctx, course.NewCourse("Go", "", 3))
	require.NoError(t, err)

	a, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	b, err := store.Get(ctx, c.ID)
	require.NoError(t, err)

	a.AddMembership(course.Membership{UserID: 1})
	_, err = store.Save(ctx, a)
	require.NoError(t, err)

	b.AddMembership(course.Membership{UserID: 2})
	_, err = store.Save(ctx, b)
	assert.ErrorIs(t, err, shared.ErrVersionConflict)

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.HasMember(1))
	assert.False(t, got.HasMember(2))
	assert.Equal(t, int64(2), got.Version)
}

func TestCourseStore_UpdateMissing(t *testing.T) {
	store, _ := newTestStore(t)

	c := course.NewCourse("Go", "", 3)
	c.ID = 9
	c.Version = 4
	_, err := store.Save(context.Background(), c)
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
}

func TestCourseStore_ExplicitIDBumpsSequence(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	c := course.NewCourse("Go", "", 3)
	c.ID = 5
	_, err := store.Save(ctx, c)
	require.NoError(t, err)

	_, err = store.Save(ctx, c)
	assert.ErrorIs(t, err, shared.ErrVersionConflict)

	next, err := store.Save(ctx, course.NewCourse("SQL", "", 1))
	require.NoError(t, err)
	assert.Equal(t, course.ID(6), next.ID)
}

func TestCourseStore_ListOrderedByID(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	empty, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, name := range []string{"A", "B", "C"} {
		_, err := store.Save(ctx, course.NewCourse(name, "", 1))
		require.NoError(t, err)
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "A", list[0].Name)
	assert.Equal(t, "C", list[2].Name)
}

func TestCourseStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	c, err := store.Save(ctx, course.NewCourse("Go", "", 3))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, c.ID))
	assert.False(t, mr.Exists("test:course:1"))

	err = store.Delete(ctx, c.ID)
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCourseStore_CorruptDocument(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set("test:course:1", "{not json"))

	_, err := store.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSerialization)
}

func collect(c *course.Course) []user.ID {
	var ids []user.ID
	for id := range c.MembershipUserIDs() {
		ids = append(ids, id)
	}
	return ids
}
