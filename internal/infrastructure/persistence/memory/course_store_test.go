package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
)

func TestCourseStore_SaveAllocatesIDAndVersion(t *testing.T) {
	ctx := context.Background()
	store := NewCourseStore()

	first, err := store.Save(ctx, course.NewCourse("Go", "", 3))
	require.NoError(t, err)
	second, err := store.Save(ctx, course.NewCourse("SQL", "", 2))
	require.NoError(t, err)

	assert.Equal(t, course.ID(1), first.ID)
	assert.Equal(t, course.ID(2), second.ID)
	assert.Equal(t, int64(1), first.Version)
	assert.False(t, first.CreatedAt.IsZero())
}

func TestCourseStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewCourseStore()

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

func TestCourseStore_InsertWithExplicitID(t *testing.T) {
	ctx := context.Background()
	store := NewCourseStore()

	c := course.NewCourse("Go", "", 3)
	c.ID = 5
	_, err := store.Save(ctx, c)
	require.NoError(t, err)

	_, err = store.Save(ctx, c)
	assert.ErrorIs(t, err, shared.ErrVersionConflict, "second insert of the same id")

	next, err := store.Save(ctx, course.NewCourse("SQL", "", 1))
	require.NoError(t, err)
	assert.Equal(t, course.ID(6), next.ID)
}

func TestCourseStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewCourseStore()

	c, err := store.Save(ctx, course.NewCourse("Go", "", 3))
	require.NoError(t, err)

	c.AddMembership(course.Membership{UserID: 9})

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.MemberCount())
}

func TestCourseStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewCourseStore()

	for _, name := range []string{"a", "b", "c"} {
		_, err := store.Save(ctx, course.NewCourse(name, "", 1))
		require.NoError(t, err)
	}

	require.NoError(t, store.Delete(ctx, 2))
	assert.ErrorIs(t, store.Delete(ctx, 2), shared.ErrCourseNotFound)

	_, err := store.Get(ctx, 2)
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, course.ID(1), all[0].ID)
	assert.Equal(t, course.ID(3), all[1].ID)
}

func TestCourseStore_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	store := NewCourseStore()
	c, err := store.Save(ctx, course.NewCourse("Go", "", 3))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := c.Clone()
			cp.AddMembership(course.Membership{UserID: user.ID(100 + i)})
			if _, err := store.Save(ctx, cp); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "only one writer wins a given version")
}
