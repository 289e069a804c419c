package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
	"github.com/nohelyvillegas/micro-cursos/internal/infrastructure/persistence/memory"
)

func TestService_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCourseStore(), nil)

	created, err := svc.Create(ctx, CourseInput{Name: "Go", Description: "Concurrency", Credits: 5})
	require.NoError(t, err)
	assert.True(t, created.ID.IsValid())
	assert.Equal(t, int64(1), created.Version)
	assert.NotNil(t, created.Memberships)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go", got.Name)
	assert.Equal(t, 5, got.Credits)
}

func TestService_UpdateKeepsMemberships(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCourseStore()
	svc := NewService(store, nil)

	c, err := svc.Create(ctx, CourseInput{Name: "Go", Credits: 5})
	require.NoError(t, err)
	c.AddMembership(course.Membership{UserID: 42})
	c, err = store.Save(ctx, c)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, c.ID, CourseInput{Name: "Advanced Go", Credits: 6})
	require.NoError(t, err)

	assert.Equal(t, "Advanced Go", updated.Name)
	assert.Equal(t, 6, updated.Credits)
	assert.True(t, updated.HasMember(42))
	assert.Equal(t, c.Version+1, updated.Version)
}

func TestService_UpdateStaleVersion(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCourseStore(), nil)

	c, err := svc.Create(ctx, CourseInput{Name: "Go"})
	require.NoError(t, err)
	_, err = svc.Update(ctx, c.ID, CourseInput{Name: "v2", Version: c.Version})
	require.NoError(t, err)

	_, err = svc.Update(ctx, c.ID, CourseInput{Name: "v3", Version: c.Version})
	assert.ErrorIs(t, err, shared.ErrVersionConflict)
}

// racingRepository lets another writer bump the course right before each of
// the first n saves.
type racingRepository struct {
	course.Repository
	races int
	saves int
}

func (r *racingRepository) Save(ctx context.Context, c *course.Course) (*course.Course, error) {
	r.saves++
	if r.races > 0 {
		r.races--
		current, err := r.Repository.Get(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		current.AddMembership(course.Membership{UserID: user.ID(100 + r.races)})
		if _, err := r.Repository.Save(ctx, current); err != nil {
			return nil, err
		}
	}
	return r.Repository.Save(ctx, c)
}

func TestService_UpdateWithoutVersionRetriesConflict(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepository{Repository: memory.NewCourseStore()}
	svc := NewService(repo, nil)

	c, err := svc.Create(ctx, CourseInput{Name: "Go"})
	require.NoError(t, err)
	repo.races, repo.saves = 1, 0

	updated, err := svc.Update(ctx, c.ID, CourseInput{Name: "Advanced Go", Credits: 6})
	require.NoError(t, err)

	assert.Equal(t, 2, repo.saves)
	assert.Equal(t, "Advanced Go", updated.Name)
	assert.True(t, updated.HasMember(100))
	assert.Equal(t, int64(3), updated.Version)
}

func TestService_UpdateWithVersionDoesNotRetry(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepository{Repository: memory.NewCourseStore()}
	svc := NewService(repo, nil)

	c, err := svc.Create(ctx, CourseInput{Name: "Go"})
	require.NoError(t, err)
	repo.races, repo.saves = 1, 0

	_, err = svc.Update(ctx, c.ID, CourseInput{Name: "Advanced Go", Version: c.Version})
	assert.ErrorIs(t, err, shared.ErrVersionConflict)
	assert.Equal(t, 1, repo.saves)
}

func TestService_UpdateGivesUpAfterRepeatedConflicts(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepository{Repository: memory.NewCourseStore()}
	svc := NewService(repo, nil)

	c, err := svc.Create(ctx, CourseInput{Name: "Go"})
	require.NoError(t, err)
	repo.races, repo.saves = maxUpdateRetries+1, 0

	_, err = svc.Update(ctx, c.ID, CourseInput{Name: "Advanced Go"})
	assert.ErrorIs(t, err, shared.ErrVersionConflict)
	assert.Equal(t, maxUpdateRetries+1, repo.saves)
}

func TestService_NotFound(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCourseStore(), nil)

	_, err := svc.Get(ctx, 99)
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)

	_, err = svc.Update(ctx, 99, CourseInput{Name: "x"})
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, 99), shared.ErrCourseNotFound)
}

func TestService_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCourseStore(), nil)

	a, err := svc.Create(ctx, CourseInput{Name: "a"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CourseInput{Name: "b"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, a.ID))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].Name)
}

func TestService_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCourseStore(), nil)

	_, err := svc.Create(ctx, CourseInput{Name: "  ", Credits: 3})
	assert.True(t, shared.IsValidation(err))

	_, err = svc.Create(ctx, CourseInput{Name: "Go", Credits: -1})
	assert.True(t, shared.IsValidation(err))

	courses, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, courses)
}
