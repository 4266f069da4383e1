package repository_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/internal/datastore"
	"github.com/clipvault/clipvault/internal/datastore/entities"
	"github.com/clipvault/clipvault/internal/datastore/repository"
	"github.com/clipvault/clipvault/internal/recognition"
)

func newRepo(t *testing.T) repository.ImageRepository {
	t.Helper()
	mgr, err := datastore.NewSQLiteManager(datastore.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })
	return repository.NewImageRepository(mgr.DB())
}

func img(sum string) *entities.Image {
	return &entities.Image{Image: []byte("png:" + sum), Size: int64(4 + len(sum)), Width: 2, Height: 2, Sum: sum}
}

func int64p(v int64) *int64 { return &v }

func TestSaveInsertsThenTouchesNewest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRepo(t)

	first, err := repo.Save(ctx, img("aa"), 1000)
	require.NoError(t, err)
	assert.False(t, first.Touched)
	assert.Equal(t, int64(1000), first.MTime)

	again, err := repo.Save(ctx, img("aa"), 2000)
	require.NoError(t, err)
	assert.True(t, again.Touched)
	assert.Equal(t, first.ID, again.ID)

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.CTime, "ctime is immutable")
	assert.Equal(t, int64(2000), got.MTime)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSaveOnlyDeduplicatesAgainstNewest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.Save(ctx, img("aa"), 1000)
	require.NoError(t, err)
	_, err = repo.Save(ctx, img("bb"), 2000)
	require.NoError(t, err)
	out, err := repo.Save(ctx, img("aa"), 3000)
	require.NoError(t, err)
	assert.False(t, out.Touched, "A B A keeps three records")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSaveKeepsMTimeStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRepo(t)

	a, err := repo.Save(ctx, img("aa"), 500)
	require.NoError(t, err)
	b, err := repo.Save(ctx, img("bb"), 500)
	require.NoError(t, err)
	c, err := repo.Save(ctx, img("bb"), 400)
	require.NoError(t, err)

	assert.Equal(t, int64(500), a.MTime)
	assert.Equal(t, int64(501), b.MTime)
	assert.True(t, c.Touched)
	assert.Equal(t, int64(502), c.MTime)
}

func TestSaveRejectsMissingSum(t *testing.T) {
	t.Parallel()
	_, err := newRepo(t).Save(context.Background(), &entities.Image{}, 1)
	assert.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestDeleteOldest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRepo(t)

	var ids []int64
	for i := range 3 {
		out, err := repo.Save(ctx, img(fmt.Sprintf("s%d", i)), int64(100*(i+1)))
		require.NoError(t, err)
		ids = append(ids, out.ID)
	}

	for _, victim := range ids {
		deleted, err := repo.DeleteOldest(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = repo.GetByID(ctx, victim)
		assert.ErrorIs(t, err, repository.ErrImageNotFound)
	}

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteOldestOnEmptyStore(t *testing.T) {
	t.Parallel()
	deleted, err := newRepo(t).DeleteOldest(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDeleteByIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRepo(t)

	a, err := repo.Save(ctx, img("aa"), 1)
	require.NoError(t, err)
	b, err := repo.Save(ctx, img("bb"), 2)
	require.NoError(t, err)

	n, err := repo.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.DeleteByIDs(ctx, []int64{a.ID, b.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestEnrichmentRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.FindUnenriched(ctx)
	require.ErrorIs(t, err, repository.ErrImageNotFound)

	saved, err := repo.Save(ctx, img("aa"), 1)
	require.NoError(t, err)

	pending, err := repo.FindUnenriched(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, pending.ID)
	assert.NotEmpty(t, pending.Image)

	res := recognition.Result{Code: 100, Data: recognition.BoxData([]recognition.Box{{Text: "Hello"}})}
	require.NoError(t, repo.UpdateOCR(ctx, saved.ID, res))

	_, err = repo.FindUnenriched(ctx)
	require.ErrorIs(t, err, repository.ErrImageNotFound)

	got, err := repo.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OCR)
	assert.Equal(t, res, *got.OCR)

	assert.ErrorIs(t, repo.UpdateOCR(ctx, 12345, res), repository.ErrImageNotFound)
}

func TestQueryFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRepo(t)

	boxes := recognition.Result{Code: 100, Data: recognition.BoxData([]recognition.Box{{Text: "Total 42"}, {Text: "Invoice"}})}
	text := recognition.Result{Code: 100, Data: recognition.TextData("plain receipt")}
	failed := recognition.Result{Code: 101, Data: recognition.TextData("Invoice")}

	var ids []int64
	for i, res := range []*recognition.Result{&boxes, &text, &failed, nil} {
		out, err := repo.Save(ctx, img(fmt.Sprintf("q%d", i)), int64(1000*(i+1)))
		require.NoError(t, err)
		ids = append(ids, out.ID)
		if res != nil {
			require.NoError(t, repo.UpdateOCR(ctx, out.ID, *res))
		}
	}

	idsOf := func(images []entities.Image) []int64 {
		out := make([]int64, len(images))
		for i := range images {
			out[i] = images[i].ID
		}
		return out
	}

	tests := []struct {
		name   string
		filter *repository.Filter
		want   []int64
	}{
		{"no filter newest first", nil, []int64{ids[3], ids[2], ids[1], ids[0]}},
		{"before cursor", &repository.Filter{Before: int64p(3000)}, []int64{ids[1], ids[0]}},
		{"id set", &repository.Filter{IDs: []int64{ids[0], ids[2]}}, []int64{ids[2], ids[0]}},
		{"box text", &repository.Filter{Texts: []string{"Invoice"}}, []int64{ids[0]}},
		{"plain text", &repository.Filter{Texts: []string{"receipt"}}, []int64{ids[1]}},
		{"any term", &repository.Filter{Texts: []string{"nothing", "42"}}, []int64{ids[0]}},
		{"case-sensitive", &repository.Filter{Texts: []string{"invoice"}}, []int64{}},
		{"injection is literal", &repository.Filter{Texts: []string{"') OR 1=1 --"}}, []int64{}},
		{"ctime range", &repository.Filter{CreatedFrom: int64p(2000), CreatedTo: int64p(3000)}, []int64{ids[2], ids[1]}},
		{"combined", &repository.Filter{Before: int64p(4000), Texts: []string{"Invoice", "receipt"}, CreatedFrom: int64p(1500)}, []int64{ids[1]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Query(ctx, tt.filter, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, idsOf(got))
		})
	}
}

func TestQueryLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRepo(t)

	for i := range 5 {
		_, err := repo.Save(ctx, img(fmt.Sprintf("l%d", i)), int64(i+1))
		require.NoError(t, err)
	}
	got, err := repo.Query(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(5), got[0].MTime)

	_, err = repo.Query(ctx, nil, 0)
	assert.ErrorIs(t, err, repository.ErrInvalidInput)
}
