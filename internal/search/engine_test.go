package search

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/internal/datastore"
	"github.com/clipvault/clipvault/internal/datastore/entities"
	"github.com/clipvault/clipvault/internal/datastore/repository"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/ingest"
)

type countingStore struct {
	Store
	calls  atomic.Int32
	limits []int
}

func (c *countingStore) Query(ctx context.Context, f *repository.Filter, limit int) ([]entities.Image, error) {
	c.calls.Add(1)
	c.limits = append(c.limits, limit)
	return c.Store.Query(ctx, f, limit)
}

func setupRepo(t *testing.T) repository.ImageRepository {
	t.Helper()
	mgr, err := datastore.NewSQLiteManager(datastore.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })
	return repository.NewImageRepository(mgr.DB())
}

// solidPNG encodes a 4x4 image of c with one marker pixel so every image
// hashes differently.
func solidPNG(t *testing.T, c color.NRGBA, marker uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, 255
	}
	img.Pix[0], img.Pix[1], img.Pix[2] = marker, marker, marker
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

var (
	red   = color.NRGBA{R: 255}
	blue  = color.NRGBA{B: 255}
	green = color.NRGBA{G: 255}
)

var redFilter = &ColorFilter{Red: 255, CoverRatioFrom: 0.5, CoverRatioTo: 1, Difference: 10}

// seed stores 50 images, every fifth red, and returns the red ids newest
// first.
func seed(t *testing.T, repo repository.ImageRepository) []int64 {
	t.Helper()
	var reds []int64
	for i := range 50 {
		c := blue
		if i%5 == 0 {
			c = red
		}
		data := solidPNG(t, c, uint8(i))
		out, err := repo.Save(context.Background(), &entities.Image{
			Image: data, Size: int64(len(data)), Width: 4, Height: 4, Sum: ingest.Sum(data),
		}, int64(1000+i))
		require.NoError(t, err)
		if c == red {
			reds = append([]int64{out.ID}, reds...)
		}
	}
	return reds
}

func ids(images []entities.Image) []int64 {
	out := make([]int64, len(images))
	for i := range images {
		out[i] = images[i].ID
	}
	return out
}

func intp(v int) *int { return &v }

func TestColorFilteredPagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := setupRepo(t)
	reds := seed(t, repo)
	require.Len(t, reds, 10)

	store := &countingStore{Store: repo}
	e := New(Config{Store: store, VerdictTTL: time.Minute})

	first, err := e.Search(ctx, Query{Limit: intp(5), ColorFilter: redFilter})
	require.NoError(t, err)
	require.Len(t, first.Images, 5)
	require.NotNil(t, first.Cursor)

	second, err := e.Search(ctx, Query{Limit: intp(5), MTime: first.Cursor, ColorFilter: redFilter})
	require.NoError(t, err)
	require.Len(t, second.Images, 5)

	assert.Equal(t, reds, append(ids(first.Images), ids(second.Images)...), "no overlap, no omission")

	third, err := e.Search(ctx, Query{Limit: intp(5), MTime: second.Cursor, ColorFilter: redFilter})
	require.NoError(t, err)
	assert.Empty(t, third.Images)
	assert.Nil(t, third.Cursor)
}

func TestBatchSizeDoubles(t *testing.T) {
	t.Parallel()
	repo := setupRepo(t)
	seed(t, repo)

	store := &countingStore{Store: repo}
	e := New(Config{Store: store})

	page, err := e.Search(context.Background(), Query{Limit: intp(10), ColorFilter: redFilter})
	require.NoError(t, err)
	assert.Len(t, page.Images, 10)
	// 10 rows hold 2 reds, 20 more hold 4, 40 more hold the last 4
	assert.Equal(t, []int{10, 20, 40}, store.limits)
}

func TestZeroAcceptanceTerminates(t *testing.T) {
	t.Parallel()
	repo := setupRepo(t)
	seed(t, repo)

	store := &countingStore{Store: repo}
	e := New(Config{Store: store})

	filter := &ColorFilter{Green: 255, CoverRatioFrom: 0.5, CoverRatioTo: 1, Difference: 5}
	page, err := e.Search(context.Background(), Query{Limit: intp(3), ColorFilter: filter})
	require.NoError(t, err)
	assert.Empty(t, page.Images)
	assert.LessOrEqual(t, store.calls.Load(), int32(6), "round trips grow logarithmically")
}

func TestSearchWithoutColorFilter(t *testing.T) {
	t.Parallel()
	repo := setupRepo(t)
	seed(t, repo)
	store := &countingStore{Store: repo}
	e := New(Config{Store: store})

	page, err := e.Search(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, page.Images, DefaultLimit)
	assert.Equal(t, int32(1), store.calls.Load())
	assert.Equal(t, int64(1049), page.Images[0].MTime)
	assert.Equal(t, int64(1049-DefaultLimit+1), *page.Cursor)
}

func TestShortStoreReturnsFewer(t *testing.T) {
	t.Parallel()
	repo := setupRepo(t)
	for i := range 3 {
		data := solidPNG(t, red, uint8(i))
		_, err := repo.Save(context.Background(), &entities.Image{Image: data, Sum: ingest.Sum(data)}, int64(i+1))
		require.NoError(t, err)
	}
	page, err := New(Config{Store: repo}).Search(context.Background(), Query{Limit: intp(10), ColorFilter: redFilter})
	require.NoError(t, err)
	assert.Len(t, page.Images, 3)
}

func TestNonPositiveLimitRejected(t *testing.T) {
	t.Parallel()
	store := &countingStore{Store: setupRepo(t)}
	e := New(Config{Store: store})

	for _, limit := range []int{0, -1} {
		_, err := e.Search(context.Background(), Query{Limit: intp(limit)})
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	}
	assert.Zero(t, store.calls.Load())
}

func TestUndecodableImageIsRejected(t *testing.T) {
	t.Parallel()
	repo := setupRepo(t)
	_, err := repo.Save(context.Background(), &entities.Image{Image: []byte("not a png"), Sum: "x"}, 1)
	require.NoError(t, err)

	page, err := New(Config{Store: repo}).Search(context.Background(), Query{ColorFilter: redFilter})
	require.NoError(t, err)
	assert.Empty(t, page.Images)
}

func TestVerdictCache(t *testing.T) {
	t.Parallel()
	repo := setupRepo(t)
	seed(t, repo)
	e := New(Config{Store: repo, VerdictTTL: time.Minute})

	_, err := e.Search(context.Background(), Query{Limit: intp(10), ColorFilter: redFilter})
	require.NoError(t, err)
	assert.Equal(t, 50, e.verdicts.ItemCount())

	other := *redFilter
	other.Difference = 1
	_, err = e.Search(context.Background(), Query{Limit: intp(1), ColorFilter: &other})
	require.NoError(t, err)
	assert.Greater(t, e.verdicts.ItemCount(), 50, "verdicts are keyed by filter")
}

func TestCoverage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		img    []byte
		filter ColorFilter
		want   float64
	}{
		{"all but marker", solidPNG(t, red, 0), ColorFilter{Red: 255, Difference: 10}, 15.0 / 16},
		{"near color within threshold", solidPNG(t, color.NRGBA{R: 250, G: 5}, 0), ColorFilter{Red: 255, Difference: 5}, 15.0 / 16},
		{"other color", solidPNG(t, blue, 0), ColorFilter{Red: 255, Difference: 10}, 0},
		{"black marker matches black", solidPNG(t, green, 0), ColorFilter{Difference: 1}, 1.0 / 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.filter.Coverage(tt.img)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDeltaEScale(t *testing.T) {
	t.Parallel()
	f := ColorFilter{Red: 255}
	assert.InDelta(t, 0, deltaE(f.target(), f.target()), 1e-9)
	// black against white is 100 on the conventional scale
	white := ColorFilter{Red: 255, Green: 255, Blue: 255}.target()
	black := ColorFilter{}.target()
	assert.InDelta(t, 100, deltaE(white, black), 0.5)
}

func TestAcceptsIsInclusive(t *testing.T) {
	t.Parallel()
	f := ColorFilter{CoverRatioFrom: 0.25, CoverRatioTo: 0.75}
	assert.True(t, f.Accepts(0.25))
	assert.True(t, f.Accepts(0.75))
	assert.False(t, f.Accepts(0.7500001))
	assert.False(t, f.Accepts(0.2))
	assert.NotEqual(t, f.key(), ColorFilter{CoverRatioFrom: 0.25, CoverRatioTo: 0.7}.key())
}
