package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(id string) *FileRecord {
	upload := time.Date(2026, 5, 1, 10, 30, 0, 123_000_000, time.UTC)
	return &FileRecord{
		ID:         id,
		Name:       id + ".txt",
		Size:       42,
		MimeType:   "text/plain",
		UploadDate: upload,
		DeleteDate: upload.Add(7 * 24 * time.Hour),
	}
}

// runRepositoryContract exercises the behaviour every backend must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("create and get returns equal snapshot", func(t *testing.T) {
		repo := newRepo(t)
		rec := newTestRecord("f1")

		require.NoError(t, repo.Create(ctx, rec))

		got, err := repo.GetByID(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.Name, got.Name)
		assert.Equal(t, rec.Size, got.Size)
		assert.Equal(t, rec.MimeType, got.MimeType)
		assert.True(t, rec.UploadDate.Equal(got.UploadDate), "upload date %s != %s", rec.UploadDate, got.UploadDate)
		assert.True(t, rec.DeleteDate.Equal(got.DeleteDate), "delete date %s != %s", rec.DeleteDate, got.DeleteDate)
		assert.Equal(t, int64(0), got.Downloads)

		// Mutating the snapshot must not leak into the store.
		got.Downloads = 99
		again, err := repo.GetByID(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), again.Downloads)
	})

	t.Run("duplicate id is rejected and original kept", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, newTestRecord("dup")))

		other := newTestRecord("dup")
		other.Name = "other.bin"
		err := repo.Create(ctx, other)
		assert.ErrorIs(t, err, ErrDuplicateID)

		got, err := repo.GetByID(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, "dup.txt", got.Name)
	})

	t.Run("get missing returns not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("increment downloads", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, newTestRecord("inc")))

		for i := 0; i < 3; i++ {
			require.NoError(t, repo.IncrementDownloadCount(ctx, "inc"))
		}

		got, err := repo.GetByID(ctx, "inc")
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Downloads)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, newTestRecord("race")))

		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, repo.IncrementDownloadCount(ctx, "race"))
			}()
		}
		wg.Wait()

		got, err := repo.GetByID(ctx, "race")
		require.NoError(t, err)
		assert.Equal(t, int64(workers), got.Downloads)
	})

	t.Run("increment missing returns not found", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.IncrementDownloadCount(ctx, "ghost")
		assert.ErrorIs(t, err, ErrRecordNotFound)

		_, err = repo.GetByID(ctx, "ghost")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("list returns all records", func(t *testing.T) {
		repo := newRepo(t)
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, repo.Create(ctx, newTestRecord(id)))
		}

		records, err := repo.List(ctx)
		require.NoError(t, err)

		var ids []string
		for _, rec := range records {
			ids = append(ids, rec.ID)
		}
		assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, newTestRecord("del")))

		require.NoError(t, repo.Delete(ctx, "del"))
		require.NoError(t, repo.Delete(ctx, "del"))
		require.NoError(t, repo.Delete(ctx, "never-existed"))

		_, err := repo.GetByID(ctx, "del")
		assert.ErrorIs(t, err, ErrRecordNotFound)

		records, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("deleted id can be reused", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, newTestRecord("again")))
		require.NoError(t, repo.Delete(ctx, "again"))
		assert.NoError(t, repo.Create(ctx, newTestRecord("again")))
	})

	t.Run("health check", func(t *testing.T) {
		repo := newRepo(t)
		assert.NoError(t, repo.HealthCheck(ctx))
	})
}
