//go:build integration

// Package store_test contains integration tests for the persistence layer.
// The '_test' suffix enforces black-box testing against the exported API.
package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/store"
	"github.com/lfelipe/argus/internal/testsupport"
)

func newDetector(createdBy string) *detector.Detector {
	return &detector.Detector{
		UUID:      uuid.New(),
		Type:      "constant-detector",
		Enabled:   true,
		CreatedBy: createdBy,
	}
}

// TestDetectorStore_Integration runs the detector repository against a real
// PostgreSQL container. Scenarios share the container and run sequentially.
func TestDetectorStore_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err, "failed to start postgres container")
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	repo := store.NewDetectorStore(pgContainer.DB)

	t.Run("create assigns server-side timestamps", func(t *testing.T) {
		d := newDetector("integration")

		require.NoError(t, repo.CreateDetector(ctx, d))
		assert.False(t, d.CreatedAt.IsZero())
		assert.False(t, d.UpdatedAt.IsZero())

		// Verify persistence with a direct query.
		var persisted detector.Detector
		err := pgContainer.DB.QueryRow(ctx,
			`SELECT uuid, type, enabled, created_by FROM detectors WHERE uuid = $1`, d.UUID,
		).Scan(&persisted.UUID, &persisted.Type, &persisted.Enabled, &persisted.CreatedBy)
		require.NoError(t, err)
		assert.Equal(t, d.UUID, persisted.UUID)
		assert.Equal(t, "constant-detector", persisted.Type)
		assert.True(t, persisted.Enabled)
		assert.Equal(t, "integration", persisted.CreatedBy)
	})

	t.Run("duplicate uuid yields ErrAlreadyExists", func(t *testing.T) {
		d := newDetector("integration")
		require.NoError(t, repo.CreateDetector(ctx, d))

		dup := newDetector("integration")
		dup.UUID = d.UUID
		err := repo.CreateDetector(ctx, dup)
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("get unknown detector yields ErrNotFound", func(t *testing.T) {
		_, err := repo.GetDetector(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("get returns the stored row", func(t *testing.T) {
		d := newDetector("reader")
		require.NoError(t, repo.CreateDetector(ctx, d))

		got, err := repo.GetDetector(ctx, d.UUID)
		require.NoError(t, err)
		assert.Equal(t, d.UUID, got.UUID)
		assert.Equal(t, d.Type, got.Type)
		assert.Equal(t, "reader", got.CreatedBy)
	})

	t.Run("list paginates newest-first and counts totals", func(t *testing.T) {
		creator := fmt.Sprintf("pagination-%d", time.Now().UnixNano())
		for i := 0; i < 15; i++ {
			require.NoError(t, repo.CreateDetector(ctx, newDetector(creator)))
		}

		page, total, err := repo.ListDetectors(ctx, creator, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(15), total)
		require.Len(t, page, 10)
		for i := 0; i < len(page)-1; i++ {
			assert.False(t, page[i].CreatedAt.Before(page[i+1].CreatedAt),
				"ordering violation at index %d", i)
		}

		rest, total, err := repo.ListDetectors(ctx, creator, 10, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(15), total)
		assert.Len(t, rest, 5)
	})

	t.Run("list without creator filter spans all rows", func(t *testing.T) {
		_, total, err := repo.ListDetectors(ctx, "", 10, 0)
		require.NoError(t, err)
		assert.Greater(t, total, int64(15))
	})

	t.Run("toggle flips the flag and bumps updated_at", func(t *testing.T) {
		d := newDetector("toggler")
		require.NoError(t, repo.CreateDetector(ctx, d))

		updated, err := repo.SetDetectorEnabled(ctx, d.UUID, false)
		require.NoError(t, err)
		assert.False(t, updated.Enabled)
		assert.True(t, updated.UpdatedAt.After(d.UpdatedAt),
			"toggling must bump updated_at for updated-since pollers")
	})

	t.Run("toggle unknown detector yields ErrNotFound", func(t *testing.T) {
		_, err := repo.SetDetectorEnabled(ctx, uuid.New(), true)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("updated-since window is inclusive", func(t *testing.T) {
		d := newDetector("poller")
		require.NoError(t, repo.CreateDetector(ctx, d))
		updated, err := repo.SetDetectorEnabled(ctx, d.UUID, false)
		require.NoError(t, err)

		inWindow, err := repo.ListDetectorsUpdatedSince(ctx, updated.UpdatedAt)
		require.NoError(t, err)
		assert.True(t, containsDetector(inWindow, d.UUID), "row updated exactly at the boundary must be included")

		outOfWindow, err := repo.ListDetectorsUpdatedSince(ctx, updated.UpdatedAt.Add(time.Microsecond))
		require.NoError(t, err)
		assert.False(t, containsDetector(outOfWindow, d.UUID))
	})

	t.Run("delete removes the row", func(t *testing.T) {
		d := newDetector("deleter")
		require.NoError(t, repo.CreateDetector(ctx, d))

		require.NoError(t, repo.DeleteDetector(ctx, d.UUID))

		_, err := repo.GetDetector(ctx, d.UUID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		err = repo.DeleteDetector(ctx, d.UUID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func containsDetector(detectors []*detector.Detector, id uuid.UUID) bool {
	for _, d := range detectors {
		if d.UUID == id {
			return true
		}
	}
	return false
}
