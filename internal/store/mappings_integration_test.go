//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/store"
	"github.com/lfelipe/argus/internal/testsupport"
)

func exprWith(conditions map[string]string) detector.Expression {
	operands := make([]detector.Operand, 0, len(conditions))
	for k, v := range conditions {
		operands = append(operands, detector.Operand{Field: detector.Field{Key: k, Value: v}})
	}
	return detector.Expression{Operator: detector.OperatorAnd, Operands: operands}
}

// TestMappingStore_Integration runs the mapping repository against a real
// PostgreSQL container, together with the detector repository the mappings
// reference.
func TestMappingStore_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err, "failed to start postgres container")
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	detectors := store.NewDetectorStore(pgContainer.DB)
	repo := store.NewMappingStore(pgContainer.DB)

	seedDetector := func(t *testing.T, enabled bool) *detector.Detector {
		t.Helper()
		d := newDetector("mapping-tests")
		d.Enabled = enabled
		require.NoError(t, detectors.CreateDetector(ctx, d))
		return d
	}

	seedMapping := func(t *testing.T, d *detector.Detector, enabled bool, conditions map[string]string) *detector.Mapping {
		t.Helper()
		m := &detector.Mapping{
			Detector:   *d,
			Expression: exprWith(conditions),
			Enabled:    enabled,
		}
		require.NoError(t, repo.CreateMapping(ctx, m))
		return m
	}

	t.Run("create stores the expression as JSONB", func(t *testing.T) {
		d := seedDetector(t, true)
		m := seedMapping(t, d, true, map[string]string{"app": "mall-web", "env": "prod"})

		assert.Positive(t, m.ID)
		assert.False(t, m.CreatedAt.IsZero())

		// The JSONB round-trip must preserve the expression exactly.
		var exprJSON []byte
		err := pgContainer.DB.QueryRow(ctx,
			`SELECT expression FROM detector_mappings WHERE id = $1`, m.ID,
		).Scan(&exprJSON)
		require.NoError(t, err)

		var persisted detector.Expression
		require.NoError(t, json.Unmarshal(exprJSON, &persisted))
		assert.Equal(t, m.Expression, persisted)
	})

	t.Run("create for a missing detector yields ErrNotFound", func(t *testing.T) {
		m := &detector.Mapping{
			Detector:   detector.Detector{UUID: uuid.New()},
			Expression: exprWith(map[string]string{"app": "ghost"}),
			Enabled:    true,
		}
		err := repo.CreateMapping(ctx, m)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("a detector carries at most one mapping", func(t *testing.T) {
		d := seedDetector(t, true)
		seedMapping(t, d, true, map[string]string{"app": "checkout"})

		second := &detector.Mapping{
			Detector:   *d,
			Expression: exprWith(map[string]string{"app": "payments"}),
			Enabled:    true,
		}
		err := repo.CreateMapping(ctx, second)
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("get joins the owning detector", func(t *testing.T) {
		d := seedDetector(t, true)
		m := seedMapping(t, d, true, map[string]string{"app": "mall-web"})

		got, err := repo.GetMappingByDetector(ctx, d.UUID)
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)
		assert.Equal(t, d.UUID, got.Detector.UUID)
		assert.Equal(t, d.Type, got.Detector.Type)
		assert.Equal(t, "mapping-tests", got.Detector.CreatedBy)
		assert.Equal(t, m.Expression, got.Expression)
	})

	t.Run("get unknown mapping yields ErrNotFound", func(t *testing.T) {
		_, err := repo.GetMappingByDetector(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list enabled requires both flags", func(t *testing.T) {
		effective := seedMapping(t, seedDetector(t, true), true, map[string]string{"a": "1"})
		mappingOff := seedMapping(t, seedDetector(t, true), false, map[string]string{"a": "2"})
		detectorOff := seedMapping(t, seedDetector(t, false), true, map[string]string{"a": "3"})
		bothOff := seedMapping(t, seedDetector(t, false), false, map[string]string{"a": "4"})

		listed, err := repo.ListEnabledMappings(ctx)
		require.NoError(t, err)

		ids := make(map[int64]bool, len(listed))
		for _, m := range listed {
			ids[m.ID] = true
		}
		assert.True(t, ids[effective.ID])
		assert.False(t, ids[mappingOff.ID])
		assert.False(t, ids[detectorOff.ID])
		assert.False(t, ids[bothOff.ID])
	})

	t.Run("updated-since covers detector-side changes", func(t *testing.T) {
		d := seedDetector(t, true)
		m := seedMapping(t, d, true, map[string]string{"app": "mall-web"})

		// Toggling the detector bumps only detectors.updated_at; the window
		// must still surface the mapping (GREATEST of both timestamps).
		toggled, err := detectors.SetDetectorEnabled(ctx, d.UUID, false)
		require.NoError(t, err)
		require.True(t, toggled.UpdatedAt.After(m.UpdatedAt))

		inWindow, err := repo.ListMappingsUpdatedSince(ctx, toggled.UpdatedAt)
		require.NoError(t, err)
		assert.True(t, containsMapping(inWindow, m.ID),
			"a detector toggle must surface its mapping to pollers")

		outOfWindow, err := repo.ListMappingsUpdatedSince(ctx, toggled.UpdatedAt.Add(time.Microsecond))
		require.NoError(t, err)
		assert.False(t, containsMapping(outOfWindow, m.ID))
	})

	t.Run("delete removes the mapping", func(t *testing.T) {
		d := seedDetector(t, true)
		seedMapping(t, d, true, map[string]string{"app": "mall-web"})

		require.NoError(t, repo.DeleteMappingByDetector(ctx, d.UUID))

		_, err := repo.GetMappingByDetector(ctx, d.UUID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		err = repo.DeleteMappingByDetector(ctx, d.UUID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("deleting the detector cascades to its mapping", func(t *testing.T) {
		d := seedDetector(t, true)
		m := seedMapping(t, d, true, map[string]string{"app": "mall-web"})

		require.NoError(t, detectors.DeleteDetector(ctx, d.UUID))

		_, err := repo.GetMappingByDetector(ctx, d.UUID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		var count int
		err = pgContainer.DB.QueryRow(ctx,
			`SELECT count(*) FROM detector_mappings WHERE id = $1`, m.ID,
		).Scan(&count)
		require.NoError(t, err)
		assert.Zero(t, count, "cascade should remove the mapping row")
	})
}

func containsMapping(mappings []*detector.Mapping, id int64) bool {
	for _, m := range mappings {
		if m.ID == id {
			return true
		}
	}
	return false
}
