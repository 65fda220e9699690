package detector

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()

	m, err := NewMatcher(128, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return m
}

func mappingFor(d Detector, fields ...Field) Mapping {
	return Mapping{
		Detector:   d,
		Expression: and(fields...),
		Enabled:    true,
		UpdatedAt:  time.Now(),
	}
}

func TestMatcher_Match(t *testing.T) {
	checkout := Detector{UUID: uuid.New(), Enabled: true}
	payments := Detector{UUID: uuid.New(), Enabled: true}

	tags := map[string]string{"app": "checkout", "env": "prod"}

	t.Run("returns mappings the tag-set satisfies", func(t *testing.T) {
		m := newTestMatcher(t)

		matched := m.Match([]Mapping{
			mappingFor(checkout, Field{Key: "app", Value: "checkout"}),
			mappingFor(payments, Field{Key: "app", Value: "payments"}),
		}, tags)

		require.Len(t, matched, 1)
		assert.Equal(t, checkout.UUID, matched[0].Detector.UUID)
	})

	t.Run("keeps scan order across matches", func(t *testing.T) {
		m := newTestMatcher(t)

		matched := m.Match([]Mapping{
			mappingFor(checkout, Field{Key: "app", Value: "checkout"}),
			mappingFor(payments, Field{Key: "env", Value: "prod"}),
		}, tags)

		require.Len(t, matched, 2)
		assert.Equal(t, checkout.UUID, matched[0].Detector.UUID)
		assert.Equal(t, payments.UUID, matched[1].Detector.UUID)
	})

	t.Run("skips disabled mappings", func(t *testing.T) {
		m := newTestMatcher(t)

		disabled := mappingFor(checkout, Field{Key: "app", Value: "checkout"})
		disabled.Enabled = false

		assert.Empty(t, m.Match([]Mapping{disabled}, tags))
	})

	t.Run("skips mappings of disabled detectors", func(t *testing.T) {
		m := newTestMatcher(t)

		off := Detector{UUID: uuid.New(), Enabled: false}
		assert.Empty(t, m.Match([]Mapping{
			mappingFor(off, Field{Key: "app", Value: "checkout"}),
		}, tags))
	})

	t.Run("skips invalid expressions without failing the scan", func(t *testing.T) {
		m := newTestMatcher(t)

		invalid := Mapping{
			Detector:   payments,
			Expression: Expression{Operator: "OR"},
			Enabled:    true,
		}

		matched := m.Match([]Mapping{
			invalid,
			mappingFor(checkout, Field{Key: "env", Value: "prod"}),
		}, tags)

		require.Len(t, matched, 1)
		assert.Equal(t, checkout.UUID, matched[0].Detector.UUID)
	})

	t.Run("no matches yields empty result", func(t *testing.T) {
		m := newTestMatcher(t)

		matched := m.Match([]Mapping{
			mappingFor(checkout, Field{Key: "app", Value: "search"}),
		}, tags)

		assert.Empty(t, matched)
	})
}

func TestMatcher_MemoizesFlattenedExpressions(t *testing.T) {
	m := newTestMatcher(t)

	mapping := mappingFor(Detector{UUID: uuid.New(), Enabled: true}, Field{Key: "app", Value: "checkout"})
	tags := map[string]string{"app": "checkout"}

	m.Match([]Mapping{mapping}, tags)
	m.Match([]Mapping{mapping}, tags)
	assert.Equal(t, 1, m.CompiledExpressions())

	// An edit bumps the update timestamp, which keys a fresh compilation.
	mapping.UpdatedAt = mapping.UpdatedAt.Add(time.Second)
	m.Match([]Mapping{mapping}, tags)
	assert.Equal(t, 2, m.CompiledExpressions())
}

func TestNewMatcher_NilLoggerPanics(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = NewMatcher(128, nil)
	})
}
