package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomBatch(t *testing.T) {
	batch := randomBatch(25, 10)

	require.Len(t, batch.Metrics, 25)
	for _, m := range batch.Metrics {
		assert.Len(t, m.Tags, 4)
		assert.Contains(t, m.Tags, "app")
		assert.Contains(t, m.Tags, "env")
		assert.Contains(t, m.Tags, "region")
		assert.Contains(t, m.Tags, "host")
		assert.Contains(t, []string{"prod", "staging", "dev"}, m.Tags["env"])
	}
}
