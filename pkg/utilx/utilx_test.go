package utilx_test

import (
	"testing"

	"github.com/gdp-tracker/gdp-backend/pkg/utilx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomString(t *testing.T) {
	a, err := utilx.RandomString(32)
	require.NoError(t, err)
	assert.Len(t, a, 64)

	b, err := utilx.RandomString(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerateUUID(t *testing.T) {
	assert.NotEqual(t, utilx.GenerateUUID(), utilx.GenerateUUID())
}

func TestDedupFold(t *testing.T) {
	got := utilx.DedupFold([]string{" a@x.fr", "A@X.FR", "", "b@x.fr ", "  "})
	assert.Equal(t, []string{"a@x.fr", "b@x.fr"}, got)
}

func TestDedup(t *testing.T) {
	assert.Equal(t, []string{"VAD", "CB"}, utilx.Dedup([]string{"VAD", "CB", "VAD"}))
	assert.Empty(t, utilx.Dedup([]string(nil)))
}
