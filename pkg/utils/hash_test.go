package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("open-sesame")
	require.NoError(t, err)
	assert.NotEqual(t, "open-sesame", hash)
	assert.True(t, CheckSecret("open-sesame", hash))
	assert.False(t, CheckSecret("open sesame", hash))
	assert.False(t, CheckSecret("open-sesame", "not-a-hash"))
}
