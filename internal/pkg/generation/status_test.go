package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCacheValueRoundTrip(t *testing.T) {
	owner, status, err := parseStatusCacheValue(statusCacheValue(42, "processing"))
	require.NoError(t, err)
	assert.Equal(t, uint(42), owner)
	assert.Equal(t, "processing", status)
}

func TestParseStatusCacheValueRejectsLegacyEntries(t *testing.T) {
	// Entries without an owner id must never be served; a cached status
	// read outside the owner check would leak another user's generation.
	for _, raw := range []string{"processing", "succeeded", "", "abc|processing", "7|"} {
		_, _, err := parseStatusCacheValue(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}
