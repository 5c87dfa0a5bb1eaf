package metadata

import (
	"testing"
	"time"

	"github.com/openmined/blobvault/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedReadThrough(t *testing.T) {
	c, err := NewCached(newTestStore(t), 8)
	require.NoError(t, err)

	md := newRecord(9)
	require.NoError(t, c.Add(md))
	assert.Equal(t, 1, c.Len())

	got, err := c.Get(md.ID)
	require.NoError(t, err)
	assert.Equal(t, md.Hashes, got.Hashes)

	// callers get copies; mutating one does not leak into the cache
	got.Headers["mutated"] = "yes"
	again, err := c.Get(md.ID)
	require.NoError(t, err)
	assert.NotContains(t, again.Headers, "mutated")
}

func TestCachedInvalidatesOnMutation(t *testing.T) {
	c, err := NewCached(newTestStore(t), 8)
	require.NoError(t, err)

	md := newRecord(9)
	require.NoError(t, c.Add(md))
	_, err = c.Get(md.ID)
	require.NoError(t, err)

	require.NoError(t, c.MarkDeleted(md.ID, time.Now()))
	got, err := c.Get(md.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	require.NoError(t, c.Undelete(md.ID))
	got, err = c.Get(md.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)

	require.NoError(t, c.Remove(md.ID))
	_, err = c.Get(md.ID)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestCachedEvicts(t *testing.T) {
	c, err := NewCached(newTestStore(t), 2)
	require.NoError(t, err)

	for range 5 {
		require.NoError(t, c.Add(newRecord(1)))
	}
	assert.Equal(t, 2, c.Len())

	count, err := c.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}
