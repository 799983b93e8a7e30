package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "search/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://search/page.html", uri)

	payload[0] = 'C'
	stored, ok := store.Object("search/page.html")
	require.True(t, ok)
	assert.Equal(t, "content", string(stored))

	stored[0] = 'X'
	again, _ := store.Object("search/page.html")
	assert.Equal(t, "content", string(again))
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b.html", "a.html"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a.html", "b.html"}, store.Paths())

	_, err := store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
	_, ok := store.Object("missing")
	assert.False(t, ok)
}
