package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/evidence-crawler/internal/hash/sha256"
	"github.com/JakeFAU/evidence-crawler/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func TestSaveNamesArtifactByHashAndTime(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	clock := fixedClock{now: time.Date(2024, 3, 9, 14, 5, 6, 7, time.UTC)}
	arch, err := New(store, sha256.New(), clock, Config{Prefix: "/resource/"})
	require.NoError(t, err)

	uri, err := arch.Save(context.Background(), "search", "https://www.ipcc.ch/search?q=x", []byte("hello world"))
	require.NoError(t, err)

	want := "resource/search/search_a2ce3731_b94d27b9934d_20240309T140506Z.html"
	assert.Equal(t, "memory://"+want, uri)
	body, ok := store.Object(want)
	require.True(t, ok)
	assert.Equal(t, "hello world", string(body))
}

func TestSaveDefaultsKind(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	arch, err := New(store, sha256.New(), fixedClock{now: time.Unix(0, 0)}, Config{})
	require.NoError(t, err)

	uri, err := arch.Save(context.Background(), "", "not a url", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "memory://page/page_d8b5bf9b_2d711642b726_19700101T000000Z.html", uri)
}

func TestSaveWrapsStoreErrors(t *testing.T) {
	t.Parallel()

	arch, err := New(failingStore{}, sha256.New(), fixedClock{now: time.Unix(0, 0)}, Config{})
	require.NoError(t, err)

	_, err = arch.Save(context.Background(), "page", "https://example.com", []byte("x"))
	require.ErrorContains(t, err, "disk full")
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(nil, sha256.New(), fixedClock{}, Config{})
	require.Error(t, err)
	_, err = New(memory.NewBlobStore(), nil, fixedClock{}, Config{})
	require.Error(t, err)
}
