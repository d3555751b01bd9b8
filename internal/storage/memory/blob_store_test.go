package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "digests/2024-03-04/a.html", "text/html", strings.NewReader("content"))
	require.NoError(t, err)
	require.Equal(t, "memory://digests/2024-03-04/a.html", uri)

	obj, ok := store.Get("digests/2024-03-04/a.html")
	require.True(t, ok)
	require.Equal(t, "text/html", obj.ContentType)
	require.Equal(t, "content", string(obj.Data))

	obj.Data[0] = 'X'
	again, _ := store.Get("digests/2024-03-04/a.html")
	require.Equal(t, "content", string(again.Data))
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestBlobStorePathsSorted(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b", "a", "c"} {
		_, err := store.PutObject(context.Background(), p, "", strings.NewReader(p))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a", "b", "c"}, store.Paths())
	_, ok := store.Get("missing")
	require.False(t, ok)
}
