package blob

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestPutAndOpen(t *testing.T) {
	store := newTestStore(t)

	path, err := store.Put("tenant-1", "content-1", "thumb_0001.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "tenant-1/content-1/thumb_0001.jpg", path)

	r, err := store.Open("tenant-1", "content-1", "thumb_0001.jpg")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestOpenMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Open("tenant-1", "content-1", "nope.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMoveReplacesDestination(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("tenant-1", "job-1", "thumb_0001.jpg", strings.NewReader("new"))
	require.NoError(t, err)
	_, err = store.Put("tenant-1", "content-1", "thumb_0001.jpg", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = store.Put("tenant-1", "content-1", "thumb_0002.jpg", strings.NewReader("old-extra"))
	require.NoError(t, err)

	require.NoError(t, store.Move("tenant-1", "job-1", "content-1"))

	r, err := store.Open("tenant-1", "content-1", "thumb_0001.jpg")
	require.NoError(t, err)
	defer r.Close()
	data, _ := io.ReadAll(r)
	assert.Equal(t, "new", string(data))

	_, err = store.Open("tenant-1", "content-1", "thumb_0002.jpg")
	assert.Error(t, err, "old artifacts must not survive the transfer")

	_, err = store.Open("tenant-1", "job-1", "thumb_0001.jpg")
	assert.Error(t, err, "source owner must be empty after the transfer")
}

func TestMoveMissingSourceIsNoop(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Move("tenant-1", "absent", "content-1"))
}

func TestDeleteAndSize(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("tenant-1", "content-1", "a.jpg", strings.NewReader("12345"))
	require.NoError(t, err)
	_, err = store.Put("tenant-1", "content-1", "b.jpg", strings.NewReader("123"))
	require.NoError(t, err)

	size, err := store.Size("tenant-1", "content-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	require.NoError(t, store.Delete("tenant-1", "content-1"))
	size, err = store.Size("tenant-1", "content-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestRejectsPathTraversal(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("..", "content-1", "a.jpg", strings.NewReader("x"))
	assert.Error(t, err)
	_, err = store.Put("tenant-1", "../other", "a.jpg", strings.NewReader("x"))
	assert.Error(t, err)
	_, err = store.Put("tenant-1", "content-1", "../../escape", strings.NewReader("x"))
	assert.Error(t, err)
}
