package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetReadAfterWrite(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "run1/agent1/ctx.json", []byte(`{"a":1}`)))

	got, err := fs.Get(ctx, "run1/agent1/ctx.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)
}

func TestPutOverwrite(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "k", []byte("one")))
	require.NoError(t, fs.Put(ctx, "k", []byte("two")))

	got, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestGetMissing(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListPrefix(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, p := range []string{"run1/a/x.json", "run1/b/y.json", "run2/a/z.json"} {
		require.NoError(t, fs.Put(ctx, p, []byte("data")))
	}

	paths, err := fs.List(ctx, "run1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"run1/a/x.json", "run1/b/y.json"}, paths)

	all, err := fs.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDelete(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "gone", []byte("x")))
	require.NoError(t, fs.Delete(ctx, "gone"))

	_, err = fs.Get(ctx, "gone")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(fs.Delete(ctx, "gone"), ErrNotFound))
}

func TestRejectsEscapingPaths(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, fs.Put(ctx, "../escape", []byte("x")))
	assert.Error(t, fs.Put(ctx, "/abs", []byte("x")))
}
