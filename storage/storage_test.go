package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(t.TempDir())

	require.NoError(t, store.Write(ctx, "out/a/part-0", strings.NewReader("hello")))
	w, err := store.Create(ctx, "out/b/part-1")
	require.NoError(t, err)
	_, err = io.WriteString(w, "world")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	files, err := store.List(ctx, "out")
	require.NoError(t, err)
	assert.Equal(t, []string{"out/a/part-0", "out/b/part-1"}, files)

	r, err := store.Read(ctx, "out/a/part-0")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello", string(data))
}

func TestLocalDeleteIsRecursiveAndIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(t.TempDir())
	require.NoError(t, store.Write(ctx, "out-indexed/logs/partition-0.parquet", strings.NewReader("x")))

	ok, err := store.Exists(ctx, "out-indexed")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Delete(ctx, "out-indexed"))
	require.NoError(t, store.Delete(ctx, "out-indexed"))

	ok, err = store.Exists(ctx, "out-indexed")
	require.NoError(t, err)
	assert.False(t, ok)

	files, err := store.List(ctx, "out-indexed")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestResolve(t *testing.T) {
	for _, tc := range []struct {
		uri, path   string
		distributed bool
	}{
		{uri: "access.log", path: "access.log"},
		{uri: "/var/log/access.log", path: "/var/log/access.log"},
		{uri: "file:///tmp/out", path: "/tmp/out"},
	} {
		t.Run(tc.uri, func(t *testing.T) {
			store, p, err := Resolve(context.Background(), tc.uri, S3Config{})
			require.NoError(t, err)
			assert.IsType(t, &Local{}, store)
			assert.Equal(t, tc.path, p)
			assert.Equal(t, tc.distributed, IsDistributed(tc.uri))
		})
	}

	_, _, err := Resolve(context.Background(), "hdfs://namenode/logs", S3Config{})
	require.Error(t, err)
	assert.True(t, IsDistributed("s3://bucket/logs"))
}

func TestBufferLimit(t *testing.T) {
	b := NewBuffer(4)
	_, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = b.Write([]byte("de"))
	require.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, int64(3), b.Size())

	data, err := io.ReadAll(b.Reader())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
