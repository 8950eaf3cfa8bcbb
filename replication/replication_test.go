package replication

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-indexer/storage"
)

func TestReplicate(t *testing.T) {
	ctx := context.Background()
	src := storage.NewLocal(t.TempDir())
	dst := storage.NewLocal(t.TempDir())

	files := []string{"logs/partition-0.parquet", "logs/partition-1.parquet", "metadata.json"}
	for _, f := range files {
		require.NoError(t, src.Write(ctx, "gen/"+f, strings.NewReader("content of "+f)))
	}

	err := NewReplicator(2, log.NewNopLogger()).Replicate(ctx, src, "gen", files, dst, "ts/v1", 3)
	require.NoError(t, err)

	got, err := dst.List(ctx, "ts/v1")
	require.NoError(t, err)
	assert.Len(t, got, 9)

	for r := 0; r < 3; r++ {
		for _, f := range files {
			rc, err := dst.Read(ctx, ReplicaDir("ts/v1", r)+"/"+f)
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			rc.Close()
			require.NoError(t, err)
			assert.Equal(t, "content of "+f, string(data))
		}
	}
}

func TestReplicateErrors(t *testing.T) {
	ctx := context.Background()
	src := storage.NewLocal(t.TempDir())
	dst := storage.NewLocal(t.TempDir())
	r := NewReplicator(0, log.NewNopLogger())

	assert.Error(t, r.Replicate(ctx, src, "", nil, dst, "", 0))
	assert.Error(t, r.Replicate(ctx, src, "", []string{"missing"}, dst, "out", 1))
}

func TestReplicaDir(t *testing.T) {
	assert.Equal(t, "ts/v1/replica-0", ReplicaDir("ts/v1", 0))
	assert.Equal(t, "replica-2", ReplicaDir("", 2))
}
