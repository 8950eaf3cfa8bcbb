// Package replication copies the partition files of a generated
// tablespace into the replica slots of a query node's store.
package replication

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"log-indexer/storage"
)

// ReplicaDir is the directory of replica r below dir.
func ReplicaDir(dir string, r int) string {
	return path.Join(dir, fmt.Sprintf("replica-%d", r))
}

type Replicator struct {
	parallelism int
	logger      log.Logger
}

// NewReplicator returns a replicator running at most parallelism copies
// at once.
func NewReplicator(parallelism int, logger log.Logger) *Replicator {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Replicator{parallelism: parallelism, logger: logger}
}

// Replicate copies every file, given relative to srcDir, into
// replica-<r>/ below dstDir for r in [0, factor).
func (r *Replicator) Replicate(ctx context.Context, src storage.Storage, srcDir string, files []string, dst storage.Storage, dstDir string, factor int) error {
	if factor < 1 {
		return fmt.Errorf("replication factor must be positive, got %d", factor)
	}

	start := time.Now()
	var copied atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for replica := 0; replica < factor; replica++ {
		for _, f := range files {
			g.Go(func() error {
				n, err := copyFile(gctx, src, path.Join(srcDir, f), dst, path.Join(ReplicaDir(dstDir, replica), f))
				if err != nil {
					return fmt.Errorf("replica %d: %w", replica, err)
				}
				copied.Add(n)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	level.Debug(r.logger).Log("msg", "replicated files", "files", len(files), "replicas", factor,
		"bytes", humanize.Bytes(uint64(copied.Load())), "duration", time.Since(start))
	return nil
}

func copyFile(ctx context.Context, src storage.Storage, from string, dst storage.Storage, to string) (int64, error) {
	rc, err := src.Read(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", from, err)
	}
	defer rc.Close()

	cr := &countingReader{r: rc}
	if err := dst.Write(ctx, to, cr); err != nil {
		return 0, fmt.Errorf("writing %s: %w", to, err)
	}
	return cr.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
