package tablespace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"log-indexer/bridge"
	"log-indexer/dataflow"
	"log-indexer/schema"
	"log-indexer/storage"
)

// DefaultSampleSize is the reservoir size used when no sampler is given.
const DefaultSampleSize = 10000

const writeBatch = 1024

// Generator builds tablespaces from tuple files.
type Generator struct {
	s3     storage.S3Config
	logger log.Logger
}

func NewGenerator(s3 storage.S3Config, logger log.Logger) *Generator {
	return &Generator{s3: s3, logger: logger}
}

// table is the state of one table between the two passes.
type table struct {
	spec    TableSpec
	store   storage.Storage
	path    string
	schema  schema.ColumnSchema
	pschema *parquet.Schema
	keyLeaf []int
	types   []schema.ColumnType
	rows    int64
}

// Generate writes the tablespace described by spec to out. The first pass
// samples the partition keys of every table; the boundaries computed from
// the sample are shared by all tables, so rows with equal keys land in the
// same partition whatever their table. The second pass writes one parquet
// file per table and partition, then metadata.json.
func (g *Generator) Generate(ctx context.Context, spec Spec, sampler Sampler, out string) (*Metadata, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		sampler = Reservoir(DefaultSampleSize, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))
	}
	store, dir, err := storage.Resolve(ctx, out, g.s3)
	if err != nil {
		return nil, fmt.Errorf("resolving output: %w", err)
	}

	start := time.Now()
	manager := schema.NewManager()
	sampler.Reset()

	tables := make([]*table, len(spec.Tables))
	for i, ts := range spec.Tables {
		t, err := g.sample(ctx, ts, manager, sampler)
		if err != nil {
			return nil, err
		}
		if i > 0 && !sameTypes(tables[0].types, t.types) {
			return nil, fmt.Errorf("table %s: partition key types %v differ from %v of table %s",
				t.spec.Name, t.types, tables[0].types, tables[0].spec.Name)
		}
		tables[i] = t
	}

	bounds := boundaries(tables[0].types, sampler.Sample(), spec.Partitions)
	n := len(bounds) + 1
	if n < spec.Partitions {
		level.Warn(g.logger).Log("msg", "fewer distinct partition keys than partitions", "tablespace", spec.Name, "requested", spec.Partitions, "partitions", n)
	}

	meta := &Metadata{
		FormatVersion: FormatVersion,
		UUID:          uuid.New().String(),
		Name:          spec.Name,
		Tables:        make([]TableMetadata, len(tables)),
	}
	for i := 0; i < n; i++ {
		p := Partition{Index: i}
		if i > 0 {
			p.Min = bounds[i-1]
		}
		if i < len(bounds) {
			p.Max = bounds[i]
		}
		meta.Partitions = append(meta.Partitions, p)
	}

	eg, egctx := errgroup.WithContext(ctx)
	for i, t := range tables {
		eg.Go(func() error {
			files, err := g.write(egctx, t, bounds, store, dir)
			if err != nil {
				return fmt.Errorf("table %s: %w", t.spec.Name, err)
			}
			meta.Tables[i] = TableMetadata{
				Name:        t.spec.Name,
				Columns:     t.schema,
				PartitionBy: t.spec.PartitionBy,
				Files:       files,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	meta.LastUpdated = time.Now().UnixMilli()
	if err := writeMetadata(ctx, store, dir, meta); err != nil {
		return nil, err
	}

	var size int64
	for _, t := range meta.Tables {
		for _, f := range t.Files {
			size += f.FileSizeBytes
		}
	}
	level.Info(g.logger).Log("msg", "generated tablespace", "tablespace", spec.Name, "uuid", meta.UUID,
		"partitions", n, "size", humanize.Bytes(uint64(size)), "duration", time.Since(start))
	return meta, nil
}

func sameTypes(a, b []schema.ColumnType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (g *Generator) open(ctx context.Context, t *table, declared schema.ColumnSchema) (*bridge.Reader, error) {
	it, err := dataflow.OpenTuples(ctx, t.store, t.path)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", t.spec.Name, err)
	}
	return bridge.NewReader(it, t.spec.Name, declared), nil
}

// sample reads every row of ts once, fixing its schema and offering its
// partition keys to sampler.
func (g *Generator) sample(ctx context.Context, ts TableSpec, manager *schema.Manager, sampler Sampler) (*table, error) {
	store, p, err := storage.Resolve(ctx, ts.Input, g.s3)
	if err != nil {
		return nil, fmt.Errorf("table %s: resolving input: %w", ts.Name, err)
	}
	t := &table{spec: ts, store: store, path: p}

	r, err := g.open(ctx, t, ts.Columns)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if t.keyLeaf == nil {
			if err := t.bindKey(r); err != nil {
				return nil, err
			}
		}
		sampler.Offer(t.key(row))
		t.rows++
	}

	s := r.Schema()
	if s == nil {
		return nil, fmt.Errorf("table %s is empty and declares no columns", ts.Name)
	}
	if t.keyLeaf == nil {
		if err := t.bindKey(r); err != nil {
			return nil, err
		}
	}
	if t.schema, err = manager.Fix(ts.Name, s); err != nil {
		return nil, err
	}
	t.pschema = r.ParquetSchema()

	level.Debug(g.logger).Log("msg", "sampled table", "table", ts.Name, "rows", t.rows, "columns", len(t.schema))
	return t, nil
}

func (t *table) bindKey(r *bridge.Reader) error {
	s := r.Schema()
	t.keyLeaf = make([]int, len(t.spec.PartitionBy))
	t.types = make([]schema.ColumnType, len(t.spec.PartitionBy))
	for i, name := range t.spec.PartitionBy {
		leaf, ok := r.ColumnIndex(name)
		if !ok {
			return fmt.Errorf("table %s: unknown partition column %s", t.spec.Name, name)
		}
		t.keyLeaf[i] = leaf
		t.types[i] = s[s.Index(name)].Type
	}
	return nil
}

func (t *table) key(row parquet.Row) Key {
	k := make(Key, len(t.keyLeaf))
	for i, leaf := range t.keyLeaf {
		k[i] = t.types[i].GoValue(row[leaf])
	}
	return k
}

type partitionWriter struct {
	file  DataFile
	w     io.WriteCloser
	cw    *countingWriter
	pw    *parquet.Writer
	batch []parquet.Row
}

func (p *partitionWriter) flush() error {
	if len(p.batch) == 0 {
		return nil
	}
	if _, err := p.pw.WriteRows(p.batch); err != nil {
		return fmt.Errorf("writing %s: %w", p.file.Path, err)
	}
	p.file.RecordCount += int64(len(p.batch))
	p.batch = p.batch[:0]
	return nil
}

func (p *partitionWriter) close() error {
	if err := p.flush(); err != nil {
		p.w.Close()
		return err
	}
	if err := p.pw.Close(); err != nil {
		p.w.Close()
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	if err := p.w.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", p.file.Path, err)
	}
	p.file.FileSizeBytes = p.cw.n
	return nil
}

// write routes every row of t to its partition file.
func (g *Generator) write(ctx context.Context, t *table, bounds []Key, store storage.Storage, dir string) ([]DataFile, error) {
	writers := make([]*partitionWriter, len(bounds)+1)
	closed := false
	defer func() {
		if closed {
			return
		}
		for _, w := range writers {
			if w != nil {
				w.w.Close()
			}
		}
	}()

	for i := range writers {
		file := partitionFile(t.spec.Name, i)
		w, err := store.Create(ctx, path.Join(dir, file))
		if err != nil {
			return nil, err
		}
		cw := &countingWriter{w: w}
		writers[i] = &partitionWriter{
			file: DataFile{Path: file, FileFormat: "PARQUET", Partition: i},
			w:    w,
			cw:   cw,
			pw:   parquet.NewWriter(cw, t.pschema, parquet.Compression(&parquet.Zstd)),
		}
	}

	r, err := g.open(ctx, t, t.schema)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		pw := writers[partitionOf(t.types, bounds, t.key(row))]
		pw.batch = append(pw.batch, row)
		if len(pw.batch) == writeBatch {
			if err := pw.flush(); err != nil {
				return nil, err
			}
		}
	}

	closed = true
	files := make([]DataFile, len(writers))
	for i, w := range writers {
		if err := w.close(); err != nil {
			for _, rest := range writers[i+1:] {
				rest.w.Close()
			}
			return nil, err
		}
		files[i] = w.file
	}
	return files, nil
}
