// Package qnode serves deployed tablespaces: an HTTP API accepts
// deployments and a PostgreSQL wire endpoint answers SQL over DuckDB views
// of the replicated partition files.
package qnode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/prometheus/client_golang/prometheus"

	"log-indexer/deploy"
	"log-indexer/replication"
	"log-indexer/storage"
	"log-indexer/tablespace"
)

// Tablespace is a deployed tablespace version.
type Tablespace struct {
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	UUID        string      `json:"uuid"`
	Replication int         `json:"replication"`
	Partitions  int         `json:"partitions"`
	Tables      []TableInfo `json:"tables"`
	DeployedAt  time.Time   `json:"deployed_at"`

	dir string
}

type TableInfo struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

// Node owns the DuckDB database and the replicas it reads.
type Node struct {
	db         *sql.DB
	dataDir    string
	store      *storage.Local
	s3         storage.S3Config
	replicator *replication.Replicator
	metrics    *metrics
	logger     log.Logger

	mu          sync.Mutex
	tablespaces map[string]*Tablespace
}

func NewNode(cfg Config, s3 storage.S3Config, logger log.Logger, reg prometheus.Registerer) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}

	return &Node{
		db:          db,
		dataDir:     dataDir,
		store:       storage.NewLocal(dataDir),
		s3:          s3,
		replicator:  replication.NewReplicator(cfg.CopyParallelism, logger),
		metrics:     newMetrics(reg),
		logger:      logger,
		tablespaces: make(map[string]*Tablespace),
	}, nil
}

func (n *Node) DB() *sql.DB {
	return n.db
}

func (n *Node) Close() error {
	return n.db.Close()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// Deploy copies the tablespace generated at d.URI into a new version and
// points the views of the tablespace at it. Readers see either the old or
// the new version, never a mix.
func (n *Node) Deploy(ctx context.Context, d deploy.Deployment) (ts *Tablespace, err error) {
	defer func() { n.metrics.deployments.WithLabelValues(status(err)).Inc() }()

	if d.Tablespace == "" {
		return nil, errors.New("deployment without tablespace name")
	}
	if d.Replication < 1 {
		return nil, fmt.Errorf("tablespace %s: replication must be positive, got %d", d.Tablespace, d.Replication)
	}

	src, dir, err := storage.Resolve(ctx, d.URI, n.s3)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", d.URI, err)
	}
	meta, err := tablespace.ReadMetadata(ctx, src, dir)
	if err != nil {
		return nil, fmt.Errorf("tablespace %s: %w", d.Tablespace, err)
	}

	version := uuid.NewString()
	versionDir := path.Join(d.Tablespace, version)
	files := append(meta.Files(), tablespace.MetadataFile)
	if err := n.replicator.Replicate(ctx, src, dir, files, n.store, versionDir, d.Replication); err != nil {
		n.store.Delete(ctx, versionDir)
		return nil, fmt.Errorf("tablespace %s: replicating: %w", d.Tablespace, err)
	}

	ts = &Tablespace{
		Name:        d.Tablespace,
		Version:     version,
		UUID:        meta.UUID,
		Replication: d.Replication,
		Partitions:  len(meta.Partitions),
		DeployedAt:  time.Now().UTC(),
		dir:         versionDir,
	}
	for _, t := range meta.Tables {
		ts.Tables = append(ts.Tables, TableInfo{Name: t.Name, Rows: meta.Records(t.Name)})
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	old := n.tablespaces[d.Tablespace]
	if err := n.swap(ctx, ts, meta, old); err != nil {
		n.store.Delete(ctx, versionDir)
		return nil, fmt.Errorf("tablespace %s: %w", d.Tablespace, err)
	}
	n.tablespaces[d.Tablespace] = ts
	n.metrics.tablespaces.Set(float64(len(n.tablespaces)))

	if old != nil {
		if err := n.store.Delete(ctx, old.dir); err != nil {
			level.Warn(n.logger).Log("msg", "removing previous version", "tablespace", d.Tablespace, "version", old.Version, "err", err)
		}
	}
	level.Info(n.logger).Log("msg", "deployed tablespace", "tablespace", d.Tablespace, "version", version, "uuid", meta.UUID, "tables", len(ts.Tables))
	return ts, nil
}

// swap replaces the views of the tablespace in one transaction.
func (n *Node) swap(ctx context.Context, ts *Tablespace, meta *tablespace.Metadata, old *Tablespace) error {
	tx, err := n.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(ts.Name)); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	replica := replication.ReplicaDir(ts.dir, 0)
	var tables []string
	for _, t := range meta.Tables {
		paths := make([]string, len(t.Files))
		for i, f := range t.Files {
			paths[i] = quoteLiteral(filepath.Join(n.dataDir, filepath.FromSlash(path.Join(replica, f.Path))))
		}
		stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s.%s AS SELECT * FROM read_parquet([%s])",
			quoteIdent(ts.Name), quoteIdent(t.Name), strings.Join(paths, ", "))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating view %s: %w", t.Name, err)
		}
		tables = append(tables, t.Name)
	}

	if old != nil {
		for _, t := range old.Tables {
			if slices.Contains(tables, t.Name) {
				continue
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s.%s", quoteIdent(ts.Name), quoteIdent(t.Name))); err != nil {
				return fmt.Errorf("dropping view %s: %w", t.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing views: %w", err)
	}
	return nil
}

// Tablespaces lists the served tablespaces by name.
func (n *Node) Tablespaces() []Tablespace {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Tablespace, 0, len(n.tablespaces))
	for _, ts := range n.tablespaces {
		out = append(out, *ts)
	}
	slices.SortFunc(out, func(a, b Tablespace) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Tablespace returns the served version of name.
func (n *Node) Tablespace(name string) (Tablespace, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ts, ok := n.tablespaces[name]
	if !ok {
		return Tablespace{}, false
	}
	return *ts, true
}
