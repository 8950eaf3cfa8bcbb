// Package deploy publishes tuple outputs as a served tablespace: stale
// generated output is removed, partitions are generated, then the result
// is handed to the query node.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"log-indexer/schema"
	"log-indexer/storage"
	"log-indexer/tablespace"
)

var (
	ErrGenerate = errors.New("generating tablespace")
	ErrDeploy   = errors.New("deploying tablespace")
)

// IndexedSuffix is appended to the output path to name the generated
// tablespace directory.
const IndexedSuffix = "-indexed"

// PartitionGenerator builds the partitions of a tablespace under out.
// *tablespace.Generator implements it.
type PartitionGenerator interface {
	Generate(ctx context.Context, spec tablespace.Spec, sampler tablespace.Sampler, out string) (*tablespace.Metadata, error)
}

// Deployment asks a query node to serve the tablespace generated at URI.
type Deployment struct {
	Tablespace  string `json:"tablespace"`
	URI         string `json:"uri"`
	Replication int    `json:"replication"`
}

// Deployer hands generated tablespaces to the serving side.
type Deployer interface {
	Deploy(ctx context.Context, deployments []Deployment) error
}

type Request struct {
	Tablespace tablespace.Spec
	// Output is the base path; partitions are generated in Output-indexed.
	Output      string
	Replication int
	// Sampler picks partition boundaries. Nil selects the generator's
	// default reservoir.
	Sampler tablespace.Sampler
}

// Orchestrator runs the deployment steps strictly in order.
type Orchestrator struct {
	gen    PartitionGenerator
	dep    Deployer
	s3     storage.S3Config
	logger log.Logger
}

func NewOrchestrator(gen PartitionGenerator, dep Deployer, s3 storage.S3Config, logger log.Logger) *Orchestrator {
	return &Orchestrator{gen: gen, dep: dep, s3: s3, logger: logger}
}

// IndexedPath returns where the partitions of output are generated. Local
// paths are made absolute so the query node can read them.
func IndexedPath(output string) (string, error) {
	p := output + IndexedSuffix
	if storage.IsDistributed(p) {
		return p, nil
	}
	return filepath.Abs(p)
}

// Deploy deletes any previous generation, generates the tablespace and
// deploys it. Nothing is deployed unless generation completed.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) error {
	if req.Replication < 1 {
		return fmt.Errorf("%w: replication must be positive, got %d", ErrDeploy, req.Replication)
	}
	if err := req.Tablespace.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrGenerate, err)
	}
	indexed, err := IndexedPath(req.Output)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenerate, err)
	}

	store, p, err := storage.Resolve(ctx, indexed, o.s3)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenerate, err)
	}
	if err := store.Delete(ctx, p); err != nil {
		return fmt.Errorf("%w: removing stale output: %v", ErrGenerate, err)
	}

	start := time.Now()
	level.Info(o.logger).Log("msg", "generating tablespace", "tablespace", req.Tablespace.Name, "out", indexed, "partitions", req.Tablespace.Partitions)
	meta, err := o.gen.Generate(ctx, req.Tablespace, req.Sampler, indexed)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrGenerate, req.Tablespace.Name, err)
	}

	level.Info(o.logger).Log("msg", "deploying tablespace", "tablespace", req.Tablespace.Name, "uuid", meta.UUID, "replication", req.Replication)
	err = o.dep.Deploy(ctx, []Deployment{{
		Tablespace:  req.Tablespace.Name,
		URI:         indexed,
		Replication: req.Replication,
	}})
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrDeploy, req.Tablespace.Name, err)
	}

	level.Info(o.logger).Log("msg", "deployed tablespace", "tablespace", req.Tablespace.Name, "duration", time.Since(start))
	return nil
}

// SingleTable describes a tablespace holding one table read from input.
// Nil columns are inferred from the first tuple.
func SingleTable(tablespaceName, table, input string, columns schema.ColumnSchema, partitionBy []string, partitions int) tablespace.Spec {
	return tablespace.Spec{
		Name:       tablespaceName,
		Partitions: partitions,
		Tables: []tablespace.TableSpec{{
			Name:        table,
			Input:       input,
			Columns:     columns,
			PartitionBy: partitionBy,
		}},
	}
}
