package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"log-indexer/dataflow"
	"log-indexer/deploy"
	"log-indexer/logformat"
	"log-indexer/storage"
	"log-indexer/tablespace"
)

// Orchestrator deploys a generated tablespace. *deploy.Orchestrator
// implements it.
type Orchestrator interface {
	Deploy(ctx context.Context, req deploy.Request) error
}

type Config struct {
	Format     *logformat.Format
	Keys       []AggregationKey
	Dataflow   dataflow.Config
	S3         storage.S3Config
	Tablespace string
	Sampler    tablespace.Sampler
}

type Options struct {
	Input       string
	Output      string
	Partitions  int
	Replication int
}

func (o Options) Validate() error {
	if o.Input == "" || o.Output == "" {
		return errors.New("input and output are required")
	}
	if o.Partitions < 1 {
		return fmt.Errorf("partitions must be positive, got %d", o.Partitions)
	}
	if o.Replication < 1 {
		return fmt.Errorf("replication must be positive, got %d", o.Replication)
	}
	return nil
}

// LogsPath and AnalyticsPath name the flow outputs derived from output.
func LogsPath(output string) string      { return output + "-" + TableLogs }
func AnalyticsPath(output string) string { return output + "-" + TableAnalytics }

// Indexer runs the indexing flow and hands its outputs to the deployment.
type Indexer struct {
	cfg      Config
	assembly Assembly
	orch     Orchestrator
	logger   log.Logger
	metrics  *dataflow.Metrics
}

func New(cfg Config, orch Orchestrator, logger log.Logger, metrics *dataflow.Metrics) (*Indexer, error) {
	if cfg.Format == nil {
		cfg.Format = logformat.Apache()
	}
	if len(cfg.Keys) == 0 {
		cfg.Keys = DefaultKeys()
	}
	assembly, err := Build(cfg.Format, cfg.Keys)
	if err != nil {
		return nil, fmt.Errorf("building pipeline: %w", err)
	}
	return &Indexer{
		cfg:      cfg,
		assembly: assembly,
		orch:     orch,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Index parses input and writes the logs and analytics tuple files next
// to output.
func (i *Indexer) Index(ctx context.Context, input, output string) (dataflow.Stats, error) {
	in, inPath, err := storage.Resolve(ctx, input, i.cfg.S3)
	if err != nil {
		return dataflow.Stats{}, fmt.Errorf("resolving input: %w", err)
	}
	logsStore, logsPath, err := storage.Resolve(ctx, LogsPath(output), i.cfg.S3)
	if err != nil {
		return dataflow.Stats{}, fmt.Errorf("resolving output: %w", err)
	}
	analyticsStore, analyticsPath, err := storage.Resolve(ctx, AnalyticsPath(output), i.cfg.S3)
	if err != nil {
		return dataflow.Stats{}, fmt.Errorf("resolving output: %w", err)
	}

	sinks := map[string]dataflow.Sink{
		TableLogs:      dataflow.TupleSink(logsStore, logsPath),
		TableAnalytics: dataflow.TupleSink(analyticsStore, analyticsPath),
	}
	flow, err := dataflow.NewConnector(i.cfg.Dataflow, i.logger, i.metrics).
		Connect(dataflow.TextLine(in, inPath), sinks, i.assembly.Tails()...)
	if err != nil {
		return dataflow.Stats{}, fmt.Errorf("connecting flow: %w", err)
	}

	level.Info(i.logger).Log("msg", "indexing logs", "input", input, "output", output, "distributed", storage.IsDistributed(output))
	stats, err := flow.Complete(ctx)
	if err != nil {
		return dataflow.Stats{}, fmt.Errorf("indexing %s: %w", input, err)
	}

	if dropped := stats.Dropped[TableLogs]; dropped > 0 {
		level.Warn(i.logger).Log("msg", "dropped unparseable lines", "lines", dropped, "read", stats.TuplesRead)
	}
	level.Info(i.logger).Log("msg", "indexed logs",
		"lines", stats.TuplesRead,
		"logs", stats.Written[TableLogs],
		"analytics", stats.Written[TableAnalytics],
		"duration", stats.Duration)
	return stats, nil
}

// Spec describes the tablespace built from the outputs of Index.
func (i *Indexer) Spec(output string, partitions int) tablespace.Spec {
	return tablespace.Spec{
		Name:       i.cfg.Tablespace,
		Partitions: partitions,
		Tables: []tablespace.TableSpec{
			{
				Name:        TableLogs,
				Input:       LogsPath(output),
				Columns:     LogsSchema,
				PartitionBy: []string{logformat.FieldUser},
			},
			{
				Name:        TableAnalytics,
				Input:       AnalyticsPath(output),
				Columns:     AnalyticsSchema,
				PartitionBy: []string{"value"},
			},
		},
	}
}

// Run indexes opts.Input and deploys the result as one tablespace.
func (i *Indexer) Run(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if _, err := i.Index(ctx, opts.Input, opts.Output); err != nil {
		return err
	}
	return i.orch.Deploy(ctx, deploy.Request{
		Tablespace:  i.Spec(opts.Output, opts.Partitions),
		Output:      opts.Output,
		Replication: opts.Replication,
		Sampler:     i.cfg.Sampler,
	})
}
