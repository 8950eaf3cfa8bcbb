package main

import (
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"log-indexer/deploy"
	"log-indexer/indexer"
	"log-indexer/qnode"
	"log-indexer/schema"
	"log-indexer/tablespace"
)

func orchestrator(g *globals, qnodeAddr string) *deploy.Orchestrator {
	return deploy.NewOrchestrator(
		tablespace.NewGenerator(g.cfg.S3, g.logger),
		qnode.NewClient(qnodeAddr),
		g.cfg.S3,
		g.logger,
	)
}

func addIndexerCommand(app *kingpin.Application, g *globals) {
	var (
		qnodeAddr                     string
		opts                          indexer.Options
		partitionsSet, replicationSet bool
	)

	cmd := app.Command("indexer", "Index an access log and deploy the result to a query node.")
	cmd.Flag("qnode", "HTTP address of the query node.").Required().StringVar(&qnodeAddr)
	cmd.Flag("input", "Access log file or directory, local path or s3:// URI.").Required().StringVar(&opts.Input)
	cmd.Flag("output", "Base path for intermediate and partitioned output.").Required().StringVar(&opts.Output)
	cmd.Flag("partitions", "Number of partitions. Defaults to the configured value.").
		IsSetByUser(&partitionsSet).IntVar(&opts.Partitions)
	cmd.Flag("replication", "Replication factor. Defaults to the configured value.").
		IsSetByUser(&replicationSet).IntVar(&opts.Replication)

	cmd.Action(g.action(func() error {
		ctx, cancel := signalContext()
		defer cancel()

		if !partitionsSet {
			opts.Partitions = g.cfg.Tablespace.Partitions
		}
		if !replicationSet {
			opts.Replication = g.cfg.Tablespace.Replication
		}

		format, err := g.cfg.Format()
		if err != nil {
			return err
		}
		sampler, err := g.cfg.Sampler()
		if err != nil {
			return err
		}
		ix, err := indexer.New(indexer.Config{
			Format:     format,
			Keys:       g.cfg.Aggregations,
			Dataflow:   g.cfg.Dataflow,
			S3:         g.cfg.S3,
			Tablespace: g.cfg.Tablespace.Name,
			Sampler:    sampler,
		}, orchestrator(g, qnodeAddr), g.logger, nil)
		if err != nil {
			return err
		}
		return ix.Run(ctx, opts)
	}))
}

func addTableCommand(app *kingpin.Application, g *globals) {
	var (
		qnodeAddr   string
		req         deploy.Request
		name, table string
		input       string
		columns     []string
		partitionBy []string
		partitions  int

		partitionsSet, replicationSet bool
	)

	cmd := app.Command("table", "Deploy one tuple file as a single table tablespace.")
	cmd.Flag("qnode", "HTTP address of the query node.").Required().StringVar(&qnodeAddr)
	cmd.Flag("input", "Tuple file or directory to partition.").Required().StringVar(&input)
	cmd.Flag("output", "Base path for the partitioned output.").Required().StringVar(&req.Output)
	cmd.Flag("tablespace", "Tablespace name. Defaults to the configured name.").StringVar(&name)
	cmd.Flag("table", "Table name.").Required().StringVar(&table)
	cmd.Flag("partition-by", "Partition key column. Repeat for composite keys.").Required().StringsVar(&partitionBy)
	cmd.Flag("column", "Declared column as name:type. Repeat in order; inferred when absent.").StringsVar(&columns)
	cmd.Flag("partitions", "Number of partitions. Defaults to the configured value.").
		IsSetByUser(&partitionsSet).IntVar(&partitions)
	cmd.Flag("replication", "Replication factor. Defaults to the configured value.").
		IsSetByUser(&replicationSet).IntVar(&req.Replication)

	cmd.Action(g.action(func() error {
		ctx, cancel := signalContext()
		defer cancel()

		declared, err := parseColumns(columns)
		if err != nil {
			return err
		}
		sampler, err := g.cfg.Sampler()
		if err != nil {
			return err
		}
		if !partitionsSet {
			partitions = g.cfg.Tablespace.Partitions
		}
		if !replicationSet {
			req.Replication = g.cfg.Tablespace.Replication
		}
		req.Tablespace = deploy.SingleTable(orDefaultString(name, g.cfg.Tablespace.Name), table, input,
			declared, partitionBy, partitions)
		req.Sampler = sampler
		return orchestrator(g, qnodeAddr).Deploy(ctx, req)
	}))
}

// parseColumns reads name:type pairs.
func parseColumns(specs []string) (schema.ColumnSchema, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	cols := make(schema.ColumnSchema, 0, len(specs))
	for _, s := range specs {
		name, typ, ok := strings.Cut(s, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("column %q: want name:type", s)
		}
		t, err := schema.ParseType(typ)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", s, err)
		}
		cols = append(cols, schema.Column{Name: name, Type: t})
	}
	if err := cols.Validate(); err != nil {
		return nil, err
	}
	return cols, nil
}

func orDefaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
