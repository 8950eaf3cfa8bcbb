package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/olekukonko/tablewriter"

	"log-indexer/qnode"
)

func addQNodeCommand(app *kingpin.Application, g *globals) {
	var httpAddr, sqlAddr, dataDir string

	cmd := app.Command("qnode", "Run a query node serving deployed tablespaces over SQL.")
	cmd.Flag("http-addr", "HTTP listen address. Defaults to the configured value.").StringVar(&httpAddr)
	cmd.Flag("sql-addr", "PostgreSQL wire listen address. Defaults to the configured value.").StringVar(&sqlAddr)
	cmd.Flag("data-dir", "Directory holding tablespace replicas. Defaults to the configured value.").StringVar(&dataDir)

	cmd.Action(g.action(func() error {
		ctx, cancel := signalContext()
		defer cancel()

		cfg := g.cfg.QNode
		cfg.HTTPAddr = orDefaultString(httpAddr, cfg.HTTPAddr)
		cfg.SQLAddr = orDefaultString(sqlAddr, cfg.SQLAddr)
		cfg.DataDir = orDefaultString(dataDir, cfg.DataDir)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return qnode.Serve(ctx, cfg, g.cfg.S3, g.logger)
	}))
}

func addTablespacesCommand(app *kingpin.Application, g *globals) {
	var addr string

	cmd := app.Command("tablespaces", "List the tablespaces deployed on a query node.")
	cmd.Flag("qnode", "HTTP address of the query node.").Default("localhost:4412").StringVar(&addr)

	cmd.Action(g.action(func() error {
		ctx, cancel := signalContext()
		defer cancel()

		tablespaces, err := qnode.NewClient(addr).Tablespaces(ctx)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Tablespace", "Version", "Partitions", "Replication", "Table", "Rows", "Deployed"})
		for _, ts := range tablespaces {
			for _, t := range ts.Tables {
				table.Append([]string{
					ts.Name,
					ts.Version,
					strconv.Itoa(ts.Partitions),
					strconv.Itoa(ts.Replication),
					t.Name,
					strconv.FormatInt(t.Rows, 10),
					ts.DeployedAt.Format(time.RFC3339),
				})
			}
		}
		table.Render()
		return nil
	}))
}

func addQueryCommand(app *kingpin.Application, g *globals) {
	var addr, database, query string

	cmd := app.Command("query", "Run a SQL query against a query node and print the result.")
	cmd.Flag("sql-addr", "PostgreSQL wire address of the query node.").Default("localhost:5433").StringVar(&addr)
	cmd.Flag("database", "Database name sent at startup.").Default("qnode").StringVar(&database)
	cmd.Arg("sql", "Query to run.").Required().StringVar(&query)

	cmd.Action(g.action(func() error {
		ctx, cancel := signalContext()
		defer cancel()

		conn, err := pgconn.Connect(ctx, fmt.Sprintf("postgres://log-indexer@%s/%s?sslmode=disable", addr, database))
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", addr, err)
		}
		defer conn.Close(ctx)

		results, err := conn.Exec(ctx, query).ReadAll()
		if err != nil {
			return err
		}
		for _, res := range results {
			if len(res.FieldDescriptions) == 0 {
				fmt.Fprintln(os.Stdout, res.CommandTag.String())
				continue
			}
			table := tablewriter.NewWriter(os.Stdout)
			header := make([]string, len(res.FieldDescriptions))
			for i, fd := range res.FieldDescriptions {
				header[i] = fd.Name
			}
			table.SetHeader(header)
			for _, row := range res.Rows {
				cells := make([]string, len(row))
				for i, v := range row {
					if v == nil {
						cells[i] = "NULL"
					} else {
						cells[i] = string(v)
					}
				}
				table.Append(cells)
			}
			table.SetCaption(true, res.CommandTag.String())
			table.Render()
		}
		return nil
	}))
}
