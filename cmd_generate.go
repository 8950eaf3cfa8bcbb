package main

import (
	"math/rand/v2"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"

	"log-indexer/generator"
	"log-indexer/storage"
)

func addGeneratorCommand(app *kingpin.Application, g *globals) {
	opts := generator.DefaultOptions()
	var output string

	cmd := app.Command("generator", "Write a synthetic Apache access log.")
	cmd.Flag("output", "Log file to write, local path or s3:// URI.").Required().StringVar(&output)
	cmd.Flag("users", "Number of users.").Default("100").IntVar(&opts.Users)
	cmd.Flag("pages-per-user", "Page views per user and day.").Default("15").IntVar(&opts.PagesPerUser)
	cmd.Flag("days", "Number of days, counted back from now.").Default("10").IntVar(&opts.Days)
	cmd.Flag("pages", "Number of distinct pages.").Default("100").IntVar(&opts.PagesInSystem)

	cmd.Action(g.action(func() error {
		ctx, cancel := signalContext()
		defer cancel()

		store, p, err := storage.Resolve(ctx, output, g.cfg.S3)
		if err != nil {
			return err
		}
		now := time.Now()
		rnd := rand.New(rand.NewPCG(uint64(now.UnixNano()), 0))
		lines, err := generator.GenerateTo(ctx, store, p, opts, rnd, now)
		if err != nil {
			return err
		}
		level.Info(g.logger).Log("msg", "generated access log", "output", output, "lines", humanize.Comma(int64(lines)))
		return nil
	}))
}
