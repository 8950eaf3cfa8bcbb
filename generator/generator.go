// Package generator writes synthetic Apache access logs for trying out the
// indexer.
package generator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"log-indexer/storage"
)

const (
	UserAgent = "Mozilla/5.0 (X11; Ubuntu; Linux i686; rv:16.0) Gecko/20100101 Firefox/16.0"

	timeLayout = "02/Jan/2006:15:04:05"
)

// The generated timestamps carry a fixed +0200 offset.
var logZone = time.FixedZone("+0200", 2*60*60)

var DefaultCategories = []string{"books", "music", "movies", "games", "sports"}

// statusCodes are drawn uniformly, so 200 dominates.
var statusCodes = []int{200, 200, 200, 200, 200, 200, 304, 304, 404, 500}

type Options struct {
	Users         int
	PagesPerUser  int
	Days          int
	PagesInSystem int
	Categories    []string
}

// DefaultOptions are the sizes of the generator command defaults.
func DefaultOptions() Options {
	return Options{
		Users:         100,
		PagesPerUser:  15,
		Days:          10,
		PagesInSystem: 100,
		Categories:    DefaultCategories,
	}
}

func (o Options) Validate() error {
	if o.Users < 0 || o.PagesPerUser < 0 || o.Days < 0 || o.PagesInSystem < 0 {
		return errors.New("generator options must not be negative")
	}
	if o.Lines() > 0 && o.PagesInSystem == 0 {
		return errors.New("pages in system must be positive when page views are generated")
	}
	return nil
}

// Lines is the number of lines Generate writes.
func (o Options) Lines() int {
	return o.Users * o.Days * o.PagesPerUser
}

// Generate writes Users × Days × PagesPerUser log lines to w. Each user
// keeps one address; the views of day d fall within the d-th day before now.
func Generate(w io.Writer, opts Options, rnd *rand.Rand, now time.Time) (int, error) {
	if err := opts.Validate(); err != nil {
		return 0, err
	}
	categories := opts.Categories
	if len(categories) == 0 {
		categories = DefaultCategories
	}

	bw := bufio.NewWriter(w)
	lines := 0
	for user := 0; user < opts.Users; user++ {
		ip := randomIP(rnd)
		for day := 0; day < opts.Days; day++ {
			for view := 0; view < opts.PagesPerUser; view++ {
				ts := now.Add(-time.Duration(day) * 24 * time.Hour).
					Add(-time.Duration(rnd.Int64N(int64(24 * time.Hour))))
				_, err := fmt.Fprintf(bw, "%s - user%d [%s +0200] \"GET /%s/page%d.html HTTP/1.1\" %d %d \"-\" \"%s\"\n",
					ip,
					user,
					ts.In(logZone).Format(timeLayout),
					categories[rnd.IntN(len(categories))],
					rnd.IntN(opts.PagesInSystem),
					statusCodes[rnd.IntN(len(statusCodes))],
					200+rnd.IntN(4800),
					UserAgent,
				)
				if err != nil {
					return lines, fmt.Errorf("writing log line: %w", err)
				}
				lines++
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return lines, fmt.Errorf("flushing log: %w", err)
	}
	return lines, nil
}

// GenerateTo writes the log to path in store.
func GenerateTo(ctx context.Context, store storage.Storage, path string, opts Options, rnd *rand.Rand, now time.Time) (int, error) {
	w, err := store.Create(ctx, path)
	if err != nil {
		return 0, err
	}
	lines, err := Generate(w, opts, rnd, now)
	if err != nil {
		w.Close()
		return lines, err
	}
	if err := w.Close(); err != nil {
		return lines, fmt.Errorf("closing %s: %w", path, err)
	}
	return lines, nil
}

func randomIP(rnd *rand.Rand) string {
	return fmt.Sprintf("%d.%d.%d.%d", rnd.IntN(200), rnd.IntN(200), rnd.IntN(200), rnd.IntN(200))
}
