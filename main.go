package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"log-indexer/config"
	"log-indexer/logging"
)

// globals are the flags shared by every command.
type globals struct {
	configFile string
	logLevel   string

	cfg    *config.Config
	logger log.Logger

	// started is set once parsing is over, so later errors are not usage
	// errors.
	started bool
}

func (g *globals) setup(*kingpin.ParseContext) error {
	logger, err := logging.New(os.Stderr, g.logLevel)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(g.configFile)
	if err != nil {
		g.started = true
		return err
	}
	g.cfg, g.logger = cfg, logger
	return nil
}

// action marks the command as started before running fn.
func (g *globals) action(fn func() error) kingpin.Action {
	return func(*kingpin.ParseContext) error {
		g.started = true
		return fn()
	}
}

// usageError is a command line that does not parse. Its usage has been
// printed already.
type usageError struct {
	error
}

func newApp(g *globals) *kingpin.Application {
	app := kingpin.New("log-indexer", "Index access logs into partitioned tablespaces and serve them over SQL.")
	app.HelpFlag.Short('h')

	app.Flag("config", "Path to the YAML config file. Defaults apply when empty.").StringVar(&g.configFile)
	app.Flag("log.level", "Only log messages with the given severity or above. One of: debug, info, warn, error.").
		Default("info").EnumVar(&g.logLevel, "debug", "info", "warn", "error")
	app.PreAction(g.setup)

	addGeneratorCommand(app, g)
	addIndexerCommand(app, g)
	addTableCommand(app, g)
	addQNodeCommand(app, g)
	addTablespacesCommand(app, g)
	addQueryCommand(app, g)
	return app
}

// run parses args and runs the selected command. When args do not parse,
// the error is reported together with the usage of the command it names.
func run(app *kingpin.Application, g *globals, args []string) error {
	_, err := app.Parse(args)
	if err == nil || g.started {
		return err
	}
	app.Errorf("%s", err)
	if pctx, _ := app.ParseContext(args); pctx != nil {
		app.UsageForContext(pctx)
	}
	return usageError{err}
}

func main() {
	g := &globals{}
	if err := run(newApp(g), g, os.Args[1:]); err != nil {
		var usage usageError
		switch {
		case errors.As(err, &usage):
		case g.logger != nil:
			level.Error(g.logger).Log("msg", "command failed", "err", err)
		default:
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
