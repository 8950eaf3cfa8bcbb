package qnode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"log-indexer/storage"
)

// Serve runs a query node until ctx is done or one of its listeners
// fails.
func Serve(ctx context.Context, cfg Config, s3 storage.S3Config, logger log.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	node, err := NewNode(cfg, s3, logger, reg)
	if err != nil {
		return err
	}
	defer node.Close()

	httpLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.HTTPAddr, err)
	}
	sqlLn, err := net.Listen("tcp", cfg.SQLAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listening on %s: %w", cfg.SQLAddr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var g run.Group
	{
		srv := &http.Server{Handler: Handler(node, reg), ReadHeaderTimeout: 10 * time.Second}
		g.Add(func() error {
			level.Info(logger).Log("msg", "serving http api", "addr", httpLn.Addr())
			if err := srv.Serve(httpLn); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		})
	}
	{
		sqlSrv := NewSQLServer(node)
		g.Add(func() error {
			level.Info(logger).Log("msg", "serving sql", "addr", sqlLn.Addr())
			return sqlSrv.Serve(ctx, sqlLn)
		}, func(error) {
			sqlLn.Close()
		})
	}
	g.Add(func() error {
		<-ctx.Done()
		return nil
	}, func(error) {
		cancel()
	})

	return g.Run()
}
