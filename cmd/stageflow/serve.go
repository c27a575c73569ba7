package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ldi/stageflow/internal/metrics"
	"github.com/ldi/stageflow/internal/notify"
	"github.com/ldi/stageflow/internal/server"
	"github.com/ldi/stageflow/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func (a *app) runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.addr != "" {
		a.cfg.HTTP.Addr = a.addr
	}

	var (
		opts      []service.Option
		srvOpts   = []server.Option{server.WithLogger(a.logger), server.WithTimeouts(a.cfg.HTTP.ReadTimeout, a.cfg.HTTP.WriteTimeout)}
		broker    *notify.BrokerNotifier
		closeNATS = func() {}
	)

	if a.cfg.HTTP.Metrics {
		prom := metrics.NewPrometheus()
		opts = append(opts, service.WithMetrics(prom))
		srvOpts = append(srvOpts, server.WithMetricsHandler(prom.Handler()))
	}

	if a.cfg.NATS.URL != "" {
		conn, err := notify.Connect(a.cfg.NATS.URL, "stageflow")
		if err != nil {
			return err
		}
		closeNATS = conn.Close
		broker = notify.New(conn,
			notify.WithPrefix(a.cfg.NATS.Prefix),
			notify.WithLogger(a.logger),
			notify.WithMaxInFlight(a.cfg.NATS.MaxInFlight),
		)
		opts = append(opts, service.WithNotifier(broker))
		a.logger.Info().Str("url", a.cfg.NATS.URL).Str("prefix", a.cfg.NATS.Prefix).Msg("publishing notifications to nats")
	}
	defer closeNATS()

	svc, database, err := a.openService(ctx, opts...)
	if err != nil {
		return err
	}
	defer database.Close()

	srv := server.NewServer(svc, srvOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(a.cfg.HTTP.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if broker != nil {
			return broker.Close(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}
