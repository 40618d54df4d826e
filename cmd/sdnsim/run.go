package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/appnet-org/sdnsim/internal/config"
	"github.com/appnet-org/sdnsim/pkg/console"
	"github.com/appnet-org/sdnsim/pkg/logging"
	"github.com/appnet-org/sdnsim/pkg/sdn"
)

type runFlags struct {
	console     uint8
	metricsAddr string
}

func newRunCommand(configPath *string) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start every node, bootstrap the routers and optionally drive an end user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = flags.metricsAddr
			}
			if err := logging.Init(cfg.LoggingConfig()); err != nil {
				return err
			}
			defer logging.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, flags.console)
		},
	}
	cmd.Flags().Uint8Var(&flags.console, "console", 0, "attach the terminal to end user `N` (0 for none)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, consoleUser uint8) error {
	topo := cfg.NetworkTopology()
	if consoleUser > topo.EndUsers {
		return fmt.Errorf("--console %d: there are %d end users", consoleUser, topo.EndUsers)
	}
	tbl, err := cfg.ForwardingTable()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	env := sdn.Env{Topology: topo, Metrics: sdn.NewMetrics(reg)}

	var user *sdn.EndUser
	network, err := sdn.NewNetwork(sdn.Config{Env: env, Table: tbl, Bootstrap: cfg.BootstrapConfig()})
	if err != nil {
		return err
	}
	if consoleUser != 0 {
		user = network.EndUser(consoleUser)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, errCtx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		g.Go(func() error {
			logging.Info("Serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := network.WaitBootstrapped(errCtx); err != nil {
			return nil
		}
		logging.Info("Network bootstrapped", zap.Uint8("routers", topo.Routers))
		return nil
	})

	if user != nil {
		g.Go(func() error {
			dev := console.NewDevice(os.Stdin, os.Stdout, fmt.Sprintf("EndUser %d", consoleUser))
			session := console.NewSession(dev, user, topo)
			session.ReceiveTimeout = cfg.Console.ReceiveTimeout.Duration
			err := session.Run(errCtx)
			// Leaving the console ends the simulation.
			cancel()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-errCtx.Done()
		logging.Info("Shutting down")
		if srv != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.Warn("Metrics server shutdown", zap.Error(err))
			}
		}
		return network.Close()
	})

	if err := network.Start(); err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}
	return g.Wait()
}
