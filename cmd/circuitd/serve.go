package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/circuit-go/application"
	"github.com/lk2023060901/circuit-go/internal/driver"
	"github.com/lk2023060901/circuit-go/internal/hub"
	"github.com/lk2023060901/circuit-go/internal/network/acceptor"
	"github.com/lk2023060901/circuit-go/internal/registry"
	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(app *application.Application) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept render targets over WebSocket and refresh them periodically",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := app.Settings()
			if addr != "" {
				settings.Server.Addr = addr
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return serve(ctx, app, settings)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

type server struct {
	reg  *registry.Registry
	hub  *hub.Hub
	acc  *acceptor.WSAcceptor
	drv  *driver.Driver
	http *http.Server
}

func newServer(app *application.Application, settings application.Settings) (*server, error) {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(promReg)

	reg := registry.New(registry.WithLogger(app.Logger("registry")))

	h := hub.New(reg, settings.Activity)
	h.SetLogger(app.Logger("hub"))

	acc, err := acceptor.NewWSAcceptor(acceptor.Config{
		SendQueueSize: settings.Server.SendQueueSize,
		ReadTimeout:   settings.Server.ReadTimeout,
		WriteTimeout:  settings.Server.WriteTimeout,
		Path:          settings.Server.Path,
	}, h, nil)
	if err != nil {
		return nil, err
	}
	acc.SetLogger(app.Logger("acceptor"))

	drv, err := driver.New(reg, settings.Driver)
	if err != nil {
		return nil, err
	}
	drv.SetLogger(app.Logger("driver"))

	mux := http.NewServeMux()
	mux.Handle(acc.Path(), acc)
	mux.Handle(settings.Server.MetricsPath, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	if admin := strings.TrimSuffix(settings.Server.AdminPath, "/"); admin != "" {
		mux.Handle(admin+"/", http.StripPrefix(admin, hub.NewAdminHandler(reg)))
	}

	return &server{
		reg: reg,
		hub: h,
		acc: acc,
		drv: drv,
		http: &http.Server{
			Addr:              settings.Server.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func serve(ctx context.Context, app *application.Application, settings application.Settings) error {
	srv, err := newServer(app, settings)
	if err != nil {
		return err
	}

	logCtx, span := log.NewIntentContext("circuitd", "serve")
	defer span.End()

	log.Ctx(logCtx).Info("circuitd serving",
		zap.String("addr", settings.Server.Addr),
		zap.String("path", settings.Server.Path),
		zap.Duration("interval", settings.Driver.Interval),
		zap.Int("concurrency", settings.Driver.Concurrency),
		zap.String("config", app.ConfigPath()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.http.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	})
	g.Go(func() error {
		return srv.drv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.shutdown()
	})

	err = g.Wait()
	log.Ctx(logCtx).Info("circuitd stopped", zap.Int("sessions", srv.reg.Count()), zap.Error(err))
	return err
}

func (s *server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.drv.Close()
	_ = s.acc.Close()
	s.hub.Close()
	return s.http.Shutdown(shutdownCtx)
}
