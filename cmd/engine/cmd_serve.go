package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/events"
	"contactsignal-engine/internal/httpapi"
	"contactsignal-engine/internal/runner"
	"contactsignal-engine/internal/scheduler"
)

const defaultPort = 38471

var serveIngest bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API and run on the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		return serve(ctx, e)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveIngest, "ingest", true, "Fetch mail on scheduled runs")
}

func serve(ctx context.Context, e *engineEnv) error {
	cfg := e.cfg()
	hub := events.NewHub()
	r := runner.New(e.dataDir, e.db, e.cfg, hub, e.log)

	if _, err := r.Snapshot().Init(); err != nil {
		return err
	}

	port := cfg.App.Port
	if port == 0 {
		port = defaultPort
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler: httpapi.NewHandler(httpapi.Deps{
			Log:         e.log.Named("http"),
			DB:          e.db,
			Hub:         hub,
			Runner:      r,
			BaseCtx:     ctx,
			CfgVal:      &e.cfgVal,
			UserCfgPath: e.cfgPath,
			LoadCfg:     e.loadCfg,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	e.log.Info("engine listening", zap.String("addr", "http://"+addr), zap.String("data_dir", e.dataDir))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	task := func(ctx context.Context) error {
		_, err := r.Run(ctx, runner.Options{Ingest: serveIngest})
		if errors.Is(err, runner.ErrRunInProgress) {
			return nil
		}
		return err
	}
	switch {
	case cfg.Polling.Cron != "":
		g.Go(func() error { return scheduler.Cron(gctx, e.log, cfg.Polling.Cron, "run", task) })
	case cfg.Polling.RunMinutes > 0:
		interval := time.Duration(cfg.Polling.RunMinutes) * time.Minute
		g.Go(func() error {
			scheduler.Every(gctx, e.log, interval, "run", task)
			return nil
		})
	default:
		e.log.Info("scheduled runs disabled")
	}

	// Schedule changes need a restart; everything else applies to the next run.
	g.Go(func() error {
		return config.Watch(gctx, e.log.Named("config"), []string{e.cfgPath, e.overridesPath}, func() {
			next, err := e.loadCfg()
			if err != nil {
				e.log.Warn("config reload rejected", zap.Error(err))
				return
			}
			e.cfgVal.Store(next)
			hub.Publish(events.MakeEvent("", events.TypeConfigReloaded, 1, map[string]any{"source": "file"}))
			e.log.Info("config reloaded", zap.String("path", e.cfgPath))
		})
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
