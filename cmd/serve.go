package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/trigger-cli/internal/api"
	"github.com/sells-group/trigger-cli/internal/dispatch"
	"github.com/sells-group/trigger-cli/internal/monitoring"
	"github.com/sells-group/trigger-cli/internal/trigger"
)

var (
	servePort        int
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and trigger scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		dispatcher, wait, err := newDispatcher(ctx, env)
		if err != nil {
			return err
		}
		defer wait()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.NewServer(env.Service, dispatcher, env.Hub, api.WithCORSOrigins(cfg.Server.CORSOrigins)).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		if !serveNoScheduler {
			sched := trigger.NewScheduler(env.Store, dispatcher, cfg.Engine.SchedulerTick())
			g.Go(func() error {
				sched.Start(gctx)
				return nil
			})
		}

		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(env.Store, 2*cfg.Engine.RunDeadline())
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring, env.Notifier), cfg.Monitoring)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

// newDispatcher returns the dispatcher used by the scheduler and the API.
// With Temporal enabled runs are started as workflows; otherwise they run
// in goroutines of this process. The returned wait func blocks until
// in-process runs have finished.
func newDispatcher(ctx context.Context, env *engineEnv) (trigger.Dispatcher, func(), error) {
	if cfg.Temporal.Enabled {
		c, err := dispatch.Dial(cfg.Temporal)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("dispatching runs through temporal",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
		return dispatch.NewDispatcher(c, cfg.Temporal.TaskQueue, cfg.Engine.RunDeadline()), c.Close, nil
	}
	d := trigger.NewGoroutineDispatcher(ctx, env.Runner)
	return d, d.Wait, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "serve the API without dispatching due triggers")
	rootCmd.AddCommand(serveCmd)
}
