package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"clinical-coding/internal/app"
	"clinical-coding/internal/domain/deadletter"
	"clinical-coding/internal/platform/config"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/platform/metrics"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type rootOptions struct {
	verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Dead-letter worker for clinician query responses",
		Long: `Consume la cola de dead-letters (DLQ_PROVIDER=sqs|kafka) un mensaje a la vez.
La configuración sale de las mismas variables de entorno que la API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log level debug")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the consumer and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Config.DLQ.Provider == config.DLQMemory {
				return errors.New("DLQ_PROVIDER=memory is consumed inside the api process; use sqs or kafka")
			}
			return runWorker(ctx, a)
		},
	}
}

func runWorker(ctx context.Context, a *app.App) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              a.Config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Consumer.Run(gctx)
	})
	g.Go(func() error {
		a.Log.Info("metrics listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRetryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <dead-letter-id>",
		Short: "Reprocess one dead-letter record now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.DeadLetters.Retry(cmd.Context(), args[0])
			if err != nil && rec.ID == "" {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s attempts=%d\n", rec.ID, rec.Status, rec.Attempts)
			return err
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.DeadLetters.List(cmd.Context(), deadletter.Status(status), limit)
			if err != nil {
				return err
			}
			for _, rec := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\t%s\t%s\n",
					rec.ID, rec.Status, rec.Attempts, rec.CreatedAt.Format(time.RFC3339), rec.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "pending|resolved|quarantined")
	cmd.Flags().IntVar(&limit, "limit", 0, "max records (default 100)")
	return cmd
}

func bootstrap(ctx context.Context, opts *rootOptions) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := logger.ParseLevel(cfg.LogLevel)
	if opts.verbose {
		level = logger.Debug
	}
	lg := logger.New(logger.Options{
		Level:  level,
		Format: logger.ParseFormat(cfg.LogFormat),
		App:    cfg.AppName + "-worker",
	})

	return app.New(ctx, cfg, lg)
}
