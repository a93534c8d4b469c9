package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/i474232898/airq-ingestion/internal/airq"
	httpapi "github.com/i474232898/airq-ingestion/internal/api/http"
	"github.com/i474232898/airq-ingestion/internal/scheduler"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Ingest OpenAQ air quality data into a relational database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newAddCountryCmd(),
		newAddLocationCmd(),
		newAddLocationSensorsCmd(),
		newAddParametersCmd(),
		newHourlyCmd(),
		newFetchCmd(),
		newTransformCmd(),
		newLoadCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)
	return root
}

// withApp builds the application for one command and tears it down after.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	return buildAndRun(cmd, newApp, fn)
}

// withStages is withApp for commands that never touch the database.
func withStages(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	return buildAndRun(cmd, func(context.Context) (*app, error) { return newStages() }, fn)
}

func buildAndRun(cmd *cobra.Command, build func(context.Context) (*app, error), fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

// runPipeline prints the run report. Entity failures are already logged and
// do not change the exit status; unexpected errors do.
func runPipeline(run func(ctx context.Context, a *app) (airq.RunReport, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := run(ctx, a)
			if perr := printJSON(cmd.OutOrStdout(), report); perr != nil && err == nil {
				err = perr
			}
			return err
		})
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAddCountryCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "add-country",
		Short: "Fetch, transform and load one country",
		RunE: runPipeline(func(ctx context.Context, a *app) (airq.RunReport, error) {
			return a.runner.AddNewCountry(ctx, id)
		}),
	}
	cmd.Flags().StringVar(&id, "country", "", "OpenAQ country id (required)")
	_ = cmd.MarkFlagRequired("country")
	return cmd
}

func newAddLocationCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "add-location",
		Short: "Load one location followed by its sensors",
		RunE: runPipeline(func(ctx context.Context, a *app) (airq.RunReport, error) {
			return a.runner.AddNewLocation(ctx, id)
		}),
	}
	cmd.Flags().StringVar(&id, "location", "", "OpenAQ location id (required)")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func newAddLocationSensorsCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "add-location-sensors",
		Short: "Load the sensors of one location",
		RunE: runPipeline(func(ctx context.Context, a *app) (airq.RunReport, error) {
			return a.runner.AddLocationSensors(ctx, id)
		}),
	}
	cmd.Flags().StringVar(&id, "location", "", "OpenAQ location id (required)")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func newAddParametersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-parameters",
		Short: "Load the parameter catalogue",
		RunE: runPipeline(func(ctx context.Context, a *app) (airq.RunReport, error) {
			return a.runner.AddParameters(ctx)
		}),
	}
}

func newHourlyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hourly",
		Short: "Load the latest measurements of every known location",
		RunE: runPipeline(func(ctx context.Context, a *app) (airq.RunReport, error) {
			return a.runner.RunHourlyIngestion(ctx)
		}),
	}
}

type stageOptions struct {
	kind string
	id   string
	file string
}

func (o stageOptions) parseKind() (airq.Kind, error) {
	return airq.ParseKind(o.kind)
}

func newFetchCmd() *cobra.Command {
	var opts stageOptions
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one entity and store the raw response",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := opts.parseKind()
			if err != nil {
				return err
			}
			return withStages(cmd, func(ctx context.Context, a *app) error {
				path, err := a.fetcher.Fetch(ctx, kind, opts.id)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", "", "entity kind (required)")
	cmd.Flags().StringVar(&opts.id, "id", "", "entity id; omitted for parameters")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newTransformCmd() *cobra.Command {
	var opts stageOptions
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform one raw artifact into a clean table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := opts.parseKind()
			if err != nil {
				return err
			}
			return withStages(cmd, func(_ context.Context, a *app) error {
				res, err := a.transformer.Transform(kind, opts.file)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%d rows)\n", res.Path, res.Rows)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", "", "entity kind (required)")
	cmd.Flags().StringVar(&opts.file, "file", "", "raw artifact path or name (required)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newLoadCmd() *cobra.Command {
	var opts stageOptions
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Append one clean table to its database table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := opts.parseKind()
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) (err error) {
				sess, err := a.db.Session(ctx)
				if err != nil {
					return err
				}
				defer func() {
					if cerr := sess.Close(); cerr != nil && err == nil {
						err = cerr
					}
				}()

				n, err := a.loader.Load(ctx, sess, kind, opts.file)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d rows appended to %s\n", n, kind.Table())
				return err
			})
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", "", "entity kind (required)")
	cmd.Flags().StringVar(&opts.file, "file", "", "clean artifact path or name (required)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				applied, err := a.db.Migrate(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					a.log.Info("schema up to date")
				}
				return nil
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hourly ingestion on a schedule and serve the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	sched := scheduler.New(a.runner.RunHourlyIngestion, a.cfg.ScheduleInterval, 0, a.log)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := httpapi.NewApp(appName, a.runner, a.history, a.db, a.metrics)

	listenErr := make(chan error, 1)
	go func() {
		a.log.Info("admin server listening", zap.String("port", a.cfg.Port))
		listenErr <- srv.Listen(":" + a.cfg.Port)
	}()

	// Wait for termination signal
	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return errors.New("admin server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		a.log.Error("error during shutdown", zap.Error(err))
	}
	return nil
}
