package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"covbench/internal/baselines"
	"covbench/internal/config"
	"covbench/internal/container"
	"covbench/internal/migration"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "covbench",
		Short:         "Benchmark covariance and precision estimators on bucketed time series",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newMigrateCmd(),
		newExperimentCmd(),
		newKindsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadContainer reads the environment configuration, applies flag overrides
// and builds the dependency container.
func loadContainer(override func(*config.Config)) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return container.New(cfg)
}

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored results and metrics over HTTP",
		Long: `Serve a read-only API over the configured results store:

  GET /healthz
  GET /runs?limit=N
  GET /runs/:id
  GET /runs/:id/report?format=html|md
  GET /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadContainer(func(cfg *config.Config) {
				if port != "" {
					cfg.Server.Port = port
				}
			})
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())
			return serve(cmd.Context(), c)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Listen port (default API_PORT or 8080)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL results schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadContainer(nil)
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())

			db, err := c.OpenDatabase(cmd.Context())
			if err != nil {
				return err
			}
			runner := migration.NewRunner()
			if err := runner.Run(cmd.Context(), db); err != nil {
				return err
			}
			c.Logger.Info("Results schema %s is up to date", runner.Version())
			return nil
		},
	}
}

func newExperimentCmd() *cobra.Command {
	var withTruth bool

	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Print the default experiment as YAML",
		Long: `Print the default method list and hyperparameter grids. Redirect the output
to a file, edit it and pass it to "covbench run --experiment".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.DefaultExperiment(withTruth).Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&withTruth, "truth", false, "Include the GroundTruth method (synthetic data only)")
	return cmd
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List estimator kinds, their required hyperparameters and fault policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, kind := range baselines.Kinds() {
				keys := baselines.RequiredKeys(kind)
				required := "-"
				if len(keys) > 0 {
					required = strings.Join(keys, ", ")
				}
				fmt.Fprintf(out, "%-24s %-10s %s\n", kind, baselines.DefaultPolicy(kind), required)
			}
			return nil
		},
	}
}
