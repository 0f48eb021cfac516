package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"scaleprep/internal/config"
	"scaleprep/internal/db"
	"scaleprep/internal/logger"
	"scaleprep/internal/metrics"
	"scaleprep/internal/scaleprep"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "scaleprep",
	Short: "Seed synthetic application runs for APM scale testing",
	Long: `scaleprep clones real application runs in the APM database so the
monitoring system can be load tested against large data volumes.

It copies one start event (event_type SU) per synthetic run into
event_instances and, for hive, one hive_queries row per run linked by
query_id. Synthetic runs carry entity ids _test_<app-type>_<n> and the
comment _test.

Every option can also be set as a SCALEPREP_<OPTION> environment variable
(e.g. SCALEPREP_PASSWORD) or in a .env file.

Examples:
  scaleprep --url postgres://apm-db:5432/apm --username apm --password ... --app-type hive
  scaleprep --url mysql://apm-db:3306/apm --username apm --password ... --app-type hive --num-apps 10000
  scaleprep --url ... --app-type spark --num-apps 5000 --event-instances-only`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool(config.KeyLogJSON)
		verbose, _ := cmd.Flags().GetBool(config.KeyVerbose)
		if err := logger.Initialize(jsonLogs, verbose); err != nil {
			return errors.Wrap(err, "initialize logger")
		}
		return nil
	},
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configFile, "config", "", "Optional config file (yaml, toml or json)")
	f.String(config.KeyURL, "", "Database URL (postgres://, mysql:// or sqlite://)")
	f.String(config.KeyUsername, "", "Database username")
	f.String(config.KeyPassword, "", "Database password")
	f.String(config.KeyAppType, "", "Application type to seed: hive or spark")
	f.Int(config.KeyNumApps, 0, "Number of applications to create; 0 only reports current counts")
	f.Bool(config.KeyEventInstancesOnly, false, "Only create event_instances rows, skip app-type specific tables")
	f.Bool(config.KeySingleTransaction, false, "Write event instances and detail rows in one transaction")
	f.String(config.KeyMetricsFile, "", "Write a Prometheus textfile with run metrics to this path")
	f.Bool(config.KeyLogJSON, false, "Log as JSON")
	f.BoolP(config.KeyVerbose, "v", false, "Debug logging")
}

func run(cmd *cobra.Command, args []string) (err error) {
	cfg, err := config.Load(config.New(), cmd.Flags(), configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := conn.DB(); err == nil {
		defer sqlDB.Close()
	}
	logger.Logger.Debugw("connected", "url", db.Redact(cfg.DatabaseURL))

	recorder := metrics.New()
	if cfg.MetricsFile != "" {
		// failed runs still leave a textfile with their outcome
		defer func() {
			recorder.RecordRun(cfg.AppType, err == nil)
			if werr := recorder.WriteTextfile(cfg.MetricsFile, cfg.AppType); werr != nil {
				if err == nil {
					err = werr
					return
				}
				logger.Logger.Warnw("writing metrics failed", "path", cfg.MetricsFile, "error", werr)
				return
			}
			logger.Logger.Debugw("metrics written", "path", cfg.MetricsFile)
		}()
	}

	prep, err := scaleprep.New(conn, cfg.AppType,
		scaleprep.WithOutput(cmd.OutOrStdout()),
		scaleprep.WithProgressOutput(cmd.ErrOrStderr()),
		scaleprep.WithMetrics(recorder),
		scaleprep.WithSingleTransaction(cfg.SingleTransaction),
	)
	if err != nil {
		return err
	}

	if _, err := prep.Stat(ctx); err != nil {
		return err
	}

	if cfg.NumApps > 0 {
		res, err := prep.PopulateAppData(ctx, cfg.NumApps, cfg.EventInstancesOnly)
		if err != nil {
			return err
		}
		logger.Logger.Infow("seeding complete",
			"app_type", cfg.AppType,
			"event_instances", len(res.EntityIDs),
			"detail_rows", res.DetailRows)
		if _, err := prep.Stat(ctx); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "To add new entries, set --num-apps to a positive number")
	}
	return nil
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	logger.Sync()
	if err != nil {
		pterm.SetDefaultOutput(os.Stderr)
		pterm.Error.Println(err.Error())
		for _, hint := range errors.GetAllHints(err) {
			pterm.Info.Println(hint)
		}
		os.Exit(1)
	}
}
