package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pagebatch/internal/batch"
	"pagebatch/internal/bootstrap"
	"pagebatch/internal/infra"
)

const envPrefix = "PAGEBATCH"

// cliDefaults apply when neither a flag, a PAGEBATCH_ variable nor the plain
// service variable sets the key.
var cliDefaults = map[string]string{
	"STORE_DRIVER": infra.StoreDriverSQLite,
	"APP_ENV":      "production",
}

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pagebatch",
		Short:         "Run and inspect textbook page batch jobs",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("store", "", "Store backend: sqlite or postgres.")
	cmd.PersistentFlags().String("sqlite-path", "", "SQLite database file.")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL.")
	cmd.PersistentFlags().Duration("delay", 0, "Pause between two pages (overrides BATCH_ITEM_DELAY_MS).")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("store_driver", cmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("sqlite_path", cmd.PersistentFlags().Lookup("sqlite-path"))
	_ = viper.BindPFlag("database_url", cmd.PersistentFlags().Lookup("database-url"))
	_ = viper.BindPFlag("delay", cmd.PersistentFlags().Lookup("delay"))

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newResultsCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newAPIKeyCmd())

	return cmd
}

func initConfig() {
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}

// lookupConfig resolves a service configuration key from viper first, then
// from the process environment, then from cliDefaults.
func lookupConfig(key string) (string, bool) {
	vkey := strings.ToLower(key)
	if viper.IsSet(vkey) {
		if v := viper.GetString(vkey); v != "" {
			return v, true
		}
	}
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	v, ok := cliDefaults[key]
	return v, ok
}

func loadConfig() (*infra.Config, error) {
	cfg, err := infra.LoadConfigFrom(lookupConfig)
	if err != nil {
		return nil, err
	}
	if viper.IsSet("delay") {
		cfg.BatchItemDelay = viper.GetDuration("delay")
	}
	return cfg, nil
}

// env bundles what a subcommand needs to talk to the store.
type env struct {
	cfg    *infra.Config
	logger zerolog.Logger
	stores *bootstrap.Stores
	query  *batch.Query
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := infra.NewLoggerTo(cfg.AppEnv, os.Stderr)
	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	query, err := batch.NewQuery(stores.Jobs, stores.Results)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, stores: stores, query: query}, nil
}

func (e *env) Close() error {
	return e.stores.Close()
}

// orchestrator builds an Orchestrator backed by the configured vision processor.
func (e *env) orchestrator(ctx context.Context) (*batch.Orchestrator, error) {
	processor, err := bootstrap.NewProcessor(ctx, e.cfg, e.stores, &e.logger)
	if err != nil {
		return nil, err
	}
	if !processor.Configured() {
		return nil, fmt.Errorf("no %s api key: set it in the environment or run `pagebatch apikey set --provider %s`", e.cfg.VisionProvider, e.cfg.VisionProvider)
	}
	return batch.NewOrchestrator(e.stores.Jobs, e.stores.Results, processor, batch.Options{
		Delay:  e.cfg.BatchItemDelay,
		Logger: &e.logger,
	})
}
