// Package commands implements the imagingdb CLI commands.
package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/czbiohub/imagingdb/internal/logger"
	"github.com/czbiohub/imagingdb/pkg/catalog"
	"github.com/czbiohub/imagingdb/pkg/config"
	"github.com/czbiohub/imagingdb/pkg/storage"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile   string
	loginFile string
)

var rootCmd = &cobra.Command{
	Use:   "imagingdb",
	Short: "imagingdb - microscopy dataset ingestion and retrieval",
	Long: `imagingdb splits multi-dimensional microscopy acquisitions into
per-plane PNG objects in S3 or filesystem storage, catalogs their metadata in
a relational database, and re-materializes selected planes on demand.

Use "imagingdb [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. Called by
// main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "JSON config file")
	rootCmd.PersistentFlags().StringVar(&loginFile, "login", "", "database credentials JSON file")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfig loads the JSON config named by --config and initializes logging
// from it.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("no config file given, use --config")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stderr",
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openCatalog connects to the database named by the --login credentials file.
func openCatalog() (*catalog.Catalog, error) {
	if loginFile == "" {
		return nil, fmt.Errorf("no database credentials given, use --login")
	}
	return catalog.NewFromCredentials(loginFile)
}

// openBackend builds the storage backend the config selects.
func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	return cfg.NewBackend(ctx)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("imagingdb %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
