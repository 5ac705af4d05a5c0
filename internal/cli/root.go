// Package cli provides the lexgraph command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lexgraph/internal/config"
	"lexgraph/internal/core"
	"lexgraph/internal/lexicon"
	"lexgraph/internal/logger"
	"lexgraph/pkg/domain"
)

// Version is set at build time.
var Version = "0.1.0"

type configKey struct{}

// NewRootCmd creates the root command and its subcommands.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:   "lexgraph",
		Short: "lexgraph - object-graph store for lexical data",
		Long: `lexgraph stores typed lexical entities with ownership invariants,
undoable units of work and interchangeable storage backends, including a
replica-synchronizing journal ordered by a hybrid logical clock.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logger.Sync()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./lexgraph.yaml)")
	flags.String("project", "", "project name")
	flags.String("path", "", "project directory")
	flags.String("driver", "", "storage driver (memory|snapshot|journal|sqlite|postgres)")
	flags.String("dsn", "", "postgres DSN, or a file path override for sqlite and journal")
	flags.Bool("compress", false, "zstd-compress snapshots")
	flags.String("blob", "", "snapshot blob driver (fs|memory|s3)")
	flags.String("blob-root", "", "root directory of the fs blob driver")
	flags.String("bucket", "", "bucket of the s3 blob driver")
	flags.String("node", "", "journal replica id")
	flags.String("persist", "", "persist mode (immediate|idle)")
	flags.Int("max-undo", 0, "undo history bound")
	flags.Bool("log-json", false, "log as JSON")
	flags.String("log-level", "", "log level (debug|info|warn|error)")

	_ = root.RegisterFlagCompletionFunc("driver", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		var names []string
		for _, d := range core.StorageDrivers() {
			names = append(names, d.String())
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newInitCommand())
	root.AddCommand(newStatsCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newSyncCommand())
	return root
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return &config.Config{Project: "lexgraph", Path: "."}
}

// openBackend opens the configured backend, optionally with the driver
// replaced.
func openBackend(cmd *cobra.Command, driver string) (domain.Backend, core.StoreDescriptor, error) {
	cfg := configFrom(cmd)
	desc, err := cfg.Descriptor()
	if err != nil {
		return nil, desc, err
	}
	desc.Schema = lexicon.Schema()
	if driver != "" {
		if desc.Driver, err = core.ParseStorageDriver(driver); err != nil {
			return nil, desc, err
		}
	}
	backend, err := core.OpenBackend(cmd.Context(), desc, logger.Named("cli"))
	return backend, desc, err
}

// openSession opens the configured backend and loads it into a session.
func openSession(cmd *cobra.Command) (*core.Session, error) {
	cfg := configFrom(cmd)
	backend, _, err := openBackend(cmd, "")
	if err != nil {
		return nil, err
	}
	opts, err := cfg.SessionOptions()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	opts = append(opts, core.WithLogger(logger.Named("session")))
	s, err := core.NewSession(lexicon.Schema(), backend, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	if err := s.Load(cmd.Context(), cfg.LoadScope()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
