package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lexgraph/internal/core"
	"lexgraph/internal/lexicon"
	"lexgraph/internal/logger"
	"lexgraph/pkg/domain"
)

func newMigrateCommand() *cobra.Command {
	var from, to, fromDSN, toDSN string
	cmd := &cobra.Command{
		Use:   "migrate --from DRIVER --to DRIVER",
		Short: "Copy every entity between storage backends and verify identities",
		Example: `  # Convert a snapshot project into a replica journal
  lexgraph migrate --from snapshot --to journal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if from == "" || to == "" {
				return domain.UsageErrorf("--from and --to are required")
			}
			cfg := configFrom(cmd)
			base, err := cfg.Descriptor()
			if err != nil {
				return err
			}
			base.Schema = lexicon.Schema()
			descriptor := func(driver, dsn string) (core.StoreDescriptor, error) {
				d := base
				d.DSN = dsn
				d.Driver, err = core.ParseStorageDriver(driver)
				return d, err
			}
			srcDesc, err := descriptor(from, fromDSN)
			if err != nil {
				return err
			}
			dstDesc, err := descriptor(to, toDSN)
			if err != nil {
				return err
			}
			if srcDesc.Location() == dstDesc.Location() {
				return domain.UsageErrorf("source and target are the same store: %s", srcDesc.Location())
			}

			ctx := cmd.Context()
			log := logger.Named("migrate")
			source, err := core.OpenBackend(ctx, srcDesc, log)
			if err != nil {
				return err
			}
			defer source.Close()
			target, err := core.OpenBackend(ctx, dstDesc, log)
			if err != nil {
				return err
			}
			defer target.Close()

			report, err := core.Migrate(ctx, source, target, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d entities from %s (%s) to %s (%s)\n",
				report.Entities, report.Source, srcDesc.Location(), report.Target, dstDesc.Location())
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source storage driver")
	cmd.Flags().StringVar(&to, "to", "", "target storage driver")
	cmd.Flags().StringVar(&fromDSN, "from-dsn", "", "source DSN or file path")
	cmd.Flags().StringVar(&toDSN, "to-dsn", "", "target DSN or file path")
	return cmd
}
