package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lexgraph/internal/errors"
	"lexgraph/internal/lexicon"
	"lexgraph/pkg/domain"
)

func newInitCommand() *cobra.Command {
	var entries, senses int
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty store, optionally seeded with a sample lexicon",
		Example: `  # Create an empty snapshot store in ./data
  lexgraph init --path data

  # Seed a journal with 100 sample entries of 2 senses each
  lexgraph init --driver journal --entries 100 --senses 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if entries < 0 || senses < 0 {
				return domain.UsageErrorf("--entries and --senses must not be negative")
			}
			backend, desc, err := openBackend(cmd, "")
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx := cmd.Context()
			if err := backend.InitializeEmpty(ctx); err != nil {
				return errors.Wrap(err, "initialize store")
			}
			count := 0
			if entries > 0 {
				records := lexicon.Records(entries, senses)
				if err := backend.WriteAll(ctx, records); err != nil {
					return errors.Wrap(err, "seed store")
				}
				count = len(records)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s store at %s with %d entities\n", desc.Driver, desc.Location(), count)
			return nil
		},
	}
	cmd.Flags().IntVar(&entries, "entries", 0, "number of sample lexical entries to seed")
	cmd.Flags().IntVar(&senses, "senses", 1, "senses per sample entry")
	return cmd
}
