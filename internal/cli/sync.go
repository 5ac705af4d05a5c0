package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"lexgraph/internal/core"
	"lexgraph/internal/errors"
	"lexgraph/internal/infra/persistence/journal"
	"lexgraph/pkg/domain"
)

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange journal entries between replicas",
		Long: `Replicas using the journal driver converge by exchanging journal entries.
Entries are stamped with a hybrid logical clock; merging is idempotent and
order-independent, so replicas that have seen the same entries report the
same digest.`,
	}
	cmd.AddCommand(newSyncExportCommand(), newSyncMergeCommand(), newSyncDigestCommand())
	return cmd
}

func openJournal(cmd *cobra.Command) (*journal.Store, error) {
	backend, _, err := openBackend(cmd, core.StorageJournal.String())
	if err != nil {
		return nil, err
	}
	store, ok := backend.(*journal.Store)
	if !ok {
		_ = backend.Close()
		return nil, domain.UsageErrorf("sync requires the journal driver, got %s", backend.Kind())
	}
	return store, nil
}

func newSyncExportCommand() *cobra.Command {
	var since uint64
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write journal entries as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.Since(cmd.Context(), since)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				return journal.WriteEntries(cmd.OutOrStdout(), entries)
			}
			if err := exportFile(out, entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries from node %s to %s\n", len(entries), store.Node(), out)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "export entries after this local sequence number")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

// exportFile writes entries to path. A failed close is reported like a
// failed write.
func exportFile(path string, entries []journal.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := journal.WriteEntries(f, entries); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func newSyncMergeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge FILE",
		Short: "Merge exported journal entries into the local journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return errors.Wrapf(err, "open %s", args[0])
				}
				defer f.Close()
				r = f
			}
			entries, err := journal.ReadEntries(r)
			if err != nil {
				return err
			}
			store, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Merge(cmd.Context(), entries)
			if err != nil {
				return err
			}
			digest, err := store.Digest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d of %d entries into node %s\ndigest %s\n", n, len(entries), store.Node(), digest)
			return nil
		},
	}
}

func newSyncDigestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Print the order-independent digest of the journal state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			digest, err := store.Digest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
}
