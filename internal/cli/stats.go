package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lexgraph/internal/graph"
)

// Stats summarizes a loaded store.
type Stats struct {
	Driver   string         `json:"driver"`
	Scope    string         `json:"scope"`
	ReadOnly bool           `json:"read_only"`
	Total    int            `json:"total"`
	Classes  map[string]int `json:"classes"`
}

func newStatsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Load the store and count live entities per class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			stats := Stats{Driver: s.Backend().Kind(), Scope: s.Scope().Name, ReadOnly: s.ReadOnly(), Classes: map[string]int{}}
			if err := s.Read(func(repo *graph.Repository) error {
				for _, h := range repo.Live() {
					class, _ := repo.ClassOf(h)
					stats.Classes[string(class)]++
				}
				stats.Total = repo.Count()
				return nil
			}); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "driver\t%s\n", stats.Driver)
			fmt.Fprintf(w, "scope\t%s\n", stats.Scope)
			names := make([]string, 0, len(stats.Classes))
			for name := range stats.Classes {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%d\n", name, stats.Classes[name])
			}
			fmt.Fprintf(w, "total\t%d\n", stats.Total)
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

