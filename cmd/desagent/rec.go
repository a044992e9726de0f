package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solventlab/des-agent-go/recommend"
)

func newRecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rec",
		Short: "Inspect and manage recommendations",
	}
	cmd.AddCommand(newRecListCmd(), newRecShowCmd(), newRecCancelCmd(), newRecStatsCmd())
	return cmd
}

func newRecListCmd() *cobra.Command {
	var status, material string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recommendations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			summaries := a.recs.List(recommend.ListFilter{
				Status:         recommend.Status(status),
				TargetMaterial: material,
				Limit:          limit,
			})
			if len(summaries) == 0 {
				fmt.Println("No recommendations found.")
				return nil
			}
			for _, s := range summaries {
				fmt.Printf("%-40s %-11s %-12s %s\n", s.ID, s.Status, s.TargetMaterial, s.Formulation)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&material, "material", "", "filter by target material")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func newRecShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <recommendation-id>",
		Short: "Print a recommendation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.recs.Get(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func newRecCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <recommendation-id>",
		Short: "Withdraw a pending recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.recs.Cancel(args[0]); err != nil {
				return err
			}
			fmt.Printf("Cancelled %s\n", args[0])
			return nil
		},
	}
}

func newRecStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize recommendations by status and material",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			st := a.recs.Statistics()
			fmt.Printf("Total: %d\n", st.Total)
			for status, n := range st.ByStatus {
				fmt.Printf("  %-11s %d\n", status, n)
			}
			for material, n := range st.ByMaterial {
				fmt.Printf("  %-11s %d\n", material, n)
			}
			return nil
		},
	}
}
