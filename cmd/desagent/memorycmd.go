package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect the experience bank",
	}
	cmd.AddCommand(newMemoryStatsCmd())
	return cmd
}

func newMemoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			st := a.memories.Stats()
			fmt.Printf("Total:     %d / %d\n", st.Total, st.MaxItems)
			fmt.Printf("Embedded:  %d\n", st.Embedded)
			for origin, n := range st.ByOrigin {
				fmt.Printf("  %-11s %d\n", origin, n)
			}
			return nil
		},
	}
}
