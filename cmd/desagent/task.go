package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solventlab/des-agent-go/core"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Run formulation tasks",
	}
	cmd.AddCommand(newTaskRunCmd())
	return cmd
}

func newTaskRunCmd() *cobra.Command {
	var taskFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Solve a formulation task and persist the recommendation",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(taskFile)
			if err != nil {
				return fmt.Errorf("reading task file: %w", err)
			}
			var task core.Task
			if err := json.Unmarshal(data, &task); err != nil {
				return fmt.Errorf("parsing task file: %w", err)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.engine.SolveTask(cmd.Context(), task)
			if err != nil {
				return err
			}

			fmt.Printf("Recommendation: %s\n", rec.ID)
			fmt.Printf("Formulation:    %s\n", rec.Formulation.DisplayString())
			fmt.Printf("Confidence:     %.2f\n", rec.Confidence)
			fmt.Printf("Status:         %s\n", rec.Status)
			fmt.Printf("\n%s\n", rec.Reasoning)
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskFile, "file", "f", "", "JSON task file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
