package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/solventlab/des-agent-go/core"
	"github.com/solventlab/des-agent-go/feedback"
)

func newFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Submit and track experiment feedback",
	}
	cmd.AddCommand(newFeedbackSubmitCmd(), newFeedbackStatusCmd())
	return cmd
}

func newFeedbackSubmitCmd() *cobra.Command {
	var resultFile string

	cmd := &cobra.Command{
		Use:   "submit <recommendation-id>",
		Short: "Submit lab results for a recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(resultFile)
			if err != nil {
				return fmt.Errorf("reading result file: %w", err)
			}
			var result core.ExperimentResult
			if err := json.Unmarshal(data, &result); err != nil {
				return fmt.Errorf("parsing result file: %w", err)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			acc, err := a.pipeline.Submit(args[0], &result)
			if err != nil {
				return err
			}
			fmt.Printf("Accepted: %s\n", acc.RecommendationID)

			// The CLI is short-lived, so wait for the pool rather than
			// leaving the caller to poll a dead process.
			for {
				entry, err := a.pipeline.CheckStatus(acc.RecommendationID)
				if err != nil {
					return err
				}
				if entry.State != feedback.StateProcessing {
					printStatus(entry)
					return nil
				}
				time.Sleep(200 * time.Millisecond)
			}
		},
	}
	cmd.Flags().StringVarP(&resultFile, "file", "f", "", "JSON experiment result file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newFeedbackStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <recommendation-id>",
		Short: "Check feedback processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			entry, err := a.pipeline.CheckStatus(args[0])
			if err != nil {
				return err
			}
			printStatus(entry)
			return nil
		},
	}
}

func printStatus(entry *feedback.StatusEntry) {
	fmt.Printf("State: %s\n", entry.State)
	if entry.Result != nil {
		fmt.Printf("Measurements:       %d\n", entry.Result.MeasurementCount)
		fmt.Printf("Memories extracted: %d\n", entry.Result.MemoriesExtracted)
		if entry.Result.IsUpdate {
			fmt.Printf("Replaced memories:  %d\n", entry.Result.DeletedMemories)
		}
	}
	if entry.Error != "" {
		fmt.Printf("Error: %s\n", entry.Error)
	}
}
