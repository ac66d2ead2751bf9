package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/this-is-us/civicd/config"
	srv "github.com/this-is-us/civicd/internal/server"
)

func reviewCMD() *cobra.Command {
	var cfgPath string

	var reviewCmd = &cobra.Command{
		Use:   "review <item-id>",
		Short: "Review one bill and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			deps, err := srv.BuildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			outcome, err := deps.Pipeline.Review(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("item: %s\nstatus: %s\ntext source: %s\n", outcome.ItemID, outcome.Status, outcome.TextSource)
			if len(outcome.StructuralIssues) > 0 {
				fmt.Printf("structural issues: %s\n", strings.Join(outcome.StructuralIssues, ", "))
			}
			if len(outcome.AIIssues) > 0 {
				fmt.Printf("ai issues: %s\n", strings.Join(outcome.AIIssues, ", "))
			}
			if outcome.Summary.PlainSummary != "" {
				fmt.Printf("summary: %s\n", outcome.Summary.PlainSummary)
			}
			if outcome.Summary.Note != "" {
				fmt.Printf("summary note: %s\n", outcome.Summary.Note)
			}
			for _, a := range outcome.Topics.Assigned {
				fmt.Printf("topic: %s (%.2f)\n", a.Slug, a.Confidence)
			}
			return nil
		},
	}
	reviewCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return reviewCmd
}
