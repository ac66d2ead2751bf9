package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/this-is-us/civicd/config"
	srv "github.com/this-is-us/civicd/internal/server"
	"github.com/this-is-us/civicd/internal/worker"
)

func scanCMD() *cobra.Command {
	var cfgPath string
	var sources []string
	var session string
	var force bool
	var limit int

	var scan = &cobra.Command{
		Use:   "scan",
		Short: "Run one review pass over the pending bills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			deps, err := srv.BuildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			report, err := deps.Scanner.ScanOnce(ctx, worker.ScanOptions{
				Sources: sources,
				Session: session,
				Force:   force,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			fmt.Printf("scan %s: listed=%d reviewed=%d flagged=%d skipped=%d failed=%d in %s\n",
				report.RunID, report.Listed, report.Reviewed, report.Flagged, report.Skipped, report.Failed, report.Elapsed)
			return nil
		},
	}
	scan.Flags().StringSliceVar(&sources, "source", nil, "restrict to these ingest sources")
	scan.Flags().StringVar(&session, "session", "", "restrict to one legislative session")
	scan.Flags().BoolVar(&force, "force", false, "ignore the rescan window")
	scan.Flags().IntVar(&limit, "limit", 0, "max bills this run (0 = config batch size)")
	scan.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return scan
}
