package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/this-is-us/civicd/config"
	srv "github.com/this-is-us/civicd/internal/server"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the ops HTTP server and the scan scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			return srv.Run(context.Background(), cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
