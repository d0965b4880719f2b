package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/talgya/stratasim/internal/api"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve saved runs over a read-only HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			port, _ := cmd.Flags().GetInt("port")
			srv := api.NewServer(store, port, slog.Default())
			proxies, _ := cmd.Flags().GetStringSlice("trusted-proxies")
			if err := srv.TrustProxies(proxies...); err != nil {
				return err
			}
			if err := srv.Run(cmd.Context()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP port")
	cmd.Flags().StringSlice("trusted-proxies", nil, "Proxy IPs or CIDRs allowed to set X-Forwarded-For")
	return cmd
}
