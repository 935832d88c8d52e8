// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/commercekit/edgeauth/internal/config"
	"github.com/commercekit/edgeauth/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway and auth API listeners",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		log := server.NewLogger(cfg)
		log.Info("starting edgeauth",
			"version", Version,
			"gateway_addr", cfg.Gateway.ListenAddr,
			"authapi_addr", cfg.AuthAPI.ListenAddr,
			"rp_origin", cfg.RelyingParty.Origin)

		srv, err := server.New(cfg, log)
		if err != nil {
			return fmt.Errorf("initialize server: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return err
		}
		log.Info("edgeauth stopped")
		return nil
	},
}
