package main

import (
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/astromechza/notesync/pkg/replica"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the desktop replica and accept companions over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := slog.Default()
			h, err := openHost(cfg, logger)
			if err != nil {
				return err
			}

			if ip, err := replica.LocalIP(); err != nil {
				logger.Warn("could not determine LAN address", "err", err)
			} else {
				logger.Info("companions can connect", "url", "ws://"+net.JoinHostPort(ip, strconv.Itoa(cfg.Port)))
			}

			server := replica.NewServer(h.engine, cfg.Addr(), logger)
			return h.run("server", server.ListenAndServe)
		},
	}
}
