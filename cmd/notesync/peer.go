package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/astromechza/notesync/pkg/replica"
)

func newPeerCmd(opts *rootOptions) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Run a companion replica that keeps dialing the desktop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if url != "" {
				cfg.PeerURL = url
			}
			logger := slog.Default()
			h, err := openHost(cfg, logger)
			if err != nil {
				return err
			}
			client := replica.NewClient(h.engine, cfg.PeerEndpoint(), cfg.Reconnect, logger)
			return h.run("client", client.Run)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "WebSocket URL of the desktop (overrides NOTESYNC_PEER_URL)")
	return cmd
}
