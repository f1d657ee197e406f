package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/astromechza/notesync/pkg/config"
)

type rootOptions struct {
	verbose    bool
	configPath string
	host       string
	port       int
	dataDir    string
	store      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "notesync",
		Short: "Keep a sticky note in sync between a desktop and a companion over WebSocket",
		Long: `notesync keeps one plain-text note on two replicas. Each side persists its own
copy with the time it was last written, and the newest write wins.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&opts.host, "host", "", "Address to listen on (overrides WS_HOST)")
	flags.IntVar(&opts.port, "port", 0, "Port to listen on or dial (overrides WS_PORT)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Directory holding the note (overrides NOTESYNC_DATA_DIR)")
	flags.StringVar(&opts.store, "store", "", "Persistence: file or sqlite (overrides NOTESYNC_STORE)")

	cmd.AddCommand(newServeCmd(opts), newPeerCmd(opts), newHistoryCmd(opts))
	return cmd
}

// load resolves the config and then applies the flags the user actually set.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = o.dataDir
	}
	if flags.Changed("store") {
		cfg.Store = o.store
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("after applying flags: %w", err)
	}
	return cfg, nil
}
