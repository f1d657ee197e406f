package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/astromechza/notesync/pkg/note"
	"github.com/astromechza/notesync/pkg/viz"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var svgPath string
	var svgTemp bool
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the revision history kept by the sqlite store as DOT, or render it to SVG",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.DataDir, note.SQLiteFileName)
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("no history at %s, history is only kept with --store sqlite", path)
			}
			store, err := note.OpenSQLiteStore(path, 0, slog.Default())
			if err != nil {
				return err
			}
			defer store.Close()

			revs, err := store.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			slog.Info("loaded history", "path", path, "revisions", len(revs))
			for _, rev := range revs {
				slog.Debug("revision", "id", rev.ID, "origin", rev.Origin, "ts", rev.Note.Timestamp, "recorded", rev.RecordedAt.Format(time.RFC3339), "#text", len(rev.Note.Text))
			}

			switch {
			case svgTemp:
				out, err := viz.RenderToTemp(revs)
				if err != nil {
					return err
				}
				slog.Info("rendered", "path", "file://"+out)
				return nil
			case svgPath != "":
				if err := viz.RenderHistoryToSvg(revs, svgPath); err != nil {
					return err
				}
				slog.Info("rendered", "path", "file://"+svgPath)
				return nil
			}
			return viz.WriteDot(cmd.OutOrStdout(), revs)
		},
	}
	cmd.Flags().StringVar(&svgPath, "svg", "", "Render to this SVG file instead of printing DOT")
	cmd.Flags().BoolVar(&svgTemp, "svg-temp", false, "Render to a new SVG file in the temp directory")
	cmd.MarkFlagsMutuallyExclusive("svg", "svg-temp")
	cmd.Flags().IntVar(&limit, "limit", 0, "Only show the newest N revisions (0 for all)")
	return cmd
}
