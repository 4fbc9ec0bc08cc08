package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/scrollframe/internal/controller"
	"github.com/dgnsrekt/scrollframe/internal/export"
	"github.com/dgnsrekt/scrollframe/internal/framestore"
	"github.com/dgnsrekt/scrollframe/internal/kvstore"
	"github.com/dgnsrekt/scrollframe/internal/license"
	"github.com/dgnsrekt/scrollframe/internal/persist"
	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// NewFramesCmd groups the offline frame commands.
func NewFramesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frames",
		Short: "Inspect and export saved frames without a browser",
	}
	cmd.AddCommand(newFramesListCmd())
	cmd.AddCommand(newFramesExportCmd())
	return cmd
}

func newFramesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved frames in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			kv, err := a.openStore()
			if err != nil {
				return err
			}
			defer kv.Close()

			frames, err := persist.LoadFrames(cmd.Context(), kv)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			return printFrames(cmd.OutOrStdout(), types.Summarize(frames), asJSON)
		},
	}
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func printFrames(w io.Writer, frames []types.FrameSummary, asJSON bool) error {
	if asJSON {
		if frames == nil {
			frames = []types.FrameSummary{}
		}
		return printJSON(w, frames)
	}
	if len(frames) == 0 {
		_, err := fmt.Fprintln(w, "no frames saved")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tCAPTURED\tSCROLL\tPAGE\tANNOTATION")
	for _, f := range frames {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			f.Number, f.ID, f.Timestamp.Local().Format("2006-01-02 15:04:05"), f.ScrollPosition,
			truncate(f.PageTitle, 32), truncate(firstLine(f.Annotation), 40))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newFramesExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render saved frames to png, html, markdown, or pdf",
		Long: `export composes the saved frames the same way the API does, stores the
result in the export directory, and optionally copies it to --out.`,
		Args: cobra.NoArgs,
		RunE: runFramesExport,
	}
	cmd.Flags().StringP("format", "f", export.FormatPNG, "Output format: png, html, md, or pdf")
	cmd.Flags().String("frame", "", "Export a single frame by id")
	cmd.Flags().StringP("out", "o", "", "Also write the document to this path")
	return cmd
}

// offlineService builds a controller over the saved frames. It has no
// driver, so only frame and export commands work.
func offlineService(ctx context.Context, a *app, kv kvstore.Store) (*controller.Service, error) {
	saved, err := persist.LoadFrames(ctx, kv)
	if err != nil {
		return nil, err
	}
	frames := framestore.New(nil)
	frames.Load(saved)

	exports, err := export.NewStore(a.cfg.ExportDir)
	if err != nil {
		return nil, err
	}
	sessCfg, err := a.cfg.SessionConfig(a.profile)
	if err != nil {
		return nil, err
	}
	return controller.NewService(controller.Deps{
		Frames:  frames,
		Quota:   quota.NewTracker(kv, nil),
		License: license.NewOracle(kv, license.NewValidator(nil, a.cfg.LicenseURL), nil),
		Exports: exports,
		KV:      kv,
		Style:   a.profile.Style(),
	}, sessCfg), nil
}

func runFramesExport(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd, os.Stderr)
	if err != nil {
		return err
	}
	kv, err := a.openStore()
	if err != nil {
		return err
	}
	defer kv.Close()

	svc, err := offlineService(cmd.Context(), a, kv)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	frameID, _ := cmd.Flags().GetString("frame")
	meta, err := svc.Export(cmd.Context(), format, frameID)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out != "" {
		data, _, err := svc.ReadExport(meta.ID)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d frame(s) as %s: %s\n", meta.Frames, meta.Format, meta.ID)
	if out != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "  written to %s\n", out)
	}
	return nil
}
