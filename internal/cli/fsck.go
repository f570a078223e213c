package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"flowerpod/internal/service"
)

func newFsckCmd(flags *rootFlags) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "fsck",
		Short: "Compare guide rows with stored directories and files",
		Long: `fsck reports guides whose directory or files are missing, images stored
outside their guide's directory, image rows without a guide and directories
without a guide. With --yes, orphan rows and orphan directories are removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.guides.Audit(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printReport(out, report)
			if report.Clean() || !repair {
				return nil
			}
			res, err := a.guides.Repair(cmd.Context(), report)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "repaired: %d image rows deleted, %d directories removed\n", res.ImagesDeleted, res.DirsRemoved)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&repair, "yes", "y", false, "remove orphan rows and directories")
	return cmd
}

func printReport(w io.Writer, r *service.AuditReport) {
	if r.Clean() {
		fmt.Fprintln(w, "ok: storage matches the database")
		return
	}
	for _, g := range r.MissingDirs {
		fmt.Fprintf(w, "missing directory: guide %d %q\n", g.ID, g.Title)
	}
	for _, img := range r.MissingFiles {
		fmt.Fprintf(w, "missing file: image %d %s\n", img.ID, img.Image)
	}
	for _, img := range r.MisplacedImages {
		fmt.Fprintf(w, "misplaced image: image %d of guide %d at %s\n", img.ID, img.GuideID, img.Image)
	}
	for _, img := range r.OrphanImages {
		fmt.Fprintf(w, "orphan image: image %d references guide %d\n", img.ID, img.GuideID)
	}
	for _, d := range r.OrphanDirs {
		fmt.Fprintf(w, "orphan directory: %s\n", d)
	}
}
