package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/amikeeper/internal/app"
	"github.com/yairfalse/amikeeper/pkg/backup"
)

var runJSON bool

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one backup and expiry pass",
	Long: `Run one pass of the lifecycle and exit.

The pass creates an AMI for every running instance carrying the marker
tag, then deregisters every managed AMI whose encoded expiry has passed
and deletes its snapshots. One report is sent at the end, whether the
pass succeeded or not. The exit code is 1 when the pass failed.`,
	Example: `  amikeeper run                              # Use environment configuration
  amikeeper run --config amikeeper.toml      # Use a config file
  amikeeper run --dry-run                    # Show what would happen
  amikeeper run --json                       # Print the summary as JSON`,
	Args: cobra.NoArgs,
	RunE: runPass,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run summary as JSON")
}

func runPass(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer shutdown(a)

	s, runErr := a.Runner.Run(ctx)

	out := cmd.OutOrStdout()
	if runJSON {
		if err := writeSummaryJSON(out, s); err != nil {
			return err
		}
	} else {
		writeSummary(out, s)
	}

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

func writeSummary(w io.Writer, s backup.Summary) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	if s.DryRun {
		fmt.Fprintln(tw, "Mode:\tdry run")
	}
	fmt.Fprintf(tw, "Instances matched:\t%d\n", s.InstancesMatched)
	fmt.Fprintf(tw, "Images created:\t%d\n", s.CountCreations(backup.StatusSuccess))
	fmt.Fprintf(tw, "Creations failed:\t%d\n", s.CountCreations(backup.StatusFailed))
	fmt.Fprintf(tw, "Images scanned:\t%d\n", s.ImagesScanned)
	fmt.Fprintf(tw, "Images deleted:\t%d\n", s.CountDeletions(backup.StatusSuccess))
	fmt.Fprintf(tw, "Deletions partial:\t%d\n", s.CountDeletions(backup.StatusPartial))
	fmt.Fprintf(tw, "Deletions failed:\t%d\n", s.CountDeletions(backup.StatusFailed))
	fmt.Fprintf(tw, "Protected:\t%d\n", s.CountDeletions(backup.StatusProtected))
	fmt.Fprintf(tw, "Duration:\t%s\n", s.Duration().Round(time.Millisecond))
	if s.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", s.Error)
	}
	_ = tw.Flush()
}

func writeSummaryJSON(w io.Writer, s backup.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}
