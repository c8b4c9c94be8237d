package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yairfalse/amikeeper/internal/app"
	"github.com/yairfalse/amikeeper/internal/config"
	"github.com/yairfalse/amikeeper/internal/lifecycle"
	"github.com/yairfalse/amikeeper/pkg/backup"
)

var imagesExpiredOnly bool

// imagesCmd represents the images command
var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List managed AMIs and their expiry state",
	Long: `List every AMI owned by this account that carries the marker tag,
with the expiry decoded from its name.

STATUS is one of:
- alive      the expiry is still in the future
- expired    the next run will deregister it
- unmanaged  the name carries no expiry, it is never touched`,
	Example: `  amikeeper images               # All managed AMIs
  amikeeper images --expired     # Only AMIs due for deletion`,
	Args: cobra.NoArgs,
	RunE: runImages,
}

func init() {
	rootCmd.AddCommand(imagesCmd)

	imagesCmd.Flags().BoolVar(&imagesExpiredOnly, "expired", false, "Show only expired AMIs")
}

func runImages(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, listingOnly)
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

	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Listing managed images ..."
	s.Start()
	images, err := a.Engine.SelectImages(ctx)
	s.Stop()
	if err != nil {
		return err
	}

	rows := imageRows(images, time.Now(), imagesExpiredOnly)
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No managed images found.")
		return nil
	}
	writeImages(cmd.OutOrStdout(), rows)
	return nil
}

// listingOnly routes reports to the log. Listing never sends one, so it
// needs no SES or SNS settings.
func listingOnly(c *config.Config) {
	c.Notify.Channels = []string{config.ChannelLog}
}

type imageRow struct {
	ID         string
	Name       string
	InstanceID string
	Expiry     time.Time
	Relative   string
	State      lifecycle.State
}

// imageRows classifies images at now, soonest expiry first. Unmanaged
// images sort last.
func imageRows(images []backup.Image, now time.Time, expiredOnly bool) []imageRow {
	rows := make([]imageRow, 0, len(images))
	for _, img := range images {
		name, state := lifecycle.Classify(img, now)
		if expiredOnly && state != lifecycle.StateExpired {
			continue
		}
		row := imageRow{ID: img.ID, Name: img.Name, State: state}
		if state != lifecycle.StateUnmanaged {
			row.InstanceID = name.InstanceID
			row.Expiry = name.Expiry()
			row.Relative = humanize.RelTime(row.Expiry, now, "ago", "from now")
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Expiry.IsZero() != b.Expiry.IsZero() {
			return b.Expiry.IsZero()
		}
		if !a.Expiry.Equal(b.Expiry) {
			return a.Expiry.Before(b.Expiry)
		}
		return a.ID < b.ID
	})
	return rows
}

func writeImages(w io.Writer, rows []imageRow) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tINSTANCE\tEXPIRES\tSTATUS")
	for _, r := range rows {
		instance, expires := "-", "-"
		if r.State != lifecycle.StateUnmanaged {
			instance = r.InstanceID
			expires = fmt.Sprintf("%s (%s)", r.Expiry.UTC().Format(time.RFC3339), r.Relative)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, instance, expires, r.State)
	}
	_ = tw.Flush()
}
