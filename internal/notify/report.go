package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yairfalse/amikeeper/internal/telemetry"
	"github.com/yairfalse/amikeeper/pkg/backup"
)

// Report subjects.
const (
	SubjectSuccess = "AMI automation script report!"
	SubjectFailure = "[Err] AMI automation script report!"
)

// ReportConfig addresses the report.
type ReportConfig struct {
	Sender        string
	To            []string
	Cc            []string
	SubjectPrefix string
	MarkerTag     string
}

// Reporter turns a run summary into a message and sends it.
type Reporter struct {
	notifier Notifier
	cfg      ReportConfig
	logger   *telemetry.Logger
}

// NewReporter creates a reporter sending through n.
func NewReporter(n Notifier, cfg ReportConfig) *Reporter {
	return &Reporter{
		notifier: n,
		cfg:      cfg,
		logger:   telemetry.NewLogger("report"),
	}
}

// Report sends one message for the run. runErr selects the failure subject.
func (r *Reporter) Report(ctx context.Context, s backup.Summary, runErr error) error {
	msg := r.Message(s, runErr)

	if err := r.notifier.Send(ctx, msg); err != nil {
		return fmt.Errorf("send report via %s: %w", r.notifier.Name(), err)
	}

	r.logger.WithContext(ctx).Info().
		Str("channel", r.notifier.Name()).
		Str("subject", msg.Subject).
		Msg("report sent")
	return nil
}

// Message renders the report without sending it.
func (r *Reporter) Message(s backup.Summary, runErr error) Message {
	subject := SubjectSuccess
	if runErr != nil {
		subject = SubjectFailure
	}
	if r.cfg.SubjectPrefix != "" {
		subject = r.cfg.SubjectPrefix + " " + subject
	}

	return Message{
		Subject: subject,
		Sender:  r.cfg.Sender,
		To:      r.cfg.To,
		Cc:      r.cfg.Cc,
		Body:    r.body(s, runErr),
	}
}

func (r *Reporter) body(s backup.Summary, runErr error) string {
	var b strings.Builder

	b.WriteString("Hello, report of AMI automation script!\n\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Started:\t%s\n", s.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "Duration:\t%s\n", s.Duration().Round(time.Millisecond))
	if s.DryRun {
		fmt.Fprintf(tw, "Dry run:\tyes\n")
	}
	fmt.Fprintf(tw, "Instances matched:\t%d\n", s.InstancesMatched)
	fmt.Fprintf(tw, "Images created:\t%d succeeded, %d failed\n",
		s.CountCreations(backup.StatusSuccess), s.CountCreations(backup.StatusFailed))
	fmt.Fprintf(tw, "Images scanned:\t%d\n", s.ImagesScanned)
	fmt.Fprintf(tw, "Images deleted:\t%d succeeded, %d partial, %d failed, %d protected\n",
		s.CountDeletions(backup.StatusSuccess), s.CountDeletions(backup.StatusPartial),
		s.CountDeletions(backup.StatusFailed), s.CountDeletions(backup.StatusProtected))
	_ = tw.Flush()
	b.WriteString("\n")

	switch {
	case runErr != nil && s.InstancesMatched == 0:
		fmt.Fprintf(&b, "The run failed before any image was created.\n")
	case s.InstancesMatched == 0:
		fmt.Fprintf(&b, "No instances matched the %s tag; nothing was backed up.\n", r.markerTag())
	case s.CountCreations(backup.StatusFailed) == s.InstancesMatched:
		fmt.Fprintf(&b, "All %d matched instances failed to back up.\n", s.InstancesMatched)
	}

	if runErr != nil {
		fmt.Fprintf(&b, "Error: %v\n", runErr)
	}
	b.WriteString("\n")

	if len(s.Creations) > 0 {
		b.WriteString("AMI creation result:\n")
		tw = tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		for _, c := range s.Creations {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\texpires %s\t%s\n",
				c.InstanceID, orDash(c.ImageID), c.ImageName, c.Status,
				humanize.RelTime(c.ExpiresAt, s.FinishedAt, "ago", "from now"), c.Error)
		}
		_ = tw.Flush()
		b.WriteString("\n")
	}

	if len(s.Deletions) > 0 {
		b.WriteString("AMI deletion result:\n")
		tw = tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		for _, d := range s.Deletions {
			fmt.Fprintf(tw, "  %s\t%s\t%s\texpired %s\t%s\t%s\n",
				d.ImageID, d.ImageName, d.Status,
				humanize.RelTime(d.ExpiredAt, s.FinishedAt, "ago", "from now"),
				snapshotList(d.Snapshots), d.Error)
		}
		_ = tw.Flush()
		b.WriteString("\n")
	}

	if data, err := json.MarshalIndent(s, "", "  "); err == nil {
		b.WriteString("Summary:\n")
		b.Write(data)
		b.WriteString("\n\n")
	}

	b.WriteString("Thanks")
	return b.String()
}

func (r *Reporter) markerTag() string {
	if r.cfg.MarkerTag == "" {
		return "marker"
	}
	return r.cfg.MarkerTag
}

func snapshotList(snaps []backup.SnapshotDeletion) string {
	if len(snaps) == 0 {
		return "no snapshots"
	}
	parts := make([]string, 0, len(snaps))
	for _, sd := range snaps {
		if sd.Status == backup.StatusSuccess {
			parts = append(parts, sd.SnapshotID)
			continue
		}
		parts = append(parts, sd.SnapshotID+" ("+string(sd.Status)+")")
	}
	return "snapshots: " + strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
