package backup

import "time"

// Status is the outcome of one item of a run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
	StatusDryRun    Status = "dry-run"
	StatusProtected Status = "protected"
)

// Creation records one image created from one instance. The JSON keys
// keep the names existing report consumers parse.
type Creation struct {
	InstanceID string    `json:"InstanceId"`
	ImageID    string    `json:"ImageId,omitempty"`
	ImageName  string    `json:"ImageName"`
	ExpiresAt  time.Time `json:"ExpiresAt"`
	Status     Status    `json:"Status"`
	Error      string    `json:"Error,omitempty"`
}

// SnapshotDeletion records the removal of one snapshot behind a deleted image.
type SnapshotDeletion struct {
	SnapshotID string `json:"SnapshotId"`
	Status     Status `json:"Status"`
	Error      string `json:"Error,omitempty"`
}

// Deletion records one expired image and what happened to it.
type Deletion struct {
	ImageID   string             `json:"ImageId"`
	ImageName string             `json:"ImageName"`
	ExpiredAt time.Time          `json:"ExpiredAt"`
	Status    Status             `json:"Status"`
	Error     string             `json:"Error,omitempty"`
	Snapshots []SnapshotDeletion `json:"Snapshots,omitempty"`
}

// Summary is the result of one invocation. It is never persisted.
type Summary struct {
	StartedAt        time.Time  `json:"StartedAt"`
	FinishedAt       time.Time  `json:"FinishedAt"`
	DryRun           bool       `json:"DryRun,omitempty"`
	InstancesMatched int        `json:"InstancesMatched"`
	ImagesScanned    int        `json:"ImagesScanned"`
	Creations        []Creation `json:"TotalOperationForEc2"`
	Deletions        []Deletion `json:"TotalOperationForAMIDelete"`
	Error            string     `json:"Error,omitempty"`
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Failed reports whether the run ended with a run-level error.
func (s Summary) Failed() bool {
	return s.Error != ""
}

// CountCreations returns how many creations ended in status.
func (s Summary) CountCreations(status Status) int {
	n := 0
	for _, c := range s.Creations {
		if c.Status == status {
			n++
		}
	}
	return n
}

// CountDeletions returns how many deletions ended in status.
func (s Summary) CountDeletions(status Status) int {
	n := 0
	for _, d := range s.Deletions {
		if d.Status == status {
			n++
		}
	}
	return n
}
