package backup

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImage_SnapshotIDs(t *testing.T) {
	img := Image{
		ID: "ami-1",
		BlockDevices: []BlockDevice{
			{DeviceName: "/dev/xvda", SnapshotID: "snap-1"},
			{DeviceName: "/dev/sdb"},
			{DeviceName: "/dev/sdc", SnapshotID: "snap-2"},
		},
	}

	assert.Equal(t, []string{"snap-1", "snap-2"}, img.SnapshotIDs())
}

func TestImage_SnapshotIDs_NoDevices(t *testing.T) {
	assert.Empty(t, Image{ID: "ami-1"}.SnapshotIDs())
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]string{"b": "2", "a": "1", "Name": "x"})
	assert.Equal(t, []string{"Name", "a", "b"}, keys)
}

func TestSummary_Counts(t *testing.T) {
	s := Summary{
		Creations: []Creation{
			{InstanceID: "i-1", Status: StatusSuccess},
			{InstanceID: "i-2", Status: StatusFailed},
			{InstanceID: "i-3", Status: StatusSuccess},
		},
		Deletions: []Deletion{
			{ImageID: "ami-1", Status: StatusProtected},
		},
	}

	assert.Equal(t, 2, s.CountCreations(StatusSuccess))
	assert.Equal(t, 1, s.CountCreations(StatusFailed))
	assert.Equal(t, 1, s.CountDeletions(StatusProtected))
	assert.Equal(t, 0, s.CountDeletions(StatusSuccess))
}

func TestSummary_DurationAndFailed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Summary{StartedAt: start, FinishedAt: start.Add(3 * time.Second)}

	assert.Equal(t, 3*time.Second, s.Duration())
	assert.False(t, s.Failed())

	s.Error = "describe instances: throttled"
	assert.True(t, s.Failed())
}

func TestSummary_JSONKeepsReportKeys(t *testing.T) {
	s := Summary{
		Creations: []Creation{{InstanceID: "i-1", ImageID: "ami-1", Status: StatusSuccess}},
		Deletions: []Deletion{{ImageID: "ami-0", Status: StatusSuccess}},
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "TotalOperationForEc2")
	assert.Contains(t, raw, "TotalOperationForAMIDelete")

	creations := raw["TotalOperationForEc2"].([]any)
	first := creations[0].(map[string]any)
	assert.Equal(t, "i-1", first["InstanceId"])
	assert.Equal(t, "ami-1", first["ImageId"])
}
