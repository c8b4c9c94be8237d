package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yairfalse/amikeeper/pkg/backup"
)

func TestIsCandidate(t *testing.T) {
	f := New("BackupNode", "")

	tests := []struct {
		name string
		inst backup.Instance
		want bool
	}{
		{"running lowercase true", backup.Instance{ID: "i-1", State: "running", Tags: map[string]string{"BackupNode": "true"}}, true},
		{"stopped capital True", backup.Instance{ID: "i-2", State: "stopped", Tags: map[string]string{"BackupNode": "True"}}, true},
		{"terminated", backup.Instance{ID: "i-3", State: "terminated", Tags: map[string]string{"BackupNode": "true"}}, false},
		{"pending", backup.Instance{ID: "i-4", State: "pending", Tags: map[string]string{"BackupNode": "true"}}, false},
		{"marker false", backup.Instance{ID: "i-5", State: "running", Tags: map[string]string{"BackupNode": "false"}}, false},
		{"marker TRUE not truthy", backup.Instance{ID: "i-6", State: "running", Tags: map[string]string{"BackupNode": "TRUE"}}, false},
		{"no marker", backup.Instance{ID: "i-7", State: "running", Tags: map[string]string{"Name": "web"}}, false},
		{"nil tags", backup.Instance{ID: "i-8", State: "running"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IsCandidate(tt.inst))
		})
	}
}

func TestCandidates(t *testing.T) {
	f := New("BackupNode", "")
	instances := []backup.Instance{
		{ID: "i-1", State: "running", Tags: map[string]string{"BackupNode": "true"}},
		{ID: "i-2", State: "shutting-down", Tags: map[string]string{"BackupNode": "true"}},
		{ID: "i-3", State: "stopped", Tags: map[string]string{"BackupNode": "True"}},
	}

	got := f.Candidates(instances)

	assert.Len(t, got, 2)
	assert.Equal(t, "i-1", got[0].ID)
	assert.Equal(t, "i-3", got[1].ID)
}

func TestManaged_IgnoresState(t *testing.T) {
	f := New("BackupNode", "")
	images := []backup.Image{
		{ID: "ami-1", State: "available", Tags: map[string]string{"BackupNode": "true"}},
		{ID: "ami-2", State: "pending", Tags: map[string]string{"BackupNode": "True"}},
		{ID: "ami-3", Tags: map[string]string{"Other": "true"}},
	}

	got := f.Managed(images)

	assert.Len(t, got, 2)
	assert.True(t, f.IsManaged(images[1]))
	assert.False(t, f.IsManaged(images[2]))
}

func TestCopyableTags_DropsReservedPrefix(t *testing.T) {
	f := New("BackupNode", "")
	tags := map[string]string{
		"Name":                          "web-1",
		"BackupNode":                    "true",
		"aws:cloudformation:stack-name": "web",
		"aws:autoscaling:groupName":     "web-asg",
	}

	got := f.CopyableTags(tags)

	assert.Equal(t, map[string]string{"Name": "web-1", "BackupNode": "true"}, got)
	assert.Len(t, tags, 4, "source tags must not be mutated")
}

func TestCopyableTags_CustomPrefix(t *testing.T) {
	f := New("BackupNode", "internal:")
	got := f.CopyableTags(map[string]string{"internal:owner": "x", "aws:foo": "y"})

	assert.Equal(t, map[string]string{"aws:foo": "y"}, got)
}

func TestQueries(t *testing.T) {
	f := New("BackupNode", "")

	iq := f.InstanceQuery()
	assert.Equal(t, "BackupNode", iq.Key)
	assert.Equal(t, []string{"true", "True"}, iq.Values)
	assert.Equal(t, []string{"running", "stopped"}, iq.States)

	mq := f.ImageQuery()
	assert.Equal(t, "BackupNode", mq.Key)
	assert.Empty(t, mq.States)
	assert.Equal(t, "BackupNode", f.MarkerTag())
}
