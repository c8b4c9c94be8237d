// Package filter decides which instances and images amikeeper manages and
// which tags travel from an instance to its image.
package filter

import (
	"strings"

	"github.com/yairfalse/amikeeper/pkg/backup"
)

// Defaults used when a Filter is built with New.
var (
	DefaultTruthyValues = []string{"true", "True"}
	DefaultStates       = []string{"running", "stopped"}
)

// DefaultReservedPrefix marks tag keys the provider owns and rejects on write.
const DefaultReservedPrefix = "aws:"

// Filter holds the marker tag and the candidacy rules derived from it.
type Filter struct {
	markerTag      string
	truthy         []string
	states         []string
	reservedPrefix string
}

// New creates a Filter for markerTag with default truthy values, states and
// reserved prefix. An empty reservedPrefix keeps the default.
func New(markerTag, reservedPrefix string) *Filter {
	if reservedPrefix == "" {
		reservedPrefix = DefaultReservedPrefix
	}
	return &Filter{
		markerTag:      markerTag,
		truthy:         DefaultTruthyValues,
		states:         DefaultStates,
		reservedPrefix: reservedPrefix,
	}
}

// MarkerTag returns the tag key opting resources into management.
func (f *Filter) MarkerTag() string {
	return f.markerTag
}

// InstanceQuery is the server-side filter for candidate instances.
func (f *Filter) InstanceQuery() backup.TagQuery {
	return backup.TagQuery{Key: f.markerTag, Values: f.truthy, States: f.states}
}

// ImageQuery is the server-side filter for managed images.
func (f *Filter) ImageQuery() backup.TagQuery {
	return backup.TagQuery{Key: f.markerTag, Values: f.truthy}
}

// IsCandidate reports whether inst carries a truthy marker and is running or stopped.
func (f *Filter) IsCandidate(inst backup.Instance) bool {
	return f.marked(inst.Tags) && contains(f.states, inst.State)
}

// IsManaged reports whether img carries a truthy marker.
func (f *Filter) IsManaged(img backup.Image) bool {
	return f.marked(img.Tags)
}

// Candidates returns only the instances that pass IsCandidate.
func (f *Filter) Candidates(instances []backup.Instance) []backup.Instance {
	filtered := make([]backup.Instance, 0, len(instances))
	for _, inst := range instances {
		if f.IsCandidate(inst) {
			filtered = append(filtered, inst)
		}
	}
	return filtered
}

// Managed returns only the images that pass IsManaged.
func (f *Filter) Managed(images []backup.Image) []backup.Image {
	filtered := make([]backup.Image, 0, len(images))
	for _, img := range images {
		if f.IsManaged(img) {
			filtered = append(filtered, img)
		}
	}
	return filtered
}

// CopyableTags returns a copy of tags without reserved keys.
func (f *Filter) CopyableTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		if strings.HasPrefix(k, f.reservedPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

func (f *Filter) marked(tags map[string]string) bool {
	if tags == nil {
		return false
	}
	v, ok := tags[f.markerTag]
	return ok && contains(f.truthy, v)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
