// Package backup defines the instance, image and run-result model shared by
// the lifecycle engine, the provider and the reporters.
package backup

import (
	"sort"
	"time"
)

// Instance is a candidate source for an image.
type Instance struct {
	ID    string            `json:"id"`
	State string            `json:"state"`
	Tags  map[string]string `json:"tags"`
}

// BlockDevice is one block-device mapping of an image. SnapshotID is empty
// for instance-store and unmapped devices.
type BlockDevice struct {
	DeviceName string `json:"device_name"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// Image is a machine image owned by the account.
type Image struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	State        string            `json:"state,omitempty"`
	CreatedAt    time.Time         `json:"created_at,omitzero"`
	Tags         map[string]string `json:"tags"`
	BlockDevices []BlockDevice     `json:"block_devices,omitempty"`
}

// SnapshotIDs returns the EBS snapshots backing the image.
func (i Image) SnapshotIDs() []string {
	ids := make([]string, 0, len(i.BlockDevices))
	for _, bd := range i.BlockDevices {
		if bd.SnapshotID != "" {
			ids = append(ids, bd.SnapshotID)
		}
	}
	return ids
}

// ImageSpec is a request to snapshot an instance into a new image.
type ImageSpec struct {
	InstanceID  string
	Name        string
	Description string
	NoReboot    bool
}

// TagQuery selects resources whose Key tag holds one of Values. States
// narrows instances by power state and is ignored for images.
type TagQuery struct {
	Key    string
	Values []string
	States []string
}

// SortedKeys returns the keys of tags in lexical order.
func SortedKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
