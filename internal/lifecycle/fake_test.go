package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yairfalse/amikeeper/pkg/backup"
)

// fakeProvider is an in-memory account. Created images become visible to
// ListImages so a full run sees its own output.
type fakeProvider struct {
	mu sync.Mutex

	instances []backup.Instance
	images    map[string]backup.Image
	snapshots map[string]bool
	nextID    int

	specs        []backup.ImageSpec
	tagged       map[string]map[string]string
	deregistered []string
	deleted      []string

	listInstancesErr error
	listImagesErr    error
	createErr        map[string]error
	tagErr           error
	deregisterErr    map[string]error
	snapshotErr      map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		images:        make(map[string]backup.Image),
		snapshots:     make(map[string]bool),
		tagged:        make(map[string]map[string]string),
		createErr:     make(map[string]error),
		deregisterErr: make(map[string]error),
		snapshotErr:   make(map[string]error),
	}
}

func (f *fakeProvider) addImage(img backup.Image) {
	f.images[img.ID] = img
	for _, id := range img.SnapshotIDs() {
		f.snapshots[id] = true
	}
}

func (f *fakeProvider) ListInstances(_ context.Context, q backup.TagQuery) ([]backup.Instance, error) {
	if f.listInstancesErr != nil {
		return nil, f.listInstancesErr
	}
	var out []backup.Instance
	for _, inst := range f.instances {
		if matches(inst.Tags, q) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeProvider) CreateImage(_ context.Context, spec backup.ImageSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.specs = append(f.specs, spec)
	if err := f.createErr[spec.InstanceID]; err != nil {
		return "", err
	}

	f.nextID++
	id := fmt.Sprintf("ami-new%d", f.nextID)
	f.images[id] = backup.Image{ID: id, Name: spec.Name, Description: spec.Description}
	return id, nil
}

func (f *fakeProvider) TagImage(_ context.Context, imageID string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tagErr != nil {
		return f.tagErr
	}
	f.tagged[imageID] = tags
	img := f.images[imageID]
	img.Tags = tags
	f.images[imageID] = img
	return nil
}

func (f *fakeProvider) ListImages(_ context.Context, q backup.TagQuery) ([]backup.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listImagesErr != nil {
		return nil, f.listImagesErr
	}
	var out []backup.Image
	for _, img := range f.images {
		if matches(img.Tags, q) {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeProvider) DeregisterImage(_ context.Context, imageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.deregisterErr[imageID]; err != nil {
		return err
	}
	f.deregistered = append(f.deregistered, imageID)
	delete(f.images, imageID)
	return nil
}

func (f *fakeProvider) DeleteSnapshot(_ context.Context, snapshotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.snapshotErr[snapshotID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, snapshotID)
	delete(f.snapshots, snapshotID)
	return nil
}

func matches(tags map[string]string, q backup.TagQuery) bool {
	v, ok := tags[q.Key]
	if !ok {
		return false
	}
	if len(q.Values) == 0 {
		return true
	}
	for _, want := range q.Values {
		if v == want {
			return true
		}
	}
	return false
}

type guardFunc func(ctx context.Context, img backup.Image) (bool, error)

func (g guardFunc) Protect(ctx context.Context, img backup.Image, _, _ time.Time) (bool, error) {
	return g(ctx, img)
}
