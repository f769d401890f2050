package project

import (
	"maps"
	"slices"
	"time"
)

// Slot names a persisted artifact of the pipeline.
type Slot string

const (
	SlotTiePoints          Slot = "tie_points"
	SlotSecondaryTiePoints Slot = "secondary_tie_points"
	SlotDepthMaps          Slot = "depth_maps"
	SlotDenseCloud         Slot = "dense_point_cloud"
	SlotMesh               Slot = "mesh"
	SlotDEM                Slot = "dem"
	SlotOrthomosaic        Slot = "orthomosaic"
)

// AllSlots lists the slots in pipeline order.
var AllSlots = []Slot{
	SlotTiePoints,
	SlotDepthMaps,
	SlotDenseCloud,
	SlotMesh,
	SlotDEM,
	SlotOrthomosaic,
	SlotSecondaryTiePoints,
}

// Artifact is the content of a populated slot.
type Artifact struct {
	Producer  string
	Count     int
	Outputs   []string
	UpdatedAt time.Time
}

// Camera is one photo added to the project.
type Camera struct {
	ID        string
	Group     string
	Path      string
	Secondary bool
}

// Document is the persisted pipeline project. The zero value is an empty,
// uninitialized project.
type Document struct {
	RunName string
	CRS     string
	// Version increments on every successful save.
	Version int
	Cameras []Camera
	Aligned map[string]bool
	Slots   map[Slot]Artifact
	Markers []string
}

// NewDocument returns an empty project for a run.
func NewDocument(runName, crs string) *Document {
	return &Document{
		RunName: runName,
		CRS:     crs,
		Aligned: make(map[string]bool),
		Slots:   make(map[Slot]Artifact),
	}
}

// Has reports whether slot holds a non-empty artifact.
func (d *Document) Has(slot Slot) bool {
	if d == nil {
		return false
	}
	a, ok := d.Slots[slot]
	return ok && a.Count > 0
}

// Artifact returns the content of slot.
func (d *Document) Artifact(slot Slot) (Artifact, bool) {
	if d == nil || !d.Has(slot) {
		return Artifact{}, false
	}
	return d.Slots[slot], true
}

// Set populates slot. A zero count clears it.
func (d *Document) Set(slot Slot, artifact Artifact) {
	if d.Slots == nil {
		d.Slots = make(map[Slot]Artifact)
	}
	if artifact.Count <= 0 {
		delete(d.Slots, slot)
		return
	}
	if artifact.UpdatedAt.IsZero() {
		artifact.UpdatedAt = time.Now().UTC()
	}
	d.Slots[slot] = artifact
}

// Clear empties slot.
func (d *Document) Clear(slot Slot) {
	delete(d.Slots, slot)
}

// AddCameras appends cameras, skipping IDs already present, and returns how
// many were added.
func (d *Document) AddCameras(cameras []Camera) int {
	known := make(map[string]bool, len(d.Cameras))
	for _, c := range d.Cameras {
		known[c.ID] = true
	}
	added := 0
	for _, c := range cameras {
		if known[c.ID] {
			continue
		}
		known[c.ID] = true
		d.Cameras = append(d.Cameras, c)
		added++
	}
	return added
}

// CameraIDs lists the IDs of primary or secondary cameras in insertion order.
func (d *Document) CameraIDs(secondary bool) []string {
	ids := make([]string, 0, len(d.Cameras))
	for _, c := range d.Cameras {
		if c.Secondary == secondary {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// MarkAligned records cameras as aligned. Unknown IDs are ignored.
func (d *Document) MarkAligned(ids []string) {
	if d.Aligned == nil {
		d.Aligned = make(map[string]bool)
	}
	known := make(map[string]bool, len(d.Cameras))
	for _, c := range d.Cameras {
		known[c.ID] = true
	}
	for _, id := range ids {
		if known[id] {
			d.Aligned[id] = true
		}
	}
}

// AlignedCount counts aligned cameras of the primary or secondary set.
func (d *Document) AlignedCount(secondary bool) int {
	if d == nil {
		return 0
	}
	n := 0
	for _, c := range d.Cameras {
		if c.Secondary == secondary && d.Aligned[c.ID] {
			n++
		}
	}
	return n
}

// AlignedIDs lists aligned camera IDs in sorted order.
func (d *Document) AlignedIDs() []string {
	return slices.Sorted(maps.Keys(d.Aligned))
}

// Clone returns a deep copy so handlers can mutate without touching the
// loaded state until the step succeeds.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		RunName: d.RunName,
		CRS:     d.CRS,
		Version: d.Version,
		Cameras: slices.Clone(d.Cameras),
		Aligned: maps.Clone(d.Aligned),
		Slots:   make(map[Slot]Artifact, len(d.Slots)),
		Markers: slices.Clone(d.Markers),
	}
	if out.Aligned == nil {
		out.Aligned = make(map[string]bool)
	}
	for k, v := range d.Slots {
		v.Outputs = slices.Clone(v.Outputs)
		out.Slots[k] = v
	}
	return out
}
