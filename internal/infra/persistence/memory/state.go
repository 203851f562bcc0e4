package memory

import (
	"time"

	"inventorycore/pkg/domain"
)

type memoryState struct {
	containers map[int64]Container
	locations  map[int64]Location
	samples    map[int64]Sample
	subsamples map[int64]SubSample
	templates  map[int64]Template
	nextID     int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Containers map[int64]Container `json:"containers"`
	Locations  map[int64]Location  `json:"locations"`
	Samples    map[int64]Sample    `json:"samples"`
	SubSamples map[int64]SubSample `json:"subsamples"`
	Templates  map[int64]Template  `json:"templates"`
	NextID     int64               `json:"next_id"`
}

func newMemoryState() memoryState {
	return memoryState{
		containers: make(map[int64]Container),
		locations:  make(map[int64]Location),
		samples:    make(map[int64]Sample),
		subsamples: make(map[int64]SubSample),
		templates:  make(map[int64]Template),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Containers: cloned.containers,
		Locations:  cloned.locations,
		Samples:    cloned.samples,
		SubSamples: cloned.subsamples,
		Templates:  cloned.templates,
		NextID:     cloned.nextID,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		containers: s.Containers,
		locations:  s.Locations,
		samples:    s.Samples,
		subsamples: s.SubSamples,
		templates:  s.Templates,
		nextID:     s.NextID,
	}
	return state.clone()
}

// migrateSnapshot normalizes snapshots written by older builds: missing
// buckets become empty and the id sequence is advanced past every stored id.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Containers == nil {
		snapshot.Containers = map[int64]Container{}
	}
	if snapshot.Locations == nil {
		snapshot.Locations = map[int64]Location{}
	}
	if snapshot.Samples == nil {
		snapshot.Samples = map[int64]Sample{}
	}
	if snapshot.SubSamples == nil {
		snapshot.SubSamples = map[int64]SubSample{}
	}
	if snapshot.Templates == nil {
		snapshot.Templates = map[int64]Template{}
	}
	maxID := snapshot.NextID
	bump := func(id int64) {
		if id > maxID {
			maxID = id
		}
	}
	for id := range snapshot.Containers {
		bump(id)
	}
	for id := range snapshot.Locations {
		bump(id)
	}
	for id := range snapshot.Samples {
		bump(id)
	}
	for id := range snapshot.SubSamples {
		bump(id)
	}
	for id := range snapshot.Templates {
		bump(id)
	}
	snapshot.NextID = maxID
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.containers {
		cloned.containers[k] = cloneContainer(v)
	}
	for k, v := range s.locations {
		cloned.locations[k] = cloneLocation(v)
	}
	for k, v := range s.samples {
		cloned.samples[k] = cloneSample(v)
	}
	for k, v := range s.subsamples {
		cloned.subsamples[k] = cloneSubSample(v)
	}
	for k, v := range s.templates {
		cloned.templates[k] = cloneTemplate(v)
	}
	cloned.nextID = s.nextID
	return cloned
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneQuantityPtr(p *domain.Quantity) *domain.Quantity {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneRecord(r domain.Record) domain.Record {
	cp := r
	cp.Tags = append([]string(nil), r.Tags...)
	cp.ExtraFields = append([]domain.ExtraField(nil), r.ExtraFields...)
	cp.DeletedAt = cloneTime(r.DeletedAt)
	return cp
}

func clonePlacement(p domain.Placement) domain.Placement {
	return domain.Placement{
		ParentContainerID:     cloneInt64(p.ParentContainerID),
		ParentLocationID:      cloneInt64(p.ParentLocationID),
		LastParentContainerID: cloneInt64(p.LastParentContainerID),
		LastMoveAt:            cloneTime(p.LastMoveAt),
	}
}

func cloneContainer(c Container) Container {
	cp := c
	cp.Record = cloneRecord(c.Record)
	cp.Placement = clonePlacement(c.Placement)
	if c.Grid != nil {
		grid := *c.Grid
		cp.Grid = &grid
	}
	return cp
}

func cloneLocation(l Location) Location {
	cp := l
	if l.Occupant != nil {
		ref := *l.Occupant
		cp.Occupant = &ref
	}
	return cp
}

func cloneSample(s Sample) Sample {
	cp := s
	cp.Record = cloneRecord(s.Record)
	cp.TemplateID = cloneInt64(s.TemplateID)
	cp.FieldDefinitions = domain.CloneFieldDefinitions(s.FieldDefinitions)
	cp.Fields = domain.CloneFields(s.Fields)
	cp.StorageTempMin = cloneQuantityPtr(s.StorageTempMin)
	cp.StorageTempMax = cloneQuantityPtr(s.StorageTempMax)
	cp.ExpiryDate = cloneTime(s.ExpiryDate)
	return cp
}

func cloneSubSample(s SubSample) SubSample {
	cp := s
	cp.Record = cloneRecord(s.Record)
	cp.Placement = clonePlacement(s.Placement)
	cp.Notes = append([]domain.Note(nil), s.Notes...)
	return cp
}

func cloneTemplate(t Template) Template {
	cp := t
	cp.Record = cloneRecord(t.Record)
	cp.FieldDefinitions = domain.CloneFieldDefinitions(t.FieldDefinitions)
	if t.History != nil {
		cp.History = make([]domain.TemplateVersion, len(t.History))
		for i, v := range t.History {
			cp.History[i] = v
			cp.History[i].FieldDefinitions = domain.CloneFieldDefinitions(v.FieldDefinitions)
		}
	}
	return cp
}
