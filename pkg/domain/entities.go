// Package domain defines the inventory records, placement primitives, value
// types and rule evaluation contracts used by inventorycore.
package domain

import (
	"time"
)

// RecordType identifies one of the closed set of inventory record variants.
type RecordType string

// Supported record types used in Change records, bulk requests and global ids.
const (
	// RecordContainer identifies a storage container.
	RecordContainer RecordType = "CONTAINER"
	// RecordSample identifies an instantiated sample.
	RecordSample RecordType = "SAMPLE"
	// RecordSubSample identifies a physical portion of a sample.
	RecordSubSample RecordType = "SUBSAMPLE"
	// RecordTemplate identifies a sample template.
	RecordTemplate RecordType = "SAMPLE_TEMPLATE"
)

// IsPlaceable reports whether records of this type occupy locations.
func (t RecordType) IsPlaceable() bool {
	return t == RecordContainer || t == RecordSubSample
}

// IsContentBearing reports whether records of this type can hold other records.
func (t RecordType) IsContentBearing() bool {
	return t == RecordContainer
}

// EntityType identifies a persistence bucket touched by a Change.
type EntityType string

// Persistence buckets.
const (
	EntityContainer EntityType = "container"
	EntityLocation  EntityType = "location"
	EntitySample    EntityType = "sample"
	EntitySubSample EntityType = "subsample"
	EntityTemplate  EntityType = "template"
)

// ContainerType enumerates the supported container layouts.
type ContainerType string

// Container layouts.
const (
	// ContainerList holds an unordered, unbounded set of locations.
	ContainerList ContainerType = "LIST"
	// ContainerGrid addresses locations by (column, row) coordinates.
	ContainerGrid ContainerType = "GRID"
	// ContainerImage has a fixed set of pixel-anchored locations defined at creation.
	ContainerImage ContainerType = "IMAGE"
	// ContainerWorkbench is the per-user default list container.
	ContainerWorkbench ContainerType = "WORKBENCH"
)

// IsListLike reports whether locations are allocated on demand.
func (t ContainerType) IsListLike() bool {
	return t == ContainerList || t == ContainerWorkbench
}

// Valid reports whether t is a known container type.
func (t ContainerType) Valid() bool {
	switch t {
	case ContainerList, ContainerGrid, ContainerImage, ContainerWorkbench:
		return true
	}
	return false
}

// AxisLabel controls how a grid axis is labelled for display.
type AxisLabel string

// Grid axis label styles.
const (
	AxisNumeric AxisLabel = "123"
	AxisAlpha   AxisLabel = "ABC"
)

// Grid dimension limits.
const (
	MinGridDimension = 1
	MaxGridDimension = 24
)

// Record contains the fields shared by every inventory record variant.
type Record struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Owner       string       `json:"owner"`
	ExtraFields []ExtraField `json:"extra_fields,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Deleted     bool         `json:"deleted"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
}

// ExtraField is a free-form, record-local key/value pair.
type ExtraField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Placement captures where a placeable record currently lives.
type Placement struct {
	ParentContainerID     *int64     `json:"parent_container_id"`
	ParentLocationID      *int64     `json:"parent_location_id"`
	LastParentContainerID *int64     `json:"last_parent_container_id,omitempty"`
	LastMoveAt            *time.Time `json:"last_move_at,omitempty"`
}

// IsPlaced reports whether the record currently occupies a location.
func (p Placement) IsPlaced() bool {
	return p.ParentContainerID != nil
}

// InContainer reports whether the record's current parent is containerID.
func (p Placement) InContainer(containerID int64) bool {
	return p.ParentContainerID != nil && *p.ParentContainerID == containerID
}

// GridLayout describes the dimensions of a GRID container.
type GridLayout struct {
	Columns     int       `json:"columns"`
	Rows        int       `json:"rows"`
	ColumnLabel AxisLabel `json:"column_label,omitempty"`
	RowLabel    AxisLabel `json:"row_label,omitempty"`
}

// Contains reports whether (x, y) lies within the layout bounds.
func (g GridLayout) Contains(x, y int) bool {
	return x >= 1 && x <= g.Columns && y >= 1 && y <= g.Rows
}

// ContentSummary is the denormalized count of directly-held, non-deleted items.
type ContentSummary struct {
	TotalCount     int `json:"total_count"`
	ContainerCount int `json:"container_count"`
	SubSampleCount int `json:"subsample_count"`
}

// Add counts one directly held item of type t.
func (s *ContentSummary) Add(t RecordType) {
	s.TotalCount++
	switch {
	case t.IsContentBearing():
		s.ContainerCount++
	case t == RecordSubSample:
		s.SubSampleCount++
	}
}

// Container is a storage node in the placement hierarchy.
type Container struct {
	Record
	Placement
	Type               ContainerType  `json:"type"`
	Grid               *GridLayout    `json:"grid,omitempty"`
	CanStoreSamples    bool           `json:"can_store_samples"`
	CanStoreContainers bool           `json:"can_store_containers"`
	ContentSummary     ContentSummary `json:"content_summary"`
}

// GlobalID returns the type-prefixed stable identifier.
func (c Container) GlobalID() GlobalID { return NewGlobalID(RecordContainer, c.ID) }

// Ref returns an item reference to the container.
func (c Container) Ref() ItemRef { return ItemRef{Type: RecordContainer, ID: c.ID} }

// Accepts reports whether the container may hold records of the given type.
func (c Container) Accepts(t RecordType) bool {
	switch t {
	case RecordSubSample:
		return c.CanStoreSamples
	case RecordContainer:
		return c.CanStoreContainers
	}
	return false
}

// ItemRef points at a placeable record.
type ItemRef struct {
	Type RecordType `json:"type"`
	ID   int64      `json:"id"`
}

// GlobalID returns the global id of the referenced record.
func (r ItemRef) GlobalID() GlobalID { return NewGlobalID(r.Type, r.ID) }

// Location is a slot within a container holding at most one item.
type Location struct {
	ID          int64    `json:"id"`
	ContainerID int64    `json:"container_id"`
	CoordX      int      `json:"coord_x"`
	CoordY      int      `json:"coord_y"`
	Predefined  bool     `json:"predefined,omitempty"`
	Occupant    *ItemRef `json:"occupant,omitempty"`
}

// Empty reports whether no item occupies the location.
func (l Location) Empty() bool { return l.Occupant == nil }

// Coordinates is an (x, y) pair used for GRID and IMAGE positions.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Sample is an instantiated sample whose schema is pinned to a template version.
type Sample struct {
	Record
	TemplateID       *int64            `json:"template_id,omitempty"`
	TemplateVersion  int               `json:"template_version,omitempty"`
	FieldDefinitions []FieldDefinition `json:"field_definitions,omitempty"`
	Fields           []Field           `json:"fields,omitempty"`
	Quantity         Quantity          `json:"quantity"`
	StorageTempMin   *Quantity         `json:"storage_temp_min,omitempty"`
	StorageTempMax   *Quantity         `json:"storage_temp_max,omitempty"`
	ExpiryDate       *time.Time        `json:"expiry_date,omitempty"`
	SubSampleAlias   string            `json:"subsample_alias,omitempty"`
}

// GlobalID returns the type-prefixed stable identifier.
func (s Sample) GlobalID() GlobalID { return NewGlobalID(RecordSample, s.ID) }

// SubSample is a physical portion of a sample occupying at most one location.
type SubSample struct {
	Record
	Placement
	SampleID int64    `json:"sample_id"`
	Quantity Quantity `json:"quantity"`
	Notes    []Note   `json:"notes,omitempty"`
	// DeletedWithSample marks subsamples soft-deleted by a forced sample delete.
	DeletedWithSample bool `json:"deleted_with_sample,omitempty"`
}

// GlobalID returns the type-prefixed stable identifier.
func (s SubSample) GlobalID() GlobalID { return NewGlobalID(RecordSubSample, s.ID) }

// Ref returns an item reference to the subsample.
func (s SubSample) Ref() ItemRef { return ItemRef{Type: RecordSubSample, ID: s.ID} }

// Note is an append-only remark attached to a subsample.
type Note struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Template is a sample schema with immutable version history.
type Template struct {
	Record
	Version          int               `json:"version"`
	FieldDefinitions []FieldDefinition `json:"field_definitions"`
	DefaultUnit      Unit              `json:"default_unit,omitempty"`
	History          []TemplateVersion `json:"history,omitempty"`
}

// GlobalID returns the type-prefixed stable identifier.
func (t Template) GlobalID() GlobalID { return NewGlobalID(RecordTemplate, t.ID) }

// VersionedID returns the global id pinned to the current version.
func (t Template) VersionedID() GlobalID {
	return GlobalID{Type: RecordTemplate, ID: t.ID, Version: t.Version}
}

// TemplateVersion is a read-only snapshot of a template schema.
type TemplateVersion struct {
	TemplateID       int64             `json:"template_id"`
	Version          int               `json:"version"`
	FieldDefinitions []FieldDefinition `json:"field_definitions"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the undo log.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)
