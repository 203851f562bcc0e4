// Package bulk executes ordered batches of heterogeneous record operations
// with all-or-nothing or partial-success semantics.
package bulk

import (
	"time"

	"inventorycore/internal/placement"
	"inventorycore/internal/templates"
	"inventorycore/pkg/domain"
)

// OperationType names the mutation applied to a record.
type OperationType string

// Supported operations.
const (
	OpCreate      OperationType = "CREATE"
	OpUpdate      OperationType = "UPDATE"
	OpDelete      OperationType = "DELETE"
	OpMove        OperationType = "MOVE"
	OpChangeOwner OperationType = "CHANGE_OWNER"
	OpRestore     OperationType = "RESTORE"
	OpDuplicate   OperationType = "DUPLICATE"
	// OpSplit divides a subsample into equal parts.
	OpSplit OperationType = "SPLIT"
	// OpUpdateToLatestTemplate migrates a sample to its template's latest version.
	OpUpdateToLatestTemplate OperationType = "UPDATE_TO_LATEST_TEMPLATE_VERSION"
)

// Status is the terminal or intermediate state of a batch.
type Status string

// Batch states.
const (
	StatusPrevalidationError Status = "PREVALIDATION_ERROR"
	StatusPrevalidated       Status = "PREVALIDATED"
	StatusCompleted          Status = "COMPLETED"
	StatusRevertedOnError    Status = "REVERTED_ON_ERROR"
)

// DefaultMaxBatchSize caps the number of records in one request.
const DefaultMaxBatchSize = 100

// Request is a batch of records sharing one failure policy.
type Request struct {
	OperationType OperationType `json:"operation_type,omitempty" validate:"omitempty,oneof=CREATE UPDATE DELETE MOVE CHANGE_OWNER RESTORE DUPLICATE SPLIT UPDATE_TO_LATEST_TEMPLATE_VERSION"`
	Records       []Record      `json:"records"`
	// RollbackOnError defaults to true.
	RollbackOnError *bool `json:"rollback_on_error,omitempty"`
}

// Rollback reports the effective failure policy.
func (r Request) Rollback() bool {
	return r.RollbackOnError == nil || *r.RollbackOnError
}

// Record is one entry of a batch. ID names the record for every operation
// except CREATE; the per-type blocks carry the attributes to create or update.
type Record struct {
	OperationType OperationType       `json:"operation_type,omitempty" validate:"omitempty,oneof=CREATE UPDATE DELETE MOVE CHANGE_OWNER RESTORE DUPLICATE SPLIT UPDATE_TO_LATEST_TEMPLATE_VERSION"`
	Type          domain.RecordType   `json:"type" validate:"required,oneof=CONTAINER SAMPLE SUBSAMPLE SAMPLE_TEMPLATE"`
	ID            *domain.GlobalID    `json:"id,omitempty"`
	Name          string              `json:"name,omitempty" validate:"max=255"`
	Description   string              `json:"description,omitempty" validate:"max=2000"`
	Tags          []string            `json:"tags,omitempty" validate:"omitempty,max=20,dive,required,max=64"`
	ExtraFields   []domain.ExtraField `json:"extra_fields,omitempty"`

	Container *ContainerFields `json:"container,omitempty"`
	Sample    *SampleFields    `json:"sample,omitempty"`
	SubSample *SubSampleFields `json:"subsample,omitempty"`
	Template  *TemplateFields  `json:"template,omitempty"`

	// Target is the destination of MOVE and the initial placement of CREATE.
	Target *placement.Target `json:"target,omitempty"`
	// Owner is the new owner for CHANGE_OWNER.
	Owner string `json:"owner,omitempty" validate:"omitempty,max=255"`
	// Force lets DELETE remove a sample whose subsamples are stored away from the workbench.
	Force bool `json:"force,omitempty"`
	// Parts is the number of portions produced by SPLIT.
	Parts int `json:"parts,omitempty" validate:"omitempty,min=2,max=100"`
}

// ContainerFields carries container attributes.
type ContainerFields struct {
	Type               domain.ContainerType `json:"type,omitempty" validate:"omitempty,oneof=LIST GRID IMAGE"`
	Grid               *domain.GridLayout   `json:"grid,omitempty"`
	CanStoreSamples    *bool                `json:"can_store_samples,omitempty"`
	CanStoreContainers *bool                `json:"can_store_containers,omitempty"`
	// Locations predefines the slots of an IMAGE container.
	Locations []domain.Coordinates `json:"locations,omitempty" validate:"omitempty,max=1000"`
}

// SampleFields carries sample attributes.
type SampleFields struct {
	TemplateID     *domain.GlobalID         `json:"template_id,omitempty"`
	Fields         []domain.Field           `json:"fields,omitempty"`
	Definitions    []domain.FieldDefinition `json:"field_definitions,omitempty"`
	Quantity       *domain.Quantity         `json:"quantity,omitempty"`
	StorageTempMin *domain.Quantity         `json:"storage_temp_min,omitempty"`
	StorageTempMax *domain.Quantity         `json:"storage_temp_max,omitempty"`
	ExpiryDate     *time.Time               `json:"expiry_date,omitempty"`
	SubSampleAlias string                   `json:"subsample_alias,omitempty" validate:"max=30"`
	SubSampleCount int                      `json:"subsample_count,omitempty" validate:"omitempty,min=1,max=100"`
}

// SubSampleFields carries subsample attributes.
type SubSampleFields struct {
	SampleID *domain.GlobalID `json:"sample_id,omitempty"`
	Quantity *domain.Quantity `json:"quantity,omitempty"`
	// Note is appended to the subsample notes.
	Note string `json:"note,omitempty" validate:"max=2000"`
}

// TemplateFields carries template attributes. Change applies to UPDATE.
type TemplateFields struct {
	FieldDefinitions []domain.FieldDefinition `json:"field_definitions,omitempty"`
	DefaultUnit      domain.Unit              `json:"default_unit,omitempty"`
	Change           *templates.Change        `json:"change,omitempty"`
}

// RecordResult is the outcome of one record. Record holds the post-mutation
// representation on success; Errors is set on failure.
type RecordResult struct {
	ID     domain.GlobalID `json:"id,omitempty"`
	Record any             `json:"record,omitempty"`
	Errors []string        `json:"errors,omitempty"`
	Err    error           `json:"-"`
}

// Failed reports whether the record failed.
func (r RecordResult) Failed() bool {
	return len(r.Errors) > 0
}

// Result summarises a batch. Results mirrors the order of the request records.
type Result struct {
	BatchID                      string         `json:"batch_id"`
	Status                       Status         `json:"status"`
	Results                      []RecordResult `json:"results"`
	SuccessCount                 int            `json:"success_count"`
	ErrorCount                   int            `json:"error_count"`
	SuccessCountBeforeFirstError int            `json:"success_count_before_first_error"`
	// Errors lists request-level problems such as an empty record list.
	Errors []string `json:"errors,omitempty"`
}

func (r *Result) tally() {
	r.SuccessCount, r.ErrorCount = 0, 0
	r.SuccessCountBeforeFirstError = -1
	for _, rec := range r.Results {
		if rec.Failed() {
			if r.SuccessCountBeforeFirstError < 0 {
				r.SuccessCountBeforeFirstError = r.SuccessCount
			}
			r.ErrorCount++
			continue
		}
		r.SuccessCount++
	}
	if r.SuccessCountBeforeFirstError < 0 {
		r.SuccessCountBeforeFirstError = r.SuccessCount
	}
}
