package domain

import (
	"context"
	"time"
)

// Savepoint marks a position in a transaction's undo log.
type Savepoint int

// TransactionView provides read-only access to snapshot data for rules and
// read paths. List methods return records in ascending id order.
type TransactionView interface {
	ListContainers() []Container
	FindContainer(id int64) (Container, bool)
	FindWorkbench(owner string) (Container, bool)
	ListLocations(containerID int64) []Location
	AllLocations() []Location
	FindLocation(id int64) (Location, bool)
	FindLocationAt(containerID int64, x, y int) (Location, bool)
	ContainerContents(containerID int64) []ItemRef
	ListSamples() []Sample
	FindSample(id int64) (Sample, bool)
	ListSubSamples() []SubSample
	FindSubSample(id int64) (SubSample, bool)
	SubSamplesOf(sampleID int64) []SubSample
	ListTemplates() []Template
	FindTemplate(id int64) (Template, bool)
}

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope. Every mutation is appended to an undo log so callers
// can roll back to a savepoint without discarding the whole unit of work.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	Now() time.Time

	Savepoint() Savepoint
	RollbackTo(sp Savepoint) error
	ChangesSince(sp Savepoint) []Change

	CreateContainer(Container) (Container, error)
	UpdateContainer(id int64, mutator func(*Container) error) (Container, error)
	CreateLocation(Location) (Location, error)
	UpdateLocation(id int64, mutator func(*Location) error) (Location, error)
	DeleteLocation(id int64) error
	CreateSample(Sample) (Sample, error)
	UpdateSample(id int64, mutator func(*Sample) error) (Sample, error)
	CreateSubSample(SubSample) (SubSample, error)
	UpdateSubSample(id int64, mutator func(*SubSample) error) (SubSample, error)
	CreateTemplate(Template) (Template, error)
	UpdateTemplate(id int64, mutator func(*Template) error) (Template, error)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	RulesEngine() *RulesEngine
}
