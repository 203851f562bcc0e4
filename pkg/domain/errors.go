package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for placement preconditions that carry no extra context.
var (
	ErrWorkbenchImmutable = errors.New("workbench containers cannot be deleted or moved")
	ErrLocationRequired   = errors.New("target location must be specified for grid and image containers")
	ErrPredefinedLocation = errors.New("image container locations are predefined and cannot be deleted")
	ErrDeleted            = errors.New("record is deleted")
)

// NotFoundError indicates a record is absent or not readable by the actor.
type NotFoundError struct {
	ID GlobalID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s could not be retrieved", e.ID)
}

// LocationNotFoundError indicates a location id does not resolve.
type LocationNotFoundError struct {
	LocationID int64
}

func (e LocationNotFoundError) Error() string {
	return fmt.Sprintf("location %d could not be retrieved", e.LocationID)
}

// OutOfBoundsError indicates grid coordinates outside the container layout.
type OutOfBoundsError struct {
	ContainerID GlobalID
	X, Y        int
	Columns     int
	Rows        int
}

func (e OutOfBoundsError) Error() string {
	return fmt.Sprintf("coordinates (%d,%d) outside %s bounds %dx%d", e.X, e.Y, e.ContainerID, e.Columns, e.Rows)
}

// LocationTakenError indicates the target location is occupied by another item.
type LocationTakenError struct {
	ContainerID GlobalID
	LocationID  int64
	X, Y        int
	Occupant    GlobalID
}

func (e LocationTakenError) Error() string {
	return fmt.Sprintf("location %d (%d,%d) in %s is taken by %s", e.LocationID, e.X, e.Y, e.ContainerID, e.Occupant)
}

// LocationNotEmptyError is returned when deleting an occupied location.
type LocationNotEmptyError struct {
	LocationID int64
	Occupant   GlobalID
}

func (e LocationNotEmptyError) Error() string {
	return fmt.Sprintf("location %d is not empty: holds %s", e.LocationID, e.Occupant)
}

// ContainerNotEmptyError is returned when deleting a container that still holds items.
type ContainerNotEmptyError struct {
	ContainerID GlobalID
	Count       int
}

func (e ContainerNotEmptyError) Error() string {
	return fmt.Sprintf("%s is not empty: holds %d items", e.ContainerID, e.Count)
}

// SubSamplesOutsideWorkbenchError blocks a non-forced sample delete.
type SubSamplesOutsideWorkbenchError struct {
	SampleID   GlobalID
	SubSamples []GlobalID
}

func (e SubSamplesOutsideWorkbenchError) Error() string {
	ids := make([]string, len(e.SubSamples))
	for i, id := range e.SubSamples {
		ids[i] = id.String()
	}
	return fmt.Sprintf("%s has subsamples stored outside the workbench: %s", e.SampleID, strings.Join(ids, ", "))
}

// CategoryNotAcceptedError indicates the container does not accept the item category.
type CategoryNotAcceptedError struct {
	ContainerID GlobalID
	ItemType    RecordType
}

func (e CategoryNotAcceptedError) Error() string {
	return fmt.Sprintf("%s does not accept items of type %s", e.ContainerID, e.ItemType)
}

// CyclicPlacementError indicates a container would end up inside itself.
type CyclicPlacementError struct {
	ContainerID GlobalID
	TargetID    GlobalID
}

func (e CyclicPlacementError) Error() string {
	return fmt.Sprintf("cannot move %s into %s: container would contain itself", e.ContainerID, e.TargetID)
}

// InvalidFieldValueError reports a field value that does not satisfy its definition.
type InvalidFieldValueError struct {
	Field  string
	Value  string
	Reason string
}

func (e InvalidFieldValueError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("field %q value %q: %s", e.Field, e.Value, e.Reason)
}

// EditLockedError is returned when a record is locked for edit by another actor.
type EditLockedError struct {
	ID     GlobalID
	Holder string
}

func (e EditLockedError) Error() string {
	return fmt.Sprintf("%s is locked for edit by %s", e.ID, e.Holder)
}

// AlreadyLockedError is returned by a lock attempt on a record held by someone else.
type AlreadyLockedError struct {
	ID     GlobalID
	Holder string
}

func (e AlreadyLockedError) Error() string {
	return fmt.Sprintf("%s is already locked by %s", e.ID, e.Holder)
}

// ValidationError aggregates every structural problem found for one input.
type ValidationError struct {
	Messages []string
}

func (e ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// Add appends a formatted message.
func (e *ValidationError) Add(format string, args ...any) {
	e.Messages = append(e.Messages, fmt.Sprintf(format, args...))
}

// Err returns the error when at least one message was collected.
func (e *ValidationError) Err() error {
	if len(e.Messages) == 0 {
		return nil
	}
	return *e
}

// IsDomainError reports whether err is one of the typed errors defined here or
// a rule violation.
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range []error{ErrWorkbenchImmutable, ErrLocationRequired, ErrPredefinedLocation, ErrDeleted} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	var (
		notFound      NotFoundError
		locNotFound   LocationNotFoundError
		bounds        OutOfBoundsError
		taken         LocationTakenError
		locNotEmpty   LocationNotEmptyError
		contNotEmpty  ContainerNotEmptyError
		outside       SubSamplesOutsideWorkbenchError
		category      CategoryNotAcceptedError
		cyclic        CyclicPlacementError
		invalidField  InvalidFieldValueError
		editLocked    EditLockedError
		alreadyLocked AlreadyLockedError
		validation    ValidationError
		violation     RuleViolationError
	)
	return errors.As(err, &notFound) || errors.As(err, &locNotFound) ||
		errors.As(err, &bounds) || errors.As(err, &taken) ||
		errors.As(err, &locNotEmpty) || errors.As(err, &contNotEmpty) ||
		errors.As(err, &outside) || errors.As(err, &category) ||
		errors.As(err, &cyclic) || errors.As(err, &invalidField) ||
		errors.As(err, &editLocked) || errors.As(err, &alreadyLocked) ||
		errors.As(err, &validation) || errors.As(err, &violation)
}
