// Package placement validates and executes moves of containers and subsamples
// between container locations while keeping occupancy consistent.
package placement

import (
	"context"
	"fmt"

	"inventorycore/pkg/domain"
)

// Target names where an item should be placed. LocationID or Coordinates pick
// an explicit slot; LIST and WORKBENCH targets without either receive an
// automatically allocated location.
type Target struct {
	ContainerID int64               `json:"container_id" validate:"required,gt=0"`
	LocationID  *int64              `json:"location_id,omitempty" validate:"omitempty,gt=0"`
	Coordinates *domain.Coordinates `json:"coordinates,omitempty"`
}

// Slot is a validated placement destination. Location is nil when a new
// location will be created at Coordinates.
type Slot struct {
	Container   domain.Container
	Location    *domain.Location
	Coordinates domain.Coordinates
}

// Engine validates and applies placements inside a unit of work.
type Engine struct {
	perms domain.Permissions
	locks LockChecker
}

// LockChecker reports whether actor may edit a record that others could hold
// an edit lock on.
type LockChecker interface {
	CheckEditable(ctx context.Context, id domain.GlobalID, actor string) error
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLockChecker makes cascading deletes honour edit locks on the records
// they remove.
func WithLockChecker(locks LockChecker) EngineOption {
	return func(e *Engine) { e.locks = locks }
}

// NewEngine builds an engine that consults perms before every placement.
func NewEngine(perms domain.Permissions, opts ...EngineOption) *Engine {
	if perms == nil {
		perms = domain.AllowAll{}
	}
	e := &Engine{perms: perms}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Permissions returns the permission collaborator used by the engine.
func (e *Engine) Permissions() domain.Permissions { return e.perms }

type item struct {
	ref       domain.ItemRef
	owner     string
	deleted   bool
	placement domain.Placement
	// workbench is set for WORKBENCH containers.
	workbench bool
}

func loadItem(view domain.TransactionView, ref domain.ItemRef) (item, error) {
	switch ref.Type {
	case domain.RecordContainer:
		c, ok := view.FindContainer(ref.ID)
		if !ok {
			return item{}, domain.NotFoundError{ID: ref.GlobalID()}
		}
		return item{ref: ref, owner: c.Owner, deleted: c.Deleted, placement: c.Placement, workbench: c.Type == domain.ContainerWorkbench}, nil
	case domain.RecordSubSample:
		s, ok := view.FindSubSample(ref.ID)
		if !ok {
			return item{}, domain.NotFoundError{ID: ref.GlobalID()}
		}
		return item{ref: ref, owner: s.Owner, deleted: s.Deleted, placement: s.Placement}, nil
	}
	return item{}, fmt.Errorf("records of type %s cannot be placed", ref.Type)
}

// ValidatePlacement checks, in order, that the target accepts the item
// category, that the actor may write the target, that GRID coordinates are in
// bounds and that the chosen location is free.
func (e *Engine) ValidatePlacement(ctx context.Context, view domain.TransactionView, actor string, ref domain.ItemRef, target Target) (Slot, error) {
	it, err := loadItem(view, ref)
	if err != nil {
		return Slot{}, err
	}
	if it.deleted {
		return Slot{}, fmt.Errorf("%s: %w", ref.GlobalID(), domain.ErrDeleted)
	}
	return e.validate(ctx, view, actor, it, target, true)
}

func (e *Engine) validate(ctx context.Context, view domain.TransactionView, actor string, it item, target Target, checkPerms bool) (Slot, error) {
	cid := domain.NewGlobalID(domain.RecordContainer, target.ContainerID)
	container, ok := view.FindContainer(target.ContainerID)
	if !ok || container.Deleted || (checkPerms && !e.perms.CanRead(ctx, view, actor, cid)) {
		return Slot{}, domain.NotFoundError{ID: cid}
	}
	if !container.Accepts(it.ref.Type) {
		return Slot{}, domain.CategoryNotAcceptedError{ContainerID: cid, ItemType: it.ref.Type}
	}
	if it.ref.Type.IsContentBearing() {
		if err := checkAcyclic(view, it.ref.ID, container); err != nil {
			return Slot{}, err
		}
	}
	if checkPerms && !e.perms.CanWrite(ctx, view, actor, cid) {
		return Slot{}, domain.NotFoundError{ID: cid}
	}
	return resolveSlot(view, container, it, target)
}

func checkAcyclic(view domain.TransactionView, itemID int64, target domain.Container) error {
	seen := make(map[int64]struct{})
	current := target
	for {
		if current.ID == itemID {
			return domain.CyclicPlacementError{
				ContainerID: domain.NewGlobalID(domain.RecordContainer, itemID),
				TargetID:    target.GlobalID(),
			}
		}
		if current.ParentContainerID == nil {
			return nil
		}
		if _, loop := seen[current.ID]; loop {
			return nil
		}
		seen[current.ID] = struct{}{}
		parent, ok := view.FindContainer(*current.ParentContainerID)
		if !ok {
			return nil
		}
		current = parent
	}
}

func resolveSlot(view domain.TransactionView, container domain.Container, it item, target Target) (Slot, error) {
	cid := container.GlobalID()
	if target.LocationID != nil {
		loc, ok := view.FindLocation(*target.LocationID)
		if !ok || loc.ContainerID != container.ID {
			return Slot{}, domain.LocationNotFoundError{LocationID: *target.LocationID}
		}
		if container.Type == domain.ContainerGrid && (container.Grid == nil || !container.Grid.Contains(loc.CoordX, loc.CoordY)) {
			return Slot{}, outOfBounds(container, loc.CoordX, loc.CoordY)
		}
		return occupied(container, loc, it)
	}

	switch container.Type {
	case domain.ContainerGrid:
		if target.Coordinates == nil {
			return Slot{}, domain.ErrLocationRequired
		}
		x, y := target.Coordinates.X, target.Coordinates.Y
		if container.Grid == nil || !container.Grid.Contains(x, y) {
			return Slot{}, outOfBounds(container, x, y)
		}
		if loc, ok := view.FindLocationAt(container.ID, x, y); ok {
			return occupied(container, loc, it)
		}
		return Slot{Container: container, Coordinates: *target.Coordinates}, nil
	case domain.ContainerImage:
		if target.Coordinates == nil {
			return Slot{}, domain.ErrLocationRequired
		}
		loc, ok := view.FindLocationAt(container.ID, target.Coordinates.X, target.Coordinates.Y)
		if !ok {
			return Slot{}, domain.ValidationError{Messages: []string{
				fmt.Sprintf("%s has no predefined location at (%d,%d)", cid, target.Coordinates.X, target.Coordinates.Y),
			}}
		}
		return occupied(container, loc, it)
	}

	// LIST and WORKBENCH
	if target.Coordinates != nil {
		if loc, ok := view.FindLocationAt(container.ID, target.Coordinates.X, target.Coordinates.Y); ok {
			return occupied(container, loc, it)
		}
		return Slot{Container: container, Coordinates: *target.Coordinates}, nil
	}
	locations := view.ListLocations(container.ID)
	if it.placement.ParentLocationID != nil {
		for _, loc := range locations {
			if loc.ID == *it.placement.ParentLocationID {
				return Slot{Container: container, Location: &loc}, nil
			}
		}
	}
	next := 1
	for _, loc := range locations {
		if loc.Empty() {
			return Slot{Container: container, Location: &loc}, nil
		}
		if loc.CoordX >= next {
			next = loc.CoordX + 1
		}
	}
	return Slot{Container: container, Coordinates: domain.Coordinates{X: next, Y: 1}}, nil
}

func outOfBounds(container domain.Container, x, y int) domain.OutOfBoundsError {
	err := domain.OutOfBoundsError{ContainerID: container.GlobalID(), X: x, Y: y}
	if container.Grid != nil {
		err.Columns = container.Grid.Columns
		err.Rows = container.Grid.Rows
	}
	return err
}

func occupied(container domain.Container, loc domain.Location, it item) (Slot, error) {
	if loc.Occupant != nil && *loc.Occupant != it.ref {
		return Slot{}, domain.LocationTakenError{
			ContainerID: container.GlobalID(),
			LocationID:  loc.ID,
			X:           loc.CoordX,
			Y:           loc.CoordY,
			Occupant:    loc.Occupant.GlobalID(),
		}
	}
	return Slot{Container: container, Location: &loc, Coordinates: domain.Coordinates{X: loc.CoordX, Y: loc.CoordY}}, nil
}

// Move validates and applies a single placement. Moving an item to the
// location it already occupies is a no-op.
func (e *Engine) Move(ctx context.Context, tx domain.Transaction, actor string, ref domain.ItemRef, target Target) (domain.Location, error) {
	it, err := e.prepareMove(ctx, tx, actor, ref)
	if err != nil {
		return domain.Location{}, err
	}
	slot, err := e.validate(ctx, tx, actor, it, target, true)
	if err != nil {
		return domain.Location{}, err
	}
	if slot.Location != nil && it.placement.ParentLocationID != nil && *it.placement.ParentLocationID == slot.Location.ID {
		return *slot.Location, nil
	}
	if err := detach(tx, it); err != nil {
		return domain.Location{}, err
	}
	return attach(tx, ref, slot)
}

func (e *Engine) prepareMove(ctx context.Context, view domain.TransactionView, actor string, ref domain.ItemRef) (item, error) {
	it, err := loadItem(view, ref)
	if err != nil {
		return item{}, err
	}
	gid := ref.GlobalID()
	if !e.perms.CanWrite(ctx, view, actor, gid) {
		return item{}, domain.NotFoundError{ID: gid}
	}
	if it.deleted {
		return item{}, fmt.Errorf("%s: %w", gid, domain.ErrDeleted)
	}
	if it.workbench {
		return item{}, domain.ErrWorkbenchImmutable
	}
	return it, nil
}

// PlaceNew attaches a freshly created item. A nil target places it on the
// owner's workbench, creating the workbench when needed.
func (e *Engine) PlaceNew(ctx context.Context, tx domain.Transaction, actor string, ref domain.ItemRef, target *Target) (domain.Location, error) {
	it, err := loadItem(tx, ref)
	if err != nil {
		return domain.Location{}, err
	}
	checkPerms := true
	if target == nil {
		wb, err := EnsureWorkbench(tx, it.owner)
		if err != nil {
			return domain.Location{}, err
		}
		target = &Target{ContainerID: wb.ID}
		checkPerms = false
	}
	slot, err := e.validate(ctx, tx, actor, it, *target, checkPerms)
	if err != nil {
		return domain.Location{}, err
	}
	return attach(tx, ref, slot)
}

// placeOnWorkbench moves an item onto its owner's workbench without
// consulting permissions; used for system-driven relocations.
func (e *Engine) placeOnWorkbench(ctx context.Context, tx domain.Transaction, ref domain.ItemRef, owner string) error {
	wb, err := EnsureWorkbench(tx, owner)
	if err != nil {
		return err
	}
	it, err := loadItem(tx, ref)
	if err != nil {
		return err
	}
	if it.placement.InContainer(wb.ID) {
		return nil
	}
	slot, err := e.validate(ctx, tx, "", it, Target{ContainerID: wb.ID}, false)
	if err != nil {
		return err
	}
	if err := detach(tx, it); err != nil {
		return err
	}
	_, err = attach(tx, ref, slot)
	return err
}

func detach(tx domain.Transaction, it item) error {
	if it.placement.ParentLocationID != nil {
		if loc, ok := tx.FindLocation(*it.placement.ParentLocationID); ok && loc.Occupant != nil && *loc.Occupant == it.ref {
			if _, err := tx.UpdateLocation(loc.ID, func(l *domain.Location) error {
				l.Occupant = nil
				return nil
			}); err != nil {
				return err
			}
		}
	}
	if !it.placement.IsPlaced() && it.placement.ParentLocationID == nil {
		return nil
	}
	return updatePlacement(tx, it.ref, func(p *domain.Placement) {
		p.ParentContainerID = nil
		p.ParentLocationID = nil
	})
}

func attach(tx domain.Transaction, ref domain.ItemRef, slot Slot) (domain.Location, error) {
	var (
		loc domain.Location
		err error
	)
	occupant := ref
	if slot.Location == nil {
		loc, err = tx.CreateLocation(domain.Location{
			ContainerID: slot.Container.ID,
			CoordX:      slot.Coordinates.X,
			CoordY:      slot.Coordinates.Y,
			Occupant:    &occupant,
		})
	} else {
		loc, err = tx.UpdateLocation(slot.Location.ID, func(l *domain.Location) error {
			if l.Occupant != nil && *l.Occupant != ref {
				return domain.LocationTakenError{
					ContainerID: slot.Container.GlobalID(),
					LocationID:  l.ID,
					X:           l.CoordX,
					Y:           l.CoordY,
					Occupant:    l.Occupant.GlobalID(),
				}
			}
			l.Occupant = &occupant
			return nil
		})
	}
	if err != nil {
		return domain.Location{}, err
	}
	now := tx.Now()
	containerID := slot.Container.ID
	locationID := loc.ID
	err = updatePlacement(tx, ref, func(p *domain.Placement) {
		p.ParentContainerID = &containerID
		p.ParentLocationID = &locationID
		last := containerID
		p.LastParentContainerID = &last
		p.LastMoveAt = &now
	})
	if err != nil {
		return domain.Location{}, err
	}
	return loc, nil
}

func updatePlacement(tx domain.Transaction, ref domain.ItemRef, fn func(*domain.Placement)) error {
	switch ref.Type {
	case domain.RecordContainer:
		_, err := tx.UpdateContainer(ref.ID, func(c *domain.Container) error {
			fn(&c.Placement)
			return nil
		})
		return err
	case domain.RecordSubSample:
		_, err := tx.UpdateSubSample(ref.ID, func(s *domain.SubSample) error {
			fn(&s.Placement)
			return nil
		})
		return err
	}
	return fmt.Errorf("records of type %s cannot be placed", ref.Type)
}
