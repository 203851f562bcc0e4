package placement

import (
	"context"
	"fmt"

	"inventorycore/pkg/domain"
)

// WorkbenchName returns the display name of an owner's workbench.
func WorkbenchName(owner string) string {
	return "WB " + owner
}

// EnsureWorkbench returns the owner's workbench, creating it on first use.
func EnsureWorkbench(tx domain.Transaction, owner string) (domain.Container, error) {
	if wb, ok := tx.FindWorkbench(owner); ok {
		return wb, nil
	}
	if owner == "" {
		return domain.Container{}, domain.ValidationError{Messages: []string{"workbench owner is required"}}
	}
	return tx.CreateContainer(domain.Container{
		Record:             domain.Record{Name: WorkbenchName(owner), Owner: owner},
		Type:               domain.ContainerWorkbench,
		CanStoreSamples:    true,
		CanStoreContainers: true,
	})
}

// InWorkbench reports whether p places an item directly on a workbench.
func InWorkbench(view domain.TransactionView, p domain.Placement) bool {
	if p.ParentContainerID == nil {
		return false
	}
	parent, ok := view.FindContainer(*p.ParentContainerID)
	return ok && parent.Type == domain.ContainerWorkbench
}

func (e *Engine) requireWrite(ctx context.Context, view domain.TransactionView, actor string, id domain.GlobalID) error {
	if _, ok := domain.OwnerOf(view, id); !ok || !e.perms.CanWrite(ctx, view, actor, id) {
		return domain.NotFoundError{ID: id}
	}
	return nil
}

// DeleteLocation removes an empty location from a LIST or GRID container.
func (e *Engine) DeleteLocation(ctx context.Context, tx domain.Transaction, actor string, containerID, locationID int64) error {
	cid := domain.NewGlobalID(domain.RecordContainer, containerID)
	if err := e.requireWrite(ctx, tx, actor, cid); err != nil {
		return err
	}
	container, _ := tx.FindContainer(containerID)
	loc, ok := tx.FindLocation(locationID)
	if !ok || loc.ContainerID != containerID {
		return domain.LocationNotFoundError{LocationID: locationID}
	}
	if container.Type == domain.ContainerImage || loc.Predefined {
		return domain.ErrPredefinedLocation
	}
	if loc.Occupant != nil {
		return domain.LocationNotEmptyError{LocationID: locationID, Occupant: loc.Occupant.GlobalID()}
	}
	return tx.DeleteLocation(locationID)
}

// Delete soft-deletes a record. Containers must be empty; samples holding
// subsamples outside the workbench require force, which deletes those
// subsamples along with the sample. Deleting a deleted record is a no-op.
func (e *Engine) Delete(ctx context.Context, tx domain.Transaction, actor string, id domain.GlobalID, force bool) error {
	if err := e.requireWrite(ctx, tx, actor, id); err != nil {
		return err
	}
	switch id.Type {
	case domain.RecordContainer:
		return e.deleteContainer(tx, id.ID)
	case domain.RecordSubSample:
		return e.deleteSubSample(tx, id.ID, false)
	case domain.RecordSample:
		return e.deleteSample(ctx, tx, actor, id.ID, force)
	case domain.RecordTemplate:
		t, _ := tx.FindTemplate(id.ID)
		if t.Deleted {
			return nil
		}
		now := tx.Now()
		_, err := tx.UpdateTemplate(id.ID, func(t *domain.Template) error {
			t.Deleted = true
			t.DeletedAt = &now
			return nil
		})
		return err
	}
	return fmt.Errorf("unsupported record type %s", id.Type)
}

func (e *Engine) deleteContainer(tx domain.Transaction, id int64) error {
	c, _ := tx.FindContainer(id)
	if c.Deleted {
		return nil
	}
	if c.Type == domain.ContainerWorkbench {
		return domain.ErrWorkbenchImmutable
	}
	if contents := tx.ContainerContents(id); len(contents) > 0 {
		return domain.ContainerNotEmptyError{ContainerID: c.GlobalID(), Count: len(contents)}
	}
	it, err := loadItem(tx, c.Ref())
	if err != nil {
		return err
	}
	if err := detach(tx, it); err != nil {
		return err
	}
	now := tx.Now()
	_, err = tx.UpdateContainer(id, func(c *domain.Container) error {
		c.Deleted = true
		c.DeletedAt = &now
		return nil
	})
	return err
}

func (e *Engine) deleteSubSample(tx domain.Transaction, id int64, withSample bool) error {
	s, _ := tx.FindSubSample(id)
	if s.Deleted {
		return nil
	}
	it, err := loadItem(tx, s.Ref())
	if err != nil {
		return err
	}
	if err := detach(tx, it); err != nil {
		return err
	}
	now := tx.Now()
	_, err = tx.UpdateSubSample(id, func(s *domain.SubSample) error {
		s.Deleted = true
		s.DeletedAt = &now
		s.DeletedWithSample = withSample
		return nil
	})
	return err
}

func (e *Engine) deleteSample(ctx context.Context, tx domain.Transaction, actor string, id int64, force bool) error {
	sample, _ := tx.FindSample(id)
	if sample.Deleted {
		return nil
	}
	var live []domain.SubSample
	var outside []domain.GlobalID
	for _, sub := range tx.SubSamplesOf(id) {
		if sub.Deleted {
			continue
		}
		live = append(live, sub)
		if sub.IsPlaced() && !InWorkbench(tx, sub.Placement) {
			outside = append(outside, sub.GlobalID())
		}
	}
	if len(outside) > 0 && !force {
		return domain.SubSamplesOutsideWorkbenchError{SampleID: sample.GlobalID(), SubSamples: outside}
	}
	if e.locks != nil {
		for _, sub := range live {
			if err := e.locks.CheckEditable(ctx, sub.GlobalID(), actor); err != nil {
				return err
			}
		}
	}
	for _, sub := range live {
		if err := e.deleteSubSample(tx, sub.ID, true); err != nil {
			return err
		}
	}
	now := tx.Now()
	_, err := tx.UpdateSample(id, func(s *domain.Sample) error {
		s.Deleted = true
		s.DeletedAt = &now
		return nil
	})
	return err
}

// Restore reverses a soft delete. Placeable records return to their owner's
// workbench rather than their last location; restoring a sample also restores
// the subsamples deleted together with it.
func (e *Engine) Restore(ctx context.Context, tx domain.Transaction, actor string, id domain.GlobalID) error {
	if err := e.requireWrite(ctx, tx, actor, id); err != nil {
		return err
	}
	switch id.Type {
	case domain.RecordContainer:
		c, _ := tx.FindContainer(id.ID)
		if !c.Deleted {
			return nil
		}
		if _, err := tx.UpdateContainer(id.ID, func(c *domain.Container) error {
			c.Deleted = false
			c.DeletedAt = nil
			return nil
		}); err != nil {
			return err
		}
		if c.Type == domain.ContainerWorkbench {
			return nil
		}
		return e.placeOnWorkbench(ctx, tx, c.Ref(), c.Owner)
	case domain.RecordSubSample:
		s, _ := tx.FindSubSample(id.ID)
		if !s.Deleted {
			return nil
		}
		if parent, ok := tx.FindSample(s.SampleID); ok && parent.Deleted {
			return domain.ValidationError{Messages: []string{
				fmt.Sprintf("%s cannot be restored while its sample %s is deleted", id, parent.GlobalID()),
			}}
		}
		return e.restoreSubSample(ctx, tx, s)
	case domain.RecordSample:
		sample, _ := tx.FindSample(id.ID)
		if !sample.Deleted {
			return nil
		}
		if _, err := tx.UpdateSample(id.ID, func(s *domain.Sample) error {
			s.Deleted = false
			s.DeletedAt = nil
			return nil
		}); err != nil {
			return err
		}
		for _, sub := range tx.SubSamplesOf(id.ID) {
			if !sub.Deleted || !sub.DeletedWithSample {
				continue
			}
			if err := e.restoreSubSample(ctx, tx, sub); err != nil {
				return err
			}
		}
		return nil
	case domain.RecordTemplate:
		_, err := tx.UpdateTemplate(id.ID, func(t *domain.Template) error {
			t.Deleted = false
			t.DeletedAt = nil
			return nil
		})
		return err
	}
	return fmt.Errorf("unsupported record type %s", id.Type)
}

func (e *Engine) restoreSubSample(ctx context.Context, tx domain.Transaction, s domain.SubSample) error {
	if _, err := tx.UpdateSubSample(s.ID, func(s *domain.SubSample) error {
		s.Deleted = false
		s.DeletedAt = nil
		s.DeletedWithSample = false
		return nil
	}); err != nil {
		return err
	}
	return e.placeOnWorkbench(ctx, tx, s.Ref(), s.Owner)
}

// ChangeOwner transfers a record to newOwner. Samples carry their live
// subsamples along, and items sitting on the previous owner's workbench move
// to the new owner's workbench.
func (e *Engine) ChangeOwner(ctx context.Context, tx domain.Transaction, actor string, id domain.GlobalID, newOwner string) error {
	if newOwner == "" {
		return domain.ValidationError{Messages: []string{"new owner is required"}}
	}
	if err := e.requireWrite(ctx, tx, actor, id); err != nil {
		return err
	}
	switch id.Type {
	case domain.RecordContainer:
		c, _ := tx.FindContainer(id.ID)
		if c.Type == domain.ContainerWorkbench {
			return domain.ErrWorkbenchImmutable
		}
		if c.Deleted {
			return fmt.Errorf("%s: %w", id, domain.ErrDeleted)
		}
		if _, err := tx.UpdateContainer(id.ID, func(c *domain.Container) error {
			c.Owner = newOwner
			return nil
		}); err != nil {
			return err
		}
		return e.followOwner(ctx, tx, c.Ref(), c.Placement, newOwner)
	case domain.RecordSubSample:
		s, _ := tx.FindSubSample(id.ID)
		if s.Deleted {
			return fmt.Errorf("%s: %w", id, domain.ErrDeleted)
		}
		return e.changeSubSampleOwner(ctx, tx, s, newOwner)
	case domain.RecordSample:
		sample, _ := tx.FindSample(id.ID)
		if sample.Deleted {
			return fmt.Errorf("%s: %w", id, domain.ErrDeleted)
		}
		if _, err := tx.UpdateSample(id.ID, func(s *domain.Sample) error {
			s.Owner = newOwner
			return nil
		}); err != nil {
			return err
		}
		for _, sub := range tx.SubSamplesOf(id.ID) {
			if sub.Deleted {
				continue
			}
			if err := e.changeSubSampleOwner(ctx, tx, sub, newOwner); err != nil {
				return err
			}
		}
		return nil
	case domain.RecordTemplate:
		_, err := tx.UpdateTemplate(id.ID, func(t *domain.Template) error {
			t.Owner = newOwner
			return nil
		})
		return err
	}
	return fmt.Errorf("unsupported record type %s", id.Type)
}

func (e *Engine) changeSubSampleOwner(ctx context.Context, tx domain.Transaction, s domain.SubSample, newOwner string) error {
	if _, err := tx.UpdateSubSample(s.ID, func(s *domain.SubSample) error {
		s.Owner = newOwner
		return nil
	}); err != nil {
		return err
	}
	return e.followOwner(ctx, tx, s.Ref(), s.Placement, newOwner)
}

func (e *Engine) followOwner(ctx context.Context, tx domain.Transaction, ref domain.ItemRef, previous domain.Placement, newOwner string) error {
	if !InWorkbench(tx, previous) {
		return nil
	}
	return e.placeOnWorkbench(ctx, tx, ref, newOwner)
}
