package core

import (
	"context"

	"inventorycore/internal/editlock"
	"inventorycore/internal/placement"
	"inventorycore/pkg/domain"
)

func get[T any](ctx context.Context, s *Service, op, actor string, id domain.GlobalID, find func(domain.TransactionView) (T, bool)) (T, error) {
	var out T
	err := s.view(ctx, op, actor, id, func(v domain.TransactionView) error {
		found, ok := find(v)
		if !ok || !s.perms.CanRead(ctx, v, actor, id) {
			return domain.NotFoundError{ID: id}
		}
		out = found
		return nil
	})
	return out, err
}

func list[T any](ctx context.Context, s *Service, op, actor string, all func(domain.TransactionView) []T, keep func(domain.TransactionView, T) bool) ([]T, error) {
	var out []T
	err := s.view(ctx, op, actor, domain.GlobalID{}, func(v domain.TransactionView) error {
		for _, item := range all(v) {
			if keep(v, item) {
				out = append(out, item)
			}
		}
		return nil
	})
	return out, err
}

// GetContainer returns a container readable by actor.
func (s *Service) GetContainer(ctx context.Context, actor string, id int64) (domain.Container, error) {
	return get(ctx, s, "get_container", actor, domain.NewGlobalID(domain.RecordContainer, id), func(v domain.TransactionView) (domain.Container, bool) {
		return v.FindContainer(id)
	})
}

// GetSample returns a sample readable by actor.
func (s *Service) GetSample(ctx context.Context, actor string, id int64) (domain.Sample, error) {
	return get(ctx, s, "get_sample", actor, domain.NewGlobalID(domain.RecordSample, id), func(v domain.TransactionView) (domain.Sample, bool) {
		return v.FindSample(id)
	})
}

// GetSubSample returns a subsample readable by actor.
func (s *Service) GetSubSample(ctx context.Context, actor string, id int64) (domain.SubSample, error) {
	return get(ctx, s, "get_subsample", actor, domain.NewGlobalID(domain.RecordSubSample, id), func(v domain.TransactionView) (domain.SubSample, bool) {
		return v.FindSubSample(id)
	})
}

// GetTemplate returns the current version of a template.
func (s *Service) GetTemplate(ctx context.Context, actor string, id int64) (domain.Template, error) {
	return get(ctx, s, "get_template", actor, domain.NewGlobalID(domain.RecordTemplate, id), func(v domain.TransactionView) (domain.Template, bool) {
		return v.FindTemplate(id)
	})
}

// ContainerLocations returns the locations of a container in id order.
func (s *Service) ContainerLocations(ctx context.Context, actor string, containerID int64) ([]domain.Location, error) {
	id := domain.NewGlobalID(domain.RecordContainer, containerID)
	var out []domain.Location
	err := s.view(ctx, "list_locations", actor, id, func(v domain.TransactionView) error {
		if _, ok := v.FindContainer(containerID); !ok || !s.perms.CanRead(ctx, v, actor, id) {
			return domain.NotFoundError{ID: id}
		}
		out = v.ListLocations(containerID)
		return nil
	})
	return out, err
}

// ListContainers returns the containers readable by actor. Workbenches are
// included; deleted containers only when includeDeleted is set.
func (s *Service) ListContainers(ctx context.Context, actor string, includeDeleted bool) ([]domain.Container, error) {
	return list(ctx, s, "list_containers", actor, domain.TransactionView.ListContainers, func(v domain.TransactionView, c domain.Container) bool {
		return (includeDeleted || !c.Deleted) && s.perms.CanRead(ctx, v, actor, c.GlobalID())
	})
}

// ListSamples returns the samples readable by actor.
func (s *Service) ListSamples(ctx context.Context, actor string, includeDeleted bool) ([]domain.Sample, error) {
	return list(ctx, s, "list_samples", actor, domain.TransactionView.ListSamples, func(v domain.TransactionView, smp domain.Sample) bool {
		return (includeDeleted || !smp.Deleted) && s.perms.CanRead(ctx, v, actor, smp.GlobalID())
	})
}

// ListSubSamples returns the subsamples of a sample readable by actor.
func (s *Service) ListSubSamples(ctx context.Context, actor string, sampleID int64, includeDeleted bool) ([]domain.SubSample, error) {
	of := func(v domain.TransactionView) []domain.SubSample { return v.SubSamplesOf(sampleID) }
	return list(ctx, s, "list_subsamples", actor, of, func(v domain.TransactionView, ss domain.SubSample) bool {
		return (includeDeleted || !ss.Deleted) && s.perms.CanRead(ctx, v, actor, ss.GlobalID())
	})
}

// ListTemplates returns the templates readable by actor.
func (s *Service) ListTemplates(ctx context.Context, actor string, includeDeleted bool) ([]domain.Template, error) {
	return list(ctx, s, "list_templates", actor, domain.TransactionView.ListTemplates, func(v domain.TransactionView, t domain.Template) bool {
		return (includeDeleted || !t.Deleted) && s.perms.CanRead(ctx, v, actor, t.GlobalID())
	})
}

// Workbench returns the actor's workbench, creating it on first use.
func (s *Service) Workbench(ctx context.Context, actor string) (domain.Container, domain.Result, error) {
	var wb domain.Container
	_, res, err := s.run(ctx, "get_workbench", actor, func(tx domain.Transaction) (domain.GlobalID, error) {
		if actor == "" {
			return domain.GlobalID{}, domain.ValidationError{Messages: []string{"actor is required"}}
		}
		var err error
		wb, err = placement.EnsureWorkbench(tx, actor)
		return wb.GlobalID(), err
	})
	return wb, res, err
}

// AttemptToLockForEdit takes an edit lock on a record the actor can write.
func (s *Service) AttemptToLockForEdit(ctx context.Context, actor string, id domain.GlobalID) (editlock.Lock, error) {
	var lock editlock.Lock
	err := s.view(ctx, "lock_for_edit", actor, id, func(v domain.TransactionView) error {
		if _, ok := domain.OwnerOf(v, id); !ok || !s.perms.CanWrite(ctx, v, actor, id) {
			return domain.NotFoundError{ID: id}
		}
		var err error
		lock, err = s.locks.AttemptToLockForEdit(ctx, id, actor)
		return err
	})
	return lock, err
}

// Unlock releases actor's edit lock on id.
func (s *Service) Unlock(ctx context.Context, actor string, id domain.GlobalID) error {
	ctx, span := s.tracer.Start(ctx, "unlock")
	start := s.clock.Now()
	err := s.locks.Unlock(ctx, id, actor)
	s.finish(ctx, "unlock", actor, id, start, span, err)
	return err
}

// LockHolder reports who holds a live edit lock on id.
func (s *Service) LockHolder(ctx context.Context, id domain.GlobalID) (string, bool, error) {
	return s.locks.Holder(ctx, id)
}
