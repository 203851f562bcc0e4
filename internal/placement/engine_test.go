package placement

import (
	"context"
	"errors"
	"testing"
	"time"

	"inventorycore/internal/infra/persistence/memory"
	"inventorycore/pkg/domain"
)

type fixture struct {
	t      *testing.T
	store  *memory.Store
	engine *Engine
}

func newFixture(t *testing.T, perms domain.Permissions) *fixture {
	t.Helper()
	return &fixture{t: t, store: memory.NewStore(nil), engine: NewEngine(perms)}
}

func (f *fixture) run(fn func(tx domain.Transaction) error) {
	f.t.Helper()
	if _, err := f.store.RunInTransaction(context.Background(), fn); err != nil {
		f.t.Fatalf("transaction: %v", err)
	}
}

func (f *fixture) view(fn func(v domain.TransactionView)) {
	f.t.Helper()
	_ = f.store.View(context.Background(), func(v domain.TransactionView) error {
		fn(v)
		return nil
	})
}

func (f *fixture) grid(owner string, columns, rows int) domain.Container {
	var c domain.Container
	f.run(func(tx domain.Transaction) error {
		var err error
		c, err = tx.CreateContainer(domain.Container{
			Record:             domain.Record{Name: "Rack", Owner: owner},
			Type:               domain.ContainerGrid,
			Grid:               &domain.GridLayout{Columns: columns, Rows: rows},
			CanStoreSamples:    true,
			CanStoreContainers: true,
		})
		return err
	})
	return c
}

func (f *fixture) list(owner string, samples, containers bool) domain.Container {
	var c domain.Container
	f.run(func(tx domain.Transaction) error {
		var err error
		c, err = tx.CreateContainer(domain.Container{
			Record:             domain.Record{Name: "Shelf", Owner: owner},
			Type:               domain.ContainerList,
			CanStoreSamples:    samples,
			CanStoreContainers: containers,
		})
		return err
	})
	return c
}

func (f *fixture) subsample(owner, amount string) domain.SubSample {
	var sub domain.SubSample
	f.run(func(tx domain.Transaction) error {
		sample, err := tx.CreateSample(domain.Sample{Record: domain.Record{Name: "Serum", Owner: owner}})
		if err != nil {
			return err
		}
		sub, err = tx.CreateSubSample(domain.SubSample{
			Record:   domain.Record{Name: "Serum.01", Owner: owner},
			SampleID: sample.ID,
			Quantity: domain.MustParseQuantity(amount, domain.UnitMillilitre),
		})
		return err
	})
	return sub
}

func (f *fixture) place(ref domain.ItemRef, target Target) domain.Location {
	f.t.Helper()
	var loc domain.Location
	f.run(func(tx domain.Transaction) error {
		var err error
		loc, err = f.engine.Move(context.Background(), tx, "alice", ref, target)
		return err
	})
	return loc
}

func at(containerID int64, x, y int) Target {
	return Target{ContainerID: containerID, Coordinates: &domain.Coordinates{X: x, Y: y}}
}

func (f *fixture) locationOf(ref domain.ItemRef) (domain.Location, bool) {
	var (
		loc   domain.Location
		found bool
	)
	f.view(func(v domain.TransactionView) {
		var p domain.Placement
		switch ref.Type {
		case domain.RecordContainer:
			c, _ := v.FindContainer(ref.ID)
			p = c.Placement
		case domain.RecordSubSample:
			s, _ := v.FindSubSample(ref.ID)
			p = s.Placement
		}
		if p.ParentLocationID != nil {
			loc, found = v.FindLocation(*p.ParentLocationID)
		}
	})
	return loc, found
}

func TestGridBounds(t *testing.T) {
	f := newFixture(t, nil)
	rack := f.grid("alice", 3, 2)
	sub := f.subsample("alice", "1")

	f.view(func(v domain.TransactionView) {
		_, err := f.engine.ValidatePlacement(context.Background(), v, "alice", sub.Ref(), at(rack.ID, 1, 5))
		var bounds domain.OutOfBoundsError
		if !errors.As(err, &bounds) {
			t.Fatalf("expected out of bounds, got %v", err)
		}
		if bounds.Columns != 3 || bounds.Rows != 2 {
			t.Fatalf("expected bounds 3x2 in error, got %+v", bounds)
		}
		if _, err := f.engine.ValidatePlacement(context.Background(), v, "alice", sub.Ref(), at(rack.ID, 1, 2)); err != nil {
			t.Fatalf("expected (1,2) to be accepted: %v", err)
		}
		if _, err := f.engine.ValidatePlacement(context.Background(), v, "alice", sub.Ref(), Target{ContainerID: rack.ID}); !errors.Is(err, domain.ErrLocationRequired) {
			t.Fatalf("expected location required, got %v", err)
		}
	})

	loc := f.place(sub.Ref(), at(rack.ID, 1, 2))
	if loc.CoordX != 1 || loc.CoordY != 2 || loc.ContainerID != rack.ID {
		t.Fatalf("unexpected location %+v", loc)
	}
}

func TestOccupancy(t *testing.T) {
	f := newFixture(t, nil)
	rack := f.grid("alice", 2, 2)
	a := f.subsample("alice", "1")
	b := f.subsample("alice", "1")
	f.place(a.Ref(), at(rack.ID, 1, 1))

	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := f.engine.Move(context.Background(), tx, "alice", b.Ref(), at(rack.ID, 1, 1))
		return err
	})
	var taken domain.LocationTakenError
	if !errors.As(err, &taken) {
		t.Fatalf("expected location taken, got %v", err)
	}
	if taken.Occupant != a.GlobalID() {
		t.Fatalf("expected occupant %s, got %s", a.GlobalID(), taken.Occupant)
	}
	if _, placed := f.locationOf(b.Ref()); placed {
		t.Fatalf("expected b to stay unplaced")
	}
}

func TestMoveToCurrentLocationIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.store.SetNowFunc(func() time.Time { return first })
	rack := f.grid("alice", 2, 2)
	sub := f.subsample("alice", "1")
	loc := f.place(sub.Ref(), at(rack.ID, 2, 2))

	f.store.SetNowFunc(func() time.Time { return first.Add(time.Hour) })
	again := f.place(sub.Ref(), at(rack.ID, 2, 2))
	if again.ID != loc.ID {
		t.Fatalf("expected same location, got %d and %d", loc.ID, again.ID)
	}
	f.view(func(v domain.TransactionView) {
		c, _ := v.FindContainer(rack.ID)
		if c.ContentSummary.TotalCount != 1 || c.ContentSummary.SubSampleCount != 1 {
			t.Fatalf("unexpected content summary %+v", c.ContentSummary)
		}
		s, _ := v.FindSubSample(sub.ID)
		if s.LastMoveAt == nil || !s.LastMoveAt.Equal(first) {
			t.Fatalf("expected last move timestamp to be unchanged, got %v", s.LastMoveAt)
		}
		if len(v.ListLocations(rack.ID)) != 1 {
			t.Fatalf("expected one location")
		}
	})
}

func TestMoveUpdatesContentSummaries(t *testing.T) {
	f := newFixture(t, nil)
	shelf := f.list("alice", true, false)
	rack := f.grid("alice", 2, 2)
	sub := f.subsample("alice", "1")
	f.place(sub.Ref(), Target{ContainerID: shelf.ID})
	f.place(sub.Ref(), at(rack.ID, 1, 1))

	f.view(func(v domain.TransactionView) {
		source, _ := v.FindContainer(shelf.ID)
		target, _ := v.FindContainer(rack.ID)
		if source.ContentSummary.TotalCount != 0 || target.ContentSummary.TotalCount != 1 {
			t.Fatalf("unexpected summaries source=%+v target=%+v", source.ContentSummary, target.ContentSummary)
		}
		s, _ := v.FindSubSample(sub.ID)
		if s.LastParentContainerID == nil || *s.LastParentContainerID != rack.ID {
			t.Fatalf("expected last parent %d, got %v", rack.ID, s.LastParentContainerID)
		}
		// the vacated list location is kept for reuse
		if locs := v.ListLocations(shelf.ID); len(locs) != 1 || !locs[0].Empty() {
			t.Fatalf("expected one empty shelf location, got %+v", locs)
		}
	})

	other := f.subsample("alice", "1")
	loc := f.place(other.Ref(), Target{ContainerID: shelf.ID})
	if loc.CoordX != 1 || loc.CoordY != 1 {
		t.Fatalf("expected vacated location to be reused, got %+v", loc)
	}
}

func TestCategoryAndCycleChecks(t *testing.T) {
	f := newFixture(t, nil)
	samplesOnly := f.list("alice", true, false)
	outer := f.list("alice", false, true)
	inner := f.list("alice", false, true)
	f.place(inner.Ref(), Target{ContainerID: outer.ID})

	f.view(func(v domain.TransactionView) {
		_, err := f.engine.ValidatePlacement(context.Background(), v, "alice", outer.Ref(), Target{ContainerID: samplesOnly.ID})
		var category domain.CategoryNotAcceptedError
		if !errors.As(err, &category) {
			t.Fatalf("expected category error, got %v", err)
		}
		_, err = f.engine.ValidatePlacement(context.Background(), v, "alice", outer.Ref(), Target{ContainerID: inner.ID})
		var cyclic domain.CyclicPlacementError
		if !errors.As(err, &cyclic) {
			t.Fatalf("expected cyclic placement error, got %v", err)
		}
		_, err = f.engine.ValidatePlacement(context.Background(), v, "alice", outer.Ref(), Target{ContainerID: outer.ID})
		if !errors.As(err, &cyclic) {
			t.Fatalf("expected self placement to be rejected, got %v", err)
		}
	})
}

func TestPermissionDenialSurfacesAsNotFound(t *testing.T) {
	f := newFixture(t, domain.NewOwnerPermissions())
	rack := f.grid("alice", 2, 2)
	sub := f.subsample("bob", "1")

	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := f.engine.Move(context.Background(), tx, "bob", sub.Ref(), at(rack.ID, 1, 1))
		return err
	})
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) || notFound.ID != rack.GlobalID() {
		t.Fatalf("expected target to be reported as not found, got %v", err)
	}
}

func TestWorkbenchCannotMoveOrDelete(t *testing.T) {
	f := newFixture(t, nil)
	shelf := f.list("alice", true, true)
	var wb domain.Container
	f.run(func(tx domain.Transaction) error {
		var err error
		wb, err = EnsureWorkbench(tx, "alice")
		return err
	})
	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := f.engine.Move(context.Background(), tx, "alice", wb.Ref(), Target{ContainerID: shelf.ID})
		return err
	})
	if !errors.Is(err, domain.ErrWorkbenchImmutable) {
		t.Fatalf("expected workbench move to fail, got %v", err)
	}
	_, err = f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return f.engine.Delete(context.Background(), tx, "alice", wb.GlobalID(), false)
	})
	if !errors.Is(err, domain.ErrWorkbenchImmutable) {
		t.Fatalf("expected workbench delete to fail, got %v", err)
	}
	f.run(func(tx domain.Transaction) error {
		again, err := EnsureWorkbench(tx, "alice")
		if err == nil && again.ID != wb.ID {
			t.Fatalf("expected existing workbench to be reused")
		}
		return err
	})
}

func TestPlaceNewDefaultsToWorkbench(t *testing.T) {
	f := newFixture(t, domain.NewOwnerPermissions())
	sub := f.subsample("carol", "5")
	var loc domain.Location
	f.run(func(tx domain.Transaction) error {
		var err error
		loc, err = f.engine.PlaceNew(context.Background(), tx, "carol", sub.Ref(), nil)
		return err
	})
	f.view(func(v domain.TransactionView) {
		wb, ok := v.FindWorkbench("carol")
		if !ok || loc.ContainerID != wb.ID {
			t.Fatalf("expected placement on carol's workbench, got %+v", loc)
		}
		if wb.Name != WorkbenchName("carol") {
			t.Fatalf("unexpected workbench name %q", wb.Name)
		}
	})
}
