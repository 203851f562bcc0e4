package placement

import (
	"context"
	"errors"
	"testing"
	"time"

	"inventorycore/pkg/domain"
)

func (f *fixture) batch(moves []MoveRequest) []MoveOutcome {
	f.t.Helper()
	var outcomes []MoveOutcome
	f.run(func(tx domain.Transaction) error {
		var err error
		outcomes, err = f.engine.BatchMove(context.Background(), tx, "alice", moves)
		return err
	})
	return outcomes
}

func TestBatchMoveSwapsOccupants(t *testing.T) {
	f := newFixture(t, nil)
	rack := f.grid("alice", 3, 5)
	a := f.subsample("alice", "1")
	b := f.subsample("alice", "1")
	f.place(a.Ref(), at(rack.ID, 2, 3))
	f.place(b.Ref(), at(rack.ID, 2, 4))

	outcomes := f.batch([]MoveRequest{
		{Item: a.Ref(), Target: at(rack.ID, 2, 4)},
		{Item: b.Ref(), Target: at(rack.ID, 2, 3)},
	})
	for _, o := range outcomes {
		if o.Err != nil {
			t.Fatalf("expected swap to succeed, %s failed: %v", o.Item.GlobalID(), o.Err)
		}
	}
	if loc, _ := f.locationOf(a.Ref()); loc.CoordX != 2 || loc.CoordY != 4 {
		t.Fatalf("expected A at (2,4), got %+v", loc)
	}
	if loc, _ := f.locationOf(b.Ref()); loc.CoordX != 2 || loc.CoordY != 3 {
		t.Fatalf("expected B at (2,3), got %+v", loc)
	}
	f.view(func(v domain.TransactionView) {
		if n := len(v.ListLocations(rack.ID)); n != 2 {
			t.Fatalf("expected swap to reuse the two locations, got %d", n)
		}
	})
}

func TestBatchMoveBlockedByThirdOccupant(t *testing.T) {
	f := newFixture(t, nil)
	rack := f.grid("alice", 3, 5)
	a := f.subsample("alice", "1")
	b := f.subsample("alice", "1")
	c := f.subsample("alice", "1")
	f.place(a.Ref(), at(rack.ID, 2, 3))
	f.place(b.Ref(), at(rack.ID, 2, 4))
	f.place(c.Ref(), at(rack.ID, 2, 5))

	outcomes := f.batch([]MoveRequest{
		{Item: a.Ref(), Target: at(rack.ID, 2, 4)},
		{Item: b.Ref(), Target: at(rack.ID, 2, 5)},
	})
	var taken domain.LocationTakenError
	if !errors.As(outcomes[1].Err, &taken) || taken.Occupant != c.GlobalID() {
		t.Fatalf("expected B to be blocked by C, got %v", outcomes[1].Err)
	}
	if !errors.As(outcomes[0].Err, &taken) || taken.Occupant != b.GlobalID() {
		t.Fatalf("expected A to be blocked by B staying put, got %v", outcomes[0].Err)
	}
	if loc, _ := f.locationOf(a.Ref()); loc.CoordY != 3 {
		t.Fatalf("expected A unmoved, got %+v", loc)
	}
	if loc, _ := f.locationOf(b.Ref()); loc.CoordY != 4 {
		t.Fatalf("expected B unmoved, got %+v", loc)
	}
}

func TestBatchMoveReportsEachItem(t *testing.T) {
	f := newFixture(t, domain.NewOwnerPermissions())
	mine := f.grid("alice", 2, 2)
	theirs := f.grid("bob", 2, 2)
	a := f.subsample("alice", "1")
	b := f.subsample("alice", "1")

	outcomes := f.batch([]MoveRequest{
		{Item: a.Ref(), Target: at(theirs.ID, 1, 1)},
		{Item: b.Ref(), Target: at(mine.ID, 1, 1)},
		{Item: b.Ref(), Target: at(mine.ID, 2, 2)},
	})
	if len(outcomes) != 3 {
		t.Fatalf("expected one outcome per request, got %d", len(outcomes))
	}
	var notFound domain.NotFoundError
	if !errors.As(outcomes[0].Err, &notFound) {
		t.Fatalf("expected unwritable target to be reported as not found, got %v", outcomes[0].Err)
	}
	if outcomes[1].Err != nil || outcomes[1].Location.CoordX != 1 {
		t.Fatalf("expected second move to succeed, got %+v", outcomes[1])
	}
	var validation domain.ValidationError
	if !errors.As(outcomes[2].Err, &validation) {
		t.Fatalf("expected duplicate item to be rejected, got %v", outcomes[2].Err)
	}
}

func TestBatchMoveKeepsItemsAlreadyInPlace(t *testing.T) {
	f := newFixture(t, nil)
	rack := f.grid("alice", 2, 2)
	a := f.subsample("alice", "1")
	loc := f.place(a.Ref(), at(rack.ID, 1, 1))

	outcomes := f.batch([]MoveRequest{{Item: a.Ref(), Target: at(rack.ID, 1, 1)}})
	if outcomes[0].Err != nil || outcomes[0].Location.ID != loc.ID {
		t.Fatalf("expected no-op outcome, got %+v", outcomes[0])
	}
}

func TestBatchMoveIntoCurrentListContainerIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.store.SetNowFunc(func() time.Time { return first })
	shelf := f.list("alice", true, false)
	a := f.subsample("alice", "1")
	b := f.subsample("alice", "1")
	locA := f.place(a.Ref(), Target{ContainerID: shelf.ID})
	f.place(b.Ref(), Target{ContainerID: shelf.ID})

	f.store.SetNowFunc(func() time.Time { return first.Add(time.Hour) })
	outcomes := f.batch([]MoveRequest{{Item: a.Ref(), Target: Target{ContainerID: shelf.ID}}})
	if outcomes[0].Err != nil || outcomes[0].Location.ID != locA.ID {
		t.Fatalf("expected no-op outcome at %d, got %+v", locA.ID, outcomes[0])
	}
	f.view(func(v domain.TransactionView) {
		s, _ := v.FindSubSample(a.ID)
		if s.ParentLocationID == nil || *s.ParentLocationID != locA.ID {
			t.Fatalf("expected location %d to be kept, got %v", locA.ID, s.ParentLocationID)
		}
		if s.LastMoveAt == nil || !s.LastMoveAt.Equal(first) {
			t.Fatalf("expected last move timestamp to be unchanged, got %v", s.LastMoveAt)
		}
		if n := len(v.ListLocations(shelf.ID)); n != 2 {
			t.Fatalf("expected two locations, got %d", n)
		}
	})
}
