package placement

import (
	"context"
	"fmt"

	"inventorycore/pkg/domain"
)

// MoveRequest is one entry of a batch move.
type MoveRequest struct {
	Item   domain.ItemRef
	Target Target
}

// MoveOutcome reports the result of one MoveRequest. Err is nil on success.
type MoveOutcome struct {
	Item     domain.ItemRef
	Location domain.Location
	Err      error
}

// BatchMove applies moves whose sources and targets may overlap. Every item in
// the batch is detached before any is attached, so two items can swap slots.
// A move that cannot be attached fails on its own; the round is then rolled
// back and retried without it, which keeps the failed item in its original
// location and fails any move that depended on that location being vacated.
// The returned error is reserved for store failures.
func (e *Engine) BatchMove(ctx context.Context, tx domain.Transaction, actor string, moves []MoveRequest) ([]MoveOutcome, error) {
	outcomes := make([]MoveOutcome, len(moves))
	failed := make([]bool, len(moves))
	for i, m := range moves {
		outcomes[i].Item = m.Item
	}
	start := tx.Savepoint()

	for round := 0; round <= len(moves); round++ {
		items := make(map[int]item, len(moves))
		seen := make(map[domain.ItemRef]int, len(moves))
		for i, m := range moves {
			if failed[i] {
				continue
			}
			if first, dup := seen[m.Item]; dup {
				failed[i] = true
				outcomes[i].Err = domain.ValidationError{Messages: []string{
					fmt.Sprintf("%s is already moved by entry %d of this batch", m.Item.GlobalID(), first),
				}}
				continue
			}
			seen[m.Item] = i
			it, err := e.prepareMove(ctx, tx, actor, m.Item)
			if err != nil {
				failed[i] = true
				outcomes[i].Err = err
				continue
			}
			if loc, stay := currentSlot(tx, it, m.Target); stay {
				outcomes[i].Location = loc
				continue
			}
			items[i] = it
		}

		for i := range moves {
			it, ok := items[i]
			if !ok {
				continue
			}
			if err := detach(tx, it); err != nil {
				return nil, fmt.Errorf("detach %s: %w", it.ref.GlobalID(), err)
			}
		}

		conflict := false
		for i, m := range moves {
			if _, ok := items[i]; !ok {
				continue
			}
			detached, err := loadItem(tx, m.Item)
			if err != nil {
				return nil, err
			}
			slot, err := e.validate(ctx, tx, actor, detached, m.Target, true)
			if err == nil {
				var loc domain.Location
				loc, err = attach(tx, m.Item, slot)
				outcomes[i].Location = loc
			}
			if err != nil {
				failed[i] = true
				outcomes[i].Err = err
				outcomes[i].Location = domain.Location{}
				conflict = true
			}
		}
		if !conflict {
			return outcomes, nil
		}
		if err := tx.RollbackTo(start); err != nil {
			return nil, err
		}
	}
	return outcomes, nil
}

// currentSlot reports whether target names the location the item already
// occupies. A LIST or WORKBENCH target without a location or coordinates
// resolves to the item's current slot when the item is already inside it.
func currentSlot(view domain.TransactionView, it item, target Target) (domain.Location, bool) {
	if it.placement.ParentLocationID == nil || !it.placement.InContainer(target.ContainerID) {
		return domain.Location{}, false
	}
	loc, ok := view.FindLocation(*it.placement.ParentLocationID)
	if !ok {
		return domain.Location{}, false
	}
	switch {
	case target.LocationID != nil:
		return loc, *target.LocationID == loc.ID
	case target.Coordinates != nil:
		return loc, target.Coordinates.X == loc.CoordX && target.Coordinates.Y == loc.CoordY
	}
	c, ok := view.FindContainer(target.ContainerID)
	if !ok || c.Deleted || !c.Type.IsListLike() {
		return domain.Location{}, false
	}
	return loc, true
}
