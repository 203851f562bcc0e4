package core

import (
	"context"

	"inventorycore/pkg/domain"
)

// NewLocationOccupancyRule returns the rule that keeps occupants and their
// placement back-references in agreement: each live item occupies at most one
// location and that location names it.
func NewLocationOccupancyRule() domain.Rule {
	return locationOccupancyRule{}
}

type locationOccupancyRule struct{}

func (locationOccupancyRule) Name() string { return RuleLocationOccupancy }

func (locationOccupancyRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	containers := containersByID(view)
	held := make(map[domain.ItemRef]int64)
	for _, loc := range view.AllLocations() {
		c, ok := containers[loc.ContainerID]
		if !ok || loc.Occupant == nil {
			continue
		}
		ref := *loc.Occupant
		if prev, dup := held[ref]; dup {
			res.Violations = append(res.Violations, blocking(RuleLocationOccupancy, domain.EntityLocation, ref.GlobalID(),
				"%s occupies locations %d and %d", ref.GlobalID(), prev, loc.ID))
			continue
		}
		held[ref] = loc.ID
		p, deleted, ok := placementOf(view, containers, ref)
		switch {
		case !ok:
			res.Violations = append(res.Violations, blocking(RuleLocationOccupancy, domain.EntityLocation, c.GlobalID(),
				"location %d holds missing %s", loc.ID, ref.GlobalID()))
		case deleted:
			res.Violations = append(res.Violations, blocking(RuleLocationOccupancy, domain.EntityLocation, ref.GlobalID(),
				"deleted %s still occupies location %d", ref.GlobalID(), loc.ID))
		case p.ParentLocationID == nil || *p.ParentLocationID != loc.ID || !p.InContainer(c.ID):
			res.Violations = append(res.Violations, blocking(RuleLocationOccupancy, domain.EntityLocation, ref.GlobalID(),
				"%s is held by location %d of %s but does not point to it", ref.GlobalID(), loc.ID, c.GlobalID()))
		}
	}
	return res, nil
}

// containersByID indexes the containers of view in one pass.
func containersByID(view domain.RuleView) map[int64]domain.Container {
	all := view.ListContainers()
	out := make(map[int64]domain.Container, len(all))
	for _, c := range all {
		out[c.ID] = c
	}
	return out
}

func placementOf(view domain.RuleView, containers map[int64]domain.Container, ref domain.ItemRef) (domain.Placement, bool, bool) {
	switch ref.Type {
	case domain.RecordContainer:
		c, ok := containers[ref.ID]
		return c.Placement, c.Deleted, ok
	case domain.RecordSubSample:
		s, ok := view.FindSubSample(ref.ID)
		return s.Placement, s.Deleted, ok
	}
	return domain.Placement{}, false, false
}
