package core

import (
	"context"

	"inventorycore/pkg/domain"
)

// NewContainerCapabilityRule rejects occupants of a category their container
// does not accept.
func NewContainerCapabilityRule() domain.Rule {
	return containerCapabilityRule{}
}

type containerCapabilityRule struct{}

func (containerCapabilityRule) Name() string { return RuleContainerCapability }

func (containerCapabilityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	containers := containersByID(view)
	for _, loc := range view.AllLocations() {
		c, ok := containers[loc.ContainerID]
		if !ok || c.Deleted || loc.Occupant == nil {
			continue
		}
		if ref := *loc.Occupant; !c.Accepts(ref.Type) {
			res.Violations = append(res.Violations, blocking(RuleContainerCapability, domain.EntityContainer, c.GlobalID(),
				"%s does not accept %s", c.GlobalID(), ref.GlobalID()))
		}
	}
	return res, nil
}
