package core

import (
	"context"

	"inventorycore/pkg/domain"
)

// NewPlacementAcyclicRule rejects container hierarchies with cycles.
func NewPlacementAcyclicRule() domain.Rule {
	return placementAcyclicRule{}
}

type placementAcyclicRule struct{}

func (placementAcyclicRule) Name() string { return RulePlacementAcyclic }

func (placementAcyclicRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	containers := view.ListContainers()
	parent := make(map[int64]int64, len(containers))
	for _, c := range containers {
		if c.ParentContainerID != nil {
			parent[c.ID] = *c.ParentContainerID
		}
	}
	for _, c := range containers {
		seen := map[int64]bool{c.ID: true}
		for next, ok := parent[c.ID]; ok; next, ok = parent[next] {
			if seen[next] {
				res.Violations = append(res.Violations, blocking(RulePlacementAcyclic, domain.EntityContainer, c.GlobalID(),
					"%s is part of a placement cycle", c.GlobalID()))
				break
			}
			seen[next] = true
		}
	}
	return res, nil
}
