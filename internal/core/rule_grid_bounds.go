package core

import (
	"context"

	"inventorycore/pkg/domain"
)

// NewGridBoundsRule rejects GRID locations outside the container layout.
func NewGridBoundsRule() domain.Rule {
	return gridBoundsRule{}
}

type gridBoundsRule struct{}

func (gridBoundsRule) Name() string { return RuleGridBounds }

func (gridBoundsRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	containers := containersByID(view)
	for _, loc := range view.AllLocations() {
		c, ok := containers[loc.ContainerID]
		if !ok || c.Type != domain.ContainerGrid || c.Grid == nil {
			continue
		}
		if !c.Grid.Contains(loc.CoordX, loc.CoordY) {
			res.Violations = append(res.Violations, blocking(RuleGridBounds, domain.EntityLocation, c.GlobalID(),
				"location (%d,%d) outside %dx%d grid", loc.CoordX, loc.CoordY, c.Grid.Columns, c.Grid.Rows))
		}
	}
	return res, nil
}
