package core

import (
	"context"

	"inventorycore/pkg/domain"
)

// NewQuantityConservationRule checks that every sample total can be computed
// from its live subsamples: amounts are not negative and share a unit
// category with the sample.
func NewQuantityConservationRule() domain.Rule {
	return quantityConservationRule{}
}

type quantityConservationRule struct{}

func (quantityConservationRule) Name() string { return RuleQuantityConservation }

func (quantityConservationRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	subs := make(map[int64][]domain.SubSample)
	for _, sub := range view.ListSubSamples() {
		subs[sub.SampleID] = append(subs[sub.SampleID], sub)
	}
	for _, s := range view.ListSamples() {
		if s.Deleted {
			continue
		}
		var amounts []domain.Quantity
		for _, sub := range subs[s.ID] {
			if sub.Deleted {
				continue
			}
			if sub.Quantity.Value.IsNegative() {
				res.Violations = append(res.Violations, blocking(RuleQuantityConservation, domain.EntitySubSample, sub.GlobalID(),
					"%s has negative quantity %s", sub.GlobalID(), sub.Quantity))
			}
			amounts = append(amounts, sub.Quantity)
		}
		if len(amounts) == 0 {
			continue
		}
		total, err := domain.SumQuantities(amounts, s.Quantity.Unit)
		if err == nil && s.Quantity.Unit != "" {
			_, err = total.ConvertTo(s.Quantity.Unit)
		}
		if err != nil {
			res.Violations = append(res.Violations, blocking(RuleQuantityConservation, domain.EntitySample, s.GlobalID(),
				"subsample amounts of %s cannot be summed: %v", s.GlobalID(), err))
		}
	}
	return res, nil
}
