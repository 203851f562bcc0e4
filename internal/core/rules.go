package core

import (
	"fmt"

	"inventorycore/pkg/domain"
)

// Built-in rule names.
const (
	RuleLocationOccupancy    = "location_occupancy"
	RuleGridBounds           = "grid_bounds"
	RuleContainerCapability  = "container_capability"
	RulePlacementAcyclic     = "placement_acyclic"
	RuleQuantityConservation = "quantity_conservation"
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *domain.RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in placement and
// quantity invariants.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewLocationOccupancyRule())
	engine.Register(NewGridBoundsRule())
	engine.Register(NewContainerCapabilityRule())
	engine.Register(NewPlacementAcyclicRule())
	engine.Register(NewQuantityConservationRule())
	return engine
}

func blocking(rule string, entity domain.EntityType, id domain.GlobalID, format string, args ...any) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf(format, args...),
		Entity:   entity,
		EntityID: id.String(),
	}
}
