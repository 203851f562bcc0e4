package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Unit identifies a measurement unit for quantities.
type Unit string

// Supported units.
const (
	UnitMicrolitre Unit = "µl"
	UnitMillilitre Unit = "ml"
	UnitLitre      Unit = "l"
	UnitMicrogram  Unit = "µg"
	UnitMilligram  Unit = "mg"
	UnitGram       Unit = "g"
	UnitKilogram   Unit = "kg"
	UnitItems      Unit = "items"
	UnitKelvin     Unit = "K"
	UnitCelsius    Unit = "°C"
	UnitFahrenheit Unit = "°F"
)

// UnitCategory groups units that can be converted into one another.
type UnitCategory string

// Unit categories.
const (
	CategoryVolume        UnitCategory = "volume"
	CategoryMass          UnitCategory = "mass"
	CategoryDimensionless UnitCategory = "dimensionless"
	CategoryTemperature   UnitCategory = "temperature"
)

type unitInfo struct {
	category UnitCategory
	// factor converts to the category base unit (µl, µg, items); temperatures
	// are converted separately.
	factor decimal.Decimal
}

var units = map[Unit]unitInfo{
	UnitMicrolitre: {CategoryVolume, decimal.NewFromInt(1)},
	UnitMillilitre: {CategoryVolume, decimal.NewFromInt(1_000)},
	UnitLitre:      {CategoryVolume, decimal.NewFromInt(1_000_000)},
	UnitMicrogram:  {CategoryMass, decimal.NewFromInt(1)},
	UnitMilligram:  {CategoryMass, decimal.NewFromInt(1_000)},
	UnitGram:       {CategoryMass, decimal.NewFromInt(1_000_000)},
	UnitKilogram:   {CategoryMass, decimal.NewFromInt(1_000_000_000)},
	UnitItems:      {CategoryDimensionless, decimal.NewFromInt(1)},
	UnitKelvin:     {CategoryTemperature, decimal.NewFromInt(1)},
	UnitCelsius:    {CategoryTemperature, decimal.NewFromInt(1)},
	UnitFahrenheit: {CategoryTemperature, decimal.NewFromInt(1)},
}

var (
	kelvinOffset = decimal.RequireFromString("273.15")
	nineFifths   = decimal.NewFromInt(9).Div(decimal.NewFromInt(5))
)

// Category returns the unit category, or "" for unknown units.
func (u Unit) Category() UnitCategory {
	return units[u].category
}

// Valid reports whether the unit is known.
func (u Unit) Valid() bool {
	_, ok := units[u]
	return ok
}

// Quantity is a decimal amount with a unit.
type Quantity struct {
	Value decimal.Decimal `json:"value"`
	Unit  Unit            `json:"unit"`
}

// NewQuantity builds a quantity from a float value.
func NewQuantity(value float64, unit Unit) Quantity {
	return Quantity{Value: decimal.NewFromFloat(value), Unit: unit}
}

// MustParseQuantity builds a quantity from a decimal string and panics on malformed input.
func MustParseQuantity(value string, unit Unit) Quantity {
	return Quantity{Value: decimal.RequireFromString(value), Unit: unit}
}

// ZeroQuantity returns a zero amount in unit.
func ZeroQuantity(unit Unit) Quantity {
	return Quantity{Value: decimal.Zero, Unit: unit}
}

// IsZero reports whether the amount is zero or the quantity is unset.
func (q Quantity) IsZero() bool {
	return q.Value.IsZero()
}

// String renders e.g. "20 ml".
func (q Quantity) String() string {
	return fmt.Sprintf("%s %s", q.Value.String(), q.Unit)
}

// Equal compares two quantities after conversion into q's unit.
func (q Quantity) Equal(other Quantity) bool {
	converted, err := other.ConvertTo(q.Unit)
	if err != nil {
		return false
	}
	return q.Value.Equal(converted.Value)
}

// ConvertTo converts the quantity into another unit of the same category.
func (q Quantity) ConvertTo(target Unit) (Quantity, error) {
	if q.Unit == target {
		return q, nil
	}
	from, ok := units[q.Unit]
	if !ok {
		return Quantity{}, fmt.Errorf("unknown unit %q", q.Unit)
	}
	to, ok := units[target]
	if !ok {
		return Quantity{}, fmt.Errorf("unknown unit %q", target)
	}
	if from.category != to.category {
		return Quantity{}, fmt.Errorf("cannot convert %s to %s", q.Unit, target)
	}
	if from.category == CategoryTemperature {
		return Quantity{Value: fromKelvin(toKelvin(q), target), Unit: target}, nil
	}
	base := q.Value.Mul(from.factor)
	return Quantity{Value: base.Div(to.factor), Unit: target}, nil
}

// Add returns q + other expressed in q's unit. An unset q adopts other's unit.
func (q Quantity) Add(other Quantity) (Quantity, error) {
	if q.Unit == "" {
		return other, nil
	}
	if q.Unit.Category() == CategoryTemperature {
		return Quantity{}, fmt.Errorf("temperatures cannot be summed")
	}
	converted, err := other.ConvertTo(q.Unit)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: q.Value.Add(converted.Value), Unit: q.Unit}, nil
}

// Div splits the amount into n equal parts.
func (q Quantity) Div(n int) Quantity {
	return Quantity{Value: q.Value.Div(decimal.NewFromInt(int64(n))), Unit: q.Unit}
}

// Kelvin returns the absolute temperature value.
func (q Quantity) Kelvin() (decimal.Decimal, error) {
	if q.Unit.Category() != CategoryTemperature {
		return decimal.Zero, fmt.Errorf("%s is not a temperature unit", q.Unit)
	}
	return toKelvin(q), nil
}

// AboveAbsoluteZero reports whether a temperature is physically meaningful.
func (q Quantity) AboveAbsoluteZero() bool {
	k, err := q.Kelvin()
	if err != nil {
		return false
	}
	return k.GreaterThan(decimal.Zero)
}

// SumQuantities adds quantities, using the first quantity's unit as the result unit.
func SumQuantities(quantities []Quantity, fallback Unit) (Quantity, error) {
	total := ZeroQuantity(fallback)
	if len(quantities) > 0 {
		total = ZeroQuantity(quantities[0].Unit)
	}
	for _, q := range quantities {
		var err error
		total, err = total.Add(q)
		if err != nil {
			return Quantity{}, err
		}
	}
	return total, nil
}

func toKelvin(q Quantity) decimal.Decimal {
	switch q.Unit {
	case UnitCelsius:
		return q.Value.Add(kelvinOffset)
	case UnitFahrenheit:
		return q.Value.Sub(decimal.NewFromInt(32)).Div(nineFifths).Add(kelvinOffset)
	default:
		return q.Value
	}
}

func fromKelvin(k decimal.Decimal, target Unit) decimal.Decimal {
	switch target {
	case UnitCelsius:
		return k.Sub(kelvinOffset)
	case UnitFahrenheit:
		return k.Sub(kelvinOffset).Mul(nineFifths).Add(decimal.NewFromInt(32))
	default:
		return k
	}
}

type quantityJSON struct {
	Value string `json:"value"`
	Unit  Unit   `json:"unit"`
}

// MarshalJSON encodes the amount as a decimal string to avoid float rounding.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(quantityJSON{Value: q.Value.String(), Unit: q.Unit})
}

// UnmarshalJSON accepts the amount as a decimal string or a JSON number.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value json.RawMessage `json:"value"`
		Unit  Unit            `json:"unit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.Unit = raw.Unit
	if len(raw.Value) == 0 || string(raw.Value) == "null" {
		q.Value = decimal.Zero
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Value, &s); err != nil {
		s = string(raw.Value)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("quantity value: %w", err)
	}
	q.Value = v
	return nil
}

// Split divides the amount into n parts that add up exactly to q. The
// rounding remainder is carried by the first part.
func (q Quantity) Split(n int) []Quantity {
	if n < 1 {
		return nil
	}
	part := q.Value.DivRound(decimal.NewFromInt(int64(n)), 6)
	parts := make([]Quantity, n)
	for i := range parts {
		parts[i] = Quantity{Value: part, Unit: q.Unit}
	}
	parts[0].Value = q.Value.Sub(part.Mul(decimal.NewFromInt(int64(n - 1))))
	return parts
}
