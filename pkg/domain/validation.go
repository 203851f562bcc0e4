package domain

import "strings"

// ValidateContainer checks the structural invariants of a container definition.
func ValidateContainer(c Container) error {
	var verr ValidationError
	if strings.TrimSpace(c.Name) == "" {
		verr.Add("container name is required")
	}
	if !c.Type.Valid() {
		verr.Add("unknown container type %q", c.Type)
	}
	if !c.CanStoreSamples && !c.CanStoreContainers {
		verr.Add("container must accept subsamples, containers or both")
	}
	if c.Type == ContainerGrid {
		if c.Grid == nil {
			verr.Add("grid container requires a layout")
		} else {
			validateGridLayout(*c.Grid, &verr)
		}
	} else if c.Grid != nil {
		verr.Add("only grid containers carry a grid layout")
	}
	return verr.Err()
}

func validateGridLayout(g GridLayout, verr *ValidationError) {
	if g.Columns < MinGridDimension || g.Columns > MaxGridDimension {
		verr.Add("grid columns %d outside [%d,%d]", g.Columns, MinGridDimension, MaxGridDimension)
	}
	if g.Rows < MinGridDimension || g.Rows > MaxGridDimension {
		verr.Add("grid rows %d outside [%d,%d]", g.Rows, MinGridDimension, MaxGridDimension)
	}
	for _, label := range []AxisLabel{g.ColumnLabel, g.RowLabel} {
		if label != "" && label != AxisAlpha && label != AxisNumeric {
			verr.Add("unknown axis label %q", label)
		}
	}
}

// ValidateSample checks name, storage temperatures and field definitions.
func ValidateSample(s Sample) error {
	var verr ValidationError
	if strings.TrimSpace(s.Name) == "" {
		verr.Add("sample name is required")
	}
	validateStorageTemperatures(s.StorageTempMin, s.StorageTempMax, &verr)
	validateFieldDefinitions(s.FieldDefinitions, &verr)
	return verr.Err()
}

// ValidateStorageTemperatures checks an optional storage temperature range.
func ValidateStorageTemperatures(lo, hi *Quantity) error {
	var verr ValidationError
	validateStorageTemperatures(lo, hi, &verr)
	return verr.Err()
}

func validateStorageTemperatures(lo, hi *Quantity, verr *ValidationError) {
	validateTemperature("storage_temp_min", lo, verr)
	validateTemperature("storage_temp_max", hi, verr)
	if lo != nil && hi != nil {
		kLo, errLo := lo.Kelvin()
		kHi, errHi := hi.Kelvin()
		if errLo == nil && errHi == nil && kLo.GreaterThan(kHi) {
			verr.Add("storage_temp_min exceeds storage_temp_max")
		}
	}
}

func validateTemperature(name string, q *Quantity, verr *ValidationError) {
	if q == nil {
		return
	}
	if q.Unit.Category() != CategoryTemperature {
		verr.Add("%s must use a temperature unit, got %q", name, q.Unit)
		return
	}
	if !q.AboveAbsoluteZero() {
		verr.Add("%s %s is not above absolute zero", name, q)
	}
}

// ValidateSubSampleQuantity checks the subsample amount uses a non-temperature
// unit and is not negative.
func ValidateSubSampleQuantity(q Quantity) error {
	var verr ValidationError
	if !q.Unit.Valid() {
		verr.Add("unknown quantity unit %q", q.Unit)
	} else if q.Unit.Category() == CategoryTemperature {
		verr.Add("quantity cannot use temperature unit %q", q.Unit)
	}
	if q.Value.IsNegative() {
		verr.Add("quantity %s is negative", q)
	}
	return verr.Err()
}

// ValidateTemplate checks a template's name and field definitions.
func ValidateTemplate(t Template) error {
	var verr ValidationError
	if strings.TrimSpace(t.Name) == "" {
		verr.Add("template name is required")
	}
	if t.DefaultUnit != "" && !t.DefaultUnit.Valid() {
		verr.Add("unknown default unit %q", t.DefaultUnit)
	}
	validateFieldDefinitions(t.FieldDefinitions, &verr)
	return verr.Err()
}

// ValidateFieldDefinitions checks definitions for duplicates, known types and
// consistent options.
func ValidateFieldDefinitions(defs []FieldDefinition) error {
	var verr ValidationError
	validateFieldDefinitions(defs, &verr)
	return verr.Err()
}

func validateFieldDefinitions(defs []FieldDefinition, verr *ValidationError) {
	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			verr.Add("field definition name is required")
			continue
		}
		if _, dup := seen[name]; dup {
			verr.Add("duplicate field definition %q", name)
		}
		seen[name] = struct{}{}
		if !d.Type.Valid() {
			verr.Add("field %q has unknown type %q", name, d.Type)
			continue
		}
		if d.Type.Enumerated() {
			if len(d.Options) == 0 {
				verr.Add("field %q requires options", name)
			}
			for _, opt := range d.DefaultOptions {
				if !d.HasOption(opt) {
					verr.Add("field %q default option %q is not an option", name, opt)
				}
			}
			if d.Type == FieldRadio && len(d.DefaultOptions) > 1 {
				verr.Add("field %q is single-choice but has %d default options", name, len(d.DefaultOptions))
			}
		} else if len(d.Options) > 0 {
			verr.Add("field %q of type %s cannot carry options", name, d.Type)
		}
	}
}
