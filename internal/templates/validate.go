package templates

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"inventorycore/pkg/domain"
)

// Value layouts accepted for DATE and TIME fields.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// MaxStringLength bounds STRING field values in characters; TEXT fields are
// unbounded.
const MaxStringLength = 255

// ValidateAgainstTemplate checks every field against defs and returns the
// first InvalidFieldValueError. Fields without a definition are rejected and
// mandatory definitions must be filled.
func ValidateAgainstTemplate(fields []domain.Field, defs []domain.FieldDefinition) error {
	byName := make(map[string]domain.Field, len(fields))
	for _, f := range fields {
		if _, ok := domain.FindFieldDefinition(defs, f.Name); !ok {
			return domain.InvalidFieldValueError{Field: f.Name, Value: f.Value, Reason: "is not defined by the template"}
		}
		byName[f.Name] = f
	}
	for _, def := range defs {
		f, ok := byName[def.Name]
		if !ok || f.IsEmpty() {
			if def.Mandatory {
				return domain.InvalidFieldValueError{Field: def.Name, Reason: "is mandatory"}
			}
			continue
		}
		if err := ValidateField(f, def); err != nil {
			return err
		}
	}
	return nil
}

// ValidateField checks a single non-empty value against its definition.
func ValidateField(f domain.Field, def domain.FieldDefinition) error {
	invalid := func(value, reason string) error {
		return domain.InvalidFieldValueError{Field: def.Name, Value: value, Reason: reason}
	}
	switch def.Type {
	case domain.FieldRadio:
		selected := selection(f)
		if len(selected) > 1 {
			return invalid(strings.Join(selected, ","), "accepts a single option")
		}
		for _, v := range selected {
			if !def.HasOption(v) {
				return invalid(v, "is not one of the field options")
			}
		}
	case domain.FieldChoice:
		for _, v := range selection(f) {
			if !def.HasOption(v) {
				return invalid(v, "is not one of the field options")
			}
		}
	case domain.FieldNumber:
		if _, err := decimal.NewFromString(strings.TrimSpace(f.Value)); err != nil {
			return invalid(f.Value, "is not a number")
		}
	case domain.FieldDate:
		if _, err := time.Parse(DateLayout, f.Value); err != nil {
			return invalid(f.Value, "is not a date in "+DateLayout+" format")
		}
	case domain.FieldTime:
		if _, err := time.Parse(TimeLayout, f.Value); err != nil {
			return invalid(f.Value, "is not a time in "+TimeLayout+" format")
		}
	case domain.FieldURI:
		u, err := url.ParseRequestURI(f.Value)
		if err != nil || u.Scheme == "" {
			return invalid(f.Value, "is not an absolute URI")
		}
	case domain.FieldString:
		if utf8.RuneCountInString(f.Value) > MaxStringLength {
			return invalid(string([]rune(f.Value)[:32])+"...", "exceeds the maximum string length")
		}
	}
	return nil
}

// selection returns the chosen options of an enumerated field. A plain value
// counts as a single selection.
func selection(f domain.Field) []string {
	if len(f.Selected) > 0 {
		return f.Selected
	}
	if f.Value != "" {
		return []string{f.Value}
	}
	return nil
}

// conform builds the field for def from an existing value, converting
// enumerated values into selections and filling defaults for empty values.
func conform(existing domain.Field, def domain.FieldDefinition) domain.Field {
	if existing.IsEmpty() {
		return def.DefaultField()
	}
	out := domain.Field{Name: def.Name, Type: def.Type}
	if def.Type.Enumerated() {
		out.Selected = append([]string(nil), selection(existing)...)
		return out
	}
	if existing.Value == "" && len(existing.Selected) > 0 {
		out.Value = strings.Join(existing.Selected, ",")
		return out
	}
	out.Value = existing.Value
	return out
}

// MergeFields applies updated values onto existing fields by name and
// validates the result against defs. Updates naming no definition fail.
func MergeFields(existing, updates []domain.Field, defs []domain.FieldDefinition) ([]domain.Field, error) {
	out := domain.CloneFields(existing)
	for _, u := range updates {
		def, ok := domain.FindFieldDefinition(defs, u.Name)
		if !ok {
			return nil, domain.InvalidFieldValueError{Field: u.Name, Value: u.Value, Reason: "is not defined by the template"}
		}
		next := conform(u, def)
		if u.IsEmpty() {
			next = domain.Field{Name: def.Name, Type: def.Type}
		}
		replaced := false
		for i := range out {
			if out[i].Name == u.Name {
				out[i] = next
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, next)
		}
	}
	if err := ValidateAgainstTemplate(out, defs); err != nil {
		return nil, err
	}
	return out, nil
}
