package domain

// FieldType enumerates template field value types.
type FieldType string

// Supported field types.
const (
	FieldString FieldType = "STRING"
	FieldText   FieldType = "TEXT"
	FieldNumber FieldType = "NUMBER"
	FieldDate   FieldType = "DATE"
	FieldTime   FieldType = "TIME"
	FieldURI    FieldType = "URI"
	// FieldRadio holds a single value from an option set.
	FieldRadio FieldType = "RADIO"
	// FieldChoice holds a subset of an option set.
	FieldChoice FieldType = "CHOICE"
)

// Valid reports whether the field type is known.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldText, FieldNumber, FieldDate, FieldTime, FieldURI, FieldRadio, FieldChoice:
		return true
	}
	return false
}

// Enumerated reports whether the type selects from an option set.
func (t FieldType) Enumerated() bool {
	return t == FieldRadio || t == FieldChoice
}

// FieldDefinition describes one field of a template schema.
type FieldDefinition struct {
	Name           string    `json:"name"`
	Type           FieldType `json:"type"`
	Options        []string  `json:"options,omitempty"`
	DefaultValue   string    `json:"default_value,omitempty"`
	DefaultOptions []string  `json:"default_options,omitempty"`
	Mandatory      bool      `json:"mandatory,omitempty"`
}

// HasOption reports whether value is one of the definition's options.
func (d FieldDefinition) HasOption(value string) bool {
	for _, opt := range d.Options {
		if opt == value {
			return true
		}
	}
	return false
}

// Field is a value held by a sample for one of its field definitions.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Value    string    `json:"value,omitempty"`
	Selected []string  `json:"selected,omitempty"`
}

// IsEmpty reports whether the field carries no value.
func (f Field) IsEmpty() bool {
	return f.Value == "" && len(f.Selected) == 0
}

// DefaultField builds a field populated with the definition's defaults.
func (d FieldDefinition) DefaultField() Field {
	f := Field{Name: d.Name, Type: d.Type}
	if d.Type.Enumerated() {
		f.Selected = append([]string(nil), d.DefaultOptions...)
		return f
	}
	f.Value = d.DefaultValue
	return f
}

// CloneFieldDefinitions deep-copies a definition list.
func CloneFieldDefinitions(defs []FieldDefinition) []FieldDefinition {
	if defs == nil {
		return nil
	}
	out := make([]FieldDefinition, len(defs))
	for i, d := range defs {
		out[i] = d
		out[i].Options = append([]string(nil), d.Options...)
		out[i].DefaultOptions = append([]string(nil), d.DefaultOptions...)
	}
	return out
}

// CloneFields deep-copies a field list.
func CloneFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = f
		out[i].Selected = append([]string(nil), f.Selected...)
	}
	return out
}

// FindFieldDefinition returns the definition named name.
func FindFieldDefinition(defs []FieldDefinition, name string) (FieldDefinition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return FieldDefinition{}, false
}
