package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Global id prefixes per record type.
const (
	PrefixContainer = "IC"
	PrefixSample    = "SA"
	PrefixSubSample = "SS"
	PrefixTemplate  = "IT"
)

var prefixes = map[RecordType]string{
	RecordContainer: PrefixContainer,
	RecordSample:    PrefixSample,
	RecordSubSample: PrefixSubSample,
	RecordTemplate:  PrefixTemplate,
}

// GlobalID is the stable, type-prefixed identifier of a record. Templates may
// carry a version suffix ("IT12v3").
type GlobalID struct {
	Type    RecordType
	ID      int64
	Version int
}

// NewGlobalID builds an unversioned global id.
func NewGlobalID(t RecordType, id int64) GlobalID {
	return GlobalID{Type: t, ID: id}
}

// String renders the id, e.g. "SS42" or "IT7v2".
func (g GlobalID) String() string {
	prefix, ok := prefixes[g.Type]
	if !ok {
		return ""
	}
	s := prefix + strconv.FormatInt(g.ID, 10)
	if g.Version > 0 {
		s += "v" + strconv.Itoa(g.Version)
	}
	return s
}

// IsZero reports whether the id is unset.
func (g GlobalID) IsZero() bool { return g.ID == 0 }

// MarshalJSON encodes the id as its string form.
func (g GlobalID) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

// UnmarshalJSON decodes the string form.
func (g *GlobalID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseGlobalID(raw)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// ParseGlobalID parses a global id string.
func ParseGlobalID(raw string) (GlobalID, error) {
	raw = strings.TrimSpace(strings.ToUpper(raw))
	if len(raw) < 3 {
		return GlobalID{}, fmt.Errorf("invalid global id %q", raw)
	}
	var recordType RecordType
	for t, prefix := range prefixes {
		if strings.HasPrefix(raw, prefix) {
			recordType = t
			break
		}
	}
	if recordType == "" {
		return GlobalID{}, fmt.Errorf("unknown global id prefix in %q", raw)
	}
	body := raw[2:]
	version := 0
	if idx := strings.IndexByte(body, 'V'); idx >= 0 {
		if recordType != RecordTemplate {
			return GlobalID{}, fmt.Errorf("version suffix only allowed on templates: %q", raw)
		}
		v, err := strconv.Atoi(body[idx+1:])
		if err != nil || v < 1 {
			return GlobalID{}, fmt.Errorf("invalid template version in %q", raw)
		}
		version = v
		body = body[:idx]
	}
	id, err := strconv.ParseInt(body, 10, 64)
	if err != nil || id < 1 {
		return GlobalID{}, fmt.Errorf("invalid numeric id in %q", raw)
	}
	return GlobalID{Type: recordType, ID: id, Version: version}, nil
}
