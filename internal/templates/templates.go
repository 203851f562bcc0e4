// Package templates manages versioned sample templates and the samples
// instantiated from them.
package templates

import (
	"context"
	"fmt"

	"inventorycore/pkg/domain"
)

// LockChecker reports whether actor may edit a record that others could hold
// an edit lock on.
type LockChecker interface {
	CheckEditable(ctx context.Context, id domain.GlobalID, actor string) error
}

// Manager applies template changes inside a unit of work.
type Manager struct {
	perms domain.Permissions
	locks LockChecker
}

// NewManager builds a manager. A nil locks skips edit lock checks.
func NewManager(perms domain.Permissions, locks LockChecker) *Manager {
	if perms == nil {
		perms = domain.AllowAll{}
	}
	return &Manager{perms: perms, locks: locks}
}

// Change describes an edit to a template. Name, Description and DefaultUnit
// are cosmetic; Add, Remove and Redefine change the schema and produce a new
// version.
type Change struct {
	Name        *string                  `json:"name,omitempty"`
	Description *string                  `json:"description,omitempty"`
	DefaultUnit *domain.Unit             `json:"default_unit,omitempty"`
	Add         []domain.FieldDefinition `json:"add,omitempty"`
	Remove      []string                 `json:"remove,omitempty"`
	Redefine    []domain.FieldDefinition `json:"redefine,omitempty"`
}

// Structural reports whether the change edits the field list.
func (c Change) Structural() bool {
	return len(c.Add) > 0 || len(c.Remove) > 0 || len(c.Redefine) > 0
}

// CreateTemplate stores a new template at version 1.
func (m *Manager) CreateTemplate(_ context.Context, tx domain.Transaction, actor string, t domain.Template) (domain.Template, error) {
	t.ID = 0
	t.Version = 1
	t.History = nil
	t.Deleted = false
	t.DeletedAt = nil
	if t.Owner == "" {
		t.Owner = actor
	}
	if err := domain.ValidateTemplate(t); err != nil {
		return domain.Template{}, err
	}
	created, err := tx.CreateTemplate(t)
	if err != nil {
		return domain.Template{}, err
	}
	now := tx.Now()
	return tx.UpdateTemplate(created.ID, func(tmpl *domain.Template) error {
		tmpl.History = []domain.TemplateVersion{{
			TemplateID:       tmpl.ID,
			Version:          tmpl.Version,
			FieldDefinitions: domain.CloneFieldDefinitions(tmpl.FieldDefinitions),
			CreatedAt:        now,
		}}
		return nil
	})
}

func (m *Manager) requireWrite(ctx context.Context, view domain.TransactionView, actor string, id domain.GlobalID) error {
	if _, ok := domain.OwnerOf(view, id); !ok || !m.perms.CanWrite(ctx, view, actor, id) {
		return domain.NotFoundError{ID: id}
	}
	return nil
}

func (m *Manager) checkLock(ctx context.Context, id domain.GlobalID, actor string) error {
	if m.locks == nil {
		return nil
	}
	return m.locks.CheckEditable(ctx, id, actor)
}

// UpdateTemplate applies change. A schema change increments the version and
// appends the new schema to the history; earlier versions stay untouched.
func (m *Manager) UpdateTemplate(ctx context.Context, tx domain.Transaction, actor string, id int64, change Change) (domain.Template, error) {
	gid := domain.NewGlobalID(domain.RecordTemplate, id)
	if err := m.requireWrite(ctx, tx, actor, gid); err != nil {
		return domain.Template{}, err
	}
	if err := m.checkLock(ctx, gid, actor); err != nil {
		return domain.Template{}, err
	}
	current, _ := tx.FindTemplate(id)
	if current.Deleted {
		return domain.Template{}, fmt.Errorf("%s: %w", gid, domain.ErrDeleted)
	}
	defs, err := applyChange(current.FieldDefinitions, change)
	if err != nil {
		return domain.Template{}, err
	}
	next := current
	next.FieldDefinitions = defs
	if change.Name != nil {
		next.Name = *change.Name
	}
	if change.Description != nil {
		next.Description = *change.Description
	}
	if change.DefaultUnit != nil {
		next.DefaultUnit = *change.DefaultUnit
	}
	if err := domain.ValidateTemplate(next); err != nil {
		return domain.Template{}, err
	}
	now := tx.Now()
	return tx.UpdateTemplate(id, func(t *domain.Template) error {
		t.Name = next.Name
		t.Description = next.Description
		t.DefaultUnit = next.DefaultUnit
		if !change.Structural() {
			return nil
		}
		t.FieldDefinitions = defs
		t.Version++
		t.History = append(t.History, domain.TemplateVersion{
			TemplateID:       t.ID,
			Version:          t.Version,
			FieldDefinitions: domain.CloneFieldDefinitions(defs),
			CreatedAt:        now,
		})
		return nil
	})
}

func applyChange(defs []domain.FieldDefinition, change Change) ([]domain.FieldDefinition, error) {
	out := domain.CloneFieldDefinitions(defs)
	var verr domain.ValidationError
	for _, name := range change.Remove {
		idx := indexOf(out, name)
		if idx < 0 {
			verr.Add("cannot remove unknown field %q", name)
			continue
		}
		out = append(out[:idx], out[idx+1:]...)
	}
	for _, def := range change.Redefine {
		idx := indexOf(out, def.Name)
		if idx < 0 {
			verr.Add("cannot redefine unknown field %q", def.Name)
			continue
		}
		out[idx] = domain.CloneFieldDefinitions([]domain.FieldDefinition{def})[0]
	}
	for _, def := range change.Add {
		if indexOf(out, def.Name) >= 0 {
			verr.Add("field %q already exists", def.Name)
			continue
		}
		out = append(out, domain.CloneFieldDefinitions([]domain.FieldDefinition{def})[0])
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func indexOf(defs []domain.FieldDefinition, name string) int {
	for i, d := range defs {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// Version returns a read-only snapshot of one template version.
func Version(view domain.TransactionView, id int64, version int) (domain.TemplateVersion, error) {
	missing := domain.NotFoundError{ID: domain.GlobalID{Type: domain.RecordTemplate, ID: id, Version: version}}
	t, ok := view.FindTemplate(id)
	if !ok {
		return domain.TemplateVersion{}, missing
	}
	for _, v := range t.History {
		if v.Version == version {
			v.FieldDefinitions = domain.CloneFieldDefinitions(v.FieldDefinitions)
			return v, nil
		}
	}
	if version == t.Version {
		return domain.TemplateVersion{TemplateID: t.ID, Version: t.Version, FieldDefinitions: domain.CloneFieldDefinitions(t.FieldDefinitions), CreatedAt: t.UpdatedAt}, nil
	}
	return domain.TemplateVersion{}, missing
}

// Instantiate prepares sample as an instance of its template's latest
// version. Provided field values are kept, missing ones take the template
// defaults, and the schema is copied onto the sample so later template edits
// do not change it. The sample is returned unsaved.
func (m *Manager) Instantiate(ctx context.Context, view domain.TransactionView, actor string, sample domain.Sample) (domain.Sample, error) {
	if sample.TemplateID == nil {
		return sample, nil
	}
	gid := domain.NewGlobalID(domain.RecordTemplate, *sample.TemplateID)
	t, ok := view.FindTemplate(*sample.TemplateID)
	if !ok || !m.perms.CanRead(ctx, view, actor, gid) {
		return domain.Sample{}, domain.NotFoundError{ID: gid}
	}
	if t.Deleted {
		return domain.Sample{}, fmt.Errorf("%s: %w", gid, domain.ErrDeleted)
	}
	provided := make(map[string]domain.Field, len(sample.Fields))
	for _, f := range sample.Fields {
		if _, ok := domain.FindFieldDefinition(t.FieldDefinitions, f.Name); !ok {
			return domain.Sample{}, domain.InvalidFieldValueError{Field: f.Name, Value: f.Value, Reason: "is not defined by the template"}
		}
		provided[f.Name] = f
	}
	fields := make([]domain.Field, 0, len(t.FieldDefinitions))
	for _, def := range t.FieldDefinitions {
		fields = append(fields, conform(provided[def.Name], def))
	}
	if err := ValidateAgainstTemplate(fields, t.FieldDefinitions); err != nil {
		return domain.Sample{}, err
	}
	sample.TemplateVersion = t.Version
	sample.FieldDefinitions = domain.CloneFieldDefinitions(t.FieldDefinitions)
	sample.Fields = fields
	if sample.Quantity.Unit == "" && t.DefaultUnit != "" {
		sample.Quantity = domain.ZeroQuantity(t.DefaultUnit)
	}
	return sample, nil
}

// MigrateSample moves a sample to the latest version of its template. Fields
// removed upstream are dropped and new fields get their defaults. Nothing is
// written when any kept value fails the new definitions.
func (m *Manager) MigrateSample(ctx context.Context, tx domain.Transaction, actor string, sampleID int64) (domain.Sample, error) {
	gid := domain.NewGlobalID(domain.RecordSample, sampleID)
	if err := m.requireWrite(ctx, tx, actor, gid); err != nil {
		return domain.Sample{}, err
	}
	if err := m.checkLock(ctx, gid, actor); err != nil {
		return domain.Sample{}, err
	}
	sample, _ := tx.FindSample(sampleID)
	if sample.Deleted {
		return domain.Sample{}, fmt.Errorf("%s: %w", gid, domain.ErrDeleted)
	}
	if sample.TemplateID == nil {
		return domain.Sample{}, domain.ValidationError{Messages: []string{fmt.Sprintf("%s was not created from a template", gid)}}
	}
	tid := domain.NewGlobalID(domain.RecordTemplate, *sample.TemplateID)
	t, ok := tx.FindTemplate(*sample.TemplateID)
	if !ok || !m.perms.CanRead(ctx, tx, actor, tid) {
		return domain.Sample{}, domain.NotFoundError{ID: tid}
	}
	if sample.TemplateVersion == t.Version {
		return sample, nil
	}
	fields, err := Migrate(sample.Fields, t.FieldDefinitions)
	if err != nil {
		return domain.Sample{}, err
	}
	return tx.UpdateSample(sampleID, func(s *domain.Sample) error {
		s.Fields = fields
		s.FieldDefinitions = domain.CloneFieldDefinitions(t.FieldDefinitions)
		s.TemplateVersion = t.Version
		return nil
	})
}

// Migrate maps existing fields onto defs and validates the result.
func Migrate(fields []domain.Field, defs []domain.FieldDefinition) ([]domain.Field, error) {
	existing := make(map[string]domain.Field, len(fields))
	for _, f := range fields {
		existing[f.Name] = f
	}
	out := make([]domain.Field, 0, len(defs))
	for _, def := range defs {
		f, ok := existing[def.Name]
		if !ok {
			out = append(out, def.DefaultField())
			continue
		}
		next := conform(f, def)
		if !next.IsEmpty() {
			if err := ValidateField(next, def); err != nil {
				return nil, err
			}
		}
		out = append(out, next)
	}
	if err := ValidateAgainstTemplate(out, defs); err != nil {
		return nil, err
	}
	return out, nil
}

// OutdatedSamples lists the live samples of a template pinned to an older
// version.
func OutdatedSamples(view domain.TransactionView, templateID int64) []domain.Sample {
	t, ok := view.FindTemplate(templateID)
	if !ok {
		return nil
	}
	var out []domain.Sample
	for _, s := range view.ListSamples() {
		if s.Deleted || s.TemplateID == nil || *s.TemplateID != templateID {
			continue
		}
		if s.TemplateVersion < t.Version {
			out = append(out, s)
		}
	}
	return out
}
