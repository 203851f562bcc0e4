package bulk

import (
	"context"
	"fmt"
	"strings"

	"inventorycore/internal/placement"
	"inventorycore/internal/templates"
	"inventorycore/pkg/domain"
)

// CopySuffix is appended to the names of duplicated records.
const CopySuffix = "_COPY"

// Operations applies single record operations inside a transaction. It is
// shared by the bulk executor and the single-item service API.
type Operations struct {
	perms     domain.Permissions
	placement *placement.Engine
	templates *templates.Manager
	locks     templates.LockChecker
}

// NewOperations wires the placement engine and template manager around one
// permission policy. A nil locks skips edit lock checks.
func NewOperations(perms domain.Permissions, locks templates.LockChecker) *Operations {
	if perms == nil {
		perms = domain.AllowAll{}
	}
	return &Operations{
		perms:     perms,
		placement: placement.NewEngine(perms, placement.WithLockChecker(locks)),
		templates: templates.NewManager(perms, locks),
		locks:     locks,
	}
}

// Placement returns the placement engine.
func (o *Operations) Placement() *placement.Engine { return o.placement }

// Templates returns the template manager.
func (o *Operations) Templates() *templates.Manager { return o.templates }

// Permissions returns the permission policy.
func (o *Operations) Permissions() domain.Permissions { return o.perms }

func (o *Operations) checkLock(ctx context.Context, id domain.GlobalID, actor string) error {
	if o.locks == nil {
		return nil
	}
	return o.locks.CheckEditable(ctx, id, actor)
}

func (o *Operations) requireWrite(ctx context.Context, view domain.TransactionView, actor string, id domain.GlobalID) error {
	if _, ok := domain.OwnerOf(view, id); !ok || !o.perms.CanWrite(ctx, view, actor, id) {
		return domain.NotFoundError{ID: id}
	}
	return nil
}

func (o *Operations) requireRead(ctx context.Context, view domain.TransactionView, actor string, id domain.GlobalID) error {
	if _, ok := domain.OwnerOf(view, id); !ok || !o.perms.CanRead(ctx, view, actor, id) {
		return domain.NotFoundError{ID: id}
	}
	return nil
}

// Apply runs one operation and returns the id of the affected record.
func (o *Operations) Apply(ctx context.Context, tx domain.Transaction, actor string, op OperationType, rec Record) (domain.GlobalID, error) {
	if op == OpCreate {
		return o.create(ctx, tx, actor, rec)
	}
	if rec.ID == nil {
		return domain.GlobalID{}, domain.ValidationError{Messages: []string{fmt.Sprintf("id is required for %s", op)}}
	}
	id := *rec.ID
	if err := o.checkLock(ctx, id, actor); err != nil {
		return id, err
	}
	switch op {
	case OpUpdate:
		return id, o.update(ctx, tx, actor, id, rec)
	case OpDelete:
		return id, o.placement.Delete(ctx, tx, actor, id, rec.Force)
	case OpRestore:
		return id, o.placement.Restore(ctx, tx, actor, id)
	case OpChangeOwner:
		return id, o.placement.ChangeOwner(ctx, tx, actor, id, strings.TrimSpace(rec.Owner))
	case OpMove:
		if rec.Target == nil {
			return id, domain.ValidationError{Messages: []string{"target is required for MOVE"}}
		}
		_, err := o.placement.Move(ctx, tx, actor, domain.ItemRef{Type: id.Type, ID: id.ID}, *rec.Target)
		return id, err
	case OpDuplicate:
		return o.duplicate(ctx, tx, actor, id)
	case OpSplit:
		return id, o.split(ctx, tx, actor, id, rec.Parts)
	case OpUpdateToLatestTemplate:
		_, err := o.templates.MigrateSample(ctx, tx, actor, id.ID)
		return id, err
	}
	return id, domain.ValidationError{Messages: []string{fmt.Sprintf("unsupported operation %q", op)}}
}

// Load returns the current representation of id, or nil when it is gone.
func Load(view domain.TransactionView, id domain.GlobalID) any {
	switch id.Type {
	case domain.RecordContainer:
		if c, ok := view.FindContainer(id.ID); ok {
			return c
		}
	case domain.RecordSample:
		if s, ok := view.FindSample(id.ID); ok {
			return s
		}
	case domain.RecordSubSample:
		if s, ok := view.FindSubSample(id.ID); ok {
			return s
		}
	case domain.RecordTemplate:
		if t, ok := view.FindTemplate(id.ID); ok {
			return t
		}
	}
	return nil
}

func recordFrom(rec Record) domain.Record {
	out := domain.Record{
		Name:        strings.TrimSpace(rec.Name),
		Description: rec.Description,
	}
	if len(rec.Tags) > 0 {
		out.Tags = append([]string(nil), rec.Tags...)
	}
	if len(rec.ExtraFields) > 0 {
		out.ExtraFields = append([]domain.ExtraField(nil), rec.ExtraFields...)
	}
	return out
}

// applyRecord overlays the common attributes present in rec.
func applyRecord(r *domain.Record, rec Record) {
	if name := strings.TrimSpace(rec.Name); name != "" {
		r.Name = name
	}
	if rec.Description != "" {
		r.Description = rec.Description
	}
	if rec.Tags != nil {
		r.Tags = append([]string(nil), rec.Tags...)
	}
	if rec.ExtraFields != nil {
		r.ExtraFields = append([]domain.ExtraField(nil), rec.ExtraFields...)
	}
}

func buildContainer(rec Record) domain.Container {
	c := domain.Container{
		Record:             recordFrom(rec),
		Type:               domain.ContainerList,
		CanStoreSamples:    true,
		CanStoreContainers: true,
	}
	f := rec.Container
	if f == nil {
		return c
	}
	if f.Type != "" {
		c.Type = f.Type
	}
	if f.Grid != nil {
		g := *f.Grid
		c.Grid = &g
	}
	if f.CanStoreSamples != nil {
		c.CanStoreSamples = *f.CanStoreSamples
	}
	if f.CanStoreContainers != nil {
		c.CanStoreContainers = *f.CanStoreContainers
	}
	return c
}

func buildSample(rec Record) domain.Sample {
	s := domain.Sample{Record: recordFrom(rec)}
	f := rec.Sample
	if f == nil {
		return s
	}
	if f.TemplateID != nil {
		id := f.TemplateID.ID
		s.TemplateID = &id
	}
	s.Fields = domain.CloneFields(f.Fields)
	s.FieldDefinitions = domain.CloneFieldDefinitions(f.Definitions)
	if f.Quantity != nil {
		s.Quantity = domain.ZeroQuantity(f.Quantity.Unit)
	}
	if f.StorageTempMin != nil {
		q := *f.StorageTempMin
		s.StorageTempMin = &q
	}
	if f.StorageTempMax != nil {
		q := *f.StorageTempMax
		s.StorageTempMax = &q
	}
	if f.ExpiryDate != nil {
		d := *f.ExpiryDate
		s.ExpiryDate = &d
	}
	s.SubSampleAlias = f.SubSampleAlias
	return s
}

func buildTemplate(rec Record) domain.Template {
	t := domain.Template{Record: recordFrom(rec)}
	if rec.Template != nil {
		t.FieldDefinitions = domain.CloneFieldDefinitions(rec.Template.FieldDefinitions)
		t.DefaultUnit = rec.Template.DefaultUnit
	}
	return t
}

func (o *Operations) create(ctx context.Context, tx domain.Transaction, actor string, rec Record) (domain.GlobalID, error) {
	switch rec.Type {
	case domain.RecordContainer:
		return o.createContainer(ctx, tx, actor, rec)
	case domain.RecordSample:
		return o.createSample(ctx, tx, actor, rec)
	case domain.RecordSubSample:
		return o.createSubSample(ctx, tx, actor, rec)
	case domain.RecordTemplate:
		t := buildTemplate(rec)
		t.Owner = actor
		created, err := o.templates.CreateTemplate(ctx, tx, actor, t)
		if err != nil {
			return domain.GlobalID{}, err
		}
		return created.GlobalID(), nil
	}
	return domain.GlobalID{}, domain.ValidationError{Messages: []string{fmt.Sprintf("unknown record type %q", rec.Type)}}
}

func (o *Operations) createContainer(ctx context.Context, tx domain.Transaction, actor string, rec Record) (domain.GlobalID, error) {
	c := buildContainer(rec)
	c.Owner = actor
	if err := domain.ValidateContainer(c); err != nil {
		return domain.GlobalID{}, err
	}
	if c.Type == domain.ContainerWorkbench {
		return domain.GlobalID{}, domain.ValidationError{Messages: []string{"workbenches are created automatically"}}
	}
	created, err := tx.CreateContainer(c)
	if err != nil {
		return domain.GlobalID{}, err
	}
	if c.Type == domain.ContainerImage && rec.Container != nil {
		for _, pos := range rec.Container.Locations {
			if _, err := tx.CreateLocation(domain.Location{
				ContainerID: created.ID,
				CoordX:      pos.X,
				CoordY:      pos.Y,
				Predefined:  true,
			}); err != nil {
				return created.GlobalID(), err
			}
		}
	}
	if _, err := o.placement.PlaceNew(ctx, tx, actor, created.Ref(), rec.Target); err != nil {
		return created.GlobalID(), err
	}
	return created.GlobalID(), nil
}

// createSample stores the sample and splits its quantity across the
// requested number of subsamples, each placed at the record target or on the
// actor's workbench.
func (o *Operations) createSample(ctx context.Context, tx domain.Transaction, actor string, rec Record) (domain.GlobalID, error) {
	s := buildSample(rec)
	s.Owner = actor
	if s.TemplateID != nil {
		if len(s.FieldDefinitions) > 0 {
			return domain.GlobalID{}, domain.ValidationError{Messages: []string{"field definitions come from the template"}}
		}
		var err error
		if s, err = o.templates.Instantiate(ctx, tx, actor, s); err != nil {
			return domain.GlobalID{}, err
		}
	} else if err := templates.ValidateAgainstTemplate(s.Fields, s.FieldDefinitions); err != nil {
		return domain.GlobalID{}, err
	}
	if err := domain.ValidateSample(s); err != nil {
		return domain.GlobalID{}, err
	}

	total := domain.NewQuantity(1, domain.UnitItems)
	if s.Quantity.Unit != "" {
		total = domain.ZeroQuantity(s.Quantity.Unit)
	}
	count := 1
	if rec.Sample != nil {
		if rec.Sample.Quantity != nil {
			total = *rec.Sample.Quantity
		}
		if rec.Sample.SubSampleCount > 0 {
			count = rec.Sample.SubSampleCount
		}
	}
	if err := domain.ValidateSubSampleQuantity(total); err != nil {
		return domain.GlobalID{}, err
	}
	s.Quantity = domain.ZeroQuantity(total.Unit)

	created, err := tx.CreateSample(s)
	if err != nil {
		return domain.GlobalID{}, err
	}
	for _, part := range total.Split(count) {
		sub, err := tx.CreateSubSample(domain.SubSample{
			Record:   domain.Record{Name: created.Name, Owner: actor},
			SampleID: created.ID,
			Quantity: part,
		})
		if err != nil {
			return created.GlobalID(), err
		}
		if _, err := o.placement.PlaceNew(ctx, tx, actor, sub.Ref(), rec.Target); err != nil {
			return created.GlobalID(), err
		}
	}
	return created.GlobalID(), nil
}

func (o *Operations) createSubSample(ctx context.Context, tx domain.Transaction, actor string, rec Record) (domain.GlobalID, error) {
	if rec.SubSample == nil || rec.SubSample.SampleID == nil {
		return domain.GlobalID{}, domain.ValidationError{Messages: []string{"sample id is required to create a subsample"}}
	}
	sid := *rec.SubSample.SampleID
	if err := o.requireWrite(ctx, tx, actor, sid); err != nil {
		return domain.GlobalID{}, err
	}
	if err := o.checkLock(ctx, sid, actor); err != nil {
		return domain.GlobalID{}, err
	}
	sample, _ := tx.FindSample(sid.ID)
	if sample.Deleted {
		return domain.GlobalID{}, fmt.Errorf("%s: %w", sid, domain.ErrDeleted)
	}
	sub := domain.SubSample{Record: recordFrom(rec), SampleID: sample.ID}
	sub.Owner = sample.Owner
	if sub.Name == "" {
		sub.Name = sample.Name
	}
	sub.Quantity = domain.ZeroQuantity(sample.Quantity.Unit)
	if rec.SubSample.Quantity != nil {
		sub.Quantity = *rec.SubSample.Quantity
	}
	if err := checkUnit(sample, sub.Quantity); err != nil {
		return domain.GlobalID{}, err
	}
	if note := strings.TrimSpace(rec.SubSample.Note); note != "" {
		sub.Notes = []domain.Note{{Author: actor, Content: note, CreatedAt: tx.Now()}}
	}
	created, err := tx.CreateSubSample(sub)
	if err != nil {
		return domain.GlobalID{}, err
	}
	if _, err := o.placement.PlaceNew(ctx, tx, actor, created.Ref(), rec.Target); err != nil {
		return created.GlobalID(), err
	}
	return created.GlobalID(), nil
}

// checkUnit rejects subsample amounts that cannot be summed into the sample total.
func checkUnit(sample domain.Sample, q domain.Quantity) error {
	if err := domain.ValidateSubSampleQuantity(q); err != nil {
		return err
	}
	if sample.Quantity.Unit != "" && sample.Quantity.Unit.Category() != q.Unit.Category() {
		return domain.ValidationError{Messages: []string{fmt.Sprintf("unit %s does not match sample unit %s", q.Unit, sample.Quantity.Unit)}}
	}
	return nil
}

func (o *Operations) update(ctx context.Context, tx domain.Transaction, actor string, id domain.GlobalID, rec Record) error {
	if id.Type == domain.RecordTemplate {
		return o.updateTemplate(ctx, tx, actor, id, rec)
	}
	if err := o.requireWrite(ctx, tx, actor, id); err != nil {
		return err
	}
	switch id.Type {
	case domain.RecordContainer:
		return o.updateContainer(tx, id, rec)
	case domain.RecordSample:
		return o.updateSample(tx, id, rec)
	case domain.RecordSubSample:
		return o.updateSubSample(tx, actor, id, rec)
	}
	return domain.NotFoundError{ID: id}
}

func (o *Operations) updateContainer(tx domain.Transaction, id domain.GlobalID, rec Record) error {
	_, err := tx.UpdateContainer(id.ID, func(c *domain.Container) error {
		if c.Deleted {
			return fmt.Errorf("%s: %w", id, domain.ErrDeleted)
		}
		if c.Type == domain.ContainerWorkbench {
			return domain.ErrWorkbenchImmutable
		}
		applyRecord(&c.Record, rec)
		if f := rec.Container; f != nil {
			if f.CanStoreSamples != nil {
				c.CanStoreSamples = *f.CanStoreSamples
			}
			if f.CanStoreContainers != nil {
				c.CanStoreContainers = *f.CanStoreContainers
			}
		}
		for _, ref := range tx.ContainerContents(id.ID) {
			if !c.Accepts(ref.Type) {
				return domain.ValidationError{Messages: []string{fmt.Sprintf("%s still holds %s", id, ref.GlobalID())}}
			}
		}
		return domain.ValidateContainer(*c)
	})
	return err
}

func (o *Operations) updateSample(tx domain.Transaction, id domain.GlobalID, rec Record) error {
	_, err := tx.UpdateSample(id.ID, func(s *domain.Sample) error {
		if s.Deleted {
			return fmt.Errorf("%s: %w", id, domain.ErrDeleted)
		}
		applyRecord(&s.Record, rec)
		if f := rec.Sample; f != nil {
			if len(f.Fields) > 0 {
				merged, err := templates.MergeFields(s.Fields, f.Fields, s.FieldDefinitions)
				if err != nil {
					return err
				}
				s.Fields = merged
			}
			if f.StorageTempMin != nil {
				q := *f.StorageTempMin
				s.StorageTempMin = &q
			}
			if f.StorageTempMax != nil {
				q := *f.StorageTempMax
				s.StorageTempMax = &q
			}
			if f.ExpiryDate != nil {
				d := *f.ExpiryDate
				s.ExpiryDate = &d
			}
			if f.SubSampleAlias != "" {
				s.SubSampleAlias = f.SubSampleAlias
			}
		}
		return domain.ValidateSample(*s)
	})
	return err
}

func (o *Operations) updateSubSample(tx domain.Transaction, actor string, id domain.GlobalID, rec Record) error {
	current, _ := tx.FindSubSample(id.ID)
	sample, _ := tx.FindSample(current.SampleID)
	_, err := tx.UpdateSubSample(id.ID, func(s *domain.SubSample) error {
		if s.Deleted {
			return fmt.Errorf("%s: %w", id, domain.ErrDeleted)
		}
		applyRecord(&s.Record, rec)
		f := rec.SubSample
		if f == nil {
			return nil
		}
		if f.Quantity != nil {
			if err := checkUnit(sample, *f.Quantity); err != nil {
				return err
			}
			s.Quantity = *f.Quantity
		}
		if note := strings.TrimSpace(f.Note); note != "" {
			s.Notes = append(s.Notes, domain.Note{Author: actor, Content: note, CreatedAt: tx.Now()})
		}
		return nil
	})
	return err
}

func (o *Operations) updateTemplate(ctx context.Context, tx domain.Transaction, actor string, id domain.GlobalID, rec Record) error {
	var change templates.Change
	if rec.Template != nil {
		if rec.Template.Change != nil {
			change = *rec.Template.Change
		}
		if rec.Template.DefaultUnit != "" && change.DefaultUnit == nil {
			unit := rec.Template.DefaultUnit
			change.DefaultUnit = &unit
		}
	}
	if name := strings.TrimSpace(rec.Name); name != "" && change.Name == nil {
		change.Name = &name
	}
	if rec.Description != "" && change.Description == nil {
		desc := rec.Description
		change.Description = &desc
	}
	_, err := o.templates.UpdateTemplate(ctx, tx, actor, id.ID, change)
	return err
}

// split divides a subsample into parts of equal amount. The original keeps
// the first part; new parts share its sample and go to the same list-like
// container, or to the owner's workbench otherwise.
func (o *Operations) split(ctx context.Context, tx domain.Transaction, actor string, id domain.GlobalID, parts int) error {
	if err := o.requireWrite(ctx, tx, actor, id); err != nil {
		return err
	}
	if parts == 0 {
		parts = 2
	}
	sub, _ := tx.FindSubSample(id.ID)
	if sub.Deleted {
		return fmt.Errorf("%s: %w", id, domain.ErrDeleted)
	}
	amounts := sub.Quantity.Split(parts)
	if _, err := tx.UpdateSubSample(sub.ID, func(s *domain.SubSample) error {
		s.Quantity = amounts[0]
		return nil
	}); err != nil {
		return err
	}
	var target *placement.Target
	if sub.ParentContainerID != nil {
		if parent, ok := tx.FindContainer(*sub.ParentContainerID); ok && parent.Type.IsListLike() {
			target = &placement.Target{ContainerID: parent.ID}
		}
	}
	for _, amount := range amounts[1:] {
		part := sub
		part.ID = 0
		part.Placement = domain.Placement{}
		part.Notes = nil
		part.Record = domain.Record{
			Name:        sub.Name,
			Description: sub.Description,
			Tags:        append([]string(nil), sub.Tags...),
			Owner:       sub.Owner,
			ExtraFields: append([]domain.ExtraField(nil), sub.ExtraFields...),
		}
		part.Quantity = amount
		created, err := tx.CreateSubSample(part)
		if err != nil {
			return err
		}
		if _, err := o.placement.PlaceNew(ctx, tx, actor, created.Ref(), target); err != nil {
			return err
		}
	}
	return nil
}

// duplicate copies a record onto the actor's workbench. Container contents
// are not copied; a sample copy gets a copy of every live subsample.
func (o *Operations) duplicate(ctx context.Context, tx domain.Transaction, actor string, id domain.GlobalID) (domain.GlobalID, error) {
	if err := o.requireRead(ctx, tx, actor, id); err != nil {
		return domain.GlobalID{}, err
	}
	switch id.Type {
	case domain.RecordContainer:
		src, _ := tx.FindContainer(id.ID)
		if src.Deleted {
			return domain.GlobalID{}, fmt.Errorf("%s: %w", id, domain.ErrDeleted)
		}
		if src.Type == domain.ContainerWorkbench {
			return domain.GlobalID{}, domain.ErrWorkbenchImmutable
		}
		c := src
		c.Record = copyRecord(src.Record, actor)
		c.Placement = domain.Placement{}
		c.ContentSummary = domain.ContentSummary{}
		if src.Grid != nil {
			g := *src.Grid
			c.Grid = &g
		}
		created, err := tx.CreateContainer(c)
		if err != nil {
			return domain.GlobalID{}, err
		}
		if src.Type == domain.ContainerImage {
			for _, loc := range tx.ListLocations(src.ID) {
				if _, err := tx.CreateLocation(domain.Location{ContainerID: created.ID, CoordX: loc.CoordX, CoordY: loc.CoordY, Predefined: true}); err != nil {
					return created.GlobalID(), err
				}
			}
		}
		if _, err := o.placement.PlaceNew(ctx, tx, actor, created.Ref(), nil); err != nil {
			return created.GlobalID(), err
		}
		return created.GlobalID(), nil
	case domain.RecordSample:
		src, _ := tx.FindSample(id.ID)
		if src.Deleted {
			return domain.GlobalID{}, fmt.Errorf("%s: %w", id, domain.ErrDeleted)
		}
		s := src
		s.Record = copyRecord(src.Record, actor)
		s.Fields = domain.CloneFields(src.Fields)
		s.FieldDefinitions = domain.CloneFieldDefinitions(src.FieldDefinitions)
		s.Quantity = domain.ZeroQuantity(src.Quantity.Unit)
		created, err := tx.CreateSample(s)
		if err != nil {
			return domain.GlobalID{}, err
		}
		for _, sub := range tx.SubSamplesOf(src.ID) {
			if sub.Deleted {
				continue
			}
			if _, err := o.copySubSample(ctx, tx, actor, sub, created.ID, created.Name); err != nil {
				return created.GlobalID(), err
			}
		}
		return created.GlobalID(), nil
	case domain.RecordSubSample:
		src, _ := tx.FindSubSample(id.ID)
		if src.Deleted {
			return domain.GlobalID{}, fmt.Errorf("%s: %w", id, domain.ErrDeleted)
		}
		return o.copySubSample(ctx, tx, actor, src, src.SampleID, src.Name+CopySuffix)
	case domain.RecordTemplate:
		src, _ := tx.FindTemplate(id.ID)
		if src.Deleted {
			return domain.GlobalID{}, fmt.Errorf("%s: %w", id, domain.ErrDeleted)
		}
		t := src
		t.Record = copyRecord(src.Record, actor)
		t.FieldDefinitions = domain.CloneFieldDefinitions(src.FieldDefinitions)
		created, err := o.templates.CreateTemplate(ctx, tx, actor, t)
		if err != nil {
			return domain.GlobalID{}, err
		}
		return created.GlobalID(), nil
	}
	return domain.GlobalID{}, domain.NotFoundError{ID: id}
}

func (o *Operations) copySubSample(ctx context.Context, tx domain.Transaction, actor string, src domain.SubSample, sampleID int64, name string) (domain.GlobalID, error) {
	sub := src
	sub.Record = copyRecord(src.Record, actor)
	sub.Name = name
	sub.Placement = domain.Placement{}
	sub.SampleID = sampleID
	sub.DeletedWithSample = false
	sub.Notes = nil
	created, err := tx.CreateSubSample(sub)
	if err != nil {
		return domain.GlobalID{}, err
	}
	if _, err := o.placement.PlaceNew(ctx, tx, actor, created.Ref(), nil); err != nil {
		return created.GlobalID(), err
	}
	return created.GlobalID(), nil
}

func copyRecord(r domain.Record, owner string) domain.Record {
	return domain.Record{
		Name:        r.Name + CopySuffix,
		Description: r.Description,
		Tags:        append([]string(nil), r.Tags...),
		Owner:       owner,
		ExtraFields: append([]domain.ExtraField(nil), r.ExtraFields...),
	}
}
