package bulk

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"inventorycore/pkg/domain"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func describe(err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Record.")
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		out = append(out, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return out
}

// effectiveOp resolves the record operation, falling back to the request default.
func effectiveOp(req Request, rec Record) OperationType {
	if rec.OperationType != "" {
		return rec.OperationType
	}
	return req.OperationType
}

// prevalidateRecord returns every structural problem of one record. It never
// reads the store.
func (e *Executor) prevalidateRecord(req Request, rec Record) []string {
	var msgs []string
	if err := e.validate.Struct(rec); err != nil {
		msgs = append(msgs, describe(err)...)
	}
	op := effectiveOp(req, rec)
	if op == "" {
		return append(msgs, "operation type is required")
	}
	var verr domain.ValidationError
	if op == OpCreate {
		if rec.ID != nil {
			verr.Add("id must not be set on CREATE")
		}
		prevalidateCreate(rec, &verr)
		return append(msgs, verr.Messages...)
	}

	if rec.ID == nil || rec.ID.IsZero() {
		verr.Add("id is required for %s", op)
	} else if rec.ID.Type != rec.Type {
		verr.Add("id %s does not identify a %s", rec.ID, rec.Type)
	}
	switch op {
	case OpMove:
		if !rec.Type.IsPlaceable() {
			verr.Add("records of type %s cannot be moved", rec.Type)
		}
		if rec.Target == nil {
			verr.Add("target is required for MOVE")
		}
	case OpChangeOwner:
		if strings.TrimSpace(rec.Owner) == "" {
			verr.Add("owner is required for CHANGE_OWNER")
		}
	case OpSplit:
		if rec.Type != domain.RecordSubSample {
			verr.Add("only subsamples can be split")
		}
	case OpUpdateToLatestTemplate:
		if rec.Type != domain.RecordSample {
			verr.Add("only samples can be updated to the latest template version")
		}
	case OpUpdate:
		prevalidateUpdate(rec, &verr)
	}
	return append(msgs, verr.Messages...)
}

func prevalidateCreate(rec Record, verr *domain.ValidationError) {
	switch rec.Type {
	case domain.RecordContainer:
		c := buildContainer(rec)
		if err := domain.ValidateContainer(c); err != nil {
			addAll(verr, err)
		}
		if c.Type == domain.ContainerImage && (rec.Container == nil || len(rec.Container.Locations) == 0) {
			verr.Add("image containers require predefined locations")
		}
		if c.Type != domain.ContainerImage && rec.Container != nil && len(rec.Container.Locations) > 0 {
			verr.Add("only image containers take predefined locations")
		}
	case domain.RecordSample:
		s := buildSample(rec)
		if err := domain.ValidateSample(s); err != nil {
			addAll(verr, err)
		}
		if rec.Sample != nil {
			if rec.Sample.TemplateID != nil && rec.Sample.TemplateID.Type != domain.RecordTemplate {
				verr.Add("template id %s does not identify a template", rec.Sample.TemplateID)
			}
			if rec.Sample.Quantity != nil {
				if err := domain.ValidateSubSampleQuantity(*rec.Sample.Quantity); err != nil {
					addAll(verr, err)
				}
			}
			if rec.Sample.SubSampleCount > 1 && rec.Target != nil && (rec.Target.Coordinates != nil || rec.Target.LocationID != nil) {
				verr.Add("an explicit location can hold only one of %d subsamples", rec.Sample.SubSampleCount)
			}
		}
	case domain.RecordSubSample:
		if rec.SubSample == nil || rec.SubSample.SampleID == nil || rec.SubSample.SampleID.Type != domain.RecordSample {
			verr.Add("sample id is required to create a subsample")
		}
		if rec.SubSample != nil && rec.SubSample.Quantity != nil {
			if err := domain.ValidateSubSampleQuantity(*rec.SubSample.Quantity); err != nil {
				addAll(verr, err)
			}
		}
	case domain.RecordTemplate:
		if rec.Target != nil {
			verr.Add("templates cannot be placed")
		}
		if err := domain.ValidateTemplate(buildTemplate(rec)); err != nil {
			addAll(verr, err)
		}
	}
}

func prevalidateUpdate(rec Record, verr *domain.ValidationError) {
	switch rec.Type {
	case domain.RecordContainer:
		if rec.Container != nil && (rec.Container.Type != "" || len(rec.Container.Locations) > 0) {
			verr.Add("container type and predefined locations cannot be updated")
		}
		if rec.Container != nil && rec.Container.Grid != nil {
			verr.Add("grid layout cannot be updated")
		}
	case domain.RecordSample:
		if rec.Sample == nil {
			return
		}
		if rec.Sample.TemplateID != nil || rec.Sample.SubSampleCount > 0 || len(rec.Sample.Definitions) > 0 {
			verr.Add("template, subsample count and field definitions cannot be updated")
		}
		if rec.Sample.Quantity != nil {
			verr.Add("sample quantity is the sum of its subsamples")
		}
		if err := domain.ValidateStorageTemperatures(rec.Sample.StorageTempMin, rec.Sample.StorageTempMax); err != nil {
			addAll(verr, err)
		}
	case domain.RecordSubSample:
		if rec.SubSample != nil && rec.SubSample.Quantity != nil {
			if err := domain.ValidateSubSampleQuantity(*rec.SubSample.Quantity); err != nil {
				addAll(verr, err)
			}
		}
	case domain.RecordTemplate:
		if rec.Template != nil && len(rec.Template.FieldDefinitions) > 0 {
			verr.Add("use a template change to edit field definitions")
		}
		if rec.Template != nil && rec.Template.Change != nil {
			if err := domain.ValidateFieldDefinitions(append(domain.CloneFieldDefinitions(rec.Template.Change.Add), rec.Template.Change.Redefine...)); err != nil {
				addAll(verr, err)
			}
		}
	}
}

func addAll(verr *domain.ValidationError, err error) {
	var inner domain.ValidationError
	if errors.As(err, &inner) {
		verr.Messages = append(verr.Messages, inner.Messages...)
		return
	}
	verr.Add("%v", err)
}
