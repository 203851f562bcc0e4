package core

import (
	"context"
	"strings"
	"time"

	"inventorycore/internal/bulk"
	"inventorycore/internal/editlock"
	"inventorycore/internal/infra/persistence/memory"
	"inventorycore/internal/placement"
	"inventorycore/internal/templates"
	"inventorycore/pkg/domain"
)

// Service exposes the single-item and bulk inventory operations. Every call
// runs in its own unit of work and is observed through the configured
// metrics recorder, tracer and logger; successful calls are audited.
type Service struct {
	store    domain.PersistentStore
	perms    domain.Permissions
	locks    *editlock.Tracker
	ops      *bulk.Operations
	exec     *bulk.Executor
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	logger   Logger
	clock    Clock
	clockSet bool
	maxBatch int
}

// Option customises a Service.
type Option func(*Service)

// WithPermissions sets the read/write policy. The default allows everything.
func WithPermissions(perms domain.Permissions) Option {
	return func(s *Service) {
		if perms != nil {
			s.perms = perms
		}
	}
}

// WithEditLocks shares an edit lock tracker, for example one backed by Redis.
func WithEditLocks(tracker *editlock.Tracker) Option {
	return func(s *Service) { s.locks = tracker }
}

// WithAuditRecorder sets the audit collaborator.
func WithAuditRecorder(rec AuditRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.audit = rec
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for durations, lock expiry and, when the
// store supports it, record timestamps.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
			s.clockSet = true
		}
	}
}

// WithMaxBatchSize overrides the bulk record limit.
func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		perms:    domain.AllowAll{},
		audit:    noopAudit{},
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
		logger:   noopLogger{},
		clock:    systemClock{},
		maxBatch: bulk.DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clockSet {
		if setter, ok := store.(interface{ SetNowFunc(func() time.Time) }); ok {
			setter.SetNowFunc(s.clock.Now)
		}
	}
	if s.locks == nil {
		s.locks = editlock.NewTracker(nil, editlock.WithClock(s.clock.Now))
	}
	s.ops = bulk.NewOperations(s.perms, s.locks)
	s.exec = bulk.NewExecutor(store, s.ops, bulk.WithMaxBatchSize(s.maxBatch), bulk.WithLogger(s.logger))
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine installs the default rules.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Executor returns the bulk executor.
func (s *Service) Executor() *bulk.Executor { return s.exec }

// Locks returns the edit lock tracker.
func (s *Service) Locks() *editlock.Tracker { return s.locks }

var auditActions = map[string]AuditAction{
	"create":    AuditCreate,
	"duplicate": AuditCreate,
	"split":     AuditCreate,
	"get":       AuditRead,
	"update":    AuditWrite,
	"change":    AuditWrite,
	"migrate":   AuditWrite,
	"move":      AuditMove,
	"delete":    AuditDelete,
	"restore":   AuditRestore,
}

func auditAction(op string) AuditAction {
	verb, _, _ := strings.Cut(op, "_")
	return auditActions[verb]
}

func (s *Service) finish(ctx context.Context, op, actor string, id domain.GlobalID, start time.Time, span TraceSpan, err error) {
	duration := s.clock.Now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, duration)
	span.End(err)
	if err != nil {
		if domain.IsDomainError(err) {
			s.logger.Warn("operation rejected", "operation", op, "actor", actor, "id", id.String(), "error", err)
		} else {
			s.logger.Error("operation failed", "operation", op, "actor", actor, "id", id.String(), "error", err)
		}
		return
	}
	s.logger.Debug("operation completed", "operation", op, "actor", actor, "id", id.String(), "duration", duration)
	if action := auditAction(op); action != "" && !id.IsZero() {
		s.recordAudit(ctx, AuditEntry{
			Operation: op,
			Action:    action,
			EntityID:  id.String(),
			Actor:     actor,
			Duration:  duration,
			Timestamp: s.clock.Now(),
		})
	}
}

func (s *Service) recordAudit(ctx context.Context, entry AuditEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("audit recorder panicked", "operation", entry.Operation, "panic", r)
		}
	}()
	s.audit.Record(ctx, entry)
}

// run executes fn in a unit of work and records the outcome.
func (s *Service) run(ctx context.Context, op, actor string, fn func(tx domain.Transaction) (domain.GlobalID, error)) (domain.GlobalID, domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	var id domain.GlobalID
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var ferr error
		id, ferr = fn(tx)
		return ferr
	})
	s.finish(ctx, op, actor, id, start, span, err)
	return id, res, err
}

func (s *Service) view(ctx context.Context, op, actor string, id domain.GlobalID, fn func(v domain.TransactionView) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	err := s.store.View(ctx, fn)
	s.finish(ctx, op, actor, id, start, span, err)
	return err
}

// apply prevalidates and runs one record operation, returning the stored
// representation of the affected record.
func (s *Service) apply(ctx context.Context, op, actor string, kind bulk.OperationType, rec bulk.Record) (any, domain.Result, error) {
	rec.OperationType = kind
	var out any
	_, res, err := s.run(ctx, op, actor, func(tx domain.Transaction) (domain.GlobalID, error) {
		var id domain.GlobalID
		if rec.ID != nil {
			id = *rec.ID
		}
		if err := s.exec.PrevalidateRecord(kind, rec); err != nil {
			return id, err
		}
		id, err := s.ops.Apply(ctx, tx, actor, kind, rec)
		if err != nil {
			return id, err
		}
		out = bulk.Load(tx, id)
		return id, nil
	})
	return out, res, err
}

func as[T any](v any) T {
	out, _ := v.(T)
	return out
}

func ref(t domain.RecordType, id int64) *domain.GlobalID {
	g := domain.NewGlobalID(t, id)
	return &g
}

// CreateContainer creates a container at rec.Target or on the actor's workbench.
func (s *Service) CreateContainer(ctx context.Context, actor string, rec bulk.Record) (domain.Container, domain.Result, error) {
	rec.Type = domain.RecordContainer
	out, res, err := s.apply(ctx, "create_container", actor, bulk.OpCreate, rec)
	return as[domain.Container](out), res, err
}

// CreateSample creates a sample, optionally from a template, together with
// its initial subsamples.
func (s *Service) CreateSample(ctx context.Context, actor string, rec bulk.Record) (domain.Sample, domain.Result, error) {
	rec.Type = domain.RecordSample
	out, res, err := s.apply(ctx, "create_sample", actor, bulk.OpCreate, rec)
	return as[domain.Sample](out), res, err
}

// CreateSubSample adds a subsample to an existing sample.
func (s *Service) CreateSubSample(ctx context.Context, actor string, rec bulk.Record) (domain.SubSample, domain.Result, error) {
	rec.Type = domain.RecordSubSample
	out, res, err := s.apply(ctx, "create_subsample", actor, bulk.OpCreate, rec)
	return as[domain.SubSample](out), res, err
}

// CreateTemplate stores a template at version 1.
func (s *Service) CreateTemplate(ctx context.Context, actor string, rec bulk.Record) (domain.Template, domain.Result, error) {
	rec.Type = domain.RecordTemplate
	out, res, err := s.apply(ctx, "create_template", actor, bulk.OpCreate, rec)
	return as[domain.Template](out), res, err
}

// UpdateContainer applies the attributes present in rec.
func (s *Service) UpdateContainer(ctx context.Context, actor string, id int64, rec bulk.Record) (domain.Container, domain.Result, error) {
	rec.Type, rec.ID = domain.RecordContainer, ref(domain.RecordContainer, id)
	out, res, err := s.apply(ctx, "update_container", actor, bulk.OpUpdate, rec)
	return as[domain.Container](out), res, err
}

// UpdateSample applies the attributes and field values present in rec.
func (s *Service) UpdateSample(ctx context.Context, actor string, id int64, rec bulk.Record) (domain.Sample, domain.Result, error) {
	rec.Type, rec.ID = domain.RecordSample, ref(domain.RecordSample, id)
	out, res, err := s.apply(ctx, "update_sample", actor, bulk.OpUpdate, rec)
	return as[domain.Sample](out), res, err
}

// UpdateSubSample applies the attributes present in rec and appends its note.
func (s *Service) UpdateSubSample(ctx context.Context, actor string, id int64, rec bulk.Record) (domain.SubSample, domain.Result, error) {
	rec.Type, rec.ID = domain.RecordSubSample, ref(domain.RecordSubSample, id)
	out, res, err := s.apply(ctx, "update_subsample", actor, bulk.OpUpdate, rec)
	return as[domain.SubSample](out), res, err
}

// UpdateTemplate applies change; schema edits produce a new version.
func (s *Service) UpdateTemplate(ctx context.Context, actor string, id int64, change templates.Change) (domain.Template, domain.Result, error) {
	rec := bulk.Record{
		Type:     domain.RecordTemplate,
		ID:       ref(domain.RecordTemplate, id),
		Template: &bulk.TemplateFields{Change: &change},
	}
	out, res, err := s.apply(ctx, "update_template", actor, bulk.OpUpdate, rec)
	return as[domain.Template](out), res, err
}

// Move places a container or subsample at target and returns its new location.
func (s *Service) Move(ctx context.Context, actor string, id domain.GlobalID, target placement.Target) (domain.Location, domain.Result, error) {
	var loc domain.Location
	_, res, err := s.run(ctx, "move_"+strings.ToLower(string(id.Type)), actor, func(tx domain.Transaction) (domain.GlobalID, error) {
		if !id.Type.IsPlaceable() {
			return id, domain.ValidationError{Messages: []string{"records of type " + string(id.Type) + " cannot be moved"}}
		}
		if err := s.locks.CheckEditable(ctx, id, actor); err != nil {
			return id, err
		}
		var err error
		loc, err = s.ops.Placement().Move(ctx, tx, actor, domain.ItemRef{Type: id.Type, ID: id.ID}, target)
		return id, err
	})
	return loc, res, err
}

// DeleteLocation removes an empty location of a LIST or GRID container.
func (s *Service) DeleteLocation(ctx context.Context, actor string, containerID, locationID int64) (domain.Result, error) {
	cid := domain.NewGlobalID(domain.RecordContainer, containerID)
	_, res, err := s.run(ctx, "delete_location", actor, func(tx domain.Transaction) (domain.GlobalID, error) {
		if err := s.locks.CheckEditable(ctx, cid, actor); err != nil {
			return cid, err
		}
		return cid, s.ops.Placement().DeleteLocation(ctx, tx, actor, containerID, locationID)
	})
	return res, err
}

// Delete soft-deletes a record. Force lets a sample delete take its
// subsamples stored away from the workbench with it.
func (s *Service) Delete(ctx context.Context, actor string, id domain.GlobalID, force bool) (domain.Result, error) {
	_, res, err := s.apply(ctx, "delete_"+strings.ToLower(string(id.Type)), actor, bulk.OpDelete, bulk.Record{Type: id.Type, ID: &id, Force: force})
	return res, err
}

// Restore undeletes a record and returns it.
func (s *Service) Restore(ctx context.Context, actor string, id domain.GlobalID) (any, domain.Result, error) {
	return s.apply(ctx, "restore_"+strings.ToLower(string(id.Type)), actor, bulk.OpRestore, bulk.Record{Type: id.Type, ID: &id})
}

// ChangeOwner transfers a record to owner.
func (s *Service) ChangeOwner(ctx context.Context, actor string, id domain.GlobalID, owner string) (any, domain.Result, error) {
	return s.apply(ctx, "change_owner", actor, bulk.OpChangeOwner, bulk.Record{Type: id.Type, ID: &id, Owner: owner})
}

// Duplicate copies a record onto the actor's workbench and returns the copy.
func (s *Service) Duplicate(ctx context.Context, actor string, id domain.GlobalID) (any, domain.Result, error) {
	return s.apply(ctx, "duplicate_"+strings.ToLower(string(id.Type)), actor, bulk.OpDuplicate, bulk.Record{Type: id.Type, ID: &id})
}

// Split divides a subsample into parts of equal quantity.
func (s *Service) Split(ctx context.Context, actor string, subSampleID int64, parts int) (domain.SubSample, domain.Result, error) {
	rec := bulk.Record{Type: domain.RecordSubSample, ID: ref(domain.RecordSubSample, subSampleID), Parts: parts}
	out, res, err := s.apply(ctx, "split_subsample", actor, bulk.OpSplit, rec)
	return as[domain.SubSample](out), res, err
}

// TemplateVersion returns a read-only template version. A zero id version
// means the current one.
func (s *Service) TemplateVersion(ctx context.Context, actor string, id domain.GlobalID) (domain.TemplateVersion, error) {
	var out domain.TemplateVersion
	err := s.view(ctx, "get_template_version", actor, id, func(v domain.TransactionView) error {
		base := domain.NewGlobalID(domain.RecordTemplate, id.ID)
		t, ok := v.FindTemplate(id.ID)
		if !ok || !s.perms.CanRead(ctx, v, actor, base) {
			return domain.NotFoundError{ID: id}
		}
		version := id.Version
		if version == 0 {
			version = t.Version
		}
		var err error
		out, err = templates.Version(v, id.ID, version)
		return err
	})
	return out, err
}

// MigrateSampleToLatestTemplate moves a sample to its template's latest version.
func (s *Service) MigrateSampleToLatestTemplate(ctx context.Context, actor string, sampleID int64) (domain.Sample, domain.Result, error) {
	rec := bulk.Record{Type: domain.RecordSample, ID: ref(domain.RecordSample, sampleID)}
	out, res, err := s.apply(ctx, "migrate_sample", actor, bulk.OpUpdateToLatestTemplate, rec)
	return as[domain.Sample](out), res, err
}

// MigrateAllSamplesOfTemplate migrates every outdated sample of a template
// with partial success, in batches of the configured size, and returns one
// result per sample.
func (s *Service) MigrateAllSamplesOfTemplate(ctx context.Context, actor string, templateID int64) (bulk.Result, error) {
	tid := domain.NewGlobalID(domain.RecordTemplate, templateID)
	var outdated []domain.Sample
	if err := s.view(ctx, "migrate_template_samples", actor, tid, func(v domain.TransactionView) error {
		if _, ok := v.FindTemplate(templateID); !ok || !s.perms.CanRead(ctx, v, actor, tid) {
			return domain.NotFoundError{ID: tid}
		}
		outdated = templates.OutdatedSamples(v, templateID)
		return nil
	}); err != nil {
		return bulk.Result{}, err
	}

	total := bulk.Result{Status: bulk.StatusCompleted}
	for start := 0; start < len(outdated); start += s.maxBatch {
		end := min(start+s.maxBatch, len(outdated))
		req := bulk.Request{OperationType: bulk.OpUpdateToLatestTemplate, RollbackOnError: new(bool)}
		for _, sample := range outdated[start:end] {
			req.Records = append(req.Records, bulk.Record{Type: domain.RecordSample, ID: ref(domain.RecordSample, sample.ID)})
		}
		res, err := s.ExecuteBulk(ctx, actor, req)
		if err != nil {
			return total, err
		}
		if total.BatchID == "" {
			total.BatchID = res.BatchID
		}
		if total.ErrorCount == 0 {
			total.SuccessCountBeforeFirstError += res.SuccessCountBeforeFirstError
		}
		total.Results = append(total.Results, res.Results...)
		total.SuccessCount += res.SuccessCount
		total.ErrorCount += res.ErrorCount
		total.Errors = append(total.Errors, res.Errors...)
	}
	return total, nil
}

// PrevalidateBulk checks a request without side effects.
func (s *Service) PrevalidateBulk(req bulk.Request) bulk.Result {
	return s.exec.Prevalidate(req)
}

// ExecuteBulk runs a bulk request. Successful records of a committed batch
// are audited individually.
func (s *Service) ExecuteBulk(ctx context.Context, actor string, req bulk.Request) (bulk.Result, error) {
	ctx, span := s.tracer.Start(ctx, "execute_bulk")
	start := s.clock.Now()
	res, err := s.exec.Execute(ctx, actor, req)
	duration := s.clock.Now().Sub(start)
	s.metrics.Observe(ctx, "execute_bulk", err == nil && res.ErrorCount == 0, duration)
	span.End(err)
	if err != nil {
		s.logger.Error("bulk execution failed", "batch", res.BatchID, "actor", actor, "error", err)
		return res, err
	}
	s.logger.Info("bulk execution finished", "batch", res.BatchID, "actor", actor, "status", string(res.Status),
		"success", res.SuccessCount, "errors", res.ErrorCount)
	if res.Status != bulk.StatusCompleted {
		return res, nil
	}
	for i, r := range res.Results {
		if r.Failed() {
			continue
		}
		op := req.Records[i].OperationType
		if op == "" {
			op = req.OperationType
		}
		name := strings.ToLower(string(op)) + "_" + strings.ToLower(string(r.ID.Type))
		if op == bulk.OpUpdateToLatestTemplate {
			name = "migrate_sample"
		}
		if action := auditAction(name); action != "" {
			s.recordAudit(ctx, AuditEntry{
				Operation: name,
				Action:    action,
				EntityID:  r.ID.String(),
				Actor:     actor,
				Duration:  duration,
				Timestamp: s.clock.Now(),
			})
		}
	}
	return res, nil
}
