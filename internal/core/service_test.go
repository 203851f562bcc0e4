package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inventorycore/internal/bulk"
	"inventorycore/internal/placement"
	"inventorycore/internal/templates"
	"inventorycore/pkg/domain"
)

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) Entries() []AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AuditEntry(nil), c.entries...)
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

type captureTracer struct {
	mu    sync.Mutex
	ended map[string]error
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (t *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, captureSpan{tracer: t, op: op}
}

func (s captureSpan) End(err error) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	if s.tracer.ended == nil {
		s.tracer.ended = map[string]error{}
	}
	s.tracer.ended[s.op] = err
}

type logEntry struct {
	level string
	msg   string
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *captureLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

type panicAuditRecorder struct{}

func (panicAuditRecorder) Record(context.Context, AuditEntry) { panic("audit sink down") }

func stubClock(at time.Time) Clock {
	return ClockFunc(func() time.Time { return at })
}

func gridContainer(name string, columns, rows int) bulk.Record {
	return bulk.Record{Name: name, Container: &bulk.ContainerFields{
		Type: domain.ContainerGrid,
		Grid: &domain.GridLayout{Columns: columns, Rows: rows},
	}}
}

func sampleIn(name string, containerID int64, x, y int) bulk.Record {
	q := domain.MustParseQuantity("10", domain.UnitMillilitre)
	return bulk.Record{
		Name:   name,
		Sample: &bulk.SampleFields{Quantity: &q},
		Target: &placement.Target{ContainerID: containerID, Coordinates: &domain.Coordinates{X: x, Y: y}},
	}
}

func onlySubSample(t *testing.T, svc *Service, actor string, sampleID int64) domain.SubSample {
	t.Helper()
	subs, err := svc.ListSubSamples(context.Background(), actor, sampleID, false)
	if err != nil {
		t.Fatalf("list subsamples: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected one subsample, got %d", len(subs))
	}
	return subs[0]
}

func TestServiceAuditsSuccessfulOperationsOnly(t *testing.T) {
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	svc := NewInMemoryService(nil,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
	)
	ctx := context.Background()

	c, _, err := svc.CreateContainer(ctx, "alice", bulk.Record{Name: "Freezer"})
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	if _, err := svc.GetContainer(ctx, "alice", c.ID+100); err == nil {
		t.Fatalf("expected missing container error")
	}

	entries := audit.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected a single audit entry, got %+v", entries)
	}
	if entries[0].Action != AuditCreate || entries[0].Operation != "create_container" || entries[0].Actor != "alice" {
		t.Fatalf("unexpected audit entry %+v", entries[0])
	}
	if entries[0].EntityID != c.GlobalID().String() {
		t.Fatalf("expected entity %s, got %s", c.GlobalID(), entries[0].EntityID)
	}
	if len(metrics.calls) != 2 || !metrics.calls[0].success || metrics.calls[1].success {
		t.Fatalf("unexpected metrics %+v", metrics.calls)
	}
	var notFound domain.NotFoundError
	if !errors.As(tracer.ended["get_container"], &notFound) {
		t.Fatalf("expected span to end with not found, got %v", tracer.ended["get_container"])
	}
	if logger.count("warn") != 1 {
		t.Fatalf("expected the rejection to be logged as a warning")
	}
}

func TestServiceRecoversFromAuditPanic(t *testing.T) {
	logger := &captureLogger{}
	svc := NewInMemoryService(nil, WithAuditRecorder(panicAuditRecorder{}), WithLogger(logger))
	if _, _, err := svc.CreateContainer(context.Background(), "alice", bulk.Record{Name: "Shelf"}); err != nil {
		t.Fatalf("create container: %v", err)
	}
	if logger.count("warn") != 1 {
		t.Fatalf("expected audit panic to be logged")
	}
}

func TestServiceStampsRecordsWithInjectedClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewInMemoryService(nil, WithClock(stubClock(at)))
	c, _, err := svc.CreateContainer(context.Background(), "alice", bulk.Record{Name: "Rack"})
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	if !c.CreatedAt.Equal(at) {
		t.Fatalf("expected created at %v, got %v", at, c.CreatedAt)
	}
	lock, err := svc.AttemptToLockForEdit(context.Background(), "alice", c.GlobalID())
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !lock.AcquiredAt.Equal(at) {
		t.Fatalf("expected lock acquired at %v, got %v", at, lock.AcquiredAt)
	}
}

func TestServiceMoveRespectsEditLocks(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rack, _, err := svc.CreateContainer(ctx, "alice", gridContainer("Rack", 2, 2))
	if err != nil {
		t.Fatalf("create rack: %v", err)
	}
	sample, _, err := svc.CreateSample(ctx, "alice", sampleIn("Serum", rack.ID, 1, 1))
	if err != nil {
		t.Fatalf("create sample: %v", err)
	}
	sub := onlySubSample(t, svc, "alice", sample.ID)

	if _, err := svc.AttemptToLockForEdit(ctx, "bob", sub.GlobalID()); err != nil {
		t.Fatalf("lock: %v", err)
	}
	target := placement.Target{ContainerID: rack.ID, Coordinates: &domain.Coordinates{X: 2, Y: 2}}
	_, _, err = svc.Move(ctx, "alice", sub.GlobalID(), target)
	var locked domain.EditLockedError
	if !errors.As(err, &locked) || locked.Holder != "bob" {
		t.Fatalf("expected edit locked by bob, got %v", err)
	}
	if holder, ok, _ := svc.LockHolder(ctx, sub.GlobalID()); !ok || holder != "bob" {
		t.Fatalf("expected bob to hold the lock, got %q", holder)
	}

	if err := svc.Unlock(ctx, "bob", sub.GlobalID()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	loc, _, err := svc.Move(ctx, "alice", sub.GlobalID(), target)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if loc.CoordX != 2 || loc.CoordY != 2 || loc.ContainerID != rack.ID {
		t.Fatalf("unexpected location %+v", loc)
	}
	moved, err := svc.GetSubSample(ctx, "alice", sub.ID)
	if err != nil {
		t.Fatalf("get subsample: %v", err)
	}
	if moved.ParentLocationID == nil || *moved.ParentLocationID != loc.ID {
		t.Fatalf("expected subsample in location %d, got %+v", loc.ID, moved.Placement)
	}
}

func TestServiceMoveRejectsSamples(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	sample, _, err := svc.CreateSample(ctx, "alice", bulk.Record{Name: "Buffer"})
	if err != nil {
		t.Fatalf("create sample: %v", err)
	}
	_, _, err = svc.Move(ctx, "alice", sample.GlobalID(), placement.Target{ContainerID: 1})
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceListsExcludeDeletedByDefault(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	keep, _, err := svc.CreateContainer(ctx, "alice", bulk.Record{Name: "Keep"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	drop, _, err := svc.CreateContainer(ctx, "alice", bulk.Record{Name: "Drop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Delete(ctx, "alice", drop.GlobalID(), false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	live, err := svc.ListContainers(ctx, "alice", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, c := range live {
		if c.ID == drop.ID {
			t.Fatalf("deleted container listed")
		}
	}
	all, _ := svc.ListContainers(ctx, "alice", true)
	if len(all) != len(live)+1 {
		t.Fatalf("expected deleted container with includeDeleted, got %d vs %d", len(all), len(live))
	}

	if _, _, err := svc.Restore(ctx, "alice", drop.GlobalID()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	live, _ = svc.ListContainers(ctx, "alice", false)
	found := 0
	for _, c := range live {
		if c.ID == drop.ID || c.ID == keep.ID {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("expected restored container to be listed")
	}
}

func TestServiceHidesRecordsFromOtherOwners(t *testing.T) {
	svc := NewInMemoryService(nil, WithPermissions(domain.NewOwnerPermissions("admin")))
	ctx := context.Background()
	c, _, err := svc.CreateContainer(ctx, "alice", bulk.Record{Name: "Private"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var notFound domain.NotFoundError
	if _, err := svc.GetContainer(ctx, "bob", c.ID); !errors.As(err, &notFound) {
		t.Fatalf("expected not found for bob, got %v", err)
	}
	if _, err := svc.AttemptToLockForEdit(ctx, "bob", c.GlobalID()); !errors.As(err, &notFound) {
		t.Fatalf("expected bob to be unable to lock, got %v", err)
	}
	if _, err := svc.GetContainer(ctx, "admin", c.ID); err != nil {
		t.Fatalf("expected admin access, got %v", err)
	}
}

func TestServiceTemplateVersionsAndMigration(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	tmpl, _, err := svc.CreateTemplate(ctx, "alice", bulk.Record{Name: "Antibody", Template: &bulk.TemplateFields{
		FieldDefinitions: []domain.FieldDefinition{{Name: "host", Type: domain.FieldString}},
	}})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	tid := tmpl.GlobalID()
	for _, name := range []string{"Anti-GFP", "Anti-RFP"} {
		if _, _, err := svc.CreateSample(ctx, "alice", bulk.Record{Name: name, Sample: &bulk.SampleFields{TemplateID: &tid}}); err != nil {
			t.Fatalf("create sample %s: %v", name, err)
		}
	}

	updated, _, err := svc.UpdateTemplate(ctx, "alice", tmpl.ID, templates.Change{
		Add: []domain.FieldDefinition{{Name: "clone", Type: domain.FieldString, DefaultValue: "3E6"}},
	})
	if err != nil {
		t.Fatalf("update template: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	v1, err := svc.TemplateVersion(ctx, "alice", domain.GlobalID{Type: domain.RecordTemplate, ID: tmpl.ID, Version: 1})
	if err != nil {
		t.Fatalf("template version: %v", err)
	}
	if len(v1.FieldDefinitions) != 1 {
		t.Fatalf("expected version 1 to keep one field, got %d", len(v1.FieldDefinitions))
	}
	current, err := svc.TemplateVersion(ctx, "alice", tid)
	if err != nil || current.Version != 2 {
		t.Fatalf("expected current version 2, got %+v (%v)", current, err)
	}

	res, err := svc.MigrateAllSamplesOfTemplate(ctx, "alice", tmpl.ID)
	if err != nil {
		t.Fatalf("migrate all: %v", err)
	}
	if res.SuccessCount != 2 || res.ErrorCount != 0 {
		t.Fatalf("expected two migrated samples, got %+v", res)
	}
	samples, _ := svc.ListSamples(ctx, "alice", false)
	for _, s := range samples {
		if s.TemplateVersion != 2 || len(s.Fields) != 2 {
			t.Fatalf("expected migrated sample, got %+v", s)
		}
	}

	res, err = svc.MigrateAllSamplesOfTemplate(ctx, "alice", tmpl.ID)
	if err != nil || len(res.Results) != 0 {
		t.Fatalf("expected nothing left to migrate, got %+v (%v)", res, err)
	}
}

func TestServiceExecuteBulkAuditsEachRecord(t *testing.T) {
	audit := &captureAuditRecorder{}
	svc := NewInMemoryService(nil, WithAuditRecorder(audit))
	res, err := svc.ExecuteBulk(context.Background(), "alice", bulk.Request{
		OperationType: bulk.OpCreate,
		Records: []bulk.Record{
			{Type: domain.RecordContainer, Name: "A"},
			{Type: domain.RecordContainer, Name: "B"},
		},
	})
	if err != nil {
		t.Fatalf("execute bulk: %v", err)
	}
	if res.Status != bulk.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", res.Status)
	}
	entries := audit.Entries()
	if len(entries) != 2 || entries[0].Operation != "create_container" || entries[1].EntityID != res.Results[1].ID.String() {
		t.Fatalf("unexpected audit entries %+v", entries)
	}

	audit.entries = nil
	res, _ = svc.ExecuteBulk(context.Background(), "alice", bulk.Request{Records: []bulk.Record{
		{OperationType: bulk.OpCreate, Type: domain.RecordContainer, Name: "C"},
		{OperationType: bulk.OpDelete, Type: domain.RecordContainer, ID: ref(domain.RecordContainer, 999)},
	}})
	if res.Status != bulk.StatusRevertedOnError {
		t.Fatalf("expected REVERTED_ON_ERROR, got %s", res.Status)
	}
	if len(audit.Entries()) != 0 {
		t.Fatalf("reverted batches must not be audited")
	}
}

func TestServiceSplitAndDuplicate(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	sample, _, err := svc.CreateSample(ctx, "alice", bulk.Record{Name: "Lysate"})
	if err != nil {
		t.Fatalf("create sample: %v", err)
	}
	sub := onlySubSample(t, svc, "alice", sample.ID)
	if _, _, err := svc.Split(ctx, "alice", sub.ID, 4); err != nil {
		t.Fatalf("split: %v", err)
	}
	subs, _ := svc.ListSubSamples(ctx, "alice", sample.ID, false)
	if len(subs) != 4 {
		t.Fatalf("expected four parts, got %d", len(subs))
	}

	copied, _, err := svc.Duplicate(ctx, "alice", sample.GlobalID())
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	dup, ok := copied.(domain.Sample)
	if !ok || dup.Name != "Lysate"+bulk.CopySuffix {
		t.Fatalf("unexpected duplicate %+v", copied)
	}
	dupSubs, _ := svc.ListSubSamples(ctx, "alice", dup.ID, false)
	if len(dupSubs) != 4 {
		t.Fatalf("expected copied subsamples, got %d", len(dupSubs))
	}
}

func TestServiceWorkbenchIsCreatedOnce(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	first, _, err := svc.Workbench(ctx, "alice")
	if err != nil {
		t.Fatalf("workbench: %v", err)
	}
	second, _, err := svc.Workbench(ctx, "alice")
	if err != nil || second.ID != first.ID {
		t.Fatalf("expected the same workbench, got %d and %d (%v)", first.ID, second.ID, err)
	}
	if first.Type != domain.ContainerWorkbench {
		t.Fatalf("expected WORKBENCH type, got %s", first.Type)
	}
	if _, _, err := svc.Workbench(ctx, ""); err == nil {
		t.Fatalf("expected an actor to be required")
	}
}

func TestServiceMigrateAllSkipsLockedSample(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	tmpl, _, err := svc.CreateTemplate(ctx, "alice", bulk.Record{Name: "Buffer", Template: &bulk.TemplateFields{
		FieldDefinitions: []domain.FieldDefinition{{Name: "ph", Type: domain.FieldString}},
	}})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	tid := tmpl.GlobalID()
	var samples []domain.Sample
	for _, name := range []string{"PBS", "TBS", "HEPES"} {
		s, _, err := svc.CreateSample(ctx, "alice", bulk.Record{Name: name, Sample: &bulk.SampleFields{TemplateID: &tid}})
		if err != nil {
			t.Fatalf("create sample %s: %v", name, err)
		}
		samples = append(samples, s)
	}
	if _, _, err := svc.UpdateTemplate(ctx, "alice", tmpl.ID, templates.Change{
		Add: []domain.FieldDefinition{{Name: "lot", Type: domain.FieldString, DefaultValue: "A1"}},
	}); err != nil {
		t.Fatalf("update template: %v", err)
	}
	locked := samples[1]
	if _, err := svc.AttemptToLockForEdit(ctx, "bob", locked.GlobalID()); err != nil {
		t.Fatalf("lock: %v", err)
	}

	res, err := svc.MigrateAllSamplesOfTemplate(ctx, "alice", tmpl.ID)
	if err != nil {
		t.Fatalf("migrate all: %v", err)
	}
	if res.SuccessCount != 2 || res.ErrorCount != 1 || len(res.Results) != 3 {
		t.Fatalf("expected two migrated and one failed sample, got %+v", res)
	}
	for _, r := range res.Results {
		if r.ID.ID != locked.ID {
			if r.Failed() {
				t.Fatalf("expected %s to migrate, got %v", r.ID, r.Errors)
			}
			continue
		}
		var lockErr domain.EditLockedError
		if !r.Failed() || !errors.As(r.Err, &lockErr) || lockErr.Holder != "bob" {
			t.Fatalf("expected locked sample to fail with edit lock, got %+v", r)
		}
	}
	for _, s := range samples {
		got, err := svc.GetSample(ctx, "alice", s.ID)
		if err != nil {
			t.Fatalf("get sample: %v", err)
		}
		want := 2
		if s.ID == locked.ID {
			want = 1
		}
		if got.TemplateVersion != want {
			t.Fatalf("sample %d: expected template version %d, got %d", s.ID, want, got.TemplateVersion)
		}
	}
}

func TestServiceConcurrentPlacementIntoSameLocation(t *testing.T) {
	svc := NewInMemoryService(NewDefaultRulesEngine())
	ctx := context.Background()
	rack, _, err := svc.CreateContainer(ctx, "alice", gridContainer("Rack", 2, 2))
	if err != nil {
		t.Fatalf("create rack: %v", err)
	}

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i, name := range []string{"Plasma", "Serum"} {
		i, name := i, name
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, errs[i] = svc.CreateSample(ctx, "alice", sampleIn(name, rack.ID, 1, 1))
		}()
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var taken domain.LocationTakenError
		if !errors.As(err, &taken) {
			t.Fatalf("expected location taken, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one placement to succeed, got %d (%v)", succeeded, errs)
	}
	samples, err := svc.ListSamples(ctx, "alice", false)
	if err != nil {
		t.Fatalf("list samples: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected the losing sample to be rolled back, got %d samples", len(samples))
	}
	locs, err := svc.ContainerLocations(ctx, "alice", rack.ID)
	if err != nil {
		t.Fatalf("locations: %v", err)
	}
	if len(locs) != 1 || locs[0].Occupant == nil {
		t.Fatalf("expected one occupied location, got %+v", locs)
	}
}
