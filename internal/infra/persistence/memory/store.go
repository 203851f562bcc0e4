// Package memory provides an in-memory implementation of the inventory
// persistence store used for tests, ephemeral environments and as the working
// set of the durable stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"inventorycore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Container aliases domain.Container for in-memory persistence operations.
	Container = domain.Container
	// Location aliases domain.Location.
	Location = domain.Location
	// Sample aliases domain.Sample.
	Sample = domain.Sample
	// SubSample aliases domain.SubSample.
	SubSample = domain.SubSample
	// Template aliases domain.Template.
	Template = domain.Template
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Store provides an in-memory transactional store for inventory records.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// ReplaceState swaps the working set for snapshot.
func (s *Store) ReplaceState(_ context.Context, snapshot Snapshot) error {
	s.ImportState(snapshot)
	return nil
}

// RulesEngine exposes the engine fixed at construction. It takes no lock and
// may be called from inside a transaction.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn succeeds and no blocking
// rule violation is reported.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	tx.transactionView = transactionView{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.transactionView, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(transactionView{state: &snapshot})
}

type transaction struct {
	transactionView
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) newID() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return tx.transactionView
}

// Now returns the timestamp shared by every mutation in the transaction.
func (tx *transaction) Now() time.Time {
	return tx.now
}

// Savepoint marks the current end of the undo log.
func (tx *transaction) Savepoint() domain.Savepoint {
	return domain.Savepoint(len(tx.changes))
}

// ChangesSince returns the changes recorded after sp.
func (tx *transaction) ChangesSince(sp domain.Savepoint) []Change {
	if sp < 0 || int(sp) > len(tx.changes) {
		return nil
	}
	return append([]Change(nil), tx.changes[sp:]...)
}

// RollbackTo undoes every change recorded after sp, newest first.
func (tx *transaction) RollbackTo(sp domain.Savepoint) error {
	if sp < 0 || int(sp) > len(tx.changes) {
		return fmt.Errorf("savepoint %d outside undo log of %d changes", sp, len(tx.changes))
	}
	for i := len(tx.changes) - 1; i >= int(sp); i-- {
		change := tx.changes[i]
		if change.Action == domain.ActionCreate {
			tx.state.remove(change.After)
			continue
		}
		tx.state.put(change.Before)
	}
	tx.changes = tx.changes[:sp]
	return nil
}

func (s *memoryState) put(value any) {
	switch v := value.(type) {
	case Container:
		s.containers[v.ID] = cloneContainer(v)
	case Location:
		s.locations[v.ID] = cloneLocation(v)
	case Sample:
		s.samples[v.ID] = cloneSample(v)
	case SubSample:
		s.subsamples[v.ID] = cloneSubSample(v)
	case Template:
		s.templates[v.ID] = cloneTemplate(v)
	}
}

func (s *memoryState) remove(value any) {
	switch v := value.(type) {
	case Container:
		delete(s.containers, v.ID)
	case Location:
		delete(s.locations, v.ID)
	case Sample:
		delete(s.samples, v.ID)
	case SubSample:
		delete(s.subsamples, v.ID)
	case Template:
		delete(s.templates, v.ID)
	}
}

// CreateContainer stores a new container within the transaction.
func (tx *transaction) CreateContainer(c Container) (Container, error) {
	if c.ID == 0 {
		c.ID = tx.newID()
	}
	if _, exists := tx.state.containers[c.ID]; exists {
		return Container{}, fmt.Errorf("container %d already exists", c.ID)
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	c.ContentSummary = domain.ContentSummary{}
	tx.state.containers[c.ID] = cloneContainer(c)
	tx.recordChange(Change{Entity: domain.EntityContainer, Action: domain.ActionCreate, After: cloneContainer(c)})
	return decorateContainer(&tx.state, c), nil
}

// UpdateContainer mutates a container using the provided mutator function.
func (tx *transaction) UpdateContainer(id int64, mutator func(*Container) error) (Container, error) {
	current, ok := tx.state.containers[id]
	if !ok {
		return Container{}, fmt.Errorf("container %d not found", id)
	}
	before := cloneContainer(current)
	if err := mutator(&current); err != nil {
		return Container{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.containers[id] = cloneContainer(current)
	tx.recordChange(Change{Entity: domain.EntityContainer, Action: domain.ActionUpdate, Before: before, After: cloneContainer(current)})
	return decorateContainer(&tx.state, current), nil
}

// CreateLocation adds a location to an existing container.
func (tx *transaction) CreateLocation(l Location) (Location, error) {
	container, ok := tx.state.containers[l.ContainerID]
	if !ok {
		return Location{}, fmt.Errorf("container %d not found", l.ContainerID)
	}
	if existing, found := tx.transactionView.FindLocationAt(container.ID, l.CoordX, l.CoordY); found {
		return Location{}, fmt.Errorf("container %d already has location %d at (%d,%d)", l.ContainerID, existing.ID, l.CoordX, l.CoordY)
	}
	if l.ID == 0 {
		l.ID = tx.newID()
	}
	if _, exists := tx.state.locations[l.ID]; exists {
		return Location{}, fmt.Errorf("location %d already exists", l.ID)
	}
	tx.state.locations[l.ID] = cloneLocation(l)
	tx.recordChange(Change{Entity: domain.EntityLocation, Action: domain.ActionCreate, After: cloneLocation(l)})
	return cloneLocation(l), nil
}

// UpdateLocation mutates a location; the container binding cannot change.
func (tx *transaction) UpdateLocation(id int64, mutator func(*Location) error) (Location, error) {
	current, ok := tx.state.locations[id]
	if !ok {
		return Location{}, fmt.Errorf("location %d not found", id)
	}
	before := cloneLocation(current)
	if err := mutator(&current); err != nil {
		return Location{}, err
	}
	current.ID = id
	current.ContainerID = before.ContainerID
	tx.state.locations[id] = cloneLocation(current)
	tx.recordChange(Change{Entity: domain.EntityLocation, Action: domain.ActionUpdate, Before: before, After: cloneLocation(current)})
	return cloneLocation(current), nil
}

// DeleteLocation removes an empty location.
func (tx *transaction) DeleteLocation(id int64) error {
	current, ok := tx.state.locations[id]
	if !ok {
		return fmt.Errorf("location %d not found", id)
	}
	if current.Occupant != nil {
		return domain.LocationNotEmptyError{LocationID: id, Occupant: current.Occupant.GlobalID()}
	}
	delete(tx.state.locations, id)
	tx.recordChange(Change{Entity: domain.EntityLocation, Action: domain.ActionDelete, Before: cloneLocation(current)})
	return nil
}

// CreateSample stores a new sample.
func (tx *transaction) CreateSample(s Sample) (Sample, error) {
	if s.TemplateID != nil {
		if _, ok := tx.state.templates[*s.TemplateID]; !ok {
			return Sample{}, fmt.Errorf("template %d not found", *s.TemplateID)
		}
	}
	if s.ID == 0 {
		s.ID = tx.newID()
	}
	if _, exists := tx.state.samples[s.ID]; exists {
		return Sample{}, fmt.Errorf("sample %d already exists", s.ID)
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.samples[s.ID] = cloneSample(s)
	tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionCreate, After: cloneSample(s)})
	return decorateSample(&tx.state, s), nil
}

// UpdateSample mutates a sample using the provided mutator function.
func (tx *transaction) UpdateSample(id int64, mutator func(*Sample) error) (Sample, error) {
	current, ok := tx.state.samples[id]
	if !ok {
		return Sample{}, fmt.Errorf("sample %d not found", id)
	}
	before := cloneSample(current)
	if err := mutator(&current); err != nil {
		return Sample{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.samples[id] = cloneSample(current)
	tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionUpdate, Before: before, After: cloneSample(current)})
	return decorateSample(&tx.state, current), nil
}

// CreateSubSample stores a new subsample of an existing sample.
func (tx *transaction) CreateSubSample(s SubSample) (SubSample, error) {
	if _, ok := tx.state.samples[s.SampleID]; !ok {
		return SubSample{}, fmt.Errorf("sample %d not found", s.SampleID)
	}
	if s.ID == 0 {
		s.ID = tx.newID()
	}
	if _, exists := tx.state.subsamples[s.ID]; exists {
		return SubSample{}, fmt.Errorf("subsample %d already exists", s.ID)
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.subsamples[s.ID] = cloneSubSample(s)
	tx.recordChange(Change{Entity: domain.EntitySubSample, Action: domain.ActionCreate, After: cloneSubSample(s)})
	return cloneSubSample(s), nil
}

// UpdateSubSample mutates a subsample; the parent sample cannot change.
func (tx *transaction) UpdateSubSample(id int64, mutator func(*SubSample) error) (SubSample, error) {
	current, ok := tx.state.subsamples[id]
	if !ok {
		return SubSample{}, fmt.Errorf("subsample %d not found", id)
	}
	before := cloneSubSample(current)
	if err := mutator(&current); err != nil {
		return SubSample{}, err
	}
	current.ID = id
	current.SampleID = before.SampleID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.subsamples[id] = cloneSubSample(current)
	tx.recordChange(Change{Entity: domain.EntitySubSample, Action: domain.ActionUpdate, Before: before, After: cloneSubSample(current)})
	return cloneSubSample(current), nil
}

// CreateTemplate stores a new template.
func (tx *transaction) CreateTemplate(t Template) (Template, error) {
	if t.ID == 0 {
		t.ID = tx.newID()
	}
	if _, exists := tx.state.templates[t.ID]; exists {
		return Template{}, fmt.Errorf("template %d already exists", t.ID)
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.templates[t.ID] = cloneTemplate(t)
	tx.recordChange(Change{Entity: domain.EntityTemplate, Action: domain.ActionCreate, After: cloneTemplate(t)})
	return cloneTemplate(t), nil
}

// UpdateTemplate mutates a template using the provided mutator function.
func (tx *transaction) UpdateTemplate(id int64, mutator func(*Template) error) (Template, error) {
	current, ok := tx.state.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("template %d not found", id)
	}
	before := cloneTemplate(current)
	if err := mutator(&current); err != nil {
		return Template{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.templates[id] = cloneTemplate(current)
	tx.recordChange(Change{Entity: domain.EntityTemplate, Action: domain.ActionUpdate, Before: before, After: cloneTemplate(current)})
	return cloneTemplate(current), nil
}

type transactionView struct {
	state *memoryState
}

// ListContainers returns all containers ordered by id.
func (v transactionView) ListContainers() []Container {
	counts := contentCounts(v.state)
	out := make([]Container, 0, len(v.state.containers))
	for _, c := range v.state.containers {
		cp := cloneContainer(c)
		cp.ContentSummary = counts[c.ID]
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindContainer retrieves a container by id.
func (v transactionView) FindContainer(id int64) (Container, bool) {
	c, ok := v.state.containers[id]
	if !ok {
		return Container{}, false
	}
	return decorateContainer(v.state, c), true
}

// FindWorkbench returns the live workbench owned by owner.
func (v transactionView) FindWorkbench(owner string) (Container, bool) {
	var found *Container
	for _, c := range v.state.containers {
		if c.Type != domain.ContainerWorkbench || c.Owner != owner || c.Deleted {
			continue
		}
		if found == nil || c.ID < found.ID {
			cp := c
			found = &cp
		}
	}
	if found == nil {
		return Container{}, false
	}
	return decorateContainer(v.state, *found), true
}

// ListLocations returns the locations of a container ordered by id.
func (v transactionView) ListLocations(containerID int64) []Location {
	var out []Location
	for _, l := range v.state.locations {
		if l.ContainerID == containerID {
			out = append(out, cloneLocation(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllLocations returns every location ordered by id.
func (v transactionView) AllLocations() []Location {
	out := make([]Location, 0, len(v.state.locations))
	for _, l := range v.state.locations {
		out = append(out, cloneLocation(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindLocation retrieves a location by id.
func (v transactionView) FindLocation(id int64) (Location, bool) {
	l, ok := v.state.locations[id]
	if !ok {
		return Location{}, false
	}
	return cloneLocation(l), true
}

// FindLocationAt returns the location at (x, y) within a container.
func (v transactionView) FindLocationAt(containerID int64, x, y int) (Location, bool) {
	for _, l := range v.state.locations {
		if l.ContainerID == containerID && l.CoordX == x && l.CoordY == y {
			return cloneLocation(l), true
		}
	}
	return Location{}, false
}

// ContainerContents lists the items directly held by a container.
func (v transactionView) ContainerContents(containerID int64) []domain.ItemRef {
	var out []domain.ItemRef
	for _, l := range v.ListLocations(containerID) {
		if l.Occupant != nil {
			out = append(out, *l.Occupant)
		}
	}
	return out
}

// ListSamples returns all samples ordered by id.
func (v transactionView) ListSamples() []Sample {
	parts := liveQuantities(v.state, nil)
	out := make([]Sample, 0, len(v.state.samples))
	for _, s := range v.state.samples {
		out = append(out, withDerivedQuantity(s, parts[s.ID]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindSample retrieves a sample by id.
func (v transactionView) FindSample(id int64) (Sample, bool) {
	s, ok := v.state.samples[id]
	if !ok {
		return Sample{}, false
	}
	return decorateSample(v.state, s), true
}

// ListSubSamples returns all subsamples ordered by id.
func (v transactionView) ListSubSamples() []SubSample {
	out := make([]SubSample, 0, len(v.state.subsamples))
	for _, s := range v.state.subsamples {
		out = append(out, cloneSubSample(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindSubSample retrieves a subsample by id.
func (v transactionView) FindSubSample(id int64) (SubSample, bool) {
	s, ok := v.state.subsamples[id]
	if !ok {
		return SubSample{}, false
	}
	return cloneSubSample(s), true
}

// SubSamplesOf returns every subsample of a sample, deleted ones included.
func (v transactionView) SubSamplesOf(sampleID int64) []SubSample {
	var out []SubSample
	for _, s := range v.state.subsamples {
		if s.SampleID == sampleID {
			out = append(out, cloneSubSample(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListTemplates returns all templates ordered by id.
func (v transactionView) ListTemplates() []Template {
	out := make([]Template, 0, len(v.state.templates))
	for _, t := range v.state.templates {
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindTemplate retrieves a template by id.
func (v transactionView) FindTemplate(id int64) (Template, bool) {
	t, ok := v.state.templates[id]
	if !ok {
		return Template{}, false
	}
	return cloneTemplate(t), true
}

func contentCounts(state *memoryState) map[int64]domain.ContentSummary {
	counts := make(map[int64]domain.ContentSummary)
	for _, l := range state.locations {
		if l.Occupant == nil {
			continue
		}
		summary := counts[l.ContainerID]
		summary.Add(l.Occupant.Type)
		counts[l.ContainerID] = summary
	}
	return counts
}

func decorateContainer(state *memoryState, c Container) Container {
	cp := cloneContainer(c)
	cp.ContentSummary = domain.ContentSummary{}
	for _, l := range state.locations {
		if l.ContainerID != c.ID || l.Occupant == nil {
			continue
		}
		cp.ContentSummary.Add(l.Occupant.Type)
	}
	return cp
}

// decorateSample derives the sample quantity from its live subsamples. The
// stored unit is kept when set; incompatible units leave the stored value.
func decorateSample(state *memoryState, s Sample) Sample {
	id := s.ID
	return withDerivedQuantity(s, liveQuantities(state, &id)[s.ID])
}

// liveQuantities groups the quantities of live subsamples by sample in
// subsample id order. A non-nil sampleID restricts the scan to one sample.
func liveQuantities(state *memoryState, sampleID *int64) map[int64][]domain.Quantity {
	subs := make([]SubSample, 0)
	for _, sub := range state.subsamples {
		if sub.Deleted || (sampleID != nil && sub.SampleID != *sampleID) {
			continue
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	out := make(map[int64][]domain.Quantity)
	for _, sub := range subs {
		out[sub.SampleID] = append(out[sub.SampleID], sub.Quantity)
	}
	return out
}

func withDerivedQuantity(s Sample, parts []domain.Quantity) Sample {
	cp := cloneSample(s)
	unit := s.Quantity.Unit
	if unit == "" && len(parts) > 0 {
		unit = parts[0].Unit
	}
	total := domain.ZeroQuantity(unit)
	for _, part := range parts {
		next, err := total.Add(part)
		if err != nil {
			return cp
		}
		total = next
	}
	cp.Quantity = total
	return cp
}
