// Package archive exports point-in-time inventory snapshots to a blob store
// and loads them back.
package archive

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"inventorycore/internal/infra/blob"
	"inventorycore/internal/infra/persistence/memory"
	"inventorycore/pkg/domain"
)

const (
	// DefaultPrefix is the key prefix of every export.
	DefaultPrefix = "snapshots/"
	formatVersion = 1

	snapshotFile   = "snapshot.json"
	placementsFile = "placements.csv"
)

// StateSource exposes the working set to export.
type StateSource interface {
	ExportState() memory.Snapshot
}

// StateSink replaces the working set with a loaded snapshot.
type StateSink interface {
	ReplaceState(ctx context.Context, snapshot memory.Snapshot) error
}

// Artifact is one stored file of an export.
type Artifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// Export describes a stored snapshot.
type Export struct {
	ID        string     `json:"id"`
	Label     string     `json:"label,omitempty"`
	Actor     string     `json:"actor"`
	CreatedAt time.Time  `json:"created_at"`
	Artifacts []Artifact `json:"artifacts"`
}

type document struct {
	FormatVersion int             `json:"format_version"`
	ExportedAt    time.Time       `json:"exported_at"`
	Actor         string          `json:"actor"`
	Label         string          `json:"label,omitempty"`
	State         memory.Snapshot `json:"state"`
}

// Archiver writes and reads exports.
type Archiver struct {
	store  blob.Store
	source StateSource
	prefix string
	now    func() time.Time
}

// Option customises an Archiver.
type Option func(*Archiver)

// WithPrefix stores exports under prefix instead of DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(a *Archiver) {
		if prefix != "" {
			a.prefix = strings.TrimSuffix(prefix, "/") + "/"
		}
	}
}

// WithClock overrides the export timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an archiver reading state from source.
func New(store blob.Store, source StateSource, opts ...Option) *Archiver {
	a := &Archiver{
		store:  store,
		source: source,
		prefix: DefaultPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Export stores the current state as a JSON snapshot plus a CSV listing of
// where every live subsample is stored.
func (a *Archiver) Export(ctx context.Context, actor, label string) (Export, error) {
	if actor == "" {
		return Export{}, errors.New("actor is required to export")
	}
	now := a.now()
	exp := Export{
		ID:        now.Format("20060102T150405Z") + "-" + uuid.NewString()[:8],
		Label:     label,
		Actor:     actor,
		CreatedAt: now,
	}
	state := a.source.ExportState()
	doc, err := json.Marshal(document{FormatVersion: formatVersion, ExportedAt: now, Actor: actor, Label: label, State: state})
	if err != nil {
		return Export{}, fmt.Errorf("encode snapshot: %w", err)
	}
	placements, err := placementsCSV(state)
	if err != nil {
		return Export{}, fmt.Errorf("encode placements: %w", err)
	}
	meta := map[string]string{"actor": actor, "label": label, "format_version": strconv.Itoa(formatVersion)}
	for _, f := range []struct {
		name, contentType string
		body              []byte
	}{
		{snapshotFile, "application/json", doc},
		{placementsFile, "text/csv", placements},
	} {
		info, err := a.store.Put(ctx, a.prefix+exp.ID+"/"+f.name, bytes.NewReader(f.body), blob.PutOptions{ContentType: f.contentType, Metadata: meta})
		if err != nil {
			return Export{}, fmt.Errorf("store %s: %w", f.name, err)
		}
		exp.Artifacts = append(exp.Artifacts, Artifact{Key: info.Key, ContentType: f.contentType, SizeBytes: info.Size, CreatedAt: now})
	}
	return exp, nil
}

// List returns the stored exports, oldest first.
func (a *Archiver) List(ctx context.Context) ([]Export, error) {
	infos, err := a.store.List(ctx, a.prefix)
	if err != nil {
		return nil, err
	}
	byID := map[string]*Export{}
	for _, info := range infos {
		id, name, ok := strings.Cut(strings.TrimPrefix(info.Key, a.prefix), "/")
		if !ok {
			continue
		}
		exp, seen := byID[id]
		if !seen {
			exp = &Export{ID: id}
			byID[id] = exp
		}
		if name == snapshotFile {
			head, err := a.store.Head(ctx, info.Key)
			if err != nil {
				return nil, err
			}
			exp.Actor = head.Metadata["actor"]
			exp.Label = head.Metadata["label"]
			exp.CreatedAt = head.LastModified
		}
		exp.Artifacts = append(exp.Artifacts, Artifact{Key: info.Key, ContentType: info.ContentType, SizeBytes: info.Size, CreatedAt: info.LastModified})
	}
	out := make([]Export, 0, len(byID))
	for _, exp := range byID {
		out = append(out, *exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Load reads the snapshot of export id.
func (a *Archiver) Load(ctx context.Context, id string) (memory.Snapshot, error) {
	_, rc, err := a.store.Get(ctx, a.prefix+id+"/"+snapshotFile)
	if err != nil {
		return memory.Snapshot{}, err
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return memory.Snapshot{}, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return memory.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	if doc.FormatVersion != formatVersion {
		return memory.Snapshot{}, fmt.Errorf("snapshot %s has unsupported format version %d", id, doc.FormatVersion)
	}
	return doc.State, nil
}

// Restore loads export id into sink.
func (a *Archiver) Restore(ctx context.Context, id string, sink StateSink) error {
	state, err := a.Load(ctx, id)
	if err != nil {
		return err
	}
	return sink.ReplaceState(ctx, state)
}

func placementsCSV(state memory.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"subsample", "sample", "name", "quantity", "container", "container_name", "x", "y"})

	ids := make([]int64, 0, len(state.SubSamples))
	for id, s := range state.SubSamples {
		if !s.Deleted {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s := state.SubSamples[id]
		row := []string{
			s.GlobalID().String(),
			domain.NewGlobalID(domain.RecordSample, s.SampleID).String(),
			s.Name,
			s.Quantity.String(),
			"", "", "", "",
		}
		if s.ParentContainerID != nil {
			c := state.Containers[*s.ParentContainerID]
			row[4], row[5] = c.GlobalID().String(), c.Name
		}
		if s.ParentLocationID != nil {
			if loc, ok := state.Locations[*s.ParentLocationID]; ok {
				row[6], row[7] = strconv.Itoa(loc.CoordX), strconv.Itoa(loc.CoordY)
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
