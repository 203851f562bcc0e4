package domain

import "context"

// Permissions decides whether an actor may read or write a record. Checks are
// evaluated against the view of the running unit of work.
type Permissions interface {
	CanRead(ctx context.Context, view TransactionView, actor string, id GlobalID) bool
	CanWrite(ctx context.Context, view TransactionView, actor string, id GlobalID) bool
}

// AllowAll grants every actor full access.
type AllowAll struct{}

// CanRead implements Permissions.
func (AllowAll) CanRead(context.Context, TransactionView, string, GlobalID) bool { return true }

// CanWrite implements Permissions.
func (AllowAll) CanWrite(context.Context, TransactionView, string, GlobalID) bool { return true }

// OwnerPermissions lets owners and administrators write a record. Reads are
// open to every actor unless PrivateReads is set.
type OwnerPermissions struct {
	Admins       map[string]struct{}
	PrivateReads bool
}

// NewOwnerPermissions builds owner-based permissions with the given administrators.
func NewOwnerPermissions(admins ...string) OwnerPermissions {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		set[a] = struct{}{}
	}
	return OwnerPermissions{Admins: set}
}

// CanRead implements Permissions.
func (p OwnerPermissions) CanRead(ctx context.Context, view TransactionView, actor string, id GlobalID) bool {
	if !p.PrivateReads {
		_, ok := OwnerOf(view, id)
		return ok
	}
	return p.CanWrite(ctx, view, actor, id)
}

// CanWrite implements Permissions.
func (p OwnerPermissions) CanWrite(_ context.Context, view TransactionView, actor string, id GlobalID) bool {
	owner, ok := OwnerOf(view, id)
	if !ok {
		return false
	}
	if _, admin := p.Admins[actor]; admin {
		return true
	}
	return owner == actor
}

// OwnerOf resolves the owner of a record in view.
func OwnerOf(view TransactionView, id GlobalID) (string, bool) {
	switch id.Type {
	case RecordContainer:
		if c, ok := view.FindContainer(id.ID); ok {
			return c.Owner, true
		}
	case RecordSample:
		if s, ok := view.FindSample(id.ID); ok {
			return s.Owner, true
		}
	case RecordSubSample:
		if s, ok := view.FindSubSample(id.ID); ok {
			return s.Owner, true
		}
	case RecordTemplate:
		if t, ok := view.FindTemplate(id.ID); ok {
			return t.Owner, true
		}
	}
	return "", false
}
