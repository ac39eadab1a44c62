// Package guard decides whether a session may touch an owned record.
package guard

import (
	"context"
	"errors"

	"budgeteer/internal/core"
)

// Authorize allows iff the session exists and its user owns the record.
func Authorize(session *core.Session, ownerID string) error {
	if session == nil || session.UserID == "" {
		return &core.AuthorizationError{}
	}
	if session.UserID != ownerID {
		return &core.AuthorizationError{}
	}
	return nil
}

// AuthorizeRecord is Authorize with the denied record named in the error.
func AuthorizeRecord(session *core.Session, kind core.Kind, id, ownerID string) error {
	if err := Authorize(session, ownerID); err != nil {
		return &core.AuthorizationError{Kind: kind, ID: id}
	}
	return nil
}

// Lookup resolves an id to the owner of the record it names.
type Lookup func(ctx context.Context, id string) (owner string, err error)

// Reference checks that id resolves and belongs to owner. An empty id is an
// absent optional reference and always passes.
func Reference(ctx context.Context, field string, kind core.Kind, id, owner string, lookup Lookup) error {
	if id == "" {
		return nil
	}
	got, err := lookup(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return &core.ReferenceViolation{Field: field, Kind: kind, ID: id}
	}
	if err != nil {
		return err
	}
	if got != owner {
		return &core.ReferenceViolation{Field: field, Kind: kind, ID: id}
	}
	return nil
}
