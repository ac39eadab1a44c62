package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when an id does not resolve in the store.
	ErrNotFound = errors.New("not found")

	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrEmailTaken           = errors.New("email already registered")
)

// ValidationError reports a record that failed its shape checks. It is raised
// before any store write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ReferenceViolation reports a reference field that does not resolve, or that
// resolves to a record owned by somebody else.
type ReferenceViolation struct {
	Field string
	Kind  Kind
	ID    string
}

func (e *ReferenceViolation) Error() string {
	return fmt.Sprintf("reference %s: %s %q does not resolve for this owner", e.Field, e.Kind, e.ID)
}

// AuthorizationError is returned when the session is absent or does not own
// the record.
type AuthorizationError struct {
	Kind Kind
	ID   string
}

func (e *AuthorizationError) Error() string {
	if e.ID == "" {
		return "not authorized"
	}
	return fmt.Sprintf("not authorized for %s %q", e.Kind, e.ID)
}

// DependencyExists blocks a delete while live records still reference the target.
type DependencyExists struct {
	Kind       Kind
	ID         string
	Dependents map[Kind][]string
}

func (e *DependencyExists) Error() string {
	return fmt.Sprintf("%s %q is still referenced by %s", e.Kind, e.ID, describeSets(e.Dependents))
}

// PartialCascadeFailure lists every record a user purge could not remove after
// exhausting its retries. The user record itself is left in place.
type PartialCascadeFailure struct {
	UserID    string
	Remaining map[Kind][]string
	Cause     error
}

func (e *PartialCascadeFailure) Error() string {
	return fmt.Sprintf("cascade for user %q incomplete, remaining %s: %v", e.UserID, describeSets(e.Remaining), e.Cause)
}

func (e *PartialCascadeFailure) Unwrap() error { return e.Cause }

// RemainingIDs flattens the un-deleted ids in a stable order.
func (e *PartialCascadeFailure) RemainingIDs() []string {
	var out []string
	for _, k := range sortedKinds(e.Remaining) {
		out = append(out, e.Remaining[k]...)
	}
	return out
}

func describeSets(sets map[Kind][]string) string {
	parts := make([]string, 0, len(sets))
	for _, k := range sortedKinds(sets) {
		parts = append(parts, fmt.Sprintf("%d %s", len(sets[k]), k))
	}
	return strings.Join(parts, ", ")
}

func sortedKinds(sets map[Kind][]string) []Kind {
	kinds := make([]Kind, 0, len(sets))
	for k, ids := range sets {
		if len(ids) > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
