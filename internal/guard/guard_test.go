package guard

import (
	"context"
	"errors"
	"testing"

	"budgeteer/internal/core"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		session *core.Session
		owner   string
		allow   bool
	}{
		{"owner", &core.Session{UserID: "u1"}, "u1", true},
		{"other user", &core.Session{UserID: "u2"}, "u1", false},
		{"no session", nil, "u1", false},
		{"empty session", &core.Session{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.session, tt.owner)
			if tt.allow && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tt.allow {
				var authErr *core.AuthorizationError
				if !errors.As(err, &authErr) {
					t.Fatalf("expected AuthorizationError, got %v", err)
				}
			}
		})
	}
}

func TestAuthorizeRecordNamesTarget(t *testing.T) {
	err := AuthorizeRecord(&core.Session{UserID: "u2"}, core.KindCard, "c1", "u1")
	var authErr *core.AuthorizationError
	if !errors.As(err, &authErr) || authErr.Kind != core.KindCard || authErr.ID != "c1" {
		t.Fatalf("unexpected error %#v", err)
	}
}

func TestReference(t *testing.T) {
	owners := map[string]string{"c1": "u1", "c2": "u2"}
	lookup := func(_ context.Context, id string) (string, error) {
		if id == "broken" {
			return "", errors.New("disk on fire")
		}
		o, ok := owners[id]
		if !ok {
			return "", core.ErrNotFound
		}
		return o, nil
	}
	ctx := context.Background()

	if err := Reference(ctx, "card", core.KindCard, "c1", "u1", lookup); err != nil {
		t.Errorf("own card: %v", err)
	}
	if err := Reference(ctx, "budget", core.KindBudget, "", "u1", lookup); err != nil {
		t.Errorf("absent optional reference: %v", err)
	}

	var refErr *core.ReferenceViolation
	if err := Reference(ctx, "card", core.KindCard, "c2", "u1", lookup); !errors.As(err, &refErr) {
		t.Errorf("foreign card: expected ReferenceViolation, got %v", err)
	}
	if err := Reference(ctx, "card", core.KindCard, "missing", "u1", lookup); !errors.As(err, &refErr) || refErr.ID != "missing" {
		t.Errorf("missing card: expected ReferenceViolation, got %v", err)
	}
	if err := Reference(ctx, "card", core.KindCard, "broken", "u1", lookup); err == nil || errors.As(err, &refErr) {
		t.Errorf("store failure should pass through, got %v", err)
	}
}
