package events

import (
	"context"
	"testing"

	"budgeteer/internal/core"
)

func TestEventWithDoesNotShareDetail(t *testing.T) {
	base := New(BalanceChanged, core.KindCard, "c1", "u1").With(DetailBalanceCents, "100")
	next := base.With(DetailBalanceCents, "200")

	if base.Detail[DetailBalanceCents] != "100" {
		t.Errorf("base detail mutated: %v", base.Detail)
	}
	if next.Detail[DetailBalanceCents] != "200" {
		t.Errorf("next detail = %v", next.Detail)
	}
}

func TestFromJSONRejectsGarbage(t *testing.T) {
	if _, err := FromJSON([]byte(`{"type": 42}`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRecorderOfType(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	_ = r.Publish(ctx, New(Created, core.KindCard, "c1", "u1"))
	_ = r.Publish(ctx, New(Deleted, core.KindCard, "c1", "u1"))
	_ = r.Publish(ctx, New(Created, core.KindLedger, "l1", "u1"))

	if got := len(r.OfType(Created)); got != 2 {
		t.Errorf("created events = %d", got)
	}
	if got := len(r.Events()); got != 3 {
		t.Errorf("all events = %d", got)
	}
}
